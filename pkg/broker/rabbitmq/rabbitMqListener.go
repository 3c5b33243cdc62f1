package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"

	"github.com/zoff-tech/go-messaging/pkg/listener"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// ConvertDelivery maps a delivery to a UnifiedMessage. The routing key is the tag.
func ConvertDelivery(d amqp.Delivery) (*messaging.UnifiedMessage, error) {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		switch val := v.(type) {
		case string:
			headers[k] = val
		case []byte:
			headers[k] = string(val)
		default:
			headers[k] = fmt.Sprint(val)
		}
	}
	key := headers[MessageKeyHeader]
	delete(headers, MessageKeyHeader)

	body := d.Body
	if body == nil {
		body = []byte{}
	}
	return &messaging.UnifiedMessage{
		Destination: messaging.WithTopicAndTag(d.Exchange, d.RoutingKey),
		Payload:     body,
		Headers:     headers,
		MessageKey:  key,
	}, nil
}

// NewAdapter is the listener.AdapterBuilder for RabbitMQ.
func NewAdapter(mctx *messaging.MessagingContext, inv listener.Invoker) (listener.MessageListener, error) {
	return listener.NewAdapter[amqp.Delivery](mctx, inv, ConvertDelivery), nil
}
