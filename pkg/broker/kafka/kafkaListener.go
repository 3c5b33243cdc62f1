package kafka

import (
	"github.com/IBM/sarama"

	"github.com/zoff-tech/go-messaging/pkg/listener"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// ConvertRecord maps a consumed record to a UnifiedMessage. A tag header is folded back into the destination.
func ConvertRecord(rec *sarama.ConsumerMessage) (*messaging.UnifiedMessage, error) {
	headers := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		if h == nil {
			continue
		}
		headers[string(h.Key)] = string(h.Value)
	}

	payload := rec.Value
	if payload == nil {
		payload = []byte{}
	}

	return &messaging.UnifiedMessage{
		Destination: messaging.WithTopicAndTag(rec.Topic, headers[TagHeader]),
		Payload:     payload,
		Headers:     headers,
		MessageKey:  string(rec.Key),
	}, nil
}

// NewAdapter is the listener.AdapterBuilder for Kafka.
func NewAdapter(mctx *messaging.MessagingContext, inv listener.Invoker) (listener.MessageListener, error) {
	return listener.NewAdapter[*sarama.ConsumerMessage](mctx, inv, ConvertRecord), nil
}
