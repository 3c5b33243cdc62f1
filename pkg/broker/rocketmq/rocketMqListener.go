package rocketmq

import (
	"github.com/apache/rocketmq-client-go/v2/primitive"

	"github.com/zoff-tech/go-messaging/pkg/listener"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// ConvertMessage maps a consumed message to a UnifiedMessage.
func ConvertMessage(ext *primitive.MessageExt) (*messaging.UnifiedMessage, error) {
	headers := map[string]string{}
	for k, v := range ext.GetProperties() {
		headers[k] = v
	}
	body := ext.Body
	if body == nil {
		body = []byte{}
	}
	return &messaging.UnifiedMessage{
		Destination: messaging.WithTopicAndTag(ext.Topic, ext.GetTags()),
		Payload:     body,
		Headers:     headers,
		MessageKey:  ext.GetKeys(),
	}, nil
}

// NewAdapter is the listener.AdapterBuilder for RocketMQ.
func NewAdapter(mctx *messaging.MessagingContext, inv listener.Invoker) (listener.MessageListener, error) {
	return listener.NewAdapter[*primitive.MessageExt](mctx, inv, ConvertMessage), nil
}
