package pubsub

import (
	"cloud.google.com/go/pubsub"

	"github.com/zoff-tech/go-messaging/pkg/listener"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// Converter returns a converter for messages received on topic.
func Converter(topic string) listener.Converter[*pubsub.Message] {
	return func(m *pubsub.Message) (*messaging.UnifiedMessage, error) {
		headers := make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			headers[k] = v
		}
		tag := headers[TagAttribute]
		delete(headers, TagAttribute)
		key := headers[MessageKeyAttribute]
		delete(headers, MessageKeyAttribute)

		data := m.Data
		if data == nil {
			data = []byte{}
		}
		return &messaging.UnifiedMessage{
			Destination: messaging.WithTopicAndTag(topic, tag),
			Payload:     data,
			Headers:     headers,
			MessageKey:  key,
		}, nil
	}
}

// NewAdapter is the listener.AdapterBuilder for Pub/Sub.
func NewAdapter(mctx *messaging.MessagingContext, inv listener.Invoker) (listener.MessageListener, error) {
	return listener.NewAdapter[*pubsub.Message](mctx, inv, Converter(messaging.ExtractTopic(mctx.Topic))), nil
}
