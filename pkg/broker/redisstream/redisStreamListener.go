package redisstream

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/zoff-tech/go-messaging/pkg/listener"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// Converter returns a converter for entries read from stream.
func Converter(stream string) listener.Converter[redis.XMessage] {
	return func(m redis.XMessage) (*messaging.UnifiedMessage, error) {
		msg := &messaging.UnifiedMessage{
			Destination: messaging.WithTopicAndTag(stream, asString(m.Values[fieldTag])),
			Payload:     asBytes(m.Values[fieldPayload]),
			Headers:     map[string]string{},
			MessageKey:  asString(m.Values[fieldKey]),
		}
		for k, v := range m.Values {
			if name, ok := strings.CutPrefix(k, fieldMetaPrefix); ok {
				msg.Headers[name] = asString(v)
			}
		}
		return msg, nil
	}
}

// NewAdapter is the listener.AdapterBuilder for Redis Streams.
func NewAdapter(mctx *messaging.MessagingContext, inv listener.Invoker) (listener.MessageListener, error) {
	return listener.NewAdapter[redis.XMessage](mctx, inv, Converter(messaging.ExtractTopic(mctx.Topic))), nil
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asBytes(v any) []byte {
	switch p := v.(type) {
	case []byte:
		return p
	case string:
		return []byte(p)
	default:
		return []byte{}
	}
}
