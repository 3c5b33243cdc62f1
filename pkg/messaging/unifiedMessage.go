package messaging

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"runtime"
)

// NotApplicable marks SendResult fields a broker does not report.
const NotApplicable int64 = -1

// UnifiedMessage is the broker-agnostic envelope used on both send and receive.
type UnifiedMessage struct {
	Destination string
	Payload     any
	Headers     map[string]string
	MessageKey  string
}

// NewMessage creates a message with an empty header map.
func NewMessage(destination string, payload any) *UnifiedMessage {
	return &UnifiedMessage{
		Destination: destination,
		Payload:     payload,
		Headers:     map[string]string{},
	}
}

// Validate reports errors that can be detected before reaching a broker.
func (m *UnifiedMessage) Validate() error {
	if m == nil || m.Destination == "" {
		return ErrEmptyDestination
	}
	return nil
}

// Topic is the destination without its tag.
func (m *UnifiedMessage) Topic() string { return ExtractTopic(m.Destination) }

// Tag is the routing tag of the destination, if any.
func (m *UnifiedMessage) Tag() string { return ExtractTag(m.Destination) }

// PayloadBytes serialises the payload for the wire.
func (m *UnifiedMessage) PayloadBytes() ([]byte, error) {
	switch p := m.Payload.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		return b, nil
	}
}

// HeadersCopy returns a copy of the headers that is safe to mutate.
func (m *UnifiedMessage) HeadersCopy() map[string]string {
	out := make(map[string]string, len(m.Headers)+2)
	maps.Copy(out, m.Headers)
	return out
}

// SendResult is the broker-agnostic outcome of a send.
type SendResult struct {
	Destination      string
	PartitionOrQueue int64
	Offset           int64
	MessageID        string
}

// MessagingContext describes the listener a message is dispatched to.
type MessagingContext struct {
	Type    MessagingType
	Topic   string
	GroupID string
	Message *UnifiedMessage
}

// WithMessage returns a per-invocation copy carrying msg.
func (c *MessagingContext) WithMessage(msg *UnifiedMessage) *MessagingContext {
	cp := *c
	cp.Message = msg
	return &cp
}

// ArgumentResolverConfig binds one handler parameter that is not a well-known type.
// Extract takes precedence over Expression.
type ArgumentResolverConfig struct {
	Index      int
	Expression string
	Extract    func(*MessagingContext) (any, error)
}

// ListenerConfig declares a listener. Either Handler or Target+Method must be set.
type ListenerConfig struct {
	Name      string
	Type      MessagingType
	Topic     string
	GroupID   string
	Target    any
	Method    string
	Handler   any
	Arguments []ArgumentResolverConfig
}

// Identity names the listener for error messages.
func (c ListenerConfig) Identity() string {
	switch {
	case c.Target != nil && c.Method != "":
		return fmt.Sprintf("%T.%s", c.Target, c.Method)
	case c.Name != "":
		return c.Name
	case c.Handler != nil:
		v := reflect.ValueOf(c.Handler)
		if v.Kind() == reflect.Func {
			if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
				return fn.Name()
			}
		}
		return fmt.Sprintf("%T", c.Handler)
	default:
		return "<unnamed listener>"
	}
}
