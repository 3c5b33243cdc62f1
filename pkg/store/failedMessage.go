package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// Status represents the replay state of a failed message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReplaying Status = "replaying"
	StatusReplayed  Status = "replayed"
	StatusFailed    Status = "failed"
	StatusDiscarded Status = "discarded"
)

// FailedMessage is a consumed message whose handler returned an error.
type FailedMessage struct {
	ID          string                  `json:"id" bson:"id"`
	Type        messaging.MessagingType `json:"type" bson:"type"`
	Topic       string                  `json:"topic" bson:"topic"`
	GroupID     string                  `json:"group_id" bson:"group_id"`
	Destination string                  `json:"destination" bson:"destination"`
	Payload     []byte                  `json:"payload" bson:"payload"`
	Headers     map[string]string       `json:"headers" bson:"headers"`
	MessageKey  string                  `json:"message_key" bson:"message_key"`
	Error       string                  `json:"error" bson:"error"`
	Attempts    int                     `json:"attempts" bson:"attempts"`
	Status      Status                  `json:"status" bson:"status"`
	CreatedAt   time.Time               `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at" bson:"updated_at"`
}

// NewFailedMessage captures the message carried by mctx together with the handler error.
func NewFailedMessage(mctx *messaging.MessagingContext, cause error) (*FailedMessage, error) {
	now := time.Now().UTC()
	fm := &FailedMessage{
		ID:        uuid.NewString(),
		Type:      mctx.Type,
		Topic:     mctx.Topic,
		GroupID:   mctx.GroupID,
		Headers:   map[string]string{},
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cause != nil {
		fm.Error = cause.Error()
	}
	if msg := mctx.Message; msg != nil {
		payload, err := msg.PayloadBytes()
		if err != nil {
			return nil, err
		}
		fm.Destination = msg.Destination
		fm.Payload = payload
		fm.Headers = msg.HeadersCopy()
		fm.MessageKey = msg.MessageKey
	}
	if fm.Destination == "" {
		fm.Destination = mctx.Topic
	}
	return fm, nil
}

// UnifiedMessage rebuilds the message for a replay send.
func (m *FailedMessage) UnifiedMessage() *messaging.UnifiedMessage {
	headers := make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		headers[k] = v
	}
	return &messaging.UnifiedMessage{
		Destination: m.Destination,
		Payload:     m.Payload,
		Headers:     headers,
		MessageKey:  m.MessageKey,
	}
}
