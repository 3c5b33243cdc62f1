package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

func TestNewFailedMessage(t *testing.T) {
	mctx := &messaging.MessagingContext{
		Type:    messaging.Kafka,
		Topic:   "orders",
		GroupID: "billing",
		Message: &messaging.UnifiedMessage{
			Destination: "orders:vip",
			Payload:     []byte(`{"id":1}`),
			Headers:     map[string]string{"source": "test"},
			MessageKey:  "order-1",
		},
	}

	fm, err := NewFailedMessage(mctx, errors.New("boom"))
	require.NoError(t, err)
	assert.NotEmpty(t, fm.ID)
	assert.Equal(t, messaging.Kafka, fm.Type)
	assert.Equal(t, "billing", fm.GroupID)
	assert.Equal(t, "orders:vip", fm.Destination)
	assert.Equal(t, "boom", fm.Error)
	assert.Equal(t, StatusPending, fm.Status)
	assert.Zero(t, fm.Attempts)

	fm.Headers["mutated"] = "yes"
	assert.NotContains(t, mctx.Message.Headers, "mutated")

	msg := fm.UnifiedMessage()
	assert.Equal(t, "orders:vip", msg.Destination)
	assert.Equal(t, []byte(`{"id":1}`), msg.Payload)
	assert.Equal(t, "order-1", msg.MessageKey)
}

func TestNewFailedMessage_WithoutMessage(t *testing.T) {
	fm, err := NewFailedMessage(&messaging.MessagingContext{Type: messaging.RabbitMQ, Topic: "audit"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "audit", fm.Destination)
	assert.Empty(t, fm.Error)
	assert.Empty(t, fm.Payload)
}
