package template

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

type stubAdapter struct {
	typ     messaging.MessagingType
	err     error
	oneWays []*messaging.UnifiedMessage
	closed  bool
}

func (s *stubAdapter) Type() messaging.MessagingType { return s.typ }

func (s *stubAdapter) SendSync(_ context.Context, msg *messaging.UnifiedMessage) (*messaging.SendResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &messaging.SendResult{Destination: msg.Destination, PartitionOrQueue: 0, Offset: 7, MessageID: "0-7"}, nil
}

func (s *stubAdapter) SendAsync(ctx context.Context, msg *messaging.UnifiedMessage) *Future {
	f := NewFuture()
	go func() { f.Complete(s.SendSync(ctx, msg)) }()
	return f
}

func (s *stubAdapter) SendOneWay(_ context.Context, msg *messaging.UnifiedMessage) error {
	s.oneWays = append(s.oneWays, msg)
	return nil
}

func (s *stubAdapter) Close() error {
	s.closed = true
	return nil
}

func TestSendSync_SingleAdapterKeepsDestination(t *testing.T) {
	tpl := New(&stubAdapter{typ: messaging.Kafka})
	msg := messaging.NewMessage("orders:vip", `{"id":1}`)

	res, err := tpl.SendSync(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, msg.Destination, res.Destination)
}

func TestSend_TwoAdaptersAreAmbiguous(t *testing.T) {
	tpl := New(&stubAdapter{typ: messaging.Kafka}, &stubAdapter{typ: messaging.RocketMQ})
	msg := messaging.NewMessage("orders", "x")

	_, err := tpl.SendSync(context.Background(), msg)
	require.ErrorIs(t, err, messaging.ErrAmbiguousType)
	assert.Contains(t, err.Error(), "ForType")
	assert.Contains(t, err.Error(), "KAFKA, ROCKETMQ")

	_, err = tpl.SendAsync(context.Background(), msg)
	assert.ErrorIs(t, err, messaging.ErrAmbiguousType)

	err = tpl.SendOneWay(context.Background(), msg)
	assert.ErrorIs(t, err, messaging.ErrAmbiguousType)
}

func TestForType(t *testing.T) {
	rocket := &stubAdapter{typ: messaging.RocketMQ}
	tpl := New(&stubAdapter{typ: messaging.Kafka}, rocket)

	typed, err := tpl.ForType(messaging.RocketMQ)
	require.NoError(t, err)
	require.NoError(t, typed.SendOneWay(context.Background(), messaging.NewMessage("orders:vip", "x")))
	require.Len(t, rocket.oneWays, 1)

	_, err = tpl.ForType(messaging.PubSub)
	var cfgErr *messaging.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []messaging.MessagingType{messaging.Kafka, messaging.RocketMQ}, cfgErr.Available)
}

func TestSend_NoAdapter(t *testing.T) {
	_, err := New().SendSync(context.Background(), messaging.NewMessage("orders", "x"))
	assert.ErrorIs(t, err, messaging.ErrNoTypeAvailable)
}

func TestSend_InvalidMessageFailsImmediately(t *testing.T) {
	tpl := New(&stubAdapter{typ: messaging.Kafka})

	_, err := tpl.SendSync(context.Background(), messaging.NewMessage("", "x"))
	assert.ErrorIs(t, err, messaging.ErrEmptyDestination)

	f, err := tpl.SendAsync(context.Background(), nil)
	assert.Nil(t, f)
	assert.ErrorIs(t, err, messaging.ErrEmptyDestination)

	assert.ErrorIs(t, tpl.SendOneWay(context.Background(), messaging.NewMessage("", nil)), messaging.ErrEmptyDestination)
}

func TestSendSync_BrokerFailureIsSendError(t *testing.T) {
	cause := errors.New("leader not available")
	tpl := New(&stubAdapter{typ: messaging.Kafka, err: cause})

	_, err := tpl.SendSync(context.Background(), messaging.NewMessage("orders", "x"))
	var sendErr *messaging.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, messaging.Kafka, sendErr.Type)
	assert.Equal(t, "orders", sendErr.Destination)
	assert.ErrorIs(t, err, cause)
}

func TestSendAsync_BrokerFailureArrivesThroughFuture(t *testing.T) {
	cause := errors.New("timeout")
	tpl := New(&stubAdapter{typ: messaging.Kafka, err: cause})

	f, err := tpl.SendAsync(context.Background(), messaging.NewMessage("orders", "x"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = f.Get(ctx)
	assert.ErrorIs(t, err, cause)
}

func TestFuture(t *testing.T) {
	f := NewFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	f.Complete(&messaging.SendResult{MessageID: "first"}, nil)
	f.Complete(&messaging.SendResult{MessageID: "second"}, nil)
	res, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", res.MessageID)

	select {
	case <-CompletedFuture(nil, nil).Done():
	default:
		t.Fatal("completed future should be done")
	}
}

func TestClose(t *testing.T) {
	a, b := &stubAdapter{typ: messaging.Kafka}, &stubAdapter{typ: messaging.PubSub}
	require.NoError(t, New(a, b).Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
