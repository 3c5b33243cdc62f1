package rocketmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Start() error    { return m.Called().Error(0) }
func (m *mockProducer) Shutdown() error { return m.Called().Error(0) }

func (m *mockProducer) SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error) {
	args := m.Called(ctx, msgs[0])
	res, _ := args.Get(0).(*primitive.SendResult)
	return res, args.Error(1)
}

func (m *mockProducer) SendAsync(ctx context.Context, cb func(context.Context, *primitive.SendResult, error), msgs ...*primitive.Message) error {
	args := m.Called(ctx, msgs[0])
	if res, ok := args.Get(0).(*primitive.SendResult); ok {
		go cb(ctx, res, nil)
	}
	return args.Error(1)
}

func (m *mockProducer) SendOneWay(ctx context.Context, msgs ...*primitive.Message) error {
	return m.Called(ctx, msgs[0]).Error(0)
}

func topicAndTag(topic, tag string) interface{} {
	return mock.MatchedBy(func(m *primitive.Message) bool {
		return m.Topic == topic && m.GetTags() == tag
	})
}

func TestSendOneWay_SplitsTopicAndTag(t *testing.T) {
	p := &mockProducer{}
	p.On("SendOneWay", mock.Anything, topicAndTag("orders", "vip")).Return(nil).Once()

	a := NewTemplateAdapterWithProducer(p, zerolog.Nop())
	require.NoError(t, a.SendOneWay(context.Background(), messaging.NewMessage("orders:vip", `{"id":1}`)))

	p.AssertExpectations(t)
}

func TestSendSync(t *testing.T) {
	p := &mockProducer{}
	p.On("SendSync", mock.Anything, mock.MatchedBy(func(m *primitive.Message) bool {
		return m.Topic == "orders" && m.GetTags() == "" && m.GetKeys() == "order-1" && m.GetProperty("tenant") == "acme"
	})).Return(&primitive.SendResult{
		Status:       primitive.SendOK,
		MsgID:        "AC110001",
		QueueOffset:  12,
		MessageQueue: &primitive.MessageQueue{Topic: "orders", QueueId: 3},
	}, nil)

	a := NewTemplateAdapterWithProducer(p, zerolog.Nop())
	res, err := a.SendSync(context.Background(), &messaging.UnifiedMessage{
		Destination: "orders",
		Payload:     "x",
		MessageKey:  "order-1",
		Headers:     map[string]string{"tenant": "acme"},
	})
	require.NoError(t, err)

	assert.Equal(t, &messaging.SendResult{Destination: "orders", PartitionOrQueue: 3, Offset: 12, MessageID: "AC110001"}, res)
}

func TestSendSync_Failures(t *testing.T) {
	tests := []struct {
		name string
		res  *primitive.SendResult
		err  error
	}{
		{"client error", nil, errors.New("no route info")},
		{"flush timeout", &primitive.SendResult{Status: primitive.SendFlushDiskTimeout}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProducer{}
			p.On("SendSync", mock.Anything, mock.Anything).Return(tt.res, tt.err)

			_, err := NewTemplateAdapterWithProducer(p, zerolog.Nop()).SendSync(context.Background(), messaging.NewMessage("orders", "x"))
			var sendErr *messaging.SendError
			require.ErrorAs(t, err, &sendErr)
			assert.Equal(t, messaging.RocketMQ, sendErr.Type)
		})
	}
}

func TestSendAsync(t *testing.T) {
	p := &mockProducer{}
	p.On("SendAsync", mock.Anything, topicAndTag("orders", "vip")).
		Return(&primitive.SendResult{Status: primitive.SendOK, MsgID: "id-1"}, nil)

	a := NewTemplateAdapterWithProducer(p, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := a.SendAsync(ctx, messaging.NewMessage("orders:vip", "x")).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "id-1", res.MessageID)
	assert.Equal(t, messaging.NotApplicable, res.PartitionOrQueue)
}

func TestSendAsync_SubmitFailure(t *testing.T) {
	p := &mockProducer{}
	p.On("SendAsync", mock.Anything, mock.Anything).Return(nil, errors.New("producer not started"))

	_, err := NewTemplateAdapterWithProducer(p, zerolog.Nop()).
		SendAsync(context.Background(), messaging.NewMessage("orders", "x")).
		Get(context.Background())
	assert.ErrorContains(t, err, "producer not started")
}

type fakeConsumer struct {
	topic    string
	selector consumer.MessageSelector
	callback func(context.Context, ...*primitive.MessageExt) (consumer.ConsumeResult, error)
	started  bool
	shutdown bool
}

func (c *fakeConsumer) Start() error    { c.started = true; return nil }
func (c *fakeConsumer) Shutdown() error { c.shutdown = true; return nil }
func (c *fakeConsumer) Subscribe(topic string, selector consumer.MessageSelector,
	f func(context.Context, ...*primitive.MessageExt) (consumer.ConsumeResult, error)) error {
	c.topic, c.selector, c.callback = topic, selector, f
	return nil
}

type recordingInvoker struct {
	got []*messaging.MessagingContext
}

func (r *recordingInvoker) Invoke(_ context.Context, mctx *messaging.MessagingContext) error {
	r.got = append(r.got, mctx)
	return nil
}

func TestContainerFactory_SubscribesWithTagSelector(t *testing.T) {
	var consumers []*fakeConsumer
	original := NewPushConsumer
	NewPushConsumer = func(_ *config.RocketMQSettings, group, instance string) (PushConsumer, error) {
		c := &fakeConsumer{}
		consumers = append(consumers, c)
		return c, nil
	}
	defer func() { NewPushConsumer = original }()

	f := NewContainerFactory(&config.RocketMQSettings{NameServers: []string{"127.0.0.1:9876"}}, zerolog.Nop())
	inv := &recordingInvoker{}
	mctx := &messaging.MessagingContext{Type: messaging.RocketMQ, Topic: "orders:vip", GroupID: "g1"}
	adapter, err := NewAdapter(mctx, inv)
	require.NoError(t, err)

	cfg := messaging.ListenerConfig{Type: messaging.RocketMQ, Topic: "orders:vip", GroupID: "g1"}
	require.NoError(t, f.RegisterContainer(context.Background(), adapter, cfg))
	require.NoError(t, f.RegisterContainer(context.Background(), adapter, cfg))
	require.Len(t, consumers, 1)

	c := consumers[0]
	assert.True(t, c.started)
	assert.Equal(t, "orders", c.topic)
	assert.Equal(t, consumer.MessageSelector{Type: consumer.TAG, Expression: "vip"}, c.selector)

	ext := &primitive.MessageExt{Message: primitive.Message{Topic: "orders", Body: []byte(`{"id":1}`)}, MsgId: "m1"}
	ext.WithTag("vip")
	result, err := c.callback(context.Background(), ext)
	require.NoError(t, err)
	assert.Equal(t, consumer.ConsumeSuccess, result)
	require.Len(t, inv.got, 1)
	assert.Equal(t, "orders:vip", inv.got[0].Message.Destination)

	require.NoError(t, f.Close())
	assert.True(t, c.shutdown)
}

func TestSelector(t *testing.T) {
	assert.Equal(t, "*", Selector("orders").Expression)
	assert.Equal(t, "vip", Selector("orders:vip").Expression)
}
