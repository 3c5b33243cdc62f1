package invoker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

type orderHandler struct {
	gotMessage *messaging.UnifiedMessage
	gotCtx     *messaging.MessagingContext
	gotID      int64
	gotTenant  string
	gotBody    []byte
	fail       error
}

func (h *orderHandler) OnMessage(msg *messaging.UnifiedMessage) {
	h.gotMessage = msg
}

func (h *orderHandler) OnOrder(ctx context.Context, mctx *messaging.MessagingContext, id int64, tenant string) error {
	h.gotCtx = mctx
	h.gotID = id
	h.gotTenant = tenant
	return h.fail
}

func (h *orderHandler) OnRaw(body []byte) {
	h.gotBody = body
}

func (h *orderHandler) OnPanic(*messaging.UnifiedMessage) {
	panic("boom")
}

type recordingHook struct {
	calls []error
}

func (r *recordingHook) handle(_ context.Context, err error, _ *messaging.MessagingContext) {
	r.calls = append(r.calls, err)
}

func kafkaContext(msg *messaging.UnifiedMessage) *messaging.MessagingContext {
	return &messaging.MessagingContext{
		Type:    messaging.Kafka,
		Topic:   "orders",
		GroupID: "billing",
		Message: msg,
	}
}

func TestInvoke_BindsUnifiedMessageByType(t *testing.T) {
	h := &orderHandler{}
	inv, err := New(messaging.ListenerConfig{Target: h, Method: "OnMessage"}, ErrorHandlers{})
	require.NoError(t, err)

	msg := &messaging.UnifiedMessage{Destination: "orders", Payload: `{"id":1}`}
	require.NoError(t, inv.Invoke(context.Background(), kafkaContext(msg)))

	assert.Same(t, msg, h.gotMessage)
}

func TestInvoke_ResolvesArgumentsFromExpressions(t *testing.T) {
	h := &orderHandler{}
	inv, err := New(messaging.ListenerConfig{
		Target: h,
		Method: "OnOrder",
		Arguments: []messaging.ArgumentResolverConfig{
			{Index: 2, Expression: "int(body.id)"},
			{Index: 3, Expression: `headers["tenant"]`},
		},
	}, ErrorHandlers{})
	require.NoError(t, err)

	msg := &messaging.UnifiedMessage{
		Destination: "orders",
		Payload:     []byte(`{"id":42}`),
		Headers:     map[string]string{"tenant": "acme"},
	}
	mctx := kafkaContext(msg)
	require.NoError(t, inv.Invoke(context.Background(), mctx))

	assert.Equal(t, int64(42), h.gotID)
	assert.Equal(t, "acme", h.gotTenant)
	assert.Same(t, mctx, h.gotCtx)
}

func TestInvoke_ExtractFunctionWinsOverExpression(t *testing.T) {
	h := &orderHandler{}
	inv, err := New(messaging.ListenerConfig{
		Target: h,
		Method: "OnOrder",
		Arguments: []messaging.ArgumentResolverConfig{
			{Index: 2, Expression: "body.id", Extract: func(*messaging.MessagingContext) (any, error) { return 7, nil }},
		},
	}, ErrorHandlers{})
	require.NoError(t, err)

	require.NoError(t, inv.Invoke(context.Background(), kafkaContext(messaging.NewMessage("orders", `{"id":1}`))))
	assert.Equal(t, int64(7), h.gotID)
	assert.Equal(t, `{"id":1}`, h.gotTenant)
}

func TestInvoke_RawPayloadParameter(t *testing.T) {
	h := &orderHandler{}
	inv, err := New(messaging.ListenerConfig{Target: h, Method: "OnRaw"}, ErrorHandlers{})
	require.NoError(t, err)

	require.NoError(t, inv.Invoke(context.Background(), kafkaContext(messaging.NewMessage("orders", `{"id":1}`))))
	assert.Equal(t, []byte(`{"id":1}`), h.gotBody)
}

func TestInvoke_FuncHandler(t *testing.T) {
	var got string
	inv, err := New(messaging.ListenerConfig{
		Handler: func(payload string, msg messaging.UnifiedMessage) { got = payload + "|" + msg.Destination },
	}, nil)
	require.NoError(t, err)

	require.NoError(t, inv.Invoke(context.Background(), kafkaContext(messaging.NewMessage("orders:vip", "hello"))))
	assert.Equal(t, "hello|orders:vip", got)
}

func TestInvoke_HandlerErrorGoesToHook(t *testing.T) {
	h := &orderHandler{fail: errors.New("db down")}
	hook := &recordingHook{}
	inv, err := New(messaging.ListenerConfig{Target: h, Method: "OnOrder"},
		ErrorHandlers{messaging.Kafka: hook.handle})
	require.NoError(t, err)

	err = inv.Invoke(context.Background(), kafkaContext(messaging.NewMessage("orders", "x")))
	require.NoError(t, err)
	require.Len(t, hook.calls, 1)

	var invErr *messaging.InvocationError
	require.ErrorAs(t, hook.calls[0], &invErr)
	assert.Equal(t, messaging.Kafka, invErr.Type)
	assert.Equal(t, "orders", invErr.Topic)
	assert.ErrorIs(t, invErr, h.fail)
}

func TestInvoke_PanicGoesToHook(t *testing.T) {
	hook := &recordingHook{}
	inv, err := New(messaging.ListenerConfig{Target: &orderHandler{}, Method: "OnPanic"},
		ErrorHandlers{messaging.Kafka: hook.handle})
	require.NoError(t, err)

	require.NoError(t, inv.Invoke(context.Background(), kafkaContext(messaging.NewMessage("orders", "x"))))
	require.Len(t, hook.calls, 1)
	assert.Contains(t, hook.calls[0].Error(), "boom")
}

func TestInvoke_NoHookForTypeReturnsError(t *testing.T) {
	h := &orderHandler{fail: errors.New("nope")}
	inv, err := New(messaging.ListenerConfig{Target: h, Method: "OnOrder"},
		ErrorHandlers{messaging.RabbitMQ: (&recordingHook{}).handle})
	require.NoError(t, err)

	err = inv.Invoke(context.Background(), kafkaContext(messaging.NewMessage("orders", "x")))
	require.Error(t, err)
	assert.ErrorIs(t, err, messaging.ErrNoErrorHandler)
	assert.ErrorIs(t, err, h.fail)
}

func TestInvoke_BindFailureIsRouted(t *testing.T) {
	h := &orderHandler{}
	hook := &recordingHook{}
	inv, err := New(messaging.ListenerConfig{
		Target:    h,
		Method:    "OnOrder",
		Arguments: []messaging.ArgumentResolverConfig{{Index: 2, Expression: "int(body.id)"}},
	}, ErrorHandlers{messaging.Kafka: hook.handle})
	require.NoError(t, err)

	require.NoError(t, inv.Invoke(context.Background(), kafkaContext(messaging.NewMessage("orders", "not json"))))
	require.Len(t, hook.calls, 1)
	assert.Contains(t, hook.calls[0].Error(), "parameter 2")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  messaging.ListenerConfig
	}{
		{"no handler", messaging.ListenerConfig{}},
		{"missing method", messaging.ListenerConfig{Target: &orderHandler{}, Method: "Nope"}},
		{"handler not func", messaging.ListenerConfig{Handler: 42}},
		{"index out of range", messaging.ListenerConfig{
			Target: &orderHandler{}, Method: "OnRaw",
			Arguments: []messaging.ArgumentResolverConfig{{Index: 3, Expression: "topic"}},
		}},
		{"bad expression", messaging.ListenerConfig{
			Target: &orderHandler{}, Method: "OnOrder",
			Arguments: []messaging.ArgumentResolverConfig{{Index: 2, Expression: "body.("}},
		}},
		{"empty resolver", messaging.ListenerConfig{
			Target: &orderHandler{}, Method: "OnOrder",
			Arguments: []messaging.ArgumentResolverConfig{{Index: 2}},
		}},
		{"variadic", messaging.ListenerConfig{Handler: func(...string) {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, ErrorHandlers{})
			assert.Error(t, err)
		})
	}
}

func TestExpression_Variables(t *testing.T) {
	mctx := &messaging.MessagingContext{
		Type:    messaging.RocketMQ,
		Topic:   "orders",
		GroupID: "g1",
		Message: &messaging.UnifiedMessage{
			Destination: "orders:vip",
			MessageKey:  "k1",
			Payload:     `{"id":42,"customer":{"name":"ada"}}`,
			Headers:     map[string]string{"tenant": "acme"},
		},
	}

	tests := []struct {
		src  string
		want any
	}{
		{"messagingType", "ROCKETMQ"},
		{"topic", "orders"},
		{"groupId", "g1"},
		{"destination", "orders:vip"},
		{"key", "k1"},
		{"payload", `{"id":42,"customer":{"name":"ada"}}`},
		{`headers["tenant"]`, "acme"},
		{"body.customer.name", "ada"},
		{"int(body.id)", int64(42)},
		{`destination + "/" + key`, "orders:vip/k1"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			expr, err := CompileExpression(tt.src)
			require.NoError(t, err)
			out, err := expr.Eval(mctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Value())
		})
	}
}

func TestExpression_BodyOnlyDecodedWhenReferenced(t *testing.T) {
	mctx := kafkaContext(&messaging.UnifiedMessage{
		Destination: "orders",
		Payload:     "plain text",
		Headers:     map[string]string{"antibody": "x"},
	})

	tests := []struct {
		src  string
		want any
	}{
		{`headers["antibody"]`, "x"},
		{`payload.contains("body")`, false},
		{`"body" in headers`, false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			expr, err := CompileExpression(tt.src)
			require.NoError(t, err)
			out, err := expr.Eval(mctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Value())
		})
	}

	expr, err := CompileExpression("body.id")
	require.NoError(t, err)
	_, err = expr.Eval(mctx)
	assert.ErrorContains(t, err, "payload is not JSON")
}

func TestInvoke_ExpressionConvertsToParameterTypes(t *testing.T) {
	var (
		gotTopic  string
		gotGroup  string
		gotCount  int64
		gotTenant string
		gotKey    string
	)
	inv, err := New(messaging.ListenerConfig{
		Handler: func(topic, group string, count int64, tenant, key string) {
			gotTopic, gotGroup, gotCount, gotTenant, gotKey = topic, group, count, tenant, key
		},
		Arguments: []messaging.ArgumentResolverConfig{
			{Index: 0, Expression: `topic + ":" + messagingType`},
			{Index: 1, Expression: "groupId"},
			{Index: 2, Expression: "int(body.items) * 2"},
			{Index: 3, Expression: `headers["tenant"]`},
			{Index: 4, Expression: "key"},
		},
	}, ErrorHandlers{})
	require.NoError(t, err)

	msg := &messaging.UnifiedMessage{
		Destination: "orders",
		Payload:     []byte(`{"items":3}`),
		Headers:     map[string]string{"tenant": "acme"},
		MessageKey:  "order-9",
	}
	require.NoError(t, inv.Invoke(context.Background(), kafkaContext(msg)))

	assert.Equal(t, "orders:KAFKA", gotTopic)
	assert.Equal(t, "billing", gotGroup)
	assert.Equal(t, int64(6), gotCount)
	assert.Equal(t, "acme", gotTenant)
	assert.Equal(t, "order-9", gotKey)
}

func TestInvoke_PanicInExtractGoesToHook(t *testing.T) {
	hook := &recordingHook{}
	called := false
	inv, err := New(messaging.ListenerConfig{
		Handler: func(id int64) { called = true },
		Arguments: []messaging.ArgumentResolverConfig{
			{Index: 0, Extract: func(*messaging.MessagingContext) (any, error) { panic("extract boom") }},
		},
	}, ErrorHandlers{messaging.Kafka: hook.handle})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		assert.NoError(t, inv.Invoke(context.Background(), kafkaContext(messaging.NewMessage("orders", "x"))))
	})
	assert.False(t, called)
	require.Len(t, hook.calls, 1)
	assert.Contains(t, hook.calls[0].Error(), "extract boom")
}

func TestInvoke_PanickingHookIsReturned(t *testing.T) {
	h := &orderHandler{fail: errors.New("db down")}
	inv, err := New(messaging.ListenerConfig{Target: h, Method: "OnOrder"},
		ErrorHandlers{messaging.Kafka: func(context.Context, error, *messaging.MessagingContext) { panic("hook boom") }})
	require.NoError(t, err)

	var invokeErr error
	require.NotPanics(t, func() {
		invokeErr = inv.Invoke(context.Background(), kafkaContext(messaging.NewMessage("orders", "x")))
	})
	require.Error(t, invokeErr)
	assert.Contains(t, invokeErr.Error(), "hook boom")
	assert.ErrorIs(t, invokeErr, h.fail)
}
