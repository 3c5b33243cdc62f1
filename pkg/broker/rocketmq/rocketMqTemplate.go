package rocketmq

import (
	"context"
	"fmt"

	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
	"github.com/zoff-tech/go-messaging/pkg/telemetry"
	"github.com/zoff-tech/go-messaging/pkg/template"
)

// TemplateAdapter sends through a started RocketMQ producer.
type TemplateAdapter struct {
	producer Producer
	logger   zerolog.Logger
}

func NewTemplateAdapter(settings *config.RocketMQSettings, logger zerolog.Logger) (*TemplateAdapter, error) {
	p, err := NewProducer(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create RocketMQ producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("failed to start RocketMQ producer: %w", err)
	}
	return NewTemplateAdapterWithProducer(p, logger), nil
}

// NewTemplateAdapterWithProducer wraps an already started producer.
func NewTemplateAdapterWithProducer(p Producer, logger zerolog.Logger) *TemplateAdapter {
	return &TemplateAdapter{producer: p, logger: logger.With().Str("type", messaging.RocketMQ.String()).Logger()}
}

func (a *TemplateAdapter) Type() messaging.MessagingType { return messaging.RocketMQ }

func (a *TemplateAdapter) message(ctx context.Context, msg *messaging.UnifiedMessage) (*primitive.Message, trace.Span, error) {
	body, err := msg.PayloadBytes()
	if err != nil {
		return nil, nil, err
	}
	headers := msg.HeadersCopy()
	_, span := telemetry.StartProducerSpan(ctx, messaging.RocketMQ, msg.Destination, headers)

	m := primitive.NewMessage(msg.Topic(), body)
	if tag := msg.Tag(); tag != "" {
		m.WithTag(tag)
	}
	if msg.MessageKey != "" {
		m.WithKeys([]string{msg.MessageKey})
	}
	for k, v := range headers {
		m.WithProperty(k, v)
	}
	return m, span, nil
}

func toResult(destination string, res *primitive.SendResult) (*messaging.SendResult, error) {
	if res.Status != primitive.SendOK {
		return nil, fmt.Errorf("broker returned send status %d", res.Status)
	}
	out := &messaging.SendResult{
		Destination:      destination,
		PartitionOrQueue: messaging.NotApplicable,
		Offset:           res.QueueOffset,
		MessageID:        res.MsgID,
	}
	if res.MessageQueue != nil {
		out.PartitionOrQueue = int64(res.MessageQueue.QueueId)
	}
	return out, nil
}

func (a *TemplateAdapter) SendSync(ctx context.Context, msg *messaging.UnifiedMessage) (*messaging.SendResult, error) {
	m, span, err := a.message(ctx, msg)
	if err != nil {
		return nil, err
	}
	res, err := a.producer.SendSync(ctx, m)
	var out *messaging.SendResult
	if err == nil {
		out, err = toResult(msg.Destination, res)
	}
	if err != nil {
		telemetry.End(span, err)
		return nil, messaging.NewSendError(messaging.RocketMQ, msg.Destination, err)
	}
	telemetry.SetMessageID(span, out.MessageID)
	telemetry.End(span, nil)
	return out, nil
}

// SendAsync completes the future from the producer callback.
func (a *TemplateAdapter) SendAsync(ctx context.Context, msg *messaging.UnifiedMessage) *template.Future {
	f := template.NewFuture()
	m, span, err := a.message(ctx, msg)
	if err != nil {
		f.Complete(nil, messaging.NewSendError(messaging.RocketMQ, msg.Destination, err))
		return f
	}

	fail := func(err error) {
		telemetry.End(span, err)
		f.Complete(nil, messaging.NewSendError(messaging.RocketMQ, msg.Destination, err))
	}
	err = a.producer.SendAsync(ctx, func(_ context.Context, res *primitive.SendResult, err error) {
		if err != nil {
			fail(err)
			return
		}
		out, err := toResult(msg.Destination, res)
		if err != nil {
			fail(err)
			return
		}
		telemetry.SetMessageID(span, out.MessageID)
		telemetry.End(span, nil)
		f.Complete(out, nil)
	}, m)
	if err != nil {
		fail(err)
	}
	return f
}

// SendOneWay does not wait for a broker reply; only client-side failures are returned.
func (a *TemplateAdapter) SendOneWay(ctx context.Context, msg *messaging.UnifiedMessage) error {
	m, span, err := a.message(ctx, msg)
	if err != nil {
		return err
	}
	err = a.producer.SendOneWay(ctx, m)
	telemetry.End(span, err)
	return err
}

func (a *TemplateAdapter) Close() error {
	a.logger.Info().Msg("shutting down producer")
	return a.producer.Shutdown()
}
