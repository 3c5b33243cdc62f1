package rabbitmq

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
	"github.com/zoff-tech/go-messaging/pkg/telemetry"
	"github.com/zoff-tech/go-messaging/pkg/template"
)

// MessageKeyHeader carries UnifiedMessage.MessageKey.
const MessageKeyHeader = "message-key"

// TemplateAdapter publishes to exchange=topic with routing key=tag.
type TemplateAdapter struct {
	conns  *ConnectionManager
	logger zerolog.Logger
}

func NewTemplateAdapter(conns *ConnectionManager, logger zerolog.Logger) *TemplateAdapter {
	return &TemplateAdapter{conns: conns, logger: logger.With().Str("type", messaging.RabbitMQ.String()).Logger()}
}

func (a *TemplateAdapter) Type() messaging.MessagingType { return messaging.RabbitMQ }

type outgoing struct {
	exchange   string
	routingKey string
	publishing amqp.Publishing
	span       trace.Span
}

func (a *TemplateAdapter) prepare(ctx context.Context, msg *messaging.UnifiedMessage) (*outgoing, error) {
	body, err := msg.PayloadBytes()
	if err != nil {
		return nil, err
	}

	headers := msg.HeadersCopy()
	_, span := telemetry.StartProducerSpan(ctx, messaging.RabbitMQ, msg.Destination, headers)
	span.SetAttributes(
		semconv.MessagingRabbitmqRoutingKeyKey.String(msg.Tag()),
		attribute.Int("messaging.message_payload_size_bytes", len(body)),
	)

	table := make(amqp.Table, len(headers)+1)
	for k, v := range headers {
		table[k] = v
	}
	if msg.MessageKey != "" {
		table[MessageKeyHeader] = msg.MessageKey
	}

	return &outgoing{
		exchange:   msg.Topic(),
		routingKey: msg.Tag(),
		span:       span,
		publishing: amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.New().String(),
			Timestamp:    time.Now().UTC(),
			Headers:      table,
			Body:         body,
		},
	}, nil
}

// publish sends out on a pooled channel and returns it still checked out.
func (a *TemplateAdapter) publish(out *outgoing, confirm bool) (*pooledChannel, error) {
	pc, err := a.conns.getChannel(confirm)
	if err != nil {
		return nil, err
	}
	if err := a.conns.declareExchange(pc.channel, out.exchange); err != nil {
		a.conns.discardChannel(pc)
		return nil, err
	}
	if err := pc.channel.Publish(out.exchange, out.routingKey, false, false, out.publishing); err != nil {
		a.conns.discardChannel(pc)
		return nil, err
	}
	return pc, nil
}

func result(msg *messaging.UnifiedMessage, out *outgoing) *messaging.SendResult {
	return &messaging.SendResult{
		Destination:      msg.Destination,
		PartitionOrQueue: messaging.NotApplicable,
		Offset:           messaging.NotApplicable,
		MessageID:        out.publishing.MessageId,
	}
}

// confirm waits for the publisher confirm and returns the channel to the pool.
func (a *TemplateAdapter) confirm(ctx context.Context, pc *pooledChannel) error {
	if err := waitConfirm(ctx, pc); err != nil {
		a.conns.discardChannel(pc)
		return err
	}
	a.conns.releaseChannel(pc, true)
	return nil
}

func (a *TemplateAdapter) SendSync(ctx context.Context, msg *messaging.UnifiedMessage) (*messaging.SendResult, error) {
	out, err := a.prepare(ctx, msg)
	if err != nil {
		return nil, err
	}
	pc, err := a.publish(out, true)
	if err == nil {
		err = a.confirm(ctx, pc)
	}
	telemetry.End(out.span, err)
	if err != nil {
		return nil, messaging.NewSendError(messaging.RabbitMQ, msg.Destination, err)
	}
	return result(msg, out), nil
}

// SendAsync publishes immediately and waits for the confirm in the background.
func (a *TemplateAdapter) SendAsync(ctx context.Context, msg *messaging.UnifiedMessage) *template.Future {
	f := template.NewFuture()
	out, err := a.prepare(ctx, msg)
	if err != nil {
		f.Complete(nil, messaging.NewSendError(messaging.RabbitMQ, msg.Destination, err))
		return f
	}
	pc, err := a.publish(out, true)
	if err != nil {
		telemetry.End(out.span, err)
		f.Complete(nil, messaging.NewSendError(messaging.RabbitMQ, msg.Destination, err))
		return f
	}

	go func() {
		err := a.confirm(ctx, pc)
		telemetry.End(out.span, err)
		if err != nil {
			f.Complete(nil, messaging.NewSendError(messaging.RabbitMQ, msg.Destination, err))
			return
		}
		f.Complete(result(msg, out), nil)
	}()
	return f
}

// SendOneWay publishes on a channel without confirms.
func (a *TemplateAdapter) SendOneWay(ctx context.Context, msg *messaging.UnifiedMessage) error {
	out, err := a.prepare(ctx, msg)
	if err != nil {
		return err
	}
	pc, err := a.publish(out, false)
	telemetry.End(out.span, err)
	if err != nil {
		return err
	}
	a.conns.releaseChannel(pc, false)
	return nil
}

// Close is a no-op; the ConnectionManager owns the channels.
func (a *TemplateAdapter) Close() error {
	return nil
}
