package pubsub

import (
	"context"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
	"github.com/zoff-tech/go-messaging/pkg/telemetry"
	"github.com/zoff-tech/go-messaging/pkg/template"
)

// TemplateAdapter publishes to topic=destination topic with the tag as an attribute.
type TemplateAdapter struct {
	client         *pubsub.Client
	enableOrdering bool
	logger         zerolog.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewTemplateAdapter(client *pubsub.Client, enableOrdering bool, logger zerolog.Logger) *TemplateAdapter {
	return &TemplateAdapter{
		client:         client,
		enableOrdering: enableOrdering,
		logger:         logger.With().Str("type", messaging.PubSub.String()).Logger(),
		topics:         map[string]*pubsub.Topic{},
	}
}

func (a *TemplateAdapter) Type() messaging.MessagingType { return messaging.PubSub }

// topic returns a cached publisher so batching goroutines are shared per topic.
func (a *TemplateAdapter) topic(id string) *pubsub.Topic {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.topics[id]
	if !ok {
		t = a.client.Topic(id)
		t.EnableMessageOrdering = a.enableOrdering
		a.topics[id] = t
	}
	return t
}

func (a *TemplateAdapter) publish(ctx context.Context, msg *messaging.UnifiedMessage) (*pubsub.PublishResult, trace.Span, error) {
	data, err := msg.PayloadBytes()
	if err != nil {
		return nil, nil, err
	}

	attributes := msg.HeadersCopy()
	if tag := msg.Tag(); tag != "" {
		attributes[TagAttribute] = tag
	}
	if msg.MessageKey != "" {
		attributes[MessageKeyAttribute] = msg.MessageKey
	}
	ctx, span := telemetry.StartProducerSpan(ctx, messaging.PubSub, msg.Destination, attributes)
	span.SetAttributes(attribute.Int("messaging.message_payload_size_bytes", len(data)))

	message := &pubsub.Message{
		Data:       data,
		Attributes: attributes,
	}
	if a.enableOrdering {
		message.OrderingKey = msg.MessageKey
	}

	return a.topic(msg.Topic()).Publish(ctx, message), span, nil
}

// resume unpauses the ordering key of msg. The client pauses a key after a failed
// publish and rejects every later publish with that key until it is resumed.
func (a *TemplateAdapter) resume(msg *messaging.UnifiedMessage) {
	if a.enableOrdering && msg.MessageKey != "" {
		a.topic(msg.Topic()).ResumePublish(msg.MessageKey)
	}
}

func result(destination, serverID string) *messaging.SendResult {
	return &messaging.SendResult{
		Destination:      destination,
		PartitionOrQueue: messaging.NotApplicable,
		Offset:           messaging.NotApplicable,
		MessageID:        serverID,
	}
}

func (a *TemplateAdapter) SendSync(ctx context.Context, msg *messaging.UnifiedMessage) (*messaging.SendResult, error) {
	res, span, err := a.publish(ctx, msg)
	if err != nil {
		return nil, err
	}
	id, err := res.Get(ctx) // wait for server ack
	telemetry.SetMessageID(span, id)
	telemetry.End(span, err)
	if err != nil {
		a.resume(msg)
		return nil, messaging.NewSendError(messaging.PubSub, msg.Destination, err)
	}
	return result(msg.Destination, id), nil
}

func (a *TemplateAdapter) SendAsync(ctx context.Context, msg *messaging.UnifiedMessage) *template.Future {
	f := template.NewFuture()
	res, span, err := a.publish(ctx, msg)
	if err != nil {
		f.Complete(nil, messaging.NewSendError(messaging.PubSub, msg.Destination, err))
		return f
	}
	go func() {
		id, err := res.Get(ctx)
		telemetry.SetMessageID(span, id)
		telemetry.End(span, err)
		if err != nil {
			a.resume(msg)
			f.Complete(nil, messaging.NewSendError(messaging.PubSub, msg.Destination, err))
			return
		}
		f.Complete(result(msg.Destination, id), nil)
	}()
	return f
}

// SendOneWay hands the message to the client's batcher and returns.
func (a *TemplateAdapter) SendOneWay(ctx context.Context, msg *messaging.UnifiedMessage) error {
	res, span, err := a.publish(ctx, msg)
	if err != nil {
		return err
	}
	telemetry.End(span, nil)
	if a.enableOrdering && msg.MessageKey != "" {
		go func() {
			if _, err := res.Get(context.WithoutCancel(ctx)); err != nil {
				a.resume(msg)
				a.logger.Warn().Err(err).Str("destination", msg.Destination).Msg("one-way publish failed")
			}
		}()
	}
	return nil
}

// Close flushes and stops every cached topic. The client is closed by its owner.
func (a *TemplateAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range a.topics {
		t.Stop()
	}
	a.topics = map[string]*pubsub.Topic{}
	return nil
}
