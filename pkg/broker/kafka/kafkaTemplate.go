package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
	"github.com/zoff-tech/go-messaging/pkg/telemetry"
	"github.com/zoff-tech/go-messaging/pkg/template"
)

// SyncProducerCreator defines a function type for creating sync producers.
type SyncProducerCreator func(addrs []string, cfg *sarama.Config) (sarama.SyncProducer, error)

// AsyncProducerCreator defines a function type for creating async producers.
type AsyncProducerCreator func(addrs []string, cfg *sarama.Config) (sarama.AsyncProducer, error)

var (
	NewSyncProducer  SyncProducerCreator  = sarama.NewSyncProducer
	NewAsyncProducer AsyncProducerCreator = sarama.NewAsyncProducer
)

// pending travels in ProducerMessage.Metadata for SendAsync calls.
type pending struct {
	future      *template.Future
	span        trace.Span
	destination string
}

// TemplateAdapter sends through a sync producer for SendSync and an async producer otherwise.
type TemplateAdapter struct {
	syncProducer  sarama.SyncProducer
	asyncProducer sarama.AsyncProducer
	logger        zerolog.Logger
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

func NewTemplateAdapter(settings *config.KafkaSettings, logger zerolog.Logger) (*TemplateAdapter, error) {
	cfg, err := NewSaramaConfig(settings)
	if err != nil {
		return nil, err
	}
	sp, err := NewSyncProducer(settings.Brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	ap, err := NewAsyncProducer(settings.Brokers, cfg)
	if err != nil {
		_ = sp.Close()
		return nil, fmt.Errorf("failed to create async Kafka producer: %w", err)
	}
	return NewTemplateAdapterWithProducers(sp, ap, logger), nil
}

// NewTemplateAdapterWithProducers wraps existing producers. The async producer must
// return successes and errors.
func NewTemplateAdapterWithProducers(sp sarama.SyncProducer, ap sarama.AsyncProducer, logger zerolog.Logger) *TemplateAdapter {
	a := &TemplateAdapter{
		syncProducer:  sp,
		asyncProducer: ap,
		logger:        logger.With().Str("type", messaging.Kafka.String()).Logger(),
	}
	a.wg.Add(2)
	go a.drainSuccesses()
	go a.drainErrors()
	return a
}

func (a *TemplateAdapter) Type() messaging.MessagingType { return messaging.Kafka }

func (a *TemplateAdapter) record(ctx context.Context, msg *messaging.UnifiedMessage) (*sarama.ProducerMessage, trace.Span, error) {
	value, err := msg.PayloadBytes()
	if err != nil {
		return nil, nil, err
	}

	headers := msg.HeadersCopy()
	if tag := msg.Tag(); tag != "" {
		headers[TagHeader] = tag
	}
	_, span := telemetry.StartProducerSpan(ctx, messaging.Kafka, msg.Destination, headers)
	span.SetAttributes(attribute.Int("messaging.message_payload_size_bytes", len(value)))

	rec := &sarama.ProducerMessage{
		Topic: msg.Topic(),
		Value: sarama.ByteEncoder(value),
	}
	if msg.MessageKey != "" {
		rec.Key = sarama.StringEncoder(msg.MessageKey)
	}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return rec, span, nil
}

func toResult(destination string, partition int32, offset int64) *messaging.SendResult {
	return &messaging.SendResult{
		Destination:      destination,
		PartitionOrQueue: int64(partition),
		Offset:           offset,
		MessageID:        fmt.Sprintf("%d-%d", partition, offset),
	}
}

func (a *TemplateAdapter) SendSync(ctx context.Context, msg *messaging.UnifiedMessage) (*messaging.SendResult, error) {
	rec, span, err := a.record(ctx, msg)
	if err != nil {
		return nil, err
	}
	partition, offset, err := a.syncProducer.SendMessage(rec)
	if err != nil {
		telemetry.End(span, err)
		return nil, messaging.NewSendError(messaging.Kafka, msg.Destination, err)
	}
	res := toResult(msg.Destination, partition, offset)
	telemetry.SetMessageID(span, res.MessageID)
	telemetry.End(span, nil)
	return res, nil
}

func (a *TemplateAdapter) SendAsync(ctx context.Context, msg *messaging.UnifiedMessage) *template.Future {
	f := template.NewFuture()
	rec, span, err := a.record(ctx, msg)
	if err != nil {
		f.Complete(nil, messaging.NewSendError(messaging.Kafka, msg.Destination, err))
		return f
	}
	rec.Metadata = &pending{future: f, span: span, destination: msg.Destination}

	select {
	case a.asyncProducer.Input() <- rec:
	case <-ctx.Done():
		telemetry.End(span, ctx.Err())
		f.Complete(nil, messaging.NewSendError(messaging.Kafka, msg.Destination, ctx.Err()))
	}
	return f
}

// SendOneWay queues the record without waiting. Delivery failures are only logged.
func (a *TemplateAdapter) SendOneWay(ctx context.Context, msg *messaging.UnifiedMessage) error {
	rec, span, err := a.record(ctx, msg)
	if err != nil {
		return err
	}
	defer telemetry.End(span, nil)

	select {
	case a.asyncProducer.Input() <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *TemplateAdapter) drainSuccesses() {
	defer a.wg.Done()
	for rec := range a.asyncProducer.Successes() {
		p, ok := rec.Metadata.(*pending)
		if !ok {
			continue
		}
		res := toResult(p.destination, rec.Partition, rec.Offset)
		telemetry.SetMessageID(p.span, res.MessageID)
		telemetry.End(p.span, nil)
		p.future.Complete(res, nil)
	}
}

func (a *TemplateAdapter) drainErrors() {
	defer a.wg.Done()
	for perr := range a.asyncProducer.Errors() {
		p, ok := perr.Msg.Metadata.(*pending)
		if !ok {
			a.logger.Warn().Err(perr.Err).Str("topic", perr.Msg.Topic).Msg("one-way send failed")
			continue
		}
		telemetry.End(p.span, perr.Err)
		p.future.Complete(nil, messaging.NewSendError(messaging.Kafka, p.destination, perr.Err))
	}
}

// Close flushes the async producer, waits for pending futures and closes the sync producer.
func (a *TemplateAdapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.asyncProducer.AsyncClose()
		a.wg.Wait()
		err = errors.Join(err, a.syncProducer.Close())
	})
	return err
}
