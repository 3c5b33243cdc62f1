package processor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
	"github.com/zoff-tech/go-messaging/pkg/store"
	"github.com/zoff-tech/go-messaging/pkg/template"
)

const defaultPollInterval = 5 * time.Second

// Sender resolves the template for the type a message was originally consumed from.
type Sender interface {
	ForType(t messaging.MessagingType) (*template.TypedTemplate, error)
}

// BatchResult counts the outcome of one ProcessBatch call.
type BatchResult struct {
	Replayed int
	Retried  int
	Failed   int
}

// ReplayProcessor re-sends stored failed messages on operator request.
type ReplayProcessor struct {
	repo         store.FailedMessageRepository
	sender       Sender
	tracer       trace.Tracer
	logger       zerolog.Logger
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

// NewReplayProcessor creates a new instance of ReplayProcessor.
func NewReplayProcessor(repo store.FailedMessageRepository, sender Sender, cfg config.ReplaySettings, logger zerolog.Logger) *ReplayProcessor {
	p := &ReplayProcessor{
		repo:         repo,
		sender:       sender,
		tracer:       otel.Tracer("github.com/zoff-tech/go-messaging/pkg/processor"),
		logger:       logger.With().Str("component", "replay").Logger(),
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		pollInterval: cfg.PollInterval,
	}
	if p.batchSize < 1 {
		p.batchSize = 10
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 3
	}
	if p.pollInterval <= 0 {
		p.pollInterval = defaultPollInterval
	}
	return p
}

// ProcessBatch claims one batch of pending messages and sends each through the template
// of its original type.
func (p *ReplayProcessor) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	msgs, err := p.repo.FetchPending(ctx, p.batchSize, p.maxAttempts)
	if err != nil {
		return result, err
	}

	for _, msg := range msgs {
		if p.replay(ctx, msg) {
			result.Replayed++
		} else if msg.Attempts < p.maxAttempts {
			result.Retried++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

func (p *ReplayProcessor) replay(ctx context.Context, msg store.FailedMessage) bool {
	ctx, span := p.tracer.Start(ctx, "ReplayFailedMessage", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", msg.Type.String()),
		attribute.String("message.destination", msg.Destination),
		attribute.Int("message.attempts", msg.Attempts),
	))
	defer span.End()

	logger := p.logger.With().Str("id", msg.ID).Str("type", msg.Type.String()).Str("destination", msg.Destination).Logger()

	err := p.send(ctx, msg)
	if err == nil {
		if err := p.repo.MarkReplayed(ctx, msg.ID); err != nil {
			logger.Error().Err(err).Msg("failed to mark message as replayed")
			span.RecordError(err)
		}
		logger.Info().Int("attempts", msg.Attempts).Msg("message replayed")
		return true
	}

	logger.Warn().Err(err).Int("attempts", msg.Attempts).Msg("replay failed")
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	next := store.StatusPending
	if msg.Attempts >= p.maxAttempts {
		next = store.StatusFailed
	}
	if err := p.repo.SetStatus(ctx, msg.ID, next); err != nil {
		logger.Error().Err(err).Str("status", string(next)).Msg("failed to update message status")
	}
	return false
}

func (p *ReplayProcessor) send(ctx context.Context, msg store.FailedMessage) error {
	tt, err := p.sender.ForType(msg.Type)
	if err != nil {
		return err
	}
	_, err = tt.SendSync(ctx, msg.UnifiedMessage())
	return err
}

// Run processes batches every poll interval until ctx is done.
func (p *ReplayProcessor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		res, err := p.ProcessBatch(ctx)
		if err != nil {
			p.logger.Error().Err(err).Msg("failed to fetch failed messages")
		} else if res != (BatchResult{}) {
			p.logger.Info().Int("replayed", res.Replayed).Int("retried", res.Retried).Int("failed", res.Failed).Msg("replay batch processed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
