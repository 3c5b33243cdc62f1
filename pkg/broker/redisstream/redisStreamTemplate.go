package redisstream

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
	"github.com/zoff-tech/go-messaging/pkg/telemetry"
	"github.com/zoff-tech/go-messaging/pkg/template"
)

// TemplateAdapter appends entries with XADD; the stream is the destination topic.
type TemplateAdapter struct {
	client StreamClient
	maxLen int64
	logger zerolog.Logger
}

func NewTemplateAdapter(client StreamClient, settings *config.RedisSettings, logger zerolog.Logger) *TemplateAdapter {
	return &TemplateAdapter{
		client: client,
		maxLen: settings.MaxLen,
		logger: logger.With().Str("type", messaging.RedisStream.String()).Logger(),
	}
}

func (a *TemplateAdapter) Type() messaging.MessagingType { return messaging.RedisStream }

func (a *TemplateAdapter) args(msg *messaging.UnifiedMessage, headers map[string]string) (*redis.XAddArgs, error) {
	data, err := msg.PayloadBytes()
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, 3+len(headers))
	values[fieldPayload] = data
	if tag := msg.Tag(); tag != "" {
		values[fieldTag] = tag
	}
	if msg.MessageKey != "" {
		values[fieldKey] = msg.MessageKey
	}
	for k, v := range headers {
		values[fieldMetaPrefix+k] = v
	}

	args := &redis.XAddArgs{
		Stream: msg.Topic(),
		ID:     "*",
		Values: values,
	}
	if a.maxLen > 0 {
		args.MaxLen = a.maxLen
		args.Approx = true
	}
	return args, nil
}

func (a *TemplateAdapter) add(ctx context.Context, msg *messaging.UnifiedMessage) (*messaging.SendResult, error) {
	headers := msg.HeadersCopy()
	ctx, span := telemetry.StartProducerSpan(ctx, messaging.RedisStream, msg.Destination, headers)
	args, err := a.args(msg, headers)
	if err != nil {
		telemetry.End(span, err)
		return nil, err
	}
	id, err := a.client.XAdd(ctx, args).Result()
	telemetry.SetMessageID(span, id)
	telemetry.End(span, err)
	if err != nil {
		return nil, messaging.NewSendError(messaging.RedisStream, msg.Destination, err)
	}
	return &messaging.SendResult{
		Destination:      msg.Destination,
		PartitionOrQueue: messaging.NotApplicable,
		Offset:           messaging.NotApplicable,
		MessageID:        id,
	}, nil
}

func (a *TemplateAdapter) SendSync(ctx context.Context, msg *messaging.UnifiedMessage) (*messaging.SendResult, error) {
	return a.add(ctx, msg)
}

func (a *TemplateAdapter) SendAsync(ctx context.Context, msg *messaging.UnifiedMessage) *template.Future {
	f := template.NewFuture()
	go func() {
		f.Complete(a.add(ctx, msg))
	}()
	return f
}

// SendOneWay issues the XADD in the background and only reports encoding errors.
func (a *TemplateAdapter) SendOneWay(ctx context.Context, msg *messaging.UnifiedMessage) error {
	if _, err := msg.PayloadBytes(); err != nil {
		return err
	}
	go func() {
		if _, err := a.add(context.WithoutCancel(ctx), msg); err != nil {
			a.logger.Warn().Err(err).Str("destination", msg.Destination).Msg("one-way send failed")
		}
	}()
	return nil
}

// Close is a no-op; the client is closed by its owner.
func (a *TemplateAdapter) Close() error { return nil }
