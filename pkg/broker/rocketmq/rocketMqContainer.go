package rocketmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/listener"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// ContainerFactory starts one push consumer per (group, topic) pair.
type ContainerFactory struct {
	settings   *config.RocketMQSettings
	logger     zerolog.Logger
	containers listener.Containers[PushConsumer]
}

func NewContainerFactory(settings *config.RocketMQSettings, logger zerolog.Logger) *ContainerFactory {
	return &ContainerFactory{
		settings: settings,
		logger:   logger.With().Str("type", messaging.RocketMQ.String()).Logger(),
	}
}

// Selector builds the tag selector for a topic:tag destination.
func Selector(destination string) consumer.MessageSelector {
	tag := messaging.ExtractTag(destination)
	if tag == "" {
		tag = "*"
	}
	return consumer.MessageSelector{Type: consumer.TAG, Expression: tag}
}

func (f *ContainerFactory) RegisterContainer(_ context.Context, adapter listener.MessageListener, cfg messaging.ListenerConfig) error {
	h, err := listener.HandlerFor[*primitive.MessageExt](adapter)
	if err != nil {
		return err
	}
	if cfg.GroupID == "" {
		return errors.New("rocketmq listeners require a group id")
	}

	key := listener.ContainerKey{GroupID: cfg.GroupID, Topic: cfg.Topic}
	_, created, err := f.containers.LoadOrCreate(key, func() (PushConsumer, error) {
		c, err := NewPushConsumer(f.settings, cfg.GroupID, cfg.GroupID+"@"+cfg.Topic)
		if err != nil {
			return nil, fmt.Errorf("failed to create push consumer %q: %w", cfg.GroupID, err)
		}
		topic := messaging.ExtractTopic(cfg.Topic)
		if err := c.Subscribe(topic, Selector(cfg.Topic), f.callback(h)); err != nil {
			return nil, fmt.Errorf("failed to subscribe to %q: %w", cfg.Topic, err)
		}
		if err := c.Start(); err != nil {
			return nil, fmt.Errorf("failed to start push consumer %q: %w", cfg.GroupID, err)
		}
		f.logger.Info().Str("group", cfg.GroupID).Str("topic", cfg.Topic).Msg("push consumer started")
		return c, nil
	})
	if err != nil {
		return err
	}
	if !created {
		f.logger.Info().Str("group", cfg.GroupID).Str("topic", cfg.Topic).Msg("push consumer already running")
	}
	return nil
}

// callback acknowledges every message; handler failures were already routed to the error hook.
func (f *ContainerFactory) callback(h listener.RecordHandler[*primitive.MessageExt]) func(context.Context, ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	return func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
		for _, m := range msgs {
			if err := h.HandleMessage(ctx, m); err != nil {
				f.logger.Error().Err(err).Str("topic", m.Topic).Str("msg_id", m.MsgId).Msg("message handling failed")
			}
		}
		return consumer.ConsumeSuccess, nil
	}
}

func (f *ContainerFactory) Close() error {
	var errs []error
	for _, c := range f.containers.All() {
		if err := c.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
