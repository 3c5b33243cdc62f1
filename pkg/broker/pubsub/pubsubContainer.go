package pubsub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-messaging/pkg/listener"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// ReceiveRetryDelay is the wait before restarting a failed Receive.
var ReceiveRetryDelay = 5 * time.Second

const defaultGroup = "go-messaging"

// SubscriptionID names the subscription for a (group, topic:tag) pair.
func SubscriptionID(group, destination string) string {
	if group == "" {
		group = defaultGroup
	}
	id := group + "-" + messaging.ExtractTopic(destination)
	if tag := messaging.ExtractTag(destination); tag != "" {
		id += "-" + tag
	}
	return strings.NewReplacer(":", "-", "/", "-").Replace(id)
}

// Filter is the subscription filter for a topic:tag destination, empty when untagged.
func Filter(destination string) string {
	tag := messaging.ExtractTag(destination)
	if tag == "" {
		return ""
	}
	return fmt.Sprintf("attributes.%s = %q", TagAttribute, tag)
}

// ContainerFactory creates missing topics and subscriptions and runs Receive per pair.
type ContainerFactory struct {
	client     *pubsub.Client
	logger     zerolog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	containers listener.Containers[*pubsub.Subscription]
}

func NewContainerFactory(client *pubsub.Client, logger zerolog.Logger) *ContainerFactory {
	ctx, cancel := context.WithCancel(context.Background())
	return &ContainerFactory{
		client: client,
		logger: logger.With().Str("type", messaging.PubSub.String()).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (f *ContainerFactory) RegisterContainer(ctx context.Context, adapter listener.MessageListener, cfg messaging.ListenerConfig) error {
	h, err := listener.HandlerFor[*pubsub.Message](adapter)
	if err != nil {
		return err
	}

	key := listener.ContainerKey{GroupID: cfg.GroupID, Topic: cfg.Topic}
	_, created, err := f.containers.LoadOrCreate(key, func() (*pubsub.Subscription, error) {
		sub, err := f.ensureSubscription(ctx, cfg)
		if err != nil {
			return nil, err
		}
		f.wg.Add(1)
		go f.run(sub, h)
		return sub, nil
	})
	if err != nil {
		return err
	}
	if !created {
		f.logger.Info().Str("group", cfg.GroupID).Str("topic", cfg.Topic).Msg("subscription already receiving")
	}
	return nil
}

func (f *ContainerFactory) ensureSubscription(ctx context.Context, cfg messaging.ListenerConfig) (*pubsub.Subscription, error) {
	id := SubscriptionID(cfg.GroupID, cfg.Topic)
	sub := f.client.Subscription(id)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check subscription %q: %w", id, err)
	}
	if exists {
		return sub, nil
	}

	topicID := messaging.ExtractTopic(cfg.Topic)
	topic := f.client.Topic(topicID)
	topicExists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check topic %q: %w", topicID, err)
	}
	if !topicExists {
		if topic, err = f.client.CreateTopic(ctx, topicID); err != nil {
			return nil, fmt.Errorf("failed to create topic %q: %w", topicID, err)
		}
	}

	sub, err = f.client.CreateSubscription(ctx, id, pubsub.SubscriptionConfig{
		Topic:  topic,
		Filter: Filter(cfg.Topic),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription %q: %w", id, err)
	}
	f.logger.Info().Str("subscription", id).Str("filter", Filter(cfg.Topic)).Msg("subscription created")
	return sub, nil
}

func (f *ContainerFactory) run(sub *pubsub.Subscription, h listener.RecordHandler[*pubsub.Message]) {
	defer f.wg.Done()
	for {
		err := sub.Receive(f.ctx, func(ctx context.Context, m *pubsub.Message) {
			if err := h.HandleMessage(ctx, m); err != nil {
				f.logger.Error().Err(err).Str("subscription", sub.ID()).Str("message_id", m.ID).Msg("message handling failed")
			}
			m.Ack()
		})
		if f.ctx.Err() != nil {
			return
		}
		f.logger.Error().Err(err).Str("subscription", sub.ID()).Msg("receive stopped, restarting")
		select {
		case <-f.ctx.Done():
			return
		case <-time.After(ReceiveRetryDelay):
		}
	}
}

// Close stops every Receive loop and waits for in-flight handlers.
func (f *ContainerFactory) Close() error {
	f.cancel()
	f.wg.Wait()
	return nil
}
