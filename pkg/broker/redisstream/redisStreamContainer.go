package redisstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/listener"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

const (
	defaultGroup        = "go-messaging"
	defaultBatchSize    = 10
	defaultBlockTimeout = 2 * time.Second
	maxBackoff          = 5 * time.Second
)

type container struct {
	stream  string
	group   string
	tag     string
	handler listener.RecordHandler[redis.XMessage]
}

// ContainerFactory runs one XREADGROUP loop per (group, topic) and XACKs every entry.
// A tagged listener reads through its own Redis group, so entries with another tag
// are acked there without dispatch and still reach that tag's listener.
type ContainerFactory struct {
	client       StreamClient
	consumer     string
	batchSize    int64
	blockTimeout time.Duration
	logger       zerolog.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	containers   listener.Containers[*container]
}

func NewContainerFactory(client StreamClient, settings *config.RedisSettings, logger zerolog.Logger) *ContainerFactory {
	hostname, _ := os.Hostname()
	ctx, cancel := context.WithCancel(context.Background())
	f := &ContainerFactory{
		client:       client,
		consumer:     fmt.Sprintf("go-messaging-%s-%d", hostname, os.Getpid()),
		batchSize:    settings.BatchSize,
		blockTimeout: settings.BlockTimeout,
		logger:       logger.With().Str("type", messaging.RedisStream.String()).Logger(),
		ctx:          ctx,
		cancel:       cancel,
	}
	if f.batchSize <= 0 {
		f.batchSize = defaultBatchSize
	}
	if f.blockTimeout <= 0 {
		f.blockTimeout = defaultBlockTimeout
	}
	return f
}

func (f *ContainerFactory) RegisterContainer(ctx context.Context, adapter listener.MessageListener, cfg messaging.ListenerConfig) error {
	h, err := listener.HandlerFor[redis.XMessage](adapter)
	if err != nil {
		return err
	}

	key := listener.ContainerKey{GroupID: cfg.GroupID, Topic: cfg.Topic}
	_, created, err := f.containers.LoadOrCreate(key, func() (*container, error) {
		c := &container{
			stream:  messaging.ExtractTopic(cfg.Topic),
			group:   ConsumerGroup(cfg.GroupID, cfg.Topic),
			tag:     messaging.ExtractTag(cfg.Topic),
			handler: h,
		}
		err := f.client.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return nil, fmt.Errorf("failed to create consumer group %q on stream %q: %w", c.group, c.stream, err)
		}
		f.wg.Add(1)
		go f.run(c)
		return c, nil
	})
	if err != nil {
		return err
	}
	if !created {
		f.logger.Info().Str("group", cfg.GroupID).Str("topic", cfg.Topic).Msg("stream already consumed")
	}
	return nil
}

// ConsumerGroup is the Redis group a listener on topic reads through: the listener's
// group, suffixed with ":<tag>" when the topic carries a tag.
func ConsumerGroup(groupID, topic string) string {
	if groupID == "" {
		groupID = defaultGroup
	}
	if tag := messaging.ExtractTag(topic); tag != "" {
		return groupID + ":" + tag
	}
	return groupID
}

func (f *ContainerFactory) run(c *container) {
	defer f.wg.Done()
	args := &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: f.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    f.batchSize,
		Block:    f.blockTimeout,
	}
	backoff := 100 * time.Millisecond

	for f.ctx.Err() == nil {
		res, err := f.client.XReadGroup(f.ctx, args).Result()
		if err != nil {
			if f.ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			f.logger.Error().Err(err).Str("stream", c.stream).Str("group", c.group).Msg("read failed")
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(backoff):
				backoff = min(backoff*2, maxBackoff)
			}
			continue
		}
		backoff = 100 * time.Millisecond

		for _, stream := range res {
			for _, m := range stream.Messages {
				f.dispatch(c, m)
			}
		}
	}
}

func (f *ContainerFactory) dispatch(c *container, m redis.XMessage) {
	if c.tag == "" || asString(m.Values[fieldTag]) == c.tag {
		if err := c.handler.HandleMessage(f.ctx, m); err != nil {
			f.logger.Error().Err(err).Str("stream", c.stream).Str("id", m.ID).Msg("message handling failed")
		}
	}
	if err := f.client.XAck(context.WithoutCancel(f.ctx), c.stream, c.group, m.ID).Err(); err != nil {
		f.logger.Warn().Err(err).Str("stream", c.stream).Str("id", m.ID).Msg("ack failed")
	}
}

// Close stops every read loop and waits for in-flight handlers.
func (f *ContainerFactory) Close() error {
	f.cancel()
	f.wg.Wait()
	return nil
}
