package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/listener"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// ConsumerGroupCreator defines a function type for creating consumer groups.
type ConsumerGroupCreator func(addrs []string, groupID string, cfg *sarama.Config) (sarama.ConsumerGroup, error)

// NewConsumerGroup is the default ConsumerGroupCreator.
var NewConsumerGroup ConsumerGroupCreator = sarama.NewConsumerGroup

type container struct {
	group   sarama.ConsumerGroup
	topic   string
	handler *groupHandler
}

// ContainerFactory runs one consumer group per (group, topic) pair.
type ContainerFactory struct {
	brokers    []string
	saramaCfg  *sarama.Config
	logger     zerolog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	containers listener.Containers[*container]
}

func NewContainerFactory(settings *config.KafkaSettings, logger zerolog.Logger) (*ContainerFactory, error) {
	cfg, err := NewSaramaConfig(settings)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ContainerFactory{
		brokers:   settings.Brokers,
		saramaCfg: cfg,
		logger:    logger.With().Str("type", messaging.Kafka.String()).Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

func (f *ContainerFactory) RegisterContainer(_ context.Context, adapter listener.MessageListener, cfg messaging.ListenerConfig) error {
	h, err := listener.HandlerFor[*sarama.ConsumerMessage](adapter)
	if err != nil {
		return err
	}
	if cfg.GroupID == "" {
		return errors.New("kafka listeners require a group id")
	}

	// Kafka has no tags: every listener of a group on a topic shares one consumer group.
	topic := messaging.ExtractTopic(cfg.Topic)
	key := listener.ContainerKey{GroupID: cfg.GroupID, Topic: topic}
	_, created, err := f.containers.LoadOrCreate(key, func() (*container, error) {
		group, err := NewConsumerGroup(f.brokers, cfg.GroupID, f.saramaCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create consumer group %q: %w", cfg.GroupID, err)
		}
		c := &container{
			group:   group,
			topic:   topic,
			handler: &groupHandler{handler: h, logger: f.logger},
		}
		f.wg.Add(1)
		go f.run(c)
		return c, nil
	})
	if err != nil {
		return err
	}
	if !created {
		f.logger.Info().Str("group", cfg.GroupID).Str("topic", cfg.Topic).Msg("consumer group already running")
	}
	return nil
}

func (f *ContainerFactory) run(c *container) {
	defer f.wg.Done()
	f.logger.Info().Str("topic", c.topic).Msg("starting consumer group")
	for {
		if err := c.group.Consume(f.ctx, []string{c.topic}, c.handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			f.logger.Error().Err(err).Str("topic", c.topic).Msg("consumer group error")
		}
		if f.ctx.Err() != nil {
			return
		}
	}
}

// Close stops every consumer group and waits for the loops to exit.
func (f *ContainerFactory) Close() error {
	f.cancel()
	var errs []error
	for _, c := range f.containers.All() {
		if err := c.group.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.wg.Wait()
	return errors.Join(errs...)
}

// groupHandler delivers claimed records to the adapter and marks them consumed.
type groupHandler struct {
	handler listener.RecordHandler[*sarama.ConsumerMessage]
	logger  zerolog.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler.HandleMessage(session.Context(), msg); err != nil {
				h.logger.Error().Err(err).
					Str("topic", msg.Topic).
					Int32("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("message handling failed")
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
