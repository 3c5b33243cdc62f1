package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/listener"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// ResubscribeDelay is the wait between attempts to restore a lost consumer channel.
var ResubscribeDelay = 5 * time.Second

type container struct {
	exchange   string
	queue      string
	bindingKey string
	handler    listener.RecordHandler[amqp.Delivery]

	mu      sync.Mutex
	channel Channel
}

func (c *container) setChannel(ch Channel) {
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
}

func (c *container) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		_ = c.channel.Close()
	}
}

// ContainerFactory binds one queue per (group, topic) and acks each delivery after dispatch.
// The queue is named "<group>.<topic>"; an empty group gets an exclusive server-named queue.
type ContainerFactory struct {
	conns      *ConnectionManager
	prefetch   int
	logger     zerolog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	containers listener.Containers[*container]
}

func NewContainerFactory(conns *ConnectionManager, settings *config.RabbitMQSettings, logger zerolog.Logger) *ContainerFactory {
	ctx, cancel := context.WithCancel(context.Background())
	return &ContainerFactory{
		conns:    conns,
		prefetch: settings.Prefetch,
		logger:   logger.With().Str("type", messaging.RabbitMQ.String()).Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// BindingKey is the routing key a topic:tag destination binds with.
func BindingKey(destination string) string {
	if tag := messaging.ExtractTag(destination); tag != "" {
		return tag
	}
	return "#"
}

func (f *ContainerFactory) RegisterContainer(_ context.Context, adapter listener.MessageListener, cfg messaging.ListenerConfig) error {
	h, err := listener.HandlerFor[amqp.Delivery](adapter)
	if err != nil {
		return err
	}

	key := listener.ContainerKey{GroupID: cfg.GroupID, Topic: cfg.Topic}
	_, created, err := f.containers.LoadOrCreate(key, func() (*container, error) {
		c := &container{
			exchange:   messaging.ExtractTopic(cfg.Topic),
			bindingKey: BindingKey(cfg.Topic),
			handler:    h,
		}
		if cfg.GroupID != "" {
			c.queue = cfg.GroupID + "." + cfg.Topic
		}
		deliveries, err := f.subscribe(c)
		if err != nil {
			return nil, err
		}
		f.wg.Add(1)
		go f.run(c, deliveries)
		return c, nil
	})
	if err != nil {
		return err
	}
	if !created {
		f.logger.Info().Str("group", cfg.GroupID).Str("topic", cfg.Topic).Msg("consumer already running")
	}
	return nil
}

func (f *ContainerFactory) subscribe(c *container) (<-chan amqp.Delivery, error) {
	ch, err := f.conns.channel()
	if err != nil {
		return nil, err
	}
	deliveries, err := f.setup(ch, c)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	c.setChannel(ch)
	f.logger.Info().Str("exchange", c.exchange).Str("queue", c.queue).Str("binding_key", c.bindingKey).Msg("consumer started")
	return deliveries, nil
}

func (f *ContainerFactory) setup(ch Channel, c *container) (<-chan amqp.Delivery, error) {
	if err := f.conns.declareExchange(ch, c.exchange); err != nil {
		return nil, err
	}
	if f.prefetch > 0 {
		if err := ch.Qos(f.prefetch, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}
	shared := c.queue != ""
	q, err := ch.QueueDeclare(c.queue, shared, !shared, !shared, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %q: %w", c.queue, err)
	}
	if err := ch.QueueBind(q.Name, c.bindingKey, c.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue %q: %w", q.Name, err)
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %q: %w", q.Name, err)
	}
	return deliveries, nil
}

func (f *ContainerFactory) run(c *container, deliveries <-chan amqp.Delivery) {
	defer f.wg.Done()
	for {
		f.consume(c, deliveries)
		if f.ctx.Err() != nil {
			return
		}
		f.logger.Warn().Str("exchange", c.exchange).Msg("delivery channel closed, resubscribing")

		for {
			select {
			case <-f.ctx.Done():
				return
			case <-time.After(ResubscribeDelay):
			}
			var err error
			if deliveries, err = f.subscribe(c); err == nil {
				break
			}
			f.logger.Error().Err(err).Str("exchange", c.exchange).Msg("failed to resubscribe")
		}
	}
}

func (f *ContainerFactory) consume(c *container, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		if err := c.handler.HandleMessage(f.ctx, d); err != nil {
			f.logger.Error().Err(err).Str("exchange", d.Exchange).Str("message_id", d.MessageId).Msg("message handling failed")
		}
		if err := d.Ack(false); err != nil {
			f.logger.Error().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("failed to ack delivery")
		}
	}
}

// Close cancels the consumers, closes their channels and waits for them to stop.
func (f *ContainerFactory) Close() error {
	f.cancel()
	for _, c := range f.containers.All() {
		c.close()
	}
	f.wg.Wait()
	return nil
}
