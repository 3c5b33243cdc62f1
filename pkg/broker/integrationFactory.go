package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zoff-tech/go-messaging/pkg/broker/kafka"
	"github.com/zoff-tech/go-messaging/pkg/broker/pubsub"
	"github.com/zoff-tech/go-messaging/pkg/broker/rabbitmq"
	"github.com/zoff-tech/go-messaging/pkg/broker/redisstream"
	"github.com/zoff-tech/go-messaging/pkg/broker/rocketmq"
	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// ErrMissingSettings is returned when a broker kind has no configuration section.
var ErrMissingSettings = errors.New("missing broker settings")

// NewIntegration connects the clients for t and builds its template adapter and container factory.
func NewIntegration(ctx context.Context, t messaging.MessagingType, settings *config.Settings, logger zerolog.Logger) (*Integration, error) {
	switch t {
	case messaging.Kafka:
		if settings.Kafka == nil {
			return nil, fmt.Errorf("%w: kafka", ErrMissingSettings)
		}
		tmpl, err := kafka.NewTemplateAdapter(settings.Kafka, logger)
		if err != nil {
			return nil, err
		}
		factory, err := kafka.NewContainerFactory(settings.Kafka, logger)
		if err != nil {
			_ = tmpl.Close()
			return nil, err
		}
		return &Integration{Type: t, AdapterBuilder: kafka.NewAdapter, ContainerFactory: factory, TemplateAdapter: tmpl}, nil

	case messaging.RocketMQ:
		if settings.RocketMQ == nil {
			return nil, fmt.Errorf("%w: rocketmq", ErrMissingSettings)
		}
		tmpl, err := rocketmq.NewTemplateAdapter(settings.RocketMQ, logger)
		if err != nil {
			return nil, err
		}
		return &Integration{
			Type:             t,
			AdapterBuilder:   rocketmq.NewAdapter,
			ContainerFactory: rocketmq.NewContainerFactory(settings.RocketMQ, logger),
			TemplateAdapter:  tmpl,
		}, nil

	case messaging.RabbitMQ:
		if settings.RabbitMQ == nil {
			return nil, fmt.Errorf("%w: rabbitmq", ErrMissingSettings)
		}
		conns, err := rabbitmq.NewConnectionManager(settings.RabbitMQ, logger)
		if err != nil {
			return nil, err
		}
		return &Integration{
			Type:             t,
			AdapterBuilder:   rabbitmq.NewAdapter,
			ContainerFactory: rabbitmq.NewContainerFactory(conns, settings.RabbitMQ, logger),
			TemplateAdapter:  rabbitmq.NewTemplateAdapter(conns, logger),
			closers:          []func() error{conns.Close},
		}, nil

	case messaging.PubSub:
		if settings.PubSub == nil {
			return nil, fmt.Errorf("%w: pubsub", ErrMissingSettings)
		}
		client, err := pubsub.NewPubSubClient(ctx, settings.PubSub)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Pub/Sub: %w", err)
		}
		return &Integration{
			Type:             t,
			AdapterBuilder:   pubsub.NewAdapter,
			ContainerFactory: pubsub.NewContainerFactory(client, logger),
			TemplateAdapter:  pubsub.NewTemplateAdapter(client, settings.PubSub.EnableOrdering, logger),
			closers:          []func() error{client.Close},
		}, nil

	case messaging.RedisStream:
		if settings.Redis == nil {
			return nil, fmt.Errorf("%w: redis", ErrMissingSettings)
		}
		client, err := redisstream.NewClient(ctx, settings.Redis)
		if err != nil {
			return nil, err
		}
		return &Integration{
			Type:             t,
			AdapterBuilder:   redisstream.NewAdapter,
			ContainerFactory: redisstream.NewContainerFactory(client, settings.Redis, logger),
			TemplateAdapter:  redisstream.NewTemplateAdapter(client, settings.Redis, logger),
			closers:          []func() error{client.Close},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported broker type: %s", t)
	}
}
