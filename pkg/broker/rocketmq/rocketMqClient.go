package rocketmq

import (
	"context"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/detector"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

func init() {
	_ = detector.RegisterCapability(detector.DefaultCapabilities[messaging.RocketMQ])
}

// Producer is the part of rocketmq.Producer the template uses.
type Producer interface {
	Start() error
	Shutdown() error
	SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error)
	SendAsync(ctx context.Context, cb func(context.Context, *primitive.SendResult, error), msgs ...*primitive.Message) error
	SendOneWay(ctx context.Context, msgs ...*primitive.Message) error
}

// PushConsumer is the part of rocketmq.PushConsumer the containers use.
type PushConsumer interface {
	Start() error
	Shutdown() error
	Subscribe(topic string, selector consumer.MessageSelector,
		f func(context.Context, ...*primitive.MessageExt) (consumer.ConsumeResult, error)) error
}

// ProducerCreator defines a function type for creating producers.
type ProducerCreator func(settings *config.RocketMQSettings) (Producer, error)

// PushConsumerCreator defines a function type for creating push consumers.
type PushConsumerCreator func(settings *config.RocketMQSettings, group, instance string) (PushConsumer, error)

// NewProducer is the default ProducerCreator.
var NewProducer ProducerCreator = func(settings *config.RocketMQSettings) (Producer, error) {
	group := settings.ProducerGroup
	if group == "" {
		group = "go-messaging"
	}
	opts := []producer.Option{
		producer.WithNameServer(settings.NameServers),
		producer.WithGroupName(group),
		producer.WithRetry(settings.Retries),
	}
	if settings.Namespace != "" {
		opts = append(opts, producer.WithNamespace(settings.Namespace))
	}
	if settings.AccessKey != "" {
		opts = append(opts, producer.WithCredentials(primitive.Credentials{
			AccessKey: settings.AccessKey,
			SecretKey: settings.SecretKey,
		}))
	}
	return rocketmq.NewProducer(opts...)
}

// NewPushConsumer is the default PushConsumerCreator.
var NewPushConsumer PushConsumerCreator = func(settings *config.RocketMQSettings, group, instance string) (PushConsumer, error) {
	opts := []consumer.Option{
		consumer.WithNameServer(settings.NameServers),
		consumer.WithGroupName(group),
		consumer.WithInstance(instance),
		consumer.WithConsumerModel(consumer.Clustering),
	}
	if settings.Namespace != "" {
		opts = append(opts, consumer.WithNamespace(settings.Namespace))
	}
	if settings.AccessKey != "" {
		opts = append(opts, consumer.WithCredentials(primitive.Credentials{
			AccessKey: settings.AccessKey,
			SecretKey: settings.SecretKey,
		}))
	}
	return rocketmq.NewPushConsumer(opts...)
}
