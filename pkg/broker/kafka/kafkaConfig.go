package kafka

import (
	"fmt"

	"github.com/IBM/sarama"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/detector"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// TagHeader carries the tag part of a topic:tag destination.
const TagHeader = "tag"

func init() {
	_ = detector.RegisterCapability(detector.DefaultCapabilities[messaging.Kafka])
}

// NewSaramaConfig builds the client config shared by producers and consumer groups.
func NewSaramaConfig(settings *config.KafkaSettings) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	if settings.Version != "" {
		v, err := sarama.ParseKafkaVersion(settings.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid kafka version %q: %w", settings.Version, err)
		}
		cfg.Version = v
	}
	if settings.ClientID != "" {
		cfg.ClientID = settings.ClientID
	}

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	if settings.InitialOffset == "oldest" {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	return cfg, nil
}
