package detector

import (
	"errors"
	"sync"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// DefaultCapabilities maps each broker kind to the identifier its integration registers.
var DefaultCapabilities = map[messaging.MessagingType]string{
	messaging.Kafka:       "github.com/IBM/sarama",
	messaging.RocketMQ:    "github.com/apache/rocketmq-client-go/v2",
	messaging.RabbitMQ:    "github.com/streadway/amqp",
	messaging.PubSub:      "cloud.google.com/go/pubsub",
	messaging.RedisStream: "github.com/redis/go-redis/v9",
}

// CapabilityChecker answers whether a broker client is linked into the process.
type CapabilityChecker interface {
	HasCapability(id string) bool
}

var (
	capabilityMu sync.RWMutex
	capabilities = map[string]struct{}{}
)

// RegisterCapability marks a broker client as present. Broker packages call it from init.
func RegisterCapability(id string) error {
	if id == "" {
		return errors.New("capability id must not be empty")
	}
	capabilityMu.Lock()
	capabilities[id] = struct{}{}
	capabilityMu.Unlock()
	return nil
}

// HasCapability reports whether id was registered.
func HasCapability(id string) bool {
	capabilityMu.RLock()
	_, ok := capabilities[id]
	capabilityMu.RUnlock()
	return ok
}

type globalRegistry struct{}

func (globalRegistry) HasCapability(id string) bool { return HasCapability(id) }

// GlobalRegistry is the process-wide capability set.
var GlobalRegistry CapabilityChecker = globalRegistry{}
