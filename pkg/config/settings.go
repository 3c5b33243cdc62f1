package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

type Settings struct {
	Messaging     MessagingSettings `mapstructure:"messaging"`
	Kafka         *KafkaSettings    `mapstructure:"kafka"`
	RocketMQ      *RocketMQSettings `mapstructure:"rocketmq"`
	RabbitMQ      *RabbitMQSettings `mapstructure:"rabbitmq"`
	PubSub        *PubSubSettings   `mapstructure:"pubsub"`
	Redis         *RedisSettings    `mapstructure:"redis"`
	Store         StoreSettings     `mapstructure:"store"`
	Replay        ReplaySettings    `mapstructure:"replay"`
	Logging       LoggingSettings   `mapstructure:"logging"`
	Observability Observability     `mapstructure:"observability"`
}

// MessagingSettings drives type detection.
type MessagingSettings struct {
	DisabledTypes string            `mapstructure:"disabled_types"`
	DefaultType   string            `mapstructure:"default_type"`
	Capabilities  map[string]string `mapstructure:"capabilities"`
}

type StoreSettings struct {
	Type       string `mapstructure:"type" validate:"omitempty,oneof=postgres spanner mongo"`
	DSN        string `mapstructure:"dsn" validate:"required_if=Type postgres,required_if=Type spanner"`
	URI        string `mapstructure:"uri" validate:"required_if=Type mongo"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type ReplaySettings struct {
	BatchSize    int           `mapstructure:"batch_size" validate:"gte=1"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=1"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type LoggingSettings struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
}

// BrokerConfigured reports whether the settings carry a section for t.
func (c *Settings) BrokerConfigured(t messaging.MessagingType) bool {
	switch t {
	case messaging.Kafka:
		return c.Kafka != nil
	case messaging.RocketMQ:
		return c.RocketMQ != nil
	case messaging.RabbitMQ:
		return c.RabbitMQ != nil
	case messaging.PubSub:
		return c.PubSub != nil
	case messaging.RedisStream:
		return c.Redis != nil
	default:
		return false
	}
}

func (c *Settings) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := c.Messaging.Disabled(); err != nil {
		return err
	}
	if _, err := c.Messaging.Default(); err != nil {
		return err
	}
	_, err := c.Messaging.CapabilityOverrides()
	return err
}

// Disabled parses the comma-separated disabled_types list.
func (m MessagingSettings) Disabled() ([]messaging.MessagingType, error) {
	return messaging.ParseMessagingTypes(m.DisabledTypes)
}

// Default parses default_type; empty means DEFAULT.
func (m MessagingSettings) Default() (messaging.MessagingType, error) {
	return messaging.ParseMessagingType(m.DefaultType)
}

// CapabilityOverrides maps type names to custom capability identifiers.
func (m MessagingSettings) CapabilityOverrides() (map[messaging.MessagingType]string, error) {
	out := make(map[messaging.MessagingType]string, len(m.Capabilities))
	for name, id := range m.Capabilities {
		t, err := messaging.ParseMessagingType(name)
		if err != nil {
			return nil, err
		}
		if t == messaging.Default {
			return nil, errors.New("capability override needs a concrete messaging type")
		}
		out[t] = id
	}
	return out, nil
}

// LoadFromFile reads messaging.yaml from filePath, overlays messaging.<env>.yaml
// and the MESSAGING_ environment, then validates.
func LoadFromFile(filePath string) (*Settings, error) {
	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	viper.Reset()
	setDefaults()

	cfg := &Settings{}
	viper.SetConfigType("yaml")
	viper.SetConfigName("messaging")
	viper.AddConfigPath(filePath)
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := mergeConfig(filePath, "messaging."+env); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to merge %s config: %w", env, err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("replay.batch_size", 50)
	viper.SetDefault("replay.max_attempts", 5)
	viper.SetDefault("replay.poll_interval", 10*time.Second)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("store.database", "messaging")
	viper.SetDefault("store.collection", "failed_messages")
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("MESSAGING")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range []string{
		"messaging.disabled_types",
		"messaging.default_type",
		"store.type",
		"store.dsn",
		"store.uri",
		"replay.batch_size",
		"replay.max_attempts",
		"logging.level",
		"logging.format",
		"observability.enabled",
		"observability.service_name",
		"observability.tracing_url",
	} {
		if err := viper.BindEnv(key); err != nil {
			return err
		}
	}

	return viper.Unmarshal(c)
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	return viper.MergeInConfig()
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
