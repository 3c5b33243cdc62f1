package config

import "time"

// A nil broker section means the broker is not configured.

type KafkaSettings struct {
	Brokers       []string `mapstructure:"brokers" validate:"required,min=1"`
	ClientID      string   `mapstructure:"client_id"`
	Version       string   `mapstructure:"version"`
	InitialOffset string   `mapstructure:"initial_offset" validate:"omitempty,oneof=newest oldest"`
}

type RocketMQSettings struct {
	NameServers   []string `mapstructure:"name_servers" validate:"required,min=1"`
	ProducerGroup string   `mapstructure:"producer_group"`
	Namespace     string   `mapstructure:"namespace"`
	AccessKey     string   `mapstructure:"access_key"`
	SecretKey     string   `mapstructure:"secret_key"`
	Retries       int      `mapstructure:"retries" validate:"gte=0"`
}

type RabbitMQSettings struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	ExchangeType string `mapstructure:"exchange_type" validate:"omitempty,oneof=topic direct fanout headers"`
	PoolSize     int    `mapstructure:"pool_size" validate:"gte=0"`
	Prefetch     int    `mapstructure:"prefetch" validate:"gte=0"`
}

type PubSubSettings struct {
	ProjectID      string `mapstructure:"project_id" validate:"required"`
	EnableOrdering bool   `mapstructure:"enable_ordering"`
}

type RedisSettings struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	MaxLen       int64         `mapstructure:"max_len" validate:"gte=0"`
	BatchSize    int64         `mapstructure:"batch_size" validate:"gte=0"`
	BlockTimeout time.Duration `mapstructure:"block_timeout"`
}
