package messaging

import (
	"fmt"
	"strings"
)

// MessagingType identifies a broker integration.
type MessagingType string

const (
	// Default asks the detector to resolve the type automatically.
	Default     MessagingType = "DEFAULT"
	Kafka       MessagingType = "KAFKA"
	RocketMQ    MessagingType = "ROCKETMQ"
	RabbitMQ    MessagingType = "RABBITMQ"
	PubSub      MessagingType = "PUBSUB"
	RedisStream MessagingType = "REDIS_STREAM"
)

var supportedTypes = []MessagingType{Kafka, RocketMQ, RabbitMQ, PubSub, RedisStream}

// SupportedTypes returns every broker kind except Default, in display order.
func SupportedTypes() []MessagingType {
	out := make([]MessagingType, len(supportedTypes))
	copy(out, supportedTypes)
	return out
}

// ParseMessagingType parses a type name case-insensitively. An empty name is Default.
func ParseMessagingType(name string) (MessagingType, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return Default, nil
	}
	n = strings.ReplaceAll(n, "-", "_")
	if MessagingType(n) == Default {
		return Default, nil
	}
	for _, t := range supportedTypes {
		if MessagingType(n) == t {
			return t, nil
		}
	}
	return "", &ConfigurationError{
		Reason:    fmt.Sprintf("unknown messaging type %q", name),
		Available: SupportedTypes(),
		Cause:     ErrUnknownType,
	}
}

// ParseMessagingTypes parses a comma-separated list, ignoring blank entries.
func ParseMessagingTypes(list string) ([]MessagingType, error) {
	var out []MessagingType
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := ParseMessagingType(part)
		if err != nil {
			return nil, err
		}
		if t == Default {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// IsValid reports whether t is Default or one of the supported kinds.
func (t MessagingType) IsValid() bool {
	if t == Default {
		return true
	}
	for _, s := range supportedTypes {
		if s == t {
			return true
		}
	}
	return false
}

func (t MessagingType) String() string {
	return string(t)
}

// SortTypes orders types by their position in SupportedTypes and drops duplicates.
func SortTypes(types []MessagingType) []MessagingType {
	seen := make(map[MessagingType]bool, len(types))
	for _, t := range types {
		seen[t] = true
	}
	out := make([]MessagingType, 0, len(seen))
	for _, t := range supportedTypes {
		if seen[t] {
			out = append(out, t)
		}
	}
	return out
}
