package redisstream

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/detector"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

// Entry field names.
const (
	fieldPayload    = "payload"
	fieldTag        = "tag"
	fieldKey        = "key"
	fieldMetaPrefix = "meta:"
)

func init() {
	_ = detector.RegisterCapability(detector.DefaultCapabilities[messaging.RedisStream])
}

// StreamClient is the subset of the go-redis API used by this package.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// ClientCreator defines a function type for creating Redis clients.
type ClientCreator func(ctx context.Context, settings *config.RedisSettings) (*redis.Client, error)

// NewClient connects and pings the server.
var NewClient ClientCreator = func(ctx context.Context, settings *config.RedisSettings) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       settings.Addr,
		Password:   settings.Password,
		DB:         settings.DB,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", settings.Addr, err)
	}
	return client, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
