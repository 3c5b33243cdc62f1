package pubsub

import (
	"context"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/zoff-tech/go-messaging/pkg/config"
	"github.com/zoff-tech/go-messaging/pkg/detector"
	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

const (
	// TagAttribute carries the tag part of a topic:tag destination.
	TagAttribute = "tag"
	// MessageKeyAttribute carries UnifiedMessage.MessageKey.
	MessageKeyAttribute = "message-key"
)

func init() {
	_ = detector.RegisterCapability(detector.DefaultCapabilities[messaging.PubSub])
}

// PubSubClientCreator defines a function type for creating Pub/Sub clients.
type PubSubClientCreator func(ctx context.Context, settings *config.PubSubSettings, opts ...option.ClientOption) (*pubsub.Client, error)

// NewPubSubClient is the default implementation of PubSubClientCreator.
var NewPubSubClient PubSubClientCreator = func(ctx context.Context, settings *config.PubSubSettings, opts ...option.ClientOption) (*pubsub.Client, error) {
	return pubsub.NewClient(ctx, settings.ProjectID, opts...)
}
