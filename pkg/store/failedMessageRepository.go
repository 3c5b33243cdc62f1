package store

import (
	"context"
)

// FailedMessageRepository defines the database operations for failed messages.
type FailedMessageRepository interface {
	// Save stores a new failed message.
	Save(ctx context.Context, msg *FailedMessage) error
	// FetchPending claims up to batchSize pending messages and increments their attempts.
	// Messages that already reached maxAttempts are marked failed and not returned.
	FetchPending(ctx context.Context, batchSize, maxAttempts int) ([]FailedMessage, error)
	// MarkReplayed marks a message as successfully re-sent.
	MarkReplayed(ctx context.Context, id string) error
	// SetStatus sets the status of a message.
	SetStatus(ctx context.Context, id string, status Status) error
	// SetStatusAndIncrementAttempts sets the status of a message and increments its attempts.
	SetStatusAndIncrementAttempts(ctx context.Context, id string, status Status) error
	// Close releases the underlying client.
	Close() error
}
