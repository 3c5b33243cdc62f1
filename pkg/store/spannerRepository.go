package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

var spannerColumns = []string{
	"id", "type", "topic", "group_id", "destination", "payload", "headers",
	"message_key", "error", "attempts", "status", "created_at", "updated_at",
}

type SpannerRepository struct {
	client *spanner.Client
}

func NewSpannerRepository(client *spanner.Client) *SpannerRepository {
	return &SpannerRepository{client: client}
}

func (s *SpannerRepository) Save(ctx context.Context, msg *FailedMessage) error {
	ctx, span := tracer().Start(ctx, "Save")
	defer span.End()

	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	_, err = s.client.Apply(ctx, []*spanner.Mutation{
		spanner.Insert("failed_messages", spannerColumns, []any{
			msg.ID, string(msg.Type), msg.Topic, msg.GroupID, msg.Destination, msg.Payload, string(headers),
			msg.MessageKey, msg.Error, int64(msg.Attempts), string(msg.Status), msg.CreatedAt, msg.UpdatedAt,
		}),
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (s *SpannerRepository) FetchPending(ctx context.Context, batchSize, maxAttempts int) ([]FailedMessage, error) {
	ctx, span := tracer().Start(ctx, "FetchPending")
	defer span.End()
	start := time.Now()

	var claimed []FailedMessage
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		claimed = nil
		stmt := spanner.Statement{
			SQL: `SELECT id, type, topic, group_id, destination, payload, headers, message_key, error, attempts, status, created_at, updated_at
			      FROM failed_messages
			      WHERE (status = @statusPending OR (status = @statusReplaying AND updated_at < @lockExpiration))
			      ORDER BY created_at
			      LIMIT @batchSize`,
			Params: map[string]any{
				"statusPending":   string(StatusPending),
				"statusReplaying": string(StatusReplaying),
				"lockExpiration":  time.Now().Add(-lockExpiration),
				"batchSize":       int64(batchSize),
			},
		}

		iter := txn.Query(ctx, stmt)
		defer iter.Stop()

		var candidates []FailedMessage
		for {
			row, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return err
			}
			msg, err := decodeSpannerRow(row)
			if err != nil {
				return err
			}
			candidates = append(candidates, msg)
		}

		for _, msg := range candidates {
			if msg.Attempts >= maxAttempts {
				if err := updateStatus(ctx, txn, msg.ID, StatusFailed, false); err != nil {
					return err
				}
				continue
			}
			if err := updateStatus(ctx, txn, msg.ID, StatusReplaying, true); err != nil {
				return err
			}
			msg.Attempts++
			msg.Status = StatusReplaying
			claimed = append(claimed, msg)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "spanner", "FetchPending", len(claimed), time.Since(start))
	return claimed, nil
}

func decodeSpannerRow(row *spanner.Row) (FailedMessage, error) {
	var (
		msg      FailedMessage
		typ      string
		status   string
		headers  spanner.NullString
		attempts int64
	)
	if err := row.Columns(&msg.ID, &typ, &msg.Topic, &msg.GroupID, &msg.Destination, &msg.Payload, &headers,
		&msg.MessageKey, &msg.Error, &attempts, &status, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return msg, err
	}
	msg.Type = messaging.MessagingType(typ)
	msg.Status = Status(status)
	msg.Attempts = int(attempts)
	msg.Headers = map[string]string{}
	if headers.Valid && headers.StringVal != "" {
		if err := json.Unmarshal([]byte(headers.StringVal), &msg.Headers); err != nil {
			return msg, fmt.Errorf("failed to decode headers of %s: %w", msg.ID, err)
		}
	}
	return msg, nil
}

func updateStatus(ctx context.Context, txn *spanner.ReadWriteTransaction, id string, status Status, increment bool) error {
	sql := `UPDATE failed_messages SET status = @status, updated_at = @now WHERE id = @id`
	if increment {
		sql = `UPDATE failed_messages SET status = @status, attempts = attempts + 1, updated_at = @now WHERE id = @id`
	}
	_, err := txn.Update(ctx, spanner.Statement{
		SQL:    sql,
		Params: map[string]any{"status": string(status), "id": id, "now": time.Now().UTC()},
	})
	return err
}

func (s *SpannerRepository) MarkReplayed(ctx context.Context, id string) error {
	return s.SetStatus(ctx, id, StatusReplayed)
}

func (s *SpannerRepository) SetStatus(ctx context.Context, id string, status Status) error {
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		return updateStatus(ctx, txn, id, status, false)
	})
	return err
}

func (s *SpannerRepository) SetStatusAndIncrementAttempts(ctx context.Context, id string, status Status) error {
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		return updateStatus(ctx, txn, id, status, true)
	})
	return err
}

func (s *SpannerRepository) Close() error {
	s.client.Close()
	return nil
}
