package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/zoff-tech/go-messaging/pkg/messaging"
)

const (
	failedMessageColumns = `id, type, topic, group_id, destination, payload, headers, message_key, error, attempts, status, created_at, updated_at`

	insertFailedMessageQuery = `INSERT INTO failed_messages (` + failedMessageColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	fetchPendingQuery = `SELECT ` + failedMessageColumns + ` FROM failed_messages WHERE (status=$1 OR (status=$2 AND updated_at < $3)) ORDER BY created_at LIMIT $4 FOR UPDATE SKIP LOCKED`

	setStatusQuery = `UPDATE failed_messages SET status=$1, updated_at=$2 WHERE id=$3`

	setStatusAndIncrementQuery = `UPDATE failed_messages SET status=$1, attempts = attempts + 1, updated_at=$2 WHERE id=$3`
)

type txKey struct{}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (p *PostgresRepository) Save(ctx context.Context, msg *FailedMessage) error {
	headers, err := json.Marshal(msg.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	_, err = p.withTransaction(ctx, "Save", func(ctx context.Context, tx *sql.Tx) ([]FailedMessage, error) {
		_, err := tx.ExecContext(ctx, insertFailedMessageQuery,
			msg.ID, string(msg.Type), msg.Topic, msg.GroupID, msg.Destination, msg.Payload, headers,
			msg.MessageKey, msg.Error, msg.Attempts, string(msg.Status), msg.CreatedAt, msg.UpdatedAt)
		return nil, err
	})
	return err
}

func (p *PostgresRepository) FetchPending(ctx context.Context, batchSize, maxAttempts int) ([]FailedMessage, error) {
	return p.withTransaction(ctx, "FetchPending", func(ctx context.Context, tx *sql.Tx) ([]FailedMessage, error) {
		rows, err := tx.QueryContext(ctx, fetchPendingQuery,
			StatusPending, StatusReplaying, time.Now().Add(-lockExpiration), batchSize)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var candidates []FailedMessage
		for rows.Next() {
			msg, err := scanFailedMessage(rows)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, msg)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		claimed := make([]FailedMessage, 0, len(candidates))
		for _, msg := range candidates {
			if msg.Attempts >= maxAttempts {
				if err := p.SetStatus(ctx, msg.ID, StatusFailed); err != nil {
					return nil, err
				}
				continue
			}
			if err := p.SetStatusAndIncrementAttempts(ctx, msg.ID, StatusReplaying); err != nil {
				return nil, err
			}
			msg.Attempts++
			msg.Status = StatusReplaying
			claimed = append(claimed, msg)
		}
		return claimed, nil
	})
}

func scanFailedMessage(rows *sql.Rows) (FailedMessage, error) {
	var (
		msg     FailedMessage
		typ     string
		status  string
		headers []byte
	)
	if err := rows.Scan(&msg.ID, &typ, &msg.Topic, &msg.GroupID, &msg.Destination, &msg.Payload, &headers,
		&msg.MessageKey, &msg.Error, &msg.Attempts, &status, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		return msg, err
	}
	msg.Type = messaging.MessagingType(typ)
	msg.Status = Status(status)
	msg.Headers = map[string]string{}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &msg.Headers); err != nil {
			return msg, fmt.Errorf("failed to decode headers of %s: %w", msg.ID, err)
		}
	}
	return msg, nil
}

func (p *PostgresRepository) MarkReplayed(ctx context.Context, id string) error {
	return p.SetStatus(ctx, id, StatusReplayed)
}

func (p *PostgresRepository) SetStatus(ctx context.Context, id string, status Status) error {
	_, err := p.withTransaction(ctx, "SetStatus", func(ctx context.Context, tx *sql.Tx) ([]FailedMessage, error) {
		_, err := tx.ExecContext(ctx, setStatusQuery, status, time.Now(), id)
		return nil, err
	})
	return err
}

func (p *PostgresRepository) SetStatusAndIncrementAttempts(ctx context.Context, id string, status Status) error {
	_, err := p.withTransaction(ctx, "SetStatusAndIncrementAttempts", func(ctx context.Context, tx *sql.Tx) ([]FailedMessage, error) {
		_, err := tx.ExecContext(ctx, setStatusAndIncrementQuery, status, time.Now(), id)
		return nil, err
	})
	return err
}

func (p *PostgresRepository) Close() error {
	return p.db.Close()
}

// withTransaction runs fn in the transaction carried by ctx, or in a new one it commits.
func (p *PostgresRepository) withTransaction(ctx context.Context, spanName string, fn func(ctx context.Context, tx *sql.Tx) ([]FailedMessage, error)) ([]FailedMessage, error) {
	ctx, span := tracer().Start(ctx, spanName)
	defer span.End()
	start := time.Now()

	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		msgs, err := fn(ctx, tx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return msgs, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	msgs, err := fn(context.WithValue(ctx, txKey{}, tx), tx)
	if err != nil {
		_ = tx.Rollback()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "postgresql", spanName, len(msgs), time.Since(start))
	return msgs, nil
}
