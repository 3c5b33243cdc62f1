package store

import (
	"context"
	"database/sql"
	"fmt"

	"cloud.google.com/go/spanner"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zoff-tech/go-messaging/pkg/config"
)

var (
	sqlOpen = sql.Open

	NewSpannerRepositoryFactory = func(client *spanner.Client) FailedMessageRepository {
		return NewSpannerRepository(client)
	}
)

// NewRepository opens the failed-message store configured by cfg.
func NewRepository(ctx context.Context, cfg config.StoreSettings) (FailedMessageRepository, error) {
	switch cfg.Type {
	case "postgres":
		db, err := sqlOpen("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewPostgresRepository(db), nil
	case "spanner":
		client, err := spanner.NewClient(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewSpannerRepositoryFactory(client), nil
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
		if err != nil {
			return nil, err
		}
		return NewMongoRepository(client, cfg.Database, cfg.Collection), nil
	default:
		return nil, fmt.Errorf("unsupported DB type: %s", cfg.Type)
	}
}
