package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultDatabase   = "messaging"
	defaultCollection = "failed_messages"
)

type MongoRepository struct {
	client     *mongo.Client
	database   string
	collection string
}

func NewMongoRepository(client *mongo.Client, database, collection string) *MongoRepository {
	if database == "" {
		database = defaultDatabase
	}
	if collection == "" {
		collection = defaultCollection
	}
	return &MongoRepository{
		client:     client,
		database:   database,
		collection: collection,
	}
}

func (m *MongoRepository) coll() *mongo.Collection {
	return m.client.Database(m.database).Collection(m.collection)
}

func (m *MongoRepository) Save(ctx context.Context, msg *FailedMessage) error {
	ctx, span := tracer().Start(ctx, "Save")
	defer span.End()

	if _, err := m.coll().InsertOne(ctx, msg); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (m *MongoRepository) FetchPending(ctx context.Context, batchSize, maxAttempts int) ([]FailedMessage, error) {
	ctx, span := tracer().Start(ctx, "FetchPending")
	defer span.End()
	start := time.Now()

	filter := bson.M{
		"$or": []bson.M{
			{"status": StatusPending},
			{"status": StatusReplaying, "updated_at": bson.M{"$lt": time.Now().Add(-lockExpiration)}},
		},
	}
	opts := options.Find().SetLimit(int64(batchSize)).SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := m.coll().Find(ctx, filter, opts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer cursor.Close(ctx)

	var candidates []FailedMessage
	if err := cursor.All(ctx, &candidates); err != nil {
		span.RecordError(err)
		return nil, err
	}

	claimed := make([]FailedMessage, 0, len(candidates))
	for _, msg := range candidates {
		if msg.Attempts >= maxAttempts {
			if err := m.SetStatus(ctx, msg.ID, StatusFailed); err != nil {
				return nil, err
			}
			continue
		}
		if err := m.SetStatusAndIncrementAttempts(ctx, msg.ID, StatusReplaying); err != nil {
			return nil, err
		}
		msg.Attempts++
		msg.Status = StatusReplaying
		claimed = append(claimed, msg)
	}

	addDBStatsToSpan(span, "mongodb", "FetchPending", len(claimed), time.Since(start))
	return claimed, nil
}

func (m *MongoRepository) MarkReplayed(ctx context.Context, id string) error {
	return m.SetStatus(ctx, id, StatusReplayed)
}

func (m *MongoRepository) SetStatus(ctx context.Context, id string, status Status) error {
	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"updated_at": time.Now(),
		},
	}
	_, err := m.coll().UpdateOne(ctx, bson.M{"id": id}, update)
	return err
}

func (m *MongoRepository) SetStatusAndIncrementAttempts(ctx context.Context, id string, status Status) error {
	update := bson.M{
		"$set": bson.M{
			"status":     status,
			"updated_at": time.Now(),
		},
		"$inc": bson.M{"attempts": 1},
	}
	_, err := m.coll().UpdateOne(ctx, bson.M{"id": id}, update)
	return err
}

func (m *MongoRepository) Close() error {
	return m.client.Disconnect(context.Background())
}
