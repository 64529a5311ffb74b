// Package auditlog appends status records to a Mongo collection.
package auditlog

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rs/zerolog"

	"github.com/example/email-dispatcher/internal/config"
	"github.com/example/email-dispatcher/internal/status"
)

// inserter is the slice of the mongo collection API the audit log uses.
type inserter interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
}

// Store is an append-only sink for status records. Writes are best-effort:
// Append returns nothing and a store outage only degrades observability, it
// never blocks message processing.
type Store struct {
	logger     zerolog.Logger
	collection inserter
	client     *mongo.Client
}

type record struct {
	MessageID  string    `bson:"messageId"`
	Status     string    `bson:"status"`
	Attempt    int       `bson:"attempt"`
	Error      string    `bson:"error,omitempty"`
	ProviderID string    `bson:"providerId,omitempty"`
	DurationMs int64     `bson:"durationMs,omitempty"`
	Timestamp  time.Time `bson:"timestamp"`
	RecordedAt time.Time `bson:"recordedAt"`
}

// New connects to Mongo and verifies connectivity.
func New(ctx context.Context, cfg config.MongoConfig, logger zerolog.Logger) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("audit log: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("audit log: ping mongo: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	store := newWithCollection(coll, logger)
	store.client = client
	return store, nil
}

func newWithCollection(coll inserter, logger zerolog.Logger) *Store {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Store{logger: logger, collection: coll}
}

// Append writes one status record. Best-effort by contract.
func (s *Store) Append(ctx context.Context, upd status.Update) {
	if s == nil || s.collection == nil || upd.MessageID == "" {
		return
	}

	doc := record{
		MessageID:  upd.MessageID,
		Status:     upd.Status,
		Attempt:    upd.Attempt,
		Error:      upd.Error,
		ProviderID: upd.ProviderID,
		DurationMs: upd.DurationMs,
		Timestamp:  upd.Timestamp,
		RecordedAt: time.Now().UTC(),
	}

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		s.logger.Error().
			Str("message_id", upd.MessageID).
			Str("status", upd.Status).
			Err(err).
			Msg("audit log append failed")
	}
}

// Close releases the underlying mongo client.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
