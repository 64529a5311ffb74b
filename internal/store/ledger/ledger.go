// Package ledger maintains the per-message status record in Redis.
package ledger

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/email-dispatcher/internal/config"
	"github.com/example/email-dispatcher/internal/status"
)

const keyPrefix = "email:status"

// cmdable is the subset of redis commands the ledger needs.
type cmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Ledger keeps one keyed record per message id. Writes are best-effort: the
// pipeline must keep processing through a ledger outage, so SetStatus returns
// nothing and failures are only logged.
type Ledger struct {
	logger zerolog.Logger
	store  cmdable
	ttl    time.Duration
}

// New connects to Redis and verifies connectivity.
func New(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*Ledger, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("status ledger: parse redis url: %w", err)
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("status ledger: ping redis: %w", err)
	}
	return newWithStore(raw, cfg.TTL, logger), nil
}

func newWithStore(store cmdable, ttl time.Duration, logger zerolog.Logger) *Ledger {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Ledger{logger: logger, store: store, ttl: ttl}
}

// SetStatus updates the keyed record for the message. Best-effort by contract.
func (l *Ledger) SetStatus(ctx context.Context, upd status.Update) {
	if l == nil || l.store == nil || upd.MessageID == "" {
		return
	}

	key := Key(upd.MessageID)
	fields := []any{
		"status", upd.Status,
		"attempt", upd.Attempt,
		"updatedAt", upd.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if upd.Error != "" {
		fields = append(fields, "lastError", upd.Error)
	}
	if upd.ProviderID != "" {
		fields = append(fields, "providerId", upd.ProviderID)
	}

	if err := l.store.HSet(ctx, key, fields...).Err(); err != nil {
		l.logger.Error().
			Str("message_id", upd.MessageID).
			Str("status", upd.Status).
			Err(err).
			Msg("status ledger write failed")
		return
	}

	if l.ttl > 0 {
		if err := l.store.Expire(ctx, key, l.ttl).Err(); err != nil {
			l.logger.Error().
				Str("message_id", upd.MessageID).
				Err(err).
				Msg("status ledger expire failed")
		}
	}
}

// Key returns the redis key holding the status record for a message id.
func Key(messageID string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, messageID)
}
