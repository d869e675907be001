package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/oren0115/cartsync/internal/core/domain"
)

// RedisStore keeps the cart snapshot in Redis for server-resident
// deployments of the engine, where the "local" side of the sync is a
// session-scoped cache shared across instances. Same contract as the
// SQLite store: one JSON document under one fixed key.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration // zero means no expiry
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{client: client, key: key, ttl: ttl, logger: logger}
}

func (r *RedisStore) Read(ctx context.Context) (*domain.CartState, error) {
	payload, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cart snapshot: %w", err)
	}

	var state domain.CartState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		r.logger.Warn("discarding unreadable cart snapshot",
			zap.String("key", r.key),
			zap.NamedError("cause", domain.ErrCorruptLocalState))
		return nil, nil
	}
	return &state, nil
}

func (r *RedisStore) Write(ctx context.Context, state domain.CartState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode cart snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("write cart snapshot: %w", err)
	}
	return nil
}
