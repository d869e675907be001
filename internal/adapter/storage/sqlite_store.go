package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oren0115/cartsync/internal/core/domain"
)

// SQLiteStore persists the cart snapshot as one JSON document under a
// fixed key in an embedded database, so the last-known cart survives
// restarts with no network dependency.
type SQLiteStore struct {
	db     *sql.DB
	key    string
	logger *zap.Logger
}

func NewSQLiteStore(db *sql.DB, key string, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, key: key, logger: logger}
}

// Init creates the snapshot table.
func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cart_snapshots (
			key        TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create cart_snapshots: %w", err)
	}
	return nil
}

// Read returns the persisted snapshot, or (nil, nil) when no snapshot
// exists. A corrupt payload degrades to absent: an unreadable cache must
// produce an empty cart, never a crash.
func (s *SQLiteStore) Read(ctx context.Context) (*domain.CartState, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM cart_snapshots WHERE key = ?`, s.key,
	).Scan(&payload)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cart snapshot: %w", err)
	}

	var state domain.CartState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		s.logger.Warn("discarding unreadable cart snapshot",
			zap.String("key", s.key),
			zap.NamedError("cause", domain.ErrCorruptLocalState))
		return nil, nil
	}
	return &state, nil
}

// Write upserts the snapshot under the fixed key.
func (s *SQLiteStore) Write(ctx context.Context, state domain.CartState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode cart snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cart_snapshots (key, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		s.key, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write cart snapshot: %w", err)
	}
	return nil
}
