package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"offerscope/internal/domain"
)

// RedisMirror keeps the same two JSON documents under fixed keys in a
// key-value store, as a fallback read source and best-effort write mirror.
type RedisMirror struct {
	rdb *redis.Client
	ns  string
}

// NewRedisMirror parses redisURL and verifies connectivity.
func NewRedisMirror(ctx context.Context, redisURL, namespace string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisMirror{rdb: client, ns: namespace}, nil
}

func (m *RedisMirror) datasetKey() string { return m.ns + ":salaries" }
func (m *RedisMirror) cursorKey() string  { return m.ns + ":fetch-info" }
func (m *RedisMirror) probeKey() string   { return m.ns + ":write-probe" }

func (m *RedisMirror) LoadDataset(ctx context.Context) ([]domain.Offer, error) {
	b, err := m.rdb.Get(ctx, m.datasetKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var offers []domain.Offer
	if err := json.Unmarshal(b, &offers); err != nil {
		return nil, fmt.Errorf("parse remote dataset: %w", err)
	}
	return offers, nil
}

func (m *RedisMirror) LoadCursor(ctx context.Context) (*domain.Cursor, error) {
	b, err := m.rdb.Get(ctx, m.cursorKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cur domain.Cursor
	if err := json.Unmarshal(b, &cur); err != nil {
		return nil, fmt.Errorf("parse remote cursor: %w", err)
	}
	return &cur, nil
}

// Store mirrors both documents. It first verifies the credential may write
// to this namespace via a short-lived probe key; a failed probe aborts the
// mirror without touching the real keys.
func (m *RedisMirror) Store(ctx context.Context, offers []domain.Offer, cur domain.Cursor) error {
	if err := m.checkWriteScope(ctx); err != nil {
		return fmt.Errorf("remote write scope check: %w", err)
	}

	ds, err := json.Marshal(offers)
	if err != nil {
		return err
	}
	cs, err := json.Marshal(cur)
	if err != nil {
		return err
	}

	if err := m.rdb.Set(ctx, m.datasetKey(), ds, 0).Err(); err != nil {
		return fmt.Errorf("mirror dataset: %w", err)
	}
	if err := m.rdb.Set(ctx, m.cursorKey(), cs, 0).Err(); err != nil {
		return fmt.Errorf("mirror cursor: %w", err)
	}
	return nil
}

func (m *RedisMirror) checkWriteScope(ctx context.Context) error {
	token := uuid.NewString()
	if err := m.rdb.Set(ctx, m.probeKey(), token, time.Minute).Err(); err != nil {
		return fmt.Errorf("credential not authorized to write namespace %q: %w", m.ns, err)
	}
	got, err := m.rdb.Get(ctx, m.probeKey()).Result()
	if err != nil {
		return err
	}
	if got != token {
		return fmt.Errorf("probe mismatch in namespace %q: another writer owns it", m.ns)
	}
	return nil
}
