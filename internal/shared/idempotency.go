package shared

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict means the key was already claimed in its scope.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

var errIdempotencyStoreMissing = errors.New("idempotency store not initialised")

// IdempotencyStore records Idempotency-Key headers per scope (for example
// "quotes.create") in the idempotency_keys table.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

func normaliseClaim(scope, key string) (string, string, error) {
	scope, key = strings.TrimSpace(scope), strings.TrimSpace(key)
	if scope == "" {
		return "", "", errors.New("idempotency scope required")
	}
	if key == "" {
		return "", "", errors.New("idempotency key required")
	}
	if len(key) > 200 {
		return "", "", errors.New("idempotency key too long")
	}
	return scope, key, nil
}

// Claim reserves key within scope. A second claim of the same pair returns
// ErrIdempotencyConflict until the first is released or pruned.
func (s *IdempotencyStore) Claim(ctx context.Context, scope, key string) error {
	if s == nil || s.pool == nil {
		return errIdempotencyStoreMissing
	}
	scope, key, err := normaliseClaim(scope, key)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (scope, key, claimed_at)
VALUES ($1, $2, $3)
ON CONFLICT (scope, key) DO NOTHING`, scope, key, s.now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyConflict
	}
	return nil
}

// Release drops a claim so a failed request can be retried with the same key.
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	scope, key, err := normaliseClaim(scope, key)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE scope = $1 AND key = $2`, scope, key)
	return err
}

// Prune deletes claims older than retention and reports how many went.
func (s *IdempotencyStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	if retention <= 0 {
		return 0, errors.New("idempotency retention must be positive")
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE claimed_at < $1`, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
