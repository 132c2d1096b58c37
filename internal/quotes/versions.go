package quotes

import (
	"context"
	"fmt"
)

// Precondition inspects the locked quote before a version is appended and
// aborts the append by returning an error.
type Precondition func(locked Quote) error

// VersionStore owns the per-quote version sequence and the current-version
// pointer. Numbers are allocated under the quote's row lock and the insert and
// pointer update commit together.
type VersionStore struct {
	repo Repository
}

// NewVersionStore constructs a VersionStore.
func NewVersionStore(repo Repository) *VersionStore {
	return &VersionStore{repo: repo}
}

// AppendVersion locks the quote, allocates the next number, stores snap and
// makes it current, all in one transaction.
func (s *VersionStore) AppendVersion(ctx context.Context, quoteID int64, snap Snapshot, pre Precondition) (Version, error) {
	var appended Version
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		locked, err := tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if pre != nil {
			if err := pre(locked); err != nil {
				return err
			}
		}
		appended, err = appendLocked(ctx, tx, locked.ID, snap)
		return err
	})
	if err != nil {
		return Version{}, err
	}
	return appended, nil
}

// appendLocked must run inside a transaction that already holds the quote
// row lock.
func appendLocked(ctx context.Context, tx Repository, quoteID int64, snap Snapshot) (Version, error) {
	next, err := nextVersionNumber(ctx, tx, quoteID)
	if err != nil {
		return Version{}, err
	}
	v, err := tx.InsertVersion(ctx, quoteID, next, snap)
	if err != nil {
		return Version{}, err
	}
	if err := tx.SetCurrentVersion(ctx, quoteID, v.ID); err != nil {
		return Version{}, fmt.Errorf("repoint quote %d: %w", quoteID, err)
	}
	return v, nil
}

func nextVersionNumber(ctx context.Context, tx Repository, quoteID int64) (int, error) {
	current, err := tx.MaxVersionNumber(ctx, quoteID)
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}

// GetVersion loads a version by id.
func (s *VersionStore) GetVersion(ctx context.Context, versionID int64) (Version, error) {
	return s.repo.GetVersion(ctx, versionID)
}

// ListVersions returns a quote's versions by ascending number.
func (s *VersionStore) ListVersions(ctx context.Context, quoteID int64) ([]Version, error) {
	return s.repo.ListVersions(ctx, quoteID)
}

// SetCurrentVersion repoints the quote to one of its own versions.
func (s *VersionStore) SetCurrentVersion(ctx context.Context, quoteID, versionID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.LockQuote(ctx, quoteID); err != nil {
			return err
		}
		return tx.SetCurrentVersion(ctx, quoteID, versionID)
	})
}
