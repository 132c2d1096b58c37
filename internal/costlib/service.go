package costlib

import (
	"context"
	"fmt"
	"strings"
)

// Service exposes read access to the cost library.
type Service struct {
	repo  Repository
	cache *Cache
}

// NewService constructs the Service. cache may be nil.
func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// ListEntries returns entries ordered by name. Results may be served from the
// listing cache and are therefore only for display; pricing goes through
// Resolve.
func (s *Service) ListEntries(ctx context.Context, filter Filter) ([]Entry, error) {
	filter.Category = strings.TrimSpace(filter.Category)
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, fmt.Errorf("costlib: unknown kind %q", filter.Kind)
	}
	key, err := s.cache.BuildKey(ctx, listKey(filter)...)
	if err != nil {
		s.cache.degraded("version", cacheVersionKey, err)
		return s.repo.ListEntries(ctx, filter)
	}
	var entries []Entry
	err = s.cache.FetchJSON(ctx, key, &entries, func(ctx context.Context) (interface{}, error) {
		return s.repo.ListEntries(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetEntry fetches a single entry.
func (s *Service) GetEntry(ctx context.Context, id int64) (Entry, error) {
	if id <= 0 {
		return Entry{}, ErrNotFound
	}
	return s.repo.GetEntry(ctx, id)
}

// Resolve loads the given entries straight from storage, keyed by id.
// Unknown ids are absent from the result; callers decide how to report them.
func (s *Service) Resolve(ctx context.Context, ids []int64) (map[int64]Entry, error) {
	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	entries, err := s.repo.GetEntries(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("costlib: resolve entries: %w", err)
	}
	out := make(map[int64]Entry, len(entries))
	for _, e := range entries {
		out[e.ID] = e
	}
	return out, nil
}

// ListUnits returns all units ordered by name.
func (s *Service) ListUnits(ctx context.Context) ([]Unit, error) {
	return s.repo.ListUnits(ctx)
}

// InvalidateListings drops cached listings, e.g. after catalog maintenance.
func (s *Service) InvalidateListings(ctx context.Context) error {
	return s.cache.Bump(ctx)
}
