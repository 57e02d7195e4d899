package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// PutRepositoryEntry stores a package's manifest JSON and adds it to the
// ordered index, keyed by name for deterministic listing (spec.md §4.4).
func (s *Store) PutRepositoryEntry(ctx context.Context, name, manifestJSON string) error {
	if err := s.rdb.Set(ctx, RepositoryEntryKey(name), manifestJSON, 0).Err(); err != nil {
		return fmt.Errorf("cache: put repository entry: %w", err)
	}
	if err := s.rdb.ZAdd(ctx, RepositoryIndexKey, &redis.Z{Score: 0, Member: name}).Err(); err != nil {
		return fmt.Errorf("cache: index repository entry: %w", err)
	}
	return nil
}

// DeleteRepositoryEntry removes a package's manifest and index membership.
func (s *Store) DeleteRepositoryEntry(ctx context.Context, name string) error {
	if err := s.rdb.Del(ctx, RepositoryEntryKey(name)).Err(); err != nil {
		return fmt.Errorf("cache: delete repository entry: %w", err)
	}
	if err := s.rdb.ZRem(ctx, RepositoryIndexKey, name).Err(); err != nil {
		return fmt.Errorf("cache: deindex repository entry: %w", err)
	}
	return nil
}

// GetRepositoryEntry returns a package's manifest JSON, or "", false if
// absent.
func (s *Store) GetRepositoryEntry(ctx context.Context, name string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, RepositoryEntryKey(name)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get repository entry: %w", err)
	}
	return v, true, nil
}

// ListRepositoryNames returns every installed package name in index order.
func (s *Store) ListRepositoryNames(ctx context.Context) ([]string, error) {
	names, err := s.rdb.ZRange(ctx, RepositoryIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: list repository index: %w", err)
	}
	return names, nil
}

// ListRepositoryEntries returns every cached manifest, in index order, for
// the "list available" endpoint (spec.md §4.4).
func (s *Store) ListRepositoryEntries(ctx context.Context) ([]string, error) {
	names, err := s.ListRepositoryNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = RepositoryEntryKey(n)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: mget repository entries: %w", err)
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v == nil {
			continue
		}
		out = append(out, v.(string))
	}
	return out, nil
}
