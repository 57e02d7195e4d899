package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// InitEnvironment marks a freshly-registered session's installed-package
// cache as unprimed. Spec.md §4.5.1 step 2.
func (s *Store) InitEnvironment(ctx context.Context, ip string, port int) error {
	err := s.rdb.HSet(ctx, EnvironmentHashKey(ip, port), InstalledCachedField, "0").Err()
	if err != nil {
		return fmt.Errorf("cache: init environment: %w", err)
	}
	return nil
}

// ClearEnvironment removes every key under a node's namespace: the hash
// and the installed index. Used on deregistration and on implicit
// session-end-by-reregistration (spec.md §4.5.1).
func (s *Store) ClearEnvironment(ctx context.Context, ip string, port int) error {
	keys := []string{EnvironmentHashKey(ip, port), EnvironmentInstalledIndexKey(ip, port)}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: clear environment: %w", err)
	}
	return nil
}

// InstalledCached reports whether a node's installed-package cache has
// been primed from the node at least once.
func (s *Store) InstalledCached(ctx context.Context, ip string, port int) (bool, error) {
	v, err := s.rdb.HGet(ctx, EnvironmentHashKey(ip, port), InstalledCachedField).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: installed_cached: %w", err)
	}
	return v == "1", nil
}

// SetInstalledCached flips the installed_cached flag.
func (s *Store) SetInstalledCached(ctx context.Context, ip string, port int, cached bool) error {
	val := "0"
	if cached {
		val = "1"
	}
	err := s.rdb.HSet(ctx, EnvironmentHashKey(ip, port), InstalledCachedField, val).Err()
	if err != nil {
		return fmt.Errorf("cache: set installed_cached: %w", err)
	}
	return nil
}

// PutInstalledPackage stores one package's manifest into the
// per-environment hash and adds it to the ordered index.
func (s *Store) PutInstalledPackage(ctx context.Context, ip string, port int, pkg, manifestJSON string) error {
	err := s.rdb.HSet(ctx, EnvironmentHashKey(ip, port), InstalledPackageField(pkg), manifestJSON).Err()
	if err != nil {
		return fmt.Errorf("cache: put installed package: %w", err)
	}
	err = s.rdb.ZAdd(ctx, EnvironmentInstalledIndexKey(ip, port), &redis.Z{Score: 0, Member: pkg}).Err()
	if err != nil {
		return fmt.Errorf("cache: index installed package: %w", err)
	}
	return nil
}

// RemoveInstalledPackage removes a package's manifest and index
// membership from a node's cache.
func (s *Store) RemoveInstalledPackage(ctx context.Context, ip string, port int, pkg string) error {
	err := s.rdb.HDel(ctx, EnvironmentHashKey(ip, port), InstalledPackageField(pkg)).Err()
	if err != nil {
		return fmt.Errorf("cache: remove installed package: %w", err)
	}
	err = s.rdb.ZRem(ctx, EnvironmentInstalledIndexKey(ip, port), pkg).Err()
	if err != nil {
		return fmt.Errorf("cache: deindex installed package: %w", err)
	}
	return nil
}

// ListInstalledPackages projects the ordered index and hash into a
// name-ordered list of manifest JSON strings.
func (s *Store) ListInstalledPackages(ctx context.Context, ip string, port int) ([]string, error) {
	names, err := s.rdb.ZRange(ctx, EnvironmentInstalledIndexKey(ip, port), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: list installed index: %w", err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	fields := make([]string, len(names))
	for i, n := range names {
		fields[i] = InstalledPackageField(n)
	}
	vals, err := s.rdb.HMGet(ctx, EnvironmentHashKey(ip, port), fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: hmget installed packages: %w", err)
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
