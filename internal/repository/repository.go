package repository

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/secchiware/coordinator/internal/cache"
)

// Repository is the C4 façade used by the HTTP handlers: filesystem
// packages plus the C3 manifest mirror, guarded by the repository
// reader/writer lock (spec.md §4.3, §4.4).
type Repository struct {
	root        string
	cache       *cache.Store
	lockTimeout time.Duration
	readTimeout time.Duration
	pollSleep   time.Duration
}

// New builds a Repository rooted at the given filesystem directory.
func New(root string, store *cache.Store, lockTimeout, readTimeout, pollSleep time.Duration) *Repository {
	return &Repository{root: root, cache: store, lockTimeout: lockTimeout, readTimeout: readTimeout, pollSleep: pollSleep}
}

func (r *Repository) readerLock() *cache.ReaderLock {
	return cache.NewReaderLock(r.cache, cache.RepositoryMutexResource, r.lockTimeout, r.readTimeout, r.pollSleep)
}

func (r *Repository) writerLock() *cache.WriterLock {
	return cache.NewWriterLock(r.cache, cache.RepositoryMutexResource, r.lockTimeout, r.pollSleep)
}

// Archive builds a gzipped-tar archive of the given top-level package
// names under the repository reader lock (spec.md §4.5.2 step 1).
func (r *Repository) Archive(ctx context.Context, names []string) ([]byte, error) {
	lock := r.readerLock()
	ok, err := lock.Acquire(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("repository: acquire reader lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("repository: reader lock unavailable")
	}
	defer lock.Release(ctx)

	var buf bytes.Buffer
	if err := Pack(&buf, r.root, names); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Install unpacks an uploaded archive and refreshes the manifest cache for
// every top-level package it contains, under the repository writer lock
// (spec.md §4.4 "on upload, the repository writer lock is held across
// filesystem mutation and cache update").
func (r *Repository) Install(ctx context.Context, archive io.Reader) ([]string, error) {
	lock := r.writerLock()
	ok, err := lock.Acquire(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("repository: acquire writer lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("repository: writer lock unavailable")
	}
	defer lock.Release(ctx)

	touched, err := Unpack(archive, r.root)
	if err != nil {
		return nil, err
	}

	for _, name := range touched {
		m, err := Load(r.packagePath(name))
		if err != nil {
			return nil, err
		}
		manifestJSON, err := marshalManifest(m)
		if err != nil {
			return nil, err
		}
		if err := r.cache.PutRepositoryEntry(ctx, name, manifestJSON); err != nil {
			return nil, err
		}
	}
	return touched, nil
}

// Remove deletes a top-level package from disk and purges its cache
// mirror, under the repository writer lock.
func (r *Repository) Remove(ctx context.Context, name string) error {
	lock := r.writerLock()
	ok, err := lock.Acquire(ctx, true)
	if err != nil {
		return fmt.Errorf("repository: acquire writer lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("repository: writer lock unavailable")
	}
	defer lock.Release(ctx)

	if err := removeDir(r.packagePath(name)); err != nil {
		return err
	}
	return r.cache.DeleteRepositoryEntry(ctx, name)
}

// ListAvailable projects the cached manifests into their JSON strings,
// under the repository reader lock (spec.md §4.4 "on listing, concurrent
// readers hold the reader lock").
func (r *Repository) ListAvailable(ctx context.Context) ([]string, error) {
	lock := r.readerLock()
	ok, err := lock.Acquire(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("repository: acquire reader lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("repository: reader lock unavailable")
	}
	defer lock.Release(ctx)

	return r.cache.ListRepositoryEntries(ctx)
}

// ManifestFor returns the cached manifest JSON for a single package, used
// when projecting a node's install list from the repository mirror
// (spec.md §4.5.2 step 5).
func (r *Repository) ManifestFor(ctx context.Context, name string) (string, bool, error) {
	return r.cache.GetRepositoryEntry(ctx, name)
}

