package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockUnavailable reports that a lock could not be acquired. Mirrors
// common/redis_custom_locking.py's UnavailableLockError. The Acquire
// methods in this package do not return it: a failed non-blocking attempt
// is reported as false with a nil error.
var ErrLockUnavailable = errors.New("cache: lock could not be acquired")

const defaultMutexTimeout = 5 * time.Second
const defaultPollInterval = 100 * time.Millisecond
const defaultReadingTimeout = 5 * time.Second

// mutex is a Redis-backed primitive lock with a TTL, implemented with
// SET NX PX for acquisition and a Lua compare-and-delete script for
// release so a lock is never released by a holder that isn't its owner
// (go-redis/v8 has no built-in distributed lock helper, unlike the
// Python client's Lock class).
type mutex struct {
	rdb   redis.Cmdable
	key   string
	ttl   time.Duration
	token string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func newMutex(rdb redis.Cmdable, key string, ttl time.Duration) *mutex {
	return &mutex{rdb: rdb, key: key, ttl: ttl, token: uuid.NewString()}
}

func (m *mutex) tryAcquire(ctx context.Context) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, m.key, m.token, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: mutex acquire: %w", err)
	}
	return ok, nil
}

func (m *mutex) release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, m.rdb, []string{m.key}, m.token).Err(); err != nil {
		return fmt.Errorf("cache: mutex release: %w", err)
	}
	return nil
}

// Mutex is the exported, blocking form of the primitive mutex, used where
// spec.md calls for a plain mutual-exclusion lock rather than the
// reader/writer discipline — the per-environment installed-package mutex
// (spec.md §4.5.2/§4.5.3: "Acquire the per-environment installed mutex").
// Grounded on routes.py's plain `memory_storage.lock(key, timeout=30)`
// calls, which have no reader/writer distinction.
type Mutex struct {
	m     *mutex
	sleep time.Duration
}

// NewMutex builds a Mutex over resource with the given TTL and poll
// interval (zero values fall back to the package defaults).
func NewMutex(s *Store, resource string, ttl, sleep time.Duration) *Mutex {
	if ttl <= 0 {
		ttl = defaultMutexTimeout
	}
	if sleep <= 0 {
		sleep = defaultPollInterval
	}
	return &Mutex{m: newMutex(s.rdb, resource+":mutex", ttl), sleep: sleep}
}

// Acquire blocks, polling at the configured interval, until the mutex is
// obtained or ctx is done.
func (m *Mutex) Acquire(ctx context.Context) error {
	for {
		ok, err := m.m.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.sleep):
		}
	}
}

// Release releases the mutex if this instance still owns it.
func (m *Mutex) Release(ctx context.Context) error {
	return m.m.release(ctx)
}

// ReaderWriterLock derives reader-preferring reader/writer locking on top
// of a primitive mutex, per spec.md §4.3. Grounded on
// common/redis_custom_locking.py's ReaderWriterLock/ReaderLock/WriterLock.
type ReaderWriterLock struct {
	rdb      redis.Cmdable
	resource string
	timeout  time.Duration
	sleep    time.Duration
}

func newReaderWriterLock(rdb redis.Cmdable, resource string, timeout, sleep time.Duration) ReaderWriterLock {
	if timeout <= 0 {
		timeout = defaultMutexTimeout
	}
	if sleep <= 0 {
		sleep = defaultPollInterval
	}
	return ReaderWriterLock{rdb: rdb, resource: resource, timeout: timeout, sleep: sleep}
}

func (l ReaderWriterLock) mutexKey() string   { return l.resource + ":mutex" }
func (l ReaderWriterLock) readersKey() string { return l.resource + ":readers" }

// ReaderLock is the reader side of the lock: readers never mutually
// exclude one another, only writers.
type ReaderLock struct {
	ReaderWriterLock
	readingTimeout time.Duration
	readerID       int64
}

// NewReaderLock builds a ReaderLock over resource with the given mutex
// timeout, reading timeout (how long a reader's registration stays valid)
// and poll interval. Zero values fall back to spec.md's stated defaults
// (5s / 5s / 100ms).
func NewReaderLock(s *Store, resource string, timeout, readingTimeout, sleep time.Duration) *ReaderLock {
	if readingTimeout <= 0 {
		readingTimeout = defaultReadingTimeout
	}
	return &ReaderLock{
		ReaderWriterLock: newReaderWriterLock(s.rdb, resource, timeout, sleep),
		readingTimeout:   readingTimeout,
	}
}

// Acquire registers this reader in the readers sorted set, serialised by
// the resource mutex so concurrent readers don't race on registration. If
// blocking is false and the mutex is already held, it returns false
// immediately instead of polling.
func (l *ReaderLock) Acquire(ctx context.Context, blocking bool) (bool, error) {
	id, err := l.rdb.Incr(ctx, l.readersKey()+":next_id").Result()
	if err != nil {
		return false, fmt.Errorf("cache: reader id: %w", err)
	}
	l.readerID = id

	m := newMutex(l.rdb, l.mutexKey(), l.timeout)

	register := func() error {
		score := float64(time.Now().Add(l.readingTimeout).UnixNano()) / 1e9
		return l.rdb.ZAdd(ctx, l.readersKey(), &redis.Z{Score: score, Member: id}).Err()
	}

	if blocking {
		for {
			ok, err := m.tryAcquire(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				break
			}
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(l.sleep):
			}
		}
		defer m.release(ctx)
		if err := register(); err != nil {
			return false, fmt.Errorf("cache: register reader: %w", err)
		}
		return true, nil
	}

	ok, err := m.tryAcquire(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer m.release(ctx)
	if err := register(); err != nil {
		return false, fmt.Errorf("cache: register reader: %w", err)
	}
	return true, nil
}

// Release removes this reader's id from the readers set.
func (l *ReaderLock) Release(ctx context.Context) error {
	if err := l.rdb.ZRem(ctx, l.readersKey(), l.readerID).Err(); err != nil {
		return fmt.Errorf("cache: release reader: %w", err)
	}
	return nil
}

// WriterLock is the writer side: it waits until no non-expired reader is
// registered and the mutex is free before proceeding.
type WriterLock struct {
	ReaderWriterLock
	m *mutex
}

// NewWriterLock builds a WriterLock over resource.
func NewWriterLock(s *Store, resource string, timeout, sleep time.Duration) *WriterLock {
	rwl := newReaderWriterLock(s.rdb, resource, timeout, sleep)
	return &WriterLock{
		ReaderWriterLock: rwl,
		m:                newMutex(s.rdb, rwl.mutexKey(), rwl.timeout),
	}
}

func (l *WriterLock) purgeExpiredReaders(ctx context.Context) error {
	now := float64(time.Now().UnixNano()) / 1e9
	return l.rdb.ZRemRangeByScore(ctx, l.readersKey(), "-inf", fmt.Sprintf("%f", now)).Err()
}

func (l *WriterLock) readersPresent(ctx context.Context) (bool, error) {
	n, err := l.rdb.ZCard(ctx, l.readersKey()).Result()
	if err != nil {
		return false, fmt.Errorf("cache: reader count: %w", err)
	}
	return n != 0, nil
}

// Acquire blocks (if blocking) until no readers are registered and the
// mutex can be taken, or returns false immediately in non-blocking mode.
func (l *WriterLock) Acquire(ctx context.Context, blocking bool) (bool, error) {
	if err := l.purgeExpiredReaders(ctx); err != nil {
		return false, err
	}

	if !blocking {
		present, err := l.readersPresent(ctx)
		if err != nil {
			return false, err
		}
		if present {
			return false, nil
		}
		return l.m.tryAcquire(ctx)
	}

	for {
		present, err := l.readersPresent(ctx)
		if err != nil {
			return false, err
		}
		if !present {
			ok, err := l.m.tryAcquire(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(l.sleep):
		}
		if err := l.purgeExpiredReaders(ctx); err != nil {
			return false, err
		}
	}
}

// Release releases the held mutex.
func (l *WriterLock) Release(ctx context.Context) error {
	return l.m.release(ctx)
}
