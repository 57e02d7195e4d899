package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestReaderLockAllowsConcurrentReaders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r1 := NewReaderLock(s, "repository", time.Second, time.Second, 10*time.Millisecond)
	r2 := NewReaderLock(s, "repository", time.Second, time.Second, 10*time.Millisecond)

	ok, err := r1.Acquire(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r2.Acquire(ctx, true)
	require.NoError(t, err)
	require.True(t, ok, "a second reader must not be blocked by the first")

	require.NoError(t, r1.Release(ctx))
	require.NoError(t, r2.Release(ctx))
}

func TestWriterLockWaitsForReaders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reader := NewReaderLock(s, "repository", time.Second, 200*time.Millisecond, 10*time.Millisecond)
	ok, err := reader.Acquire(ctx, true)
	require.NoError(t, err)
	require.True(t, ok)

	writer := NewWriterLock(s, "repository", time.Second, 10*time.Millisecond)
	ok, err = writer.Acquire(ctx, false)
	require.NoError(t, err)
	require.False(t, ok, "writer must not acquire while a reader is registered")

	require.NoError(t, reader.Release(ctx))

	ok, err = writer.Acquire(ctx, false)
	require.NoError(t, err)
	require.True(t, ok, "writer should acquire once readers are gone")
	require.NoError(t, writer.Release(ctx))
}

func TestWriterLockMutualExclusion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w1 := NewWriterLock(s, "repository", time.Second, 10*time.Millisecond)
	ok, err := w1.Acquire(ctx, false)
	require.NoError(t, err)
	require.True(t, ok)

	w2 := NewWriterLock(s, "repository", time.Second, 10*time.Millisecond)
	ok, err = w2.Acquire(ctx, false)
	require.NoError(t, err)
	require.False(t, ok, "a second writer must not acquire while the first holds the mutex")

	require.NoError(t, w1.Release(ctx))

	ok, err = w2.Acquire(ctx, false)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, w2.Release(ctx))
}

func TestWriterLockBlockingAcquireWaitsForRelease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w1 := NewWriterLock(s, "repository", 2*time.Second, 10*time.Millisecond)
	ok, err := w1.Acquire(ctx, false)
	require.NoError(t, err)
	require.True(t, ok)

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := make(chan bool, 1)
	go func() {
		defer wg.Done()
		w2 := NewWriterLock(s, "repository", 2*time.Second, 10*time.Millisecond)
		ok, err := w2.Acquire(ctx, true)
		require.NoError(t, err)
		acquired <- ok
		_ = w2.Release(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, w1.Release(ctx))
	wg.Wait()

	select {
	case ok := <-acquired:
		require.True(t, ok)
	default:
		t.Fatal("blocking acquire never completed")
	}
}

func TestMutexExclusiveAcquireBlocksUntilReleased(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m1 := NewMutex(s, "environments:10.0.0.1:8080:installed", time.Second, 10*time.Millisecond)
	require.NoError(t, m1.Acquire(ctx))

	acquired := make(chan struct{})
	go func() {
		m2 := NewMutex(s, "environments:10.0.0.1:8080:installed", time.Second, 10*time.Millisecond)
		require.NoError(t, m2.Acquire(ctx))
		close(acquired)
		require.NoError(t, m2.Release(ctx))
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while first still held the mutex")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m1.Release(ctx))

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestMutexAcquireRespectsContextCancellation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m1 := NewMutex(s, "environments:10.0.0.2:8080:installed", time.Second, 10*time.Millisecond)
	require.NoError(t, m1.Acquire(ctx))
	defer m1.Release(ctx)

	cctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()

	m2 := NewMutex(s, "environments:10.0.0.2:8080:installed", time.Second, 10*time.Millisecond)
	err := m2.Acquire(cctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
