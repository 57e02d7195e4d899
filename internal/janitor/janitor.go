// Package janitor runs the coordinator's background maintenance sweep: it
// purges stale reader registrations left behind by crashed request
// handlers and ends sessions for nodes that died without deregistering.
// Grounded on the teacher's go.mod dependency on
// github.com/robfig/cron/v3, given a concrete home here since spec.md's
// reader set has no per-entry Redis TTL of its own (expiry is by score,
// not by key expiration) and must be garbage-collected even when no
// writer ever runs to trigger the lazy purge in internal/cache.WriterLock.
package janitor

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/secchiware/coordinator/internal/cache"
	"github.com/secchiware/coordinator/internal/logging"
	"github.com/secchiware/coordinator/internal/nodeclient"
	"github.com/secchiware/coordinator/internal/store"
)

// Janitor owns the cron schedule and the sweep's dependencies.
type Janitor struct {
	store  *store.Store
	cache  *cache.Store
	nodes  *nodeclient.Client
	logger *logging.Logger
	cron   *cron.Cron

	lockTimeout time.Duration
	pollSleep   time.Duration
}

// New builds a Janitor. Call Start to begin running the schedule.
func New(st *store.Store, ch *cache.Store, nodes *nodeclient.Client, logger *logging.Logger, lockTimeout, pollSleep time.Duration) *Janitor {
	return &Janitor{
		store:       st,
		cache:       ch,
		nodes:       nodes,
		logger:      logger,
		cron:        cron.New(),
		lockTimeout: lockTimeout,
		pollSleep:   pollSleep,
	}
}

// Start schedules the sweep to run every minute and begins the cron
// scheduler's own goroutine.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc("@every 1m", j.sweep)
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// sweep runs the two maintenance passes: garbage-collecting the
// repository reader set, and reaping sessions whose node no longer
// answers.
func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := j.purgeRepositoryReaders(ctx); err != nil {
		j.logger.WithError(err).Warn("janitor: failed to purge expired repository readers")
	}
	j.reapDeadNodes(ctx)
}

// purgeRepositoryReaders removes expired entries from the repository
// reader set without needing a writer to show up and trigger the lazy
// purge built into internal/cache.WriterLock.Acquire.
func (j *Janitor) purgeRepositoryReaders(ctx context.Context) error {
	lock := cache.NewWriterLock(j.cache, cache.RepositoryMutexResource, j.lockTimeout, j.pollSleep)
	ok, err := lock.Acquire(ctx, false)
	if err != nil {
		return err
	}
	if !ok {
		// A writer is already active or readers are present and current;
		// nothing to do this tick.
		return nil
	}
	defer lock.Release(ctx)
	return nil
}

// reapDeadNodes probes every active session's node with a cheap,
// unauthenticated GET and ends the session if the node is unreachable,
// mirroring the coordinator's own re-registration recovery path
// (internal/coordinator's RegisterEnvironment) for the case where the
// node never comes back to re-register at all.
func (j *Janitor) reapDeadNodes(ctx context.Context) {
	active, err := j.store.ListActiveSessions(ctx)
	if err != nil {
		j.logger.WithError(err).Warn("janitor: failed to list active sessions")
		return
	}

	for _, sess := range active {
		_, err := j.nodes.GetTestSets(ctx, sess.IP, sess.Port)
		if err == nil {
			continue
		}
		if !errors.Is(err, nodeclient.ErrUnreachable) {
			continue
		}

		endTS := time.Now().UTC().Format("2006-01-02T15:04:05Z")
		if _, err := j.store.EndActiveSession(ctx, sess.IP, sess.Port, endTS); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				j.logger.WithError(err).Warn("janitor: failed to end session for dead node")
			}
			continue
		}
		if err := j.cache.ClearEnvironment(ctx, sess.IP, sess.Port); err != nil {
			j.logger.WithError(err).Warn("janitor: failed to clear cache for dead node")
		}
		j.logger.WithContext(ctx).WithField("ip", sess.IP).WithField("port", sess.Port).
			Warn("janitor: ended session for unreachable node")
	}
}
