package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store is C3: the shared key/value store. It wraps redis.UniversalClient
// rather than *redis.Client directly so tests can substitute a
// miniredis-backed client without touching call sites; UniversalClient
// (unlike the narrower Cmdable) also carries Subscribe/PSubscribe, which
// pub/sub needs a dedicated connection for. Grounded on the original's
// redis.StrictRedis connection-per-operation usage in
// common/redis_custom_locking.py and c2/repository.py.
type Store struct {
	rdb redis.UniversalClient
}

// New wraps an existing Redis client.
func New(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Open dials a Redis instance at addr ("host:port") with the given
// password and logical database index, and verifies the connection with
// a PING.
func Open(ctx context.Context, addr, password string, db int) (*Store, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("cache: ping redis: %w", err)
	}
	return &Store{rdb: client}, client, nil
}

// Publish publishes a JSON-encoded event payload on the "environments"
// channel.
func (s *Store) Publish(ctx context.Context, payload string) error {
	return s.rdb.Publish(ctx, EventsChannel, payload).Err()
}

// Subscribe opens a subscription to the "environments" channel. Callers
// must close the returned PubSub when done (typically when the HTTP
// client disconnects from /events).
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, EventsChannel)
}

// Incr atomically increments a counter key and returns the new value, used
// to mint unique reader IDs.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	return s.rdb.Incr(ctx, key).Result()
}

// Flush discards the shared store's current logical database, per
// spec.md §4.5.5's shutdown sequence ("flush the shared store"). Best
// effort: the cache is ephemeral and rebuildable from C2/the node, so a
// failed flush is logged by the caller rather than treated as fatal.
func (s *Store) Flush(ctx context.Context) error {
	return s.rdb.FlushDB(ctx).Err()
}
