package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a blocking lock could not be acquired
// before the context ended.
var ErrLockTimeout = errors.New("lock not acquired")

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript pushes the expiry forward while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLocker provides cluster-wide mutual exclusion with SET NX PX. A held
// lock is renewed every third of its TTL until released, so a long sweep
// keeps it.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

// NewRedisLocker builds a locker whose keys expire after ttl.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, poll: 50 * time.Millisecond}
}

// TryLock attempts the lock once. The returned release func is nil when the
// lock is held elsewhere.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	full := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %q: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}
	stopRenew := renewEvery(l.ttl/3, func(ctx context.Context) (bool, error) {
		n, err := extendScript.Run(ctx, l.client, []string{full}, token, l.ttl.Milliseconds()).Int()
		return n == 1, err
	})
	var once sync.Once
	release := func() {
		once.Do(func() {
			stopRenew()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{full}, token).Err()
		})
	}
	return release, true, nil
}

// renewEvery calls extend on each tick until stopped or until extend reports
// the lock is no longer ours. Errors are retried on the next tick. The
// returned stop blocks until the loop has exited.
func renewEvery(interval time.Duration, extend func(context.Context) (bool, error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := extend(ctx)
				if err == nil && !held {
					return
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Lock blocks until the lock is acquired or ctx ends.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		release, ok, err := l.TryLock(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}
