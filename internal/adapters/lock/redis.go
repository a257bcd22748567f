package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL           = 45 * time.Second
	defaultRetryInterval = 20 * time.Millisecond
	defaultKeyPrefix     = "lootbox:lock:"
)

// releaseScript deletes the key only when it still holds our token so an
// expired lock taken over by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// extendScript resets the TTL only while the key still holds our token.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisLocker is a Locker shared across gateway replicas. Acquisition is
// SET NX PX with a random token, polled until ctx is done. A held lock is
// renewed in the background every renewInterval until Unlock.
type RedisLocker struct {
	rdb           redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
	renewInterval time.Duration
	prefix        string
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

// WithTTL sets how long a lock survives a crashed holder.
func WithTTL(ttl time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetryInterval sets the polling interval while waiting.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retryInterval = d
		}
	}
}

// WithRenewInterval sets how often a held lock has its TTL reset. It
// defaults to a third of the TTL.
func WithRenewInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.renewInterval = d
		}
	}
}

// WithKeyPrefix namespaces lock keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

func NewRedisLocker(rdb redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		rdb:           rdb,
		ttl:           defaultTTL,
		retryInterval: defaultRetryInterval,
		prefix:        defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.renewInterval <= 0 || l.renewInterval >= l.ttl {
		l.renewInterval = l.ttl / 3
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Lease, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		switch {
		case err == nil && ok:
			return l.lease(redisKey, token), nil
		case err != nil && ctx.Err() == nil:
			return nil, fmt.Errorf("%w: %w", ErrLockUnavailable, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) lease(redisKey, token string) *redisLease {
	rl := &redisLease{
		locker: l,
		key:    redisKey,
		token:  token,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go rl.keepAlive()
	return rl
}

type redisLease struct {
	locker *RedisLocker
	key    string
	token  string

	lost atomic.Bool
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (r *redisLease) keepAlive() {
	defer close(r.done)

	ticker := time.NewTicker(r.locker.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.locker.renewInterval)
		err := r.extend(ctx)
		cancel()
		if errors.Is(err, ErrLockLost) {
			return
		}
	}
}

// extend resets the TTL. A transient backend error leaves the lease as is;
// the next renewal or Held call retries.
func (r *redisLease) extend(ctx context.Context) error {
	if r.lost.Load() {
		return ErrLockLost
	}
	n, err := extendScript.Run(ctx, r.locker.rdb, []string{r.key}, r.token, r.locker.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	if n == 0 {
		r.lost.Store(true)
		return ErrLockLost
	}
	return nil
}

// Held confirms the token is still ours and grants a fresh TTL, so a write
// made right after a successful Held runs inside the lock.
func (r *redisLease) Held(ctx context.Context) error {
	return r.extend(ctx)
}

func (r *redisLease) Unlock() {
	r.once.Do(func() {
		close(r.stop)
		<-r.done
		// The caller's context may already be cancelled. On failure the
		// TTL reclaims the key.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, r.locker.rdb, []string{r.key}, r.token).Err()
	})
}
