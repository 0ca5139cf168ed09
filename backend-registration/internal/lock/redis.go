package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/campus-registration/pkg/logger"
	"github.com/prohmpiriya/campus-registration/pkg/retry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisLockKeyPrefix = "registration:lock:event:"
	releaseScriptName  = "release_event_lock"
)

// releaseScript deletes the lock only if the caller still owns it
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

var errLockHeld = errors.New("lock held by another owner")

// RedisClient is the subset of pkg/redis.Client the distributed lock uses
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	EvalWithFallback(ctx context.Context, name, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLockerConfig configures RedisLocker
type RedisLockerConfig struct {
	// TTL is the lock lease; it must exceed the longest critical section
	TTL time.Duration
	// Wait bounds total acquisition time
	Wait time.Duration
	// RetryInterval is the first backoff between SET NX attempts
	RetryInterval time.Duration
}

// RedisLocker is a distributed per-event lock built on SET NX PX with a
// token-checked release, for deployments running several API instances.
type RedisLocker struct {
	client  RedisClient
	ttl     time.Duration
	wait    time.Duration
	retrier *retry.Retrier
}

// NewRedisLocker creates a RedisLocker
func NewRedisLocker(client RedisClient, cfg *RedisLockerConfig) *RedisLocker {
	if cfg == nil {
		cfg = &RedisLockerConfig{}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	wait := cfg.Wait
	if wait <= 0 {
		wait = 3 * time.Second
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}

	// The wait deadline ends the loop; MaxRetries only has to outlast it.
	retrier := retry.New(&retry.Config{
		MaxRetries:      1 << 16,
		InitialInterval: interval,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      1.5,
		JitterFactor:    0.3,
	})

	return &RedisLocker{
		client:  client,
		ttl:     ttl,
		wait:    wait,
		retrier: retrier,
	}
}

// Lock acquires the event lock, polling with backoff until the wait elapses
func (l *RedisLocker) Lock(ctx context.Context, eventID string) (Unlock, error) {
	key := redisLockKeyPrefix + eventID
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	result := l.retrier.Do(waitCtx, func(ctx context.Context) error {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return errLockHeld
		}
		return nil
	})
	if result.Err != nil {
		if result.LastError != nil && !errors.Is(result.LastError, errLockHeld) {
			return nil, fmt.Errorf("%w: %v", ErrNotAcquired, result.LastError)
		}
		return nil, ErrNotAcquired
	}

	return func() {
		// Release with a fresh context: the request context may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := l.client.EvalWithFallback(releaseCtx, releaseScriptName, releaseScript, []string{key}, token).Err(); err != nil {
			logger.Get().Warn("failed to release event lock",
				zap.String("event_id", eventID),
				zap.Error(err),
			)
		}
	}, nil
}
