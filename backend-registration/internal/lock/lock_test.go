package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	pkgredis "github.com/prohmpiriya/campus-registration/pkg/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseMutualExclusion(t *testing.T, locker EventLocker) {
	t.Helper()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "event-1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocalLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalLocker(5 * time.Second)
	exerciseMutualExclusion(t, locker)
	assert.Equal(t, 0, locker.Len())
}

func TestLocalLocker_IndependentEvents(t *testing.T) {
	locker := NewLocalLocker(50 * time.Millisecond)

	unlockA, err := locker.Lock(context.Background(), "event-a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := locker.Lock(context.Background(), "event-b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalLocker_WaitTimeout(t *testing.T) {
	locker := NewLocalLocker(20 * time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "event-1")
	require.NoError(t, err)

	_, err = locker.Lock(context.Background(), "event-1")
	assert.ErrorIs(t, err, ErrNotAcquired)

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, locker.Len())

	unlock, err = locker.Lock(context.Background(), "event-1")
	require.NoError(t, err)
	unlock()
}

func TestLocalLocker_ContextCanceled(t *testing.T) {
	locker := NewLocalLocker(0)
	unlock, err := locker.Lock(context.Background(), "event-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Lock(ctx, "event-1")
	assert.ErrorIs(t, err, ErrNotAcquired)
}

// fakeLockRedis emulates SET NX and the release script
type fakeLockRedis struct {
	mu       sync.Mutex
	data     map[string]string
	setErr   error
	releases int
}

func newFakeLockRedis() *fakeLockRedis {
	return &fakeLockRedis{data: make(map[string]string)}
}

func (f *fakeLockRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeLockRedis) EvalWithFallback(ctx context.Context, name, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	cmd := redis.NewCmd(ctx)
	if f.data[keys[0]] == args[0].(string) {
		delete(f.data, keys[0])
		cmd.SetVal(int64(1))
		return cmd
	}
	cmd.SetVal(int64(0))
	return cmd
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	locker := NewRedisLocker(newFakeLockRedis(), &RedisLockerConfig{
		TTL:           time.Second,
		Wait:          5 * time.Second,
		RetryInterval: time.Millisecond,
	})
	exerciseMutualExclusion(t, locker)
}

func TestRedisLocker_ReleaseChecksOwnership(t *testing.T) {
	client := newFakeLockRedis()
	locker := NewRedisLocker(client, &RedisLockerConfig{Wait: 20 * time.Millisecond, RetryInterval: time.Millisecond})

	unlock, err := locker.Lock(context.Background(), "event-1")
	require.NoError(t, err)

	// Simulate lease expiry and takeover by another instance.
	client.mu.Lock()
	client.data[redisLockKeyPrefix+"event-1"] = "other-owner"
	client.mu.Unlock()

	unlock()
	assert.Equal(t, "other-owner", client.data[redisLockKeyPrefix+"event-1"])
	assert.Equal(t, 1, client.releases)
}

func TestRedisLocker_WaitTimeout(t *testing.T) {
	client := newFakeLockRedis()
	locker := NewRedisLocker(client, &RedisLockerConfig{Wait: 30 * time.Millisecond, RetryInterval: time.Millisecond})

	unlock, err := locker.Lock(context.Background(), "event-1")
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(context.Background(), "event-1")
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestRedisLocker_BackendError(t *testing.T) {
	client := newFakeLockRedis()
	client.setErr = errors.New("connection refused")
	locker := NewRedisLocker(client, &RedisLockerConfig{Wait: 20 * time.Millisecond, RetryInterval: time.Millisecond})

	_, err := locker.Lock(context.Background(), "event-1")
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRedisLocker_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := pkgredis.DefaultConfig()
	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("TEST_REDIS_PORT"); port != "" {
		cfg.Port, _ = strconv.Atoi(port)
	}
	client, err := pkgredis.NewClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(client, &RedisLockerConfig{TTL: 2 * time.Second, Wait: 5 * time.Second})
	eventID := fmt.Sprintf("it-%d", time.Now().UnixNano())

	unlock, err := locker.Lock(context.Background(), eventID)
	require.NoError(t, err)
	unlock()

	exerciseMutualExclusion(t, locker)
}
