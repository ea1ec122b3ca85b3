package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/bpmn/pkg/adapters/redis"
	"github.com/aretw0/bpmn/pkg/lock"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, client := setup(t)
	locker := redis.NewLocker(client, "bpmn:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "p1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("bpmn:lock:p1"), "Lock key should be set in Redis")
	assert.Greater(t, mr.TTL("bpmn:lock:p1"), time.Duration(0))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("bpmn:lock:p1"), "Lock key should be removed after unlock")
}

func TestRedisLocker_Contention(t *testing.T) {
	_, client := setup(t)
	locker1 := redis.NewLocker(client, "bpmn:", redis.WithRetryInterval(10*time.Millisecond))
	locker2 := redis.NewLocker(client, "bpmn:", redis.WithRetryInterval(10*time.Millisecond))
	ctx := context.Background()

	unlock1, err := locker1.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)

	ctxTimeout, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = locker2.Lock(ctxTimeout, "shared", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock1(ctx))

	unlock2, err := locker2.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_ExpiredLockIsNotReleasedByStaleHolder(t *testing.T) {
	mr, client := setup(t)
	locker := redis.NewLocker(client, "bpmn:")
	ctx := context.Background()

	unlock1, err := locker.Lock(ctx, "p1", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	unlock2, err := locker.Lock(ctx, "p1", 5*time.Second)
	require.NoError(t, err)

	err = unlock1(ctx)
	assert.True(t, errors.Is(err, redis.ErrLockLost))
	assert.True(t, mr.Exists("bpmn:lock:p1"), "second holder keeps the lock")

	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_WithManager(t *testing.T) {
	mr, client := setup(t)
	m := lock.NewManager(lock.WithLocker(redis.NewLocker(client, "bpmn:")))

	err := m.WithLocks(context.Background(), []string{"b", "a"}, func(ctx context.Context) error {
		assert.True(t, mr.Exists("bpmn:lock:a"))
		assert.True(t, mr.Exists("bpmn:lock:b"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("bpmn:lock:a"))
	assert.False(t, mr.Exists("bpmn:lock:b"))
}
