package lock_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/bpmn/pkg/lock"
	"github.com/aretw0/bpmn/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Serializes(t *testing.T) {
	manager := lock.NewManager()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.WithLock(ctx, "instance-1", func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond) // Simulate IO

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "only one caller may hold an instance at a time")
	assert.Equal(t, 0, manager.Held(), "lock entries must be released")
}

func TestManager_LockLifecycle(t *testing.T) {
	manager := lock.NewManager()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		_ = manager.WithLock(ctx, fmt.Sprintf("instance-%d", i), func(context.Context) error { return nil })
	}
	assert.Equal(t, 0, manager.Held(), "no lock entry may leak")
}

func TestManager_WithLocks_NoDeadlock(t *testing.T) {
	manager := lock.NewManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		keys := []string{"a", "b", "c"}
		if i%2 == 0 {
			keys = []string{"c", "b", "a", "a"}
		}
		wg.Add(1)
		go func(keys []string) {
			defer wg.Done()
			err := manager.WithLocks(ctx, keys, func(context.Context) error {
				time.Sleep(time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
		}(keys)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock ordering deadlocked")
	}
}

type recordingLocker struct {
	mu        sync.Mutex
	locked    []string
	unlocked  []string
	failLock  bool
	failUnlock bool
}

func (r *recordingLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	if r.failLock {
		return nil, errors.New("redis down")
	}
	r.mu.Lock()
	r.locked = append(r.locked, key)
	r.mu.Unlock()
	return func(context.Context) error {
		r.mu.Lock()
		r.unlocked = append(r.unlocked, key)
		r.mu.Unlock()
		if r.failUnlock {
			return errors.New("unlock failed")
		}
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &recordingLocker{}
	manager := lock.NewManager(lock.WithLocker(locker), lock.WithTTL(time.Second))

	called := false
	err := manager.WithLocks(context.Background(), []string{"b", "a"}, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, []string{"a", "b"}, locker.locked, "distributed locks follow sorted order")
	assert.ElementsMatch(t, []string{"a", "b"}, locker.unlocked)
}

func TestManager_DistributedLockFailure(t *testing.T) {
	manager := lock.NewManager(lock.WithLocker(&recordingLocker{failLock: true}))

	err := manager.WithLock(context.Background(), "a", func(context.Context) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Equal(t, 0, manager.Held())
}

func TestManager_UnlockFailureIsNotFatal(t *testing.T) {
	manager := lock.NewManager(lock.WithLocker(&recordingLocker{failUnlock: true}))

	err := manager.WithLock(context.Background(), "a", func(context.Context) error { return nil })
	assert.NoError(t, err, "a failed release expires via TTL")
}
