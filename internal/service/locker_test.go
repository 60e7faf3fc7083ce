package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_SerialisesSameKey(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

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
			unlock, err := locker.Lock(ctx, "backup:technician:a")
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
	assert.Empty(t, locker.entries, "idle keys are dropped")
}

func TestLocalLocker_TryLockAndCancel(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	_, ok, err := locker.TryLock(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = locker.TryLock(context.Background(), "other")
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	release, ok, err := locker.TryLock(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestLockKeysSortsAndDeduplicates(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, uniqueSorted([]string{"c", "a", "b", "a"}))

	locker := NewLocalLocker()
	unlock, err := lockKeys(context.Background(), locker, "b", "a", "b")
	require.NoError(t, err)
	_, ok, _ := locker.TryLock(context.Background(), "a")
	assert.False(t, ok)
	unlock()
	_, ok, _ = locker.TryLock(context.Background(), "a")
	assert.True(t, ok)
}
