package synclock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/kbsync/internal/errors"
)

func TestAcquireAndRelease(t *testing.T) {
	locker := NewLocker(nil, time.Minute)

	release, err := locker.Acquire(context.Background(), "org-1/bot-1/5")
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background(), "org-1/bot-1/5")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyInProgress))

	release()

	release2, err := locker.Acquire(context.Background(), "org-1/bot-1/5")
	require.NoError(t, err)
	release2()
}

func TestAcquireDifferentKeysDoNotConflict(t *testing.T) {
	locker := NewLocker(nil, time.Minute)

	releaseA, err := locker.Acquire(context.Background(), "org-1/bot-1/5")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := locker.Acquire(context.Background(), "org-1/bot-1/6")
	require.NoError(t, err)
	defer releaseB()

	releaseC, err := locker.Acquire(context.Background(), "org-2/bot-1/5")
	require.NoError(t, err)
	defer releaseC()
}

func TestAcquireUnderContention(t *testing.T) {
	locker := NewLocker(nil, time.Minute)

	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), "shared")
			if err != nil {
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyInProgress))
				return
			}
			mu.Lock()
			acquired++
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	// 至少一个成功，且没有goroutine卡死
	assert.GreaterOrEqual(t, acquired, 1)
}
