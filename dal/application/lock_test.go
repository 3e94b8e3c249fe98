package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dal-gateway/dal/domain"
	"dal-gateway/dal/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTableLocker(t *testing.T, exec domain.Executor, opts LockOptions) *Locker {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	return NewLocker(infra.NewTableLockStore(newLoop(t)), exec, opts)
}

func TestLocker_MutualExclusion(t *testing.T) {
	l := newTableLocker(t, nil, LockOptions{Prefix: "redislock@"})
	ctx := context.Background()

	a := l.NewTicket("job:42")
	b := l.NewTicket("job:42")
	assert.Equal(t, "redislock@job:42", a.Key())

	require.True(t, a.TryLock(ctx, 0, time.Minute))
	assert.NotEmpty(t, a.Token())
	assert.True(t, a.Held())
	assert.False(t, b.TryLock(ctx, 0, time.Minute))

	a.Release(ctx)
	assert.False(t, a.Held())
	assert.True(t, b.TryLock(ctx, 0, time.Minute))
}

func TestLocker_WaitsForRelease(t *testing.T) {
	l := newTableLocker(t, nil, LockOptions{})
	ctx := context.Background()

	a := l.NewTicket("k")
	require.True(t, a.TryLock(ctx, 0, time.Minute))

	go func() {
		time.Sleep(30 * time.Millisecond)
		a.Release(ctx)
	}()

	b := l.NewTicket("k")
	start := time.Now()
	require.True(t, b.TryLock(ctx, time.Second, time.Minute))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLocker_GivesUpAfterWait(t *testing.T) {
	l := newTableLocker(t, nil, LockOptions{})
	ctx := context.Background()

	require.True(t, l.NewTicket("k").TryLock(ctx, 0, time.Minute))

	start := time.Now()
	assert.False(t, l.NewTicket("k").TryLock(ctx, 40*time.Millisecond, time.Minute))
	assert.Less(t, time.Since(start), time.Second)
}

func TestLocker_ExpiredOwnerDoesNotReleaseNewOwner(t *testing.T) {
	l := newTableLocker(t, nil, LockOptions{})
	ctx := context.Background()

	a := l.NewTicket("k")
	require.True(t, a.TryLock(ctx, 0, 20*time.Millisecond))

	b := l.NewTicket("k")
	require.True(t, b.TryLock(ctx, time.Second, time.Minute))
	assert.NotEqual(t, a.Token(), b.Token())

	a.Release(ctx)
	assert.False(t, l.NewTicket("k").TryLock(ctx, 0, time.Minute), "b must still hold the lock")

	ok, err := l.ReleaseToken(ctx, "k", b.Token())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_CooperativeMode(t *testing.T) {
	loop := newLoop(t)
	l := NewLocker(infra.NewTableLockStore(loop), loop, LockOptions{PollInterval: 5 * time.Millisecond})
	ctx := context.Background()

	var (
		holders atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk := l.NewTicket("shared")
			if !tk.TryLock(ctx, 2*time.Second, time.Minute) {
				t.Error("expected lock within wait")
				return
			}
			if holders.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			holders.Add(-1)
			tk.Release(ctx)
		}()
	}
	wg.Wait()
	assert.False(t, overlap.Load())
}

type failingLockStore struct{ calls atomic.Int32 }

func (s *failingLockStore) AcquireIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	s.calls.Add(1)
	return false, errors.New("backend down")
}

func (s *failingLockStore) ReleaseIfOwner(context.Context, string, string) (bool, error) {
	return false, errors.New("backend down")
}

func TestLocker_BackendErrorStopsPolling(t *testing.T) {
	store := &failingLockStore{}
	l := NewLocker(store, nil, LockOptions{PollInterval: time.Millisecond})

	assert.False(t, l.NewTicket("k").TryLock(context.Background(), time.Second, time.Minute))
	assert.EqualValues(t, 1, store.calls.Load())
}

func TestLocker_RecordsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	l := newTableLocker(t, nil, LockOptions{Stats: stats})
	ctx := context.Background()

	require.True(t, l.NewTicket("k").TryLock(ctx, 0, time.Minute))
	require.False(t, l.NewTicket("k").TryLock(ctx, 0, time.Minute))

	got := stats.ByKind()[domain.StatsLock]
	assert.EqualValues(t, 1, got.Allowed)
	assert.EqualValues(t, 1, got.Denied)
}
