package infra

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dal-gateway/dal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResource struct {
	closed atomic.Bool
}

func (r *fakeResource) Close() error {
	r.closed.Store(true)
	return nil
}

type fakeConnector struct {
	mu        sync.Mutex
	resources []*fakeResource
	fail      error
	delay     time.Duration
}

func (c *fakeConnector) Connect(ctx context.Context) (io.Closer, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return nil, c.fail
	}
	r := &fakeResource{}
	c.resources = append(c.resources, r)
	return r, nil
}

func (c *fakeConnector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resources)
}

var testPoolID = domain.PoolID{Type: domain.ResourceRedis, Worker: 0}

func newTestPool(t *testing.T, c domain.Connector, opts PoolOptions) *Pool {
	t.Helper()
	p := NewPool(testPoolID, c, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = p.Destroy(ctx)
	})
	return p
}

func TestPool_ReusesReleasedConnection(t *testing.T) {
	conn := &fakeConnector{}
	p := newTestPool(t, conn, PoolOptions{MaxActive: 2})

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	p.Release(a)
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.ID)
	assert.Equal(t, 2, conn.count())

	st := p.Stats()
	assert.EqualValues(t, 2, st.Active)
	assert.EqualValues(t, 2, st.Created)
	assert.EqualValues(t, 1, st.Reused)
}

func TestPool_ExhaustedWhenFull(t *testing.T) {
	p := newTestPool(t, &fakeConnector{}, PoolOptions{MaxActive: 2})

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)
	_, err = p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, domain.ErrExhausted)
	assert.EqualValues(t, 1, p.Stats().Timeouts)
}

func TestPool_WaiterWakesOnRelease(t *testing.T) {
	p := newTestPool(t, &fakeConnector{}, PoolOptions{MaxActive: 1})

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *domain.Connection, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c, err := p.Acquire(ctx)
		if err == nil {
			got <- c
		}
		close(got)
	}()

	time.Sleep(20 * time.Millisecond)
	p.Release(a)

	select {
	case c, ok := <-got:
		require.True(t, ok, "waiter should receive a connection")
		assert.Equal(t, a.ID, c.ID)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestPool_NeverExceedsMaxActive(t *testing.T) {
	conn := &fakeConnector{delay: time.Millisecond}
	p := newTestPool(t, conn, PoolOptions{MaxActive: 3, AcquireTimeout: 2 * time.Second})

	var (
		inUse atomic.Int64
		peak  atomic.Int64
		wg    sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := inUse.Add(1)
			for {
				cur := peak.Load()
				if n <= cur || peak.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inUse.Add(-1)
			p.Release(c)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.LessOrEqual(t, conn.count(), 3)
	assert.LessOrEqual(t, p.Stats().Active, int64(3))
}

func TestPool_EvictedConnectionIsNotReadmitted(t *testing.T) {
	conn := &fakeConnector{}
	p := newTestPool(t, conn, PoolOptions{MaxActive: 1})

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Evict(a)
	p.Release(a)

	assert.Equal(t, domain.StateEvicted, a.State())
	assert.True(t, conn.resources[0].closed.Load())
	assert.EqualValues(t, 0, p.Stats().Active)
	assert.Equal(t, 0, p.Stats().Idle)

	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, conn.count())
}

func TestPool_ConnectFailureFreesSlot(t *testing.T) {
	conn := &fakeConnector{fail: errors.New("refused")}
	p := newTestPool(t, conn, PoolOptions{MaxActive: 1})

	_, err := p.Acquire(context.Background())
	require.ErrorIs(t, err, domain.ErrConnectFailed)
	assert.EqualValues(t, 0, p.Stats().Active)

	conn.mu.Lock()
	conn.fail = nil
	conn.mu.Unlock()

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestPool_DestroyClosesIdleAndRejectsAcquire(t *testing.T) {
	conn := &fakeConnector{}
	p := NewPool(testPoolID, conn, PoolOptions{MaxActive: 2})

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(a)

	require.NoError(t, p.Destroy(context.Background()))
	assert.True(t, conn.resources[0].closed.Load())
	assert.True(t, p.Closed())

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, domain.ErrPoolClosed)

	// segunda chamada não faz nada
	require.NoError(t, p.Destroy(context.Background()))
}

func TestPool_DestroyWaitsForCheckedOut(t *testing.T) {
	p := NewPool(testPoolID, &fakeConnector{}, PoolOptions{MaxActive: 2})

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Release(a)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Destroy(ctx))
	require.Eventually(t, func() bool {
		return a.State() == domain.StateClosed && p.Stats().Active == 0
	}, time.Second, time.Millisecond)
}

func TestPool_DestroyAbandonsAfterTimeout(t *testing.T) {
	conn := &fakeConnector{}
	p := NewPool(testPoolID, conn, PoolOptions{MaxActive: 2})

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = p.Destroy(ctx)
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.Contains(t, err.Error(), "1 connections abandoned")
	assert.True(t, conn.resources[0].closed.Load())

	// devolução tardia não reabre nada
	p.Release(a)
	assert.Equal(t, 0, p.Stats().Idle)
}

func TestPool_ReaperClosesIdleConnections(t *testing.T) {
	conn := &fakeConnector{}
	p := newTestPool(t, conn, PoolOptions{
		MaxActive:    2,
		IdleTimeout:  10 * time.Millisecond,
		ReapInterval: 5 * time.Millisecond,
	})

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(a)

	require.Eventually(t, func() bool {
		st := p.Stats()
		return st.Reaped == 1 && st.Active == 0
	}, time.Second, 5*time.Millisecond)
	assert.True(t, conn.resources[0].closed.Load())
}

func TestPool_SetMaxActiveShrinks(t *testing.T) {
	conn := &fakeConnector{}
	p := newTestPool(t, conn, PoolOptions{MaxActive: 3})

	var held []*domain.Connection
	for i := 0; i < 3; i++ {
		c, err := p.Acquire(context.Background())
		require.NoError(t, err)
		held = append(held, c)
	}
	p.Release(held[0])
	p.Release(held[1])

	p.SetMaxActive(1)
	st := p.Stats()
	assert.EqualValues(t, 1, st.MaxActive)
	assert.EqualValues(t, 1, st.Active)
	assert.Equal(t, 0, st.Idle)

	// a última emprestada cabe na nova capacidade e volta para a fila
	p.Release(held[2])
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestPool_ReleaseForeignConnectionCloses(t *testing.T) {
	p := newTestPool(t, &fakeConnector{}, PoolOptions{MaxActive: 1})

	res := &fakeResource{}
	other := domain.NewConnection(domain.PoolID{Type: domain.ResourceSQL, Worker: 3}, 99, res)
	p.Release(other)

	assert.True(t, res.closed.Load())
	assert.Equal(t, 0, p.Stats().Idle)
}
