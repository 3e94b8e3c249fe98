package application

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"dal-gateway/dal/domain"
	"dal-gateway/dal/infra"
)

type closer struct{ closed atomic.Bool }

func (c *closer) Close() error {
	c.closed.Store(true)
	return nil
}

// countingConnector cria closers e lembra de todos.
type countingConnector struct {
	mu  sync.Mutex
	all []*closer
}

func (c *countingConnector) Connect(context.Context) (io.Closer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &closer{}
	c.all = append(c.all, r)
	return r, nil
}

func (c *countingConnector) opened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.all)
}

func newLoop(t *testing.T) *infra.Loop {
	t.Helper()
	l := infra.NewLoop(nil)
	t.Cleanup(l.Close)
	return l
}

func newTablePool(t *testing.T, typ domain.ResourceType, worker int, c domain.Connector) *infra.Pool {
	t.Helper()
	return infra.NewPool(domain.PoolID{Type: typ, Worker: worker}, c, infra.PoolOptions{MaxActive: 2})
}
