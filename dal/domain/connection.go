package domain

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

type ResourceType string

const (
	ResourceSQL   ResourceType = "sql"
	ResourceRedis ResourceType = "redis"
)

// PoolID identifica um pool: tipo de recurso + worker dono.
// O valor zero marca conexões fora de pool (modo degradado).
type PoolID struct {
	Type   ResourceType
	Worker int
}

func (id PoolID) IsZero() bool { return id.Type == "" }

func (id PoolID) String() string {
	if id.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s:worker%d", id.Type, id.Worker)
}

// ParsePoolID faz o caminho inverso de PoolID.String.
func ParsePoolID(s string) (PoolID, error) {
	typ, worker, ok := strings.Cut(s, ":worker")
	if !ok || typ == "" {
		return PoolID{}, fmt.Errorf("invalid pool id %q", s)
	}
	n, err := strconv.Atoi(worker)
	if err != nil || n < 0 {
		return PoolID{}, fmt.Errorf("invalid pool id %q", s)
	}
	return PoolID{Type: ResourceType(typ), Worker: n}, nil
}

type ConnState int32

const (
	StateIdle ConnState = iota
	StateInUse
	StateEvicted
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in-use"
	case StateEvicted:
		return "evicted"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection é o handle de uma conexão viva (SQL ou Redis).
//
// Pertence a quem a pegou até Release; as transições de estado são feitas por CAS,
// então uma conexão despejada ou fechada nunca volta a ficar idle.
type Connection struct {
	PoolID    PoolID
	ID        uint64
	Resource  io.Closer
	CreatedAt time.Time

	lastUsed atomic.Int64
	state    atomic.Int32
}

// NewConnection cria o handle já em uso (quem cria é quem vai usar).
func NewConnection(pool PoolID, id uint64, res io.Closer) *Connection {
	now := time.Now()
	c := &Connection{PoolID: pool, ID: id, Resource: res, CreatedAt: now}
	c.lastUsed.Store(now.UnixNano())
	c.state.Store(int32(StateInUse))
	return c
}

func (c *Connection) Pooled() bool { return !c.PoolID.IsZero() }

func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

func (c *Connection) LastUsed() time.Time { return time.Unix(0, c.lastUsed.Load()) }

func (c *Connection) Touch(now time.Time) { c.lastUsed.Store(now.UnixNano()) }

// Checkout move idle -> in-use.
func (c *Connection) Checkout() bool {
	return c.state.CompareAndSwap(int32(StateIdle), int32(StateInUse))
}

// Checkin move in-use -> idle.
func (c *Connection) Checkin() bool {
	return c.state.CompareAndSwap(int32(StateInUse), int32(StateIdle))
}

// Evict tira a conexão de circulação e fecha o recurso.
// Retorna false se ela já estava despejada/fechada (nada a contabilizar).
func (c *Connection) Evict() (bool, error) { return c.retire(StateEvicted) }

// Discard fecha a conexão. Mesmo contrato de Evict.
func (c *Connection) Discard() (bool, error) { return c.retire(StateClosed) }

func (c *Connection) Close() error {
	_, err := c.Discard()
	return err
}

func (c *Connection) retire(to ConnState) (bool, error) {
	for {
		s := c.state.Load()
		if s == int32(StateEvicted) || s == int32(StateClosed) {
			return false, nil
		}
		if c.state.CompareAndSwap(s, int32(to)) {
			if c.Resource == nil {
				return true, nil
			}
			return true, c.Resource.Close()
		}
	}
}

func (c *Connection) String() string {
	if c == nil {
		return "<nil>"
	}
	if !c.Pooled() {
		return fmt.Sprintf("unpooled#%d", c.ID)
	}
	return fmt.Sprintf("%s#%d", c.PoolID, c.ID)
}

// Connector abre uma conexão nova com o backend.
type Connector interface {
	Connect(ctx context.Context) (io.Closer, error)
}

type ConnectorFunc func(ctx context.Context) (io.Closer, error)

func (f ConnectorFunc) Connect(ctx context.Context) (io.Closer, error) { return f(ctx) }

// PoolStats é um retrato dos contadores de um pool.
type PoolStats struct {
	MaxActive int64  `json:"max_active"`
	Active    int64  `json:"active"`
	Idle      int    `json:"idle"`
	InUse     int    `json:"in_use"`
	Created   uint64 `json:"created"`
	Reused    uint64 `json:"reused"`
	Evicted   uint64 `json:"evicted"`
	Reaped    uint64 `json:"reaped"`
	Discarded uint64 `json:"discarded"`
	Timeouts  uint64 `json:"timeouts"`
}

// ResourcePool controla capacidade, criação, reciclagem e encerramento de conexões
// de um tipo de recurso.
type ResourcePool interface {
	ID() PoolID
	Acquire(ctx context.Context) (*Connection, error)
	Release(conn *Connection)
	Evict(conn *Connection)
	Destroy(ctx context.Context) error
	Stats() PoolStats
}

// ConnectionSource é o contrato de empréstimo visto pelos consumidores
// (comandos SQL/KV, lock, rate limiter). err != nil em Release indica que o uso falhou;
// quem decide entre devolver e despejar é a implementação.
type ConnectionSource interface {
	Acquire(ctx context.Context, typ ResourceType) (*Connection, error)
	Release(conn *Connection, err error)
}

type workerKey struct{}

// WithWorker fixa o worker do chamador; o registry usa isso para escolher o pool.
func WithWorker(ctx context.Context, worker int) context.Context {
	return context.WithValue(ctx, workerKey{}, worker)
}

func WorkerFrom(ctx context.Context) (int, bool) {
	w, ok := ctx.Value(workerKey{}).(int)
	return w, ok
}
