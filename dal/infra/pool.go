package infra

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"dal-gateway/dal/domain"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

const (
	defaultMaxActive      = 10
	defaultAcquireTimeout = 3 * time.Second
	defaultReapInterval   = 10 * time.Second
	defaultDestroyTimeout = 5 * time.Second
	destroyPollInterval   = 5 * time.Millisecond
)

type PoolOptions struct {
	MaxActive int
	// IdleTimeout <= 0 desliga o reaper.
	IdleTimeout time.Duration
	// AcquireTimeout vale quando o ctx de Acquire não tem deadline.
	AcquireTimeout time.Duration
	ReapInterval   time.Duration
	Logger         *zap.Logger
	Metrics        *Metrics
}

// Pool é o pool genérico de conexões.
//
// A capacidade é controlada pelo contador active (e não pelo tamanho da fila),
// porque conexões emprestadas não estão na fila. A fila idle guarda só as prontas.
type Pool struct {
	id        domain.PoolID
	connector domain.Connector
	opts      PoolOptions
	log       *zap.Logger

	maxActive atomic.Int64
	active    atomic.Int64
	idle      chan *domain.Connection
	// freed avisa quem está esperando que uma vaga foi liberada.
	freed chan struct{}
	out   *xsync.MapOf[uint64, *domain.Connection]

	idleCheckRunning atomic.Bool
	closed           atomic.Bool
	closing          chan struct{}

	nextID    atomic.Uint64
	created   atomic.Uint64
	reused    atomic.Uint64
	evicted   atomic.Uint64
	reaped    atomic.Uint64
	discarded atomic.Uint64
	timeouts  atomic.Uint64
}

func NewPool(id domain.PoolID, connector domain.Connector, opts PoolOptions) *Pool {
	if opts.MaxActive <= 0 {
		opts.MaxActive = defaultMaxActive
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = defaultAcquireTimeout
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = defaultReapInterval
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	p := &Pool{
		id:        id,
		connector: connector,
		opts:      opts,
		log:       log.With(zap.String("component", "pool"), zap.String("pool", id.String())),
		idle:      make(chan *domain.Connection, opts.MaxActive),
		freed:     make(chan struct{}, 1),
		out:       xsync.NewMapOf[uint64, *domain.Connection](),
		closing:   make(chan struct{}),
	}
	p.maxActive.Store(int64(opts.MaxActive))
	return p
}

func (p *Pool) ID() domain.PoolID { return p.id }

func (p *Pool) Closed() bool { return p.closed.Load() }

// Acquire devolve uma conexão idle, cria uma nova se houver vaga ou espera
// até o deadline do ctx (ou AcquireTimeout) por uma devolução.
func (p *Pool) Acquire(ctx context.Context) (*domain.Connection, error) {
	if p.closed.Load() {
		return nil, domain.NewError(domain.KindPoolClosed, "pool.acquire", nil)
	}
	p.startReaper()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.AcquireTimeout)
		defer cancel()
	}

	for {
		if p.closed.Load() {
			return nil, domain.NewError(domain.KindPoolClosed, "pool.acquire", nil)
		}

		select {
		case c := <-p.idle:
			if conn := p.checkout(c); conn != nil {
				return conn, nil
			}
			continue
		default:
		}

		if p.reserve() {
			return p.create(ctx)
		}

		select {
		case c := <-p.idle:
			if conn := p.checkout(c); conn != nil {
				return conn, nil
			}
		case <-p.freed:
		case <-p.closing:
			return nil, domain.NewError(domain.KindPoolClosed, "pool.acquire", nil)
		case <-ctx.Done():
			p.timeouts.Add(1)
			p.opts.Metrics.poolEvent(p.id, "timeout")
			return nil, domain.NewError(domain.KindExhausted, "pool.acquire", ctx.Err())
		}
	}
}

func (p *Pool) reserve() bool {
	for {
		cur := p.active.Load()
		if cur >= p.maxActive.Load() {
			return false
		}
		if p.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// unreserve devolve uma vaga e acorda um eventual waiter.
func (p *Pool) unreserve() {
	p.active.Add(-1)
	select {
	case p.freed <- struct{}{}:
	default:
	}
	p.observe()
}

func (p *Pool) create(ctx context.Context) (*domain.Connection, error) {
	res, err := p.connector.Connect(ctx)
	if err != nil {
		p.unreserve()
		return nil, domain.NewError(domain.KindConnectFailed, "pool.create", err)
	}

	conn := domain.NewConnection(p.id, p.nextID.Add(1), res)
	if p.closed.Load() {
		// pool fechou durante o connect: não entrega conexão meio criada
		_, _ = conn.Discard()
		p.unreserve()
		return nil, domain.NewError(domain.KindPoolClosed, "pool.create", nil)
	}

	p.created.Add(1)
	p.opts.Metrics.poolEvent(p.id, "created")
	p.out.Store(conn.ID, conn)
	p.observe()
	p.log.Debug("connection created", zap.Uint64("conn", conn.ID))
	return conn, nil
}

func (p *Pool) checkout(c *domain.Connection) *domain.Connection {
	if c == nil || !c.Checkout() {
		return nil
	}
	c.Touch(time.Now())
	p.out.Store(c.ID, c)
	p.reused.Add(1)
	p.opts.Metrics.poolEvent(p.id, "reused")
	p.observe()
	return c
}

// Release devolve a conexão à fila idle. Conexão despejada/fechada é ignorada;
// fila cheia ou capacidade reduzida fecham a sobra.
func (p *Pool) Release(c *domain.Connection) {
	if c == nil {
		return
	}
	if c.PoolID != p.id {
		_ = c.Close()
		return
	}
	if !c.Checkin() {
		return
	}
	p.out.Delete(c.ID)
	c.Touch(time.Now())

	if p.closed.Load() || p.active.Load() > p.maxActive.Load() {
		p.discard(c)
		return
	}

	select {
	case p.idle <- c:
	default:
		p.discard(c)
		return
	}

	// Destroy pode ter drenado a fila entre o teste de closed e o envio.
	if p.closed.Load() {
		p.drainIdle()
	}
	p.observe()
}

// Evict fecha a conexão sem devolvê-la e libera a vaga.
func (p *Pool) Evict(c *domain.Connection) {
	if c == nil {
		return
	}
	ok, err := c.Evict()
	if !ok {
		return
	}
	p.out.Delete(c.ID)
	p.evicted.Add(1)
	p.opts.Metrics.poolEvent(p.id, "evicted")
	p.log.Debug("connection has gone away, removed from pool", zap.Uint64("conn", c.ID), zap.Error(err))
	p.unreserve()
}

func (p *Pool) discard(c *domain.Connection) {
	ok, err := c.Discard()
	if !ok {
		return
	}
	if err != nil {
		p.log.Debug("close connection", zap.Uint64("conn", c.ID), zap.Error(err))
	}
	p.discarded.Add(1)
	p.opts.Metrics.poolEvent(p.id, "discarded")
	p.unreserve()
}

// SetMaxActive altera a capacidade em tempo de execução. Ao reduzir, fecha
// conexões idle excedentes; as emprestadas são fechadas na devolução.
func (p *Pool) SetMaxActive(n int) {
	if n <= 0 {
		return
	}
	p.maxActive.Store(int64(n))
	for p.active.Load() > int64(n) {
		select {
		case c := <-p.idle:
			p.discard(c)
		default:
			return
		}
	}
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

func (p *Pool) startReaper() {
	if p.opts.IdleTimeout <= 0 || p.closed.Load() {
		return
	}
	if !p.idleCheckRunning.CompareAndSwap(false, true) {
		return
	}
	go p.reap()
}

func (p *Pool) reap() {
	defer p.idleCheckRunning.Store(false)

	t := time.NewTicker(p.opts.ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-p.closing:
			return
		case now := <-t.C:
			p.reapIdle(now)
		}
	}
}

// reapIdle percorre a fila uma vez e fecha as conexões paradas há mais de IdleTimeout.
func (p *Pool) reapIdle(now time.Time) {
	n := len(p.idle)
	for i := 0; i < n; i++ {
		var c *domain.Connection
		select {
		case c = <-p.idle:
		default:
			return
		}

		if now.Sub(c.LastUsed()) >= p.opts.IdleTimeout {
			if ok, _ := c.Discard(); ok {
				p.reaped.Add(1)
				p.opts.Metrics.poolEvent(p.id, "reaped")
				p.log.Debug("idle connection reaped", zap.Uint64("conn", c.ID))
				p.unreserve()
			}
			continue
		}

		select {
		case p.idle <- c:
		default:
			p.discard(c)
		}
	}
	if p.closed.Load() {
		p.drainIdle()
	}
}

func (p *Pool) drainIdle() {
	for {
		select {
		case c := <-p.idle:
			p.discard(c)
		default:
			p.observe()
			return
		}
	}
}

// Destroy fecha o pool: novas aquisições falham na hora, as conexões idle são
// fechadas e as emprestadas são esperadas até o fim do ctx. O que sobrar é
// abandonado (fechado sem esperar o dono). Sem deadline no ctx, espera até 5s.
func (p *Pool) Destroy(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultDestroyTimeout)
		defer cancel()
	}
	close(p.closing)
	p.drainIdle()

	t := time.NewTicker(destroyPollInterval)
	defer t.Stop()
	for p.out.Size() > 0 {
		select {
		case <-ctx.Done():
			n := p.abandon()
			p.log.Warn("pool destroyed with connections still checked out", zap.Int("abandoned", n))
			return domain.NewError(domain.KindTimeout, "pool.destroy",
				fmt.Errorf("%d connections abandoned", n))
		case <-t.C:
		}
	}
	p.drainIdle()
	p.log.Debug("pool destroyed")
	return nil
}

func (p *Pool) abandon() int {
	n := 0
	p.out.Range(func(id uint64, c *domain.Connection) bool {
		p.out.Delete(id)
		if ok, _ := c.Discard(); ok {
			n++
			p.discarded.Add(1)
			p.active.Add(-1)
		}
		return true
	})
	p.drainIdle()
	return n
}

func (p *Pool) observe() {
	p.opts.Metrics.observePool(p.id, p.active.Load(), len(p.idle))
}

func (p *Pool) Stats() domain.PoolStats {
	return domain.PoolStats{
		MaxActive: p.maxActive.Load(),
		Active:    p.active.Load(),
		Idle:      len(p.idle),
		InUse:     p.out.Size(),
		Created:   p.created.Load(),
		Reused:    p.reused.Load(),
		Evicted:   p.evicted.Load(),
		Reaped:    p.reaped.Load(),
		Discarded: p.discarded.Load(),
		Timeouts:  p.timeouts.Load(),
	}
}
