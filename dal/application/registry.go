package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"dal-gateway/dal/domain"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultJoinTimeout = 10 * time.Second

type RegistryOptions struct {
	// Worker é o worker padrão quando o ctx não traz domain.WithWorker.
	Worker   int
	Executor domain.Executor
	// Lost classifica erros de uso; true despeja a conexão. Padrão: ErrConnectionLost.
	Lost func(error) bool
	// JoinTimeout limita a espera por um Acquire no modo cooperativo.
	JoinTimeout time.Duration
	Logger      *zap.Logger
}

// Registry mapeia (tipo de recurso, worker) -> pool e roteia empréstimos e devoluções.
// Sem pool registrado, cai para uma conexão avulsa criada pelo connector do tipo.
type Registry struct {
	worker int
	exec   domain.Executor
	lost   func(error) bool
	join   time.Duration
	log    *zap.Logger

	pools      *xsync.MapOf[string, domain.ResourcePool]
	connectors *xsync.MapOf[string, domain.Connector]
	nextID     atomic.Uint64
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Executor == nil {
		opts.Executor = blockingExecutor{}
	}
	if opts.Lost == nil {
		opts.Lost = func(err error) bool { return errors.Is(err, domain.ErrConnectionLost) }
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultJoinTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		worker:     opts.Worker,
		exec:       opts.Executor,
		lost:       opts.Lost,
		join:       opts.JoinTimeout,
		log:        opts.Logger.With(zap.String("component", "registry")),
		pools:      xsync.NewMapOf[string, domain.ResourcePool](),
		connectors: xsync.NewMapOf[string, domain.Connector](),
	}
}

func (r *Registry) Executor() domain.Executor { return r.exec }

// Register adiciona um pool. Um pool com o mesmo PoolID já registrado é erro.
func (r *Registry) Register(p domain.ResourcePool) error {
	if _, loaded := r.pools.LoadOrStore(p.ID().String(), p); loaded {
		return fmt.Errorf("pool %s already registered", p.ID())
	}
	return nil
}

// RegisterConnector define como abrir conexões avulsas de um tipo.
func (r *Registry) RegisterConnector(typ domain.ResourceType, c domain.Connector) {
	r.connectors.Store(string(typ), c)
}

func (r *Registry) Pool(typ domain.ResourceType, worker int) (domain.ResourcePool, bool) {
	return r.pools.Load(domain.PoolID{Type: typ, Worker: worker}.String())
}

func (r *Registry) workerOf(ctx context.Context) int {
	if w, ok := domain.WorkerFrom(ctx); ok {
		return w
	}
	return r.worker
}

// Acquire empresta uma conexão do pool do worker atual. No modo cooperativo o
// empréstimo roda como sub-tarefa com timeout; uma conexão obtida depois que
// quem esperava desistiu volta para o pool.
func (r *Registry) Acquire(ctx context.Context, typ domain.ResourceType) (*domain.Connection, error) {
	pool, ok := r.Pool(typ, r.workerOf(ctx))
	if !ok {
		return r.Open(ctx, typ)
	}
	if r.exec.Mode() == domain.ModeCooperative {
		return await(ctx, r.exec, r.join, pool.Acquire, pool.Release)
	}
	return pool.Acquire(ctx)
}

// Open cria uma conexão avulsa (fora do pool); Release a fecha.
func (r *Registry) Open(ctx context.Context, typ domain.ResourceType) (*domain.Connection, error) {
	c, ok := r.connectors.Load(string(typ))
	if !ok {
		return nil, domain.NewError(domain.KindNoConnector, "registry.open", fmt.Errorf("no connector for %s", typ))
	}
	res, err := c.Connect(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindConnectFailed, "registry.open", err)
	}
	return domain.NewConnection(domain.PoolID{}, r.nextID.Add(1), res), nil
}

// Release devolve a conexão. err é o resultado do uso: se indicar conexão perdida,
// a conexão é despejada; caso contrário volta para o pool.
func (r *Registry) Release(conn *domain.Connection, err error) {
	if conn == nil {
		return
	}
	if !conn.Pooled() {
		if cerr := conn.Close(); cerr != nil {
			r.log.Debug("close unpooled connection", zap.Stringer("conn", conn), zap.Error(cerr))
		}
		return
	}

	pool, ok := r.pools.Load(conn.PoolID.String())
	if !ok {
		r.log.Debug("release to unknown pool, closing", zap.Stringer("conn", conn))
		_ = conn.Close()
		return
	}
	if err != nil && r.lost(err) {
		r.log.Debug("connection lost, evicting", zap.Stringer("conn", conn), zap.Error(err))
		pool.Evict(conn)
		return
	}
	pool.Release(conn)
}

// Close destrói todos os pools em paralelo dentro do prazo de ctx.
func (r *Registry) Close(ctx context.Context) error {
	var g errgroup.Group
	r.pools.Range(func(key string, p domain.ResourcePool) bool {
		g.Go(func() error {
			err := p.Destroy(ctx)
			r.pools.Delete(key)
			return err
		})
		return true
	})
	return g.Wait()
}

func (r *Registry) Stats() map[string]domain.PoolStats {
	out := make(map[string]domain.PoolStats)
	r.pools.Range(func(key string, p domain.ResourcePool) bool {
		out[key] = p.Stats()
		return true
	})
	return out
}

// blockingExecutor é o executor padrão quando nenhum é injetado.
type blockingExecutor struct{}

func (blockingExecutor) Mode() domain.Mode { return domain.ModeBlocking }

func (blockingExecutor) Submit(ctx context.Context, timeout time.Duration, task func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return task(ctx)
}
