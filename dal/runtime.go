// Package dal monta a camada de dados a partir da configuração: escolhe o modo
// de execução uma única vez, registra pools e connectors por worker e liga o
// lock, o rate limiter, as transações e as estatísticas ao mesmo registry.
package dal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dal-gateway/dal/application"
	"dal-gateway/dal/config"
	"dal-gateway/dal/domain"
	"dal-gateway/dal/infra"

	"github.com/prometheus/client_golang/prometheus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Runtime é o dono explícito de tudo que a camada cria; Close desmonta.
type Runtime struct {
	Config   config.Config
	Log      *zap.Logger
	Executor domain.Executor
	Registry *application.Registry
	Tx       *application.TxManager
	DB       *application.DB
	KV       *application.KV
	Locker   *application.Locker
	Limiter  *application.RateLimiter
	Stats    *infra.MemoryStatsStore
	Metrics  *infra.Metrics

	tableLoop *infra.Loop
	closers   []func(ctx context.Context) error
}

type Option func(*options)

type options struct {
	log        *zap.Logger
	registerer prometheus.Registerer
	connectors map[domain.ResourceType]domain.Connector
}

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// WithRegisterer liga as métricas Prometheus no registerer informado.
func WithRegisterer(r prometheus.Registerer) Option { return func(o *options) { o.registerer = r } }

// WithConnector substitui o connector de um tipo de recurso.
func WithConnector(typ domain.ResourceType, c domain.Connector) Option {
	return func(o *options) { o.connectors[typ] = c }
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*Runtime, error) {
	o := options{connectors: make(map[domain.ResourceType]domain.Connector)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := domain.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Log: o.log}
	if o.registerer != nil {
		rt.Metrics = infra.NewMetrics(o.registerer)
	}

	var loop *infra.Loop
	if mode == domain.ModeCooperative {
		loop = infra.NewLoop(o.log)
		rt.Executor = loop
		rt.closers = append(rt.closers, func(context.Context) error { loop.Close(); return nil })
	} else {
		rt.Executor = infra.DirectExecutor{}
	}

	rt.Registry = application.NewRegistry(application.RegistryOptions{
		Worker:   cfg.WorkerID,
		Executor: rt.Executor,
		Lost:     infra.IsConnectionLost,
		Logger:   o.log,
	})
	// pools são destruídos antes do loop parar
	rt.closers = append([]func(context.Context) error{rt.Registry.Close}, rt.closers...)

	if err := rt.registerResources(cfg, o); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	stats := domain.StatsStores{}
	if rt.Metrics != nil {
		stats = append(stats, rt.Metrics)
	}
	switch cfg.Stats.Backend {
	case config.StatsBackendMemory:
		rt.Stats = infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.Stats.TrackKeys))
		stats = append(stats, rt.Stats)
	case config.StatsBackendRedis:
		stats = append(stats, infra.NewRedisStatsStore(rt.Registry,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		))
	}

	scripts := infra.NewScripts(cfg.Scripts.CacheDir, o.log)

	lockStore, err := rt.lockStore(ctx, cfg, loop, scripts)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	rt.Locker = application.NewLocker(lockStore, rt.Executor, application.LockOptions{
		WaitTimeout:  cfg.Lock.WaitTimeout,
		TTL:          cfg.Lock.TTL,
		PollInterval: cfg.Lock.PollInterval,
		Prefix:       cfg.Lock.Prefix,
		Stats:        stats,
		Logger:       o.log,
	})

	var windows domain.WindowStore
	switch {
	case loop != nil:
		windows = infra.NewTableWindowStore(loop)
	case cfg.Redis.Enabled:
		windows = infra.NewRedisWindowStore(rt.Registry, scripts)
	default:
		o.log.Warn("redis disabled, rate limiter counts in process only")
		windows = infra.NewTableWindowStore(rt.ensureLoop())
	}
	rt.Limiter = application.NewRateLimiter(windows, rt.Executor, application.RateLimiterOptions{
		Stats:  stats,
		Logger: o.log,
	})

	rt.Tx = application.NewTxManager(rt.Registry, application.TxOptions{Timeout: cfg.Tx.Timeout, Logger: o.log})
	rt.DB = application.NewDB(rt.Registry, o.log, cfg.SQL.Debug)
	rt.KV = application.NewKV(rt.Registry)

	o.log.Info("data access layer ready",
		zap.String("mode", string(mode)),
		zap.Int("worker", cfg.WorkerID),
		zap.Bool("sql", cfg.SQL.Enabled),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.String("lock_backend", cfg.Lock.Backend),
	)
	return rt, nil
}

func (rt *Runtime) registerResources(cfg config.Config, o options) error {
	type resource struct {
		typ     domain.ResourceType
		enabled bool
		build   func() (domain.Connector, error)
	}
	resources := []resource{
		{domain.ResourceSQL, cfg.SQL.Enabled, func() (domain.Connector, error) { return infra.NewSQLConnector(cfg.SQL) }},
		{domain.ResourceRedis, cfg.Redis.Enabled, func() (domain.Connector, error) { return infra.NewRedisConnector(cfg.Redis), nil }},
	}

	for _, r := range resources {
		if !r.enabled {
			continue
		}
		conn, ok := o.connectors[r.typ]
		if !ok {
			var err error
			if conn, err = r.build(); err != nil {
				return fmt.Errorf("%s connector: %w", r.typ, err)
			}
		}
		rt.Registry.RegisterConnector(r.typ, conn)
		if !cfg.Pool.Enabled {
			continue
		}
		pool := infra.NewPool(domain.PoolID{Type: r.typ, Worker: cfg.WorkerID}, conn, infra.PoolOptions{
			MaxActive:      cfg.Pool.MaxActive,
			IdleTimeout:    cfg.Pool.IdleTimeout,
			AcquireTimeout: cfg.Pool.AcquireTimeout,
			ReapInterval:   cfg.Pool.ReapInterval,
			Logger:         rt.Log,
			Metrics:        rt.Metrics,
		})
		if err := rt.Registry.Register(pool); err != nil {
			return err
		}
	}
	return nil
}

func (rt *Runtime) lockStore(ctx context.Context, cfg config.Config, loop *infra.Loop, scripts *infra.Scripts) (domain.LockStore, error) {
	if loop != nil {
		return infra.NewTableLockStore(loop), nil
	}
	switch cfg.Lock.Backend {
	case config.LockBackendEtcd:
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
			Context:     ctx,
		})
		if err != nil {
			return nil, fmt.Errorf("etcd: %w", err)
		}
		rt.closers = append(rt.closers, func(context.Context) error { return cli.Close() })
		return infra.NewEtcdLockStore(cli, ""), nil
	case config.LockBackendTable:
		return infra.NewTableLockStore(rt.ensureLoop()), nil
	default:
		return infra.NewRedisLockStore(rt.Registry, scripts), nil
	}
}

// ensureLoop cria um Loop só para as tabelas em memória quando o modo é bloqueante.
func (rt *Runtime) ensureLoop() *infra.Loop {
	if l, ok := rt.Executor.(*infra.Loop); ok {
		return l
	}
	if rt.tableLoop != nil {
		return rt.tableLoop
	}
	l := infra.NewLoop(rt.Log)
	rt.tableLoop = l
	rt.closers = append(rt.closers, func(context.Context) error { l.Close(); return nil })
	return l
}

// Close destrói os pools (esperando até cfg.Pool.DestroyTimeout se ctx não tiver
// prazo) e libera loop e clientes.
func (rt *Runtime) Close(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && rt.Config.Pool.DestroyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.Config.Pool.DestroyTimeout)
		defer cancel()
	}
	var errs []error
	for _, c := range rt.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// PoolStats é um atalho para os contadores de todos os pools.
func (rt *Runtime) PoolStats() map[string]domain.PoolStats { return rt.Registry.Stats() }

// Ping verifica os recursos habilitados.
func (rt *Runtime) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var errs []error
	if rt.Config.Redis.Enabled {
		if err := rt.KV.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if rt.Config.SQL.Enabled {
		if _, err := rt.DB.Count(ctx, "SELECT 1"); err != nil {
			errs = append(errs, fmt.Errorf("sql: %w", err))
		}
	}
	return errors.Join(errs...)
}
