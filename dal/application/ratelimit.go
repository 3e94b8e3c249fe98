package application

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"dal-gateway/dal/domain"

	"go.uber.org/zap"
)

const defaultRateJoinTimeout = 2 * time.Second

type RateLimiterOptions struct {
	// JoinTimeout limita a espera pela checagem no modo cooperativo.
	JoinTimeout time.Duration
	Stats       domain.StatsStore
	Logger      *zap.Logger
	// Now permite relógio falso em testes.
	Now func() time.Time
}

// RateLimiter é o contador de janela fixa sobre um domain.WindowStore.
type RateLimiter struct {
	store domain.WindowStore
	exec  domain.Executor
	opts  RateLimiterOptions
	log   *zap.Logger
}

func NewRateLimiter(store domain.WindowStore, exec domain.Executor, opts RateLimiterOptions) *RateLimiter {
	if exec == nil {
		exec = blockingExecutor{}
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = defaultRateJoinTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimiter{store: store, exec: exec, opts: opts, log: log.With(zap.String("component", "ratelimiter"))}
}

// For devolve o limite de identifier: limit chamadas por window.
// A janela é contada em segundos inteiros (mínimo 1s) e limit mínimo é 1.
func (r *RateLimiter) For(identifier string, limit int, window time.Duration) *Limit {
	if limit < 1 {
		limit = 1
	}
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	sum := md5.Sum([]byte(identifier))
	return &Limit{
		r:          r,
		identifier: identifier,
		limit:      limit,
		window:     time.Duration(secs) * time.Second,
		key:        fmt.Sprintf("ratelimiter@%s@%d@%ds", hex.EncodeToString(sum[:]), limit, secs),
	}
}

// Check é For(...).GetLimit(ctx).
func (r *RateLimiter) Check(ctx context.Context, identifier string, limit int, window time.Duration) (domain.RateWindow, error) {
	return r.For(identifier, limit, window).GetLimit(ctx)
}

// Limit é o contador de um identificador com limite e janela fixos.
// A chave composta muda quando limite ou janela mudam, então reconfigurar
// nunca herda um contador antigo.
type Limit struct {
	r          *RateLimiter
	identifier string
	limit      int
	window     time.Duration
	key        string
}

func (l *Limit) Key() string { return l.key }

// GetLimit consome uma unidade da janela atual.
func (l *Limit) GetLimit(ctx context.Context) (domain.RateWindow, error) {
	now := l.r.opts.Now()
	take := func(ctx context.Context) (domain.WindowState, error) {
		return l.r.store.Take(ctx, l.key, l.limit, l.window, now)
	}

	var (
		st  domain.WindowState
		err error
	)
	if l.r.exec.Mode() == domain.ModeCooperative {
		st, err = await(ctx, l.r.exec, l.r.opts.JoinTimeout, take, nil)
	} else {
		st, err = take(ctx)
	}
	if err != nil {
		return domain.RateWindow{}, err
	}

	w := domain.RateWindow{
		Identifier: l.identifier,
		Limit:      l.limit,
		Window:     l.window,
		Remaining:  st.Remaining,
		ResetAt:    st.ResetAt,
	}
	if w.Reached() {
		w.RetryAfter = st.ResetAt.Sub(now)
		if w.RetryAfter < 0 {
			w.RetryAfter = 0
		}
	}

	if l.r.opts.Stats != nil {
		if err := l.r.opts.Stats.Record(ctx, domain.StatsEvent{
			Kind: domain.StatsRateLimit, Key: l.identifier, Allowed: !w.Reached(), At: now,
		}); err != nil {
			l.r.log.Debug("record stats", zap.Error(err))
		}
	}
	return w, nil
}

// IsReachRateLimit consome uma unidade e diz se o limite foi atingido.
// Falha do backend não bloqueia (o limitador é consultivo).
func (l *Limit) IsReachRateLimit(ctx context.Context) bool {
	w, err := l.GetLimit(ctx)
	if err != nil {
		l.r.log.Warn("rate limit check failed", zap.String("key", l.key), zap.Error(err))
		return false
	}
	return w.Reached()
}
