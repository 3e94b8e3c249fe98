package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"dal-gateway/dal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultLockWait     = 10 * time.Second
	defaultLockTTL      = 30 * time.Second
	defaultPollInterval = 20 * time.Millisecond
	// folga da espera do modo cooperativo além do wait pedido.
	lockJoinSlack      = 2 * time.Second
	lockReleaseTimeout = 1 * time.Second
)

type LockOptions struct {
	WaitTimeout  time.Duration
	TTL          time.Duration
	PollInterval time.Duration
	Prefix       string
	Stats        domain.StatsStore
	Logger       *zap.Logger
}

// Locker cria tickets de lock sobre um domain.LockStore.
type Locker struct {
	store domain.LockStore
	exec  domain.Executor
	opts  LockOptions
	log   *zap.Logger
}

func NewLocker(store domain.LockStore, exec domain.Executor, opts LockOptions) *Locker {
	if exec == nil {
		exec = blockingExecutor{}
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultLockWait
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultLockTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Locker{store: store, exec: exec, opts: opts, log: log.With(zap.String("component", "lock"))}
}

func (l *Locker) NewTicket(key string) *Ticket {
	return &Ticket{l: l, key: l.opts.Prefix + key}
}

// ReleaseToken solta um lock conhecendo só chave e token (ex: outro processo
// que recebeu o token). Token que não confere não remove nada.
func (l *Locker) ReleaseToken(ctx context.Context, key, token string) (bool, error) {
	return l.store.ReleaseIfOwner(ctx, l.opts.Prefix+key, token)
}

func (l *Locker) record(ctx context.Context, key string, ok bool) {
	if l.opts.Stats == nil {
		return
	}
	if err := l.opts.Stats.Record(ctx, domain.StatsEvent{
		Kind: domain.StatsLock, Key: key, Allowed: ok, At: time.Now(),
	}); err != nil {
		l.log.Debug("record stats", zap.Error(err))
	}
}

// Ticket é uma tentativa de lock sobre uma chave.
//
// Estados: Unlocked -> (TryLock ok) -> Held -> (Release | expiração do TTL) -> Unlocked.
type Ticket struct {
	l   *Locker
	key string

	mu    sync.Mutex
	token string
	ttl   time.Duration
	held  bool
}

func (t *Ticket) Key() string { return t.key }

// Token é o token da última tentativa bem sucedida.
func (t *Ticket) Token() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

func (t *Ticket) Held() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.held
}

// Lock é TryLock com a espera e o TTL padrão.
func (t *Ticket) Lock(ctx context.Context) bool {
	return t.TryLock(ctx, t.l.opts.WaitTimeout, t.l.opts.TTL)
}

// TryLock tenta o lock com um token novo, repetindo a cada PollInterval até
// conseguir, até um erro definitivo do backend ou até wait acabar.
// wait == 0 faz uma única tentativa; wait < 0 usa o padrão. Erros viram false.
func (t *Ticket) TryLock(ctx context.Context, wait, ttl time.Duration) bool {
	if wait < 0 {
		wait = t.l.opts.WaitTimeout
	}
	if ttl <= 0 {
		ttl = t.l.opts.TTL
	}
	token := uuid.NewString()

	var (
		ok  bool
		err error
	)
	if t.l.exec.Mode() == domain.ModeCooperative {
		ok, err = await(ctx, t.l.exec, wait+lockJoinSlack,
			func(ctx context.Context) (bool, error) { return t.poll(ctx, token, wait, ttl) },
			func(acquired bool) {
				if acquired {
					_, _ = t.l.store.ReleaseIfOwner(context.Background(), t.key, token)
				}
			})
	} else {
		ok, err = t.poll(ctx, token, wait, ttl)
	}

	if err != nil {
		t.l.log.Warn("lock attempt failed", zap.String("key", t.key), zap.Error(err))
		ok = false
	}
	if ok {
		t.mu.Lock()
		t.token, t.ttl, t.held = token, ttl, true
		t.mu.Unlock()
	}
	t.l.record(ctx, t.key, ok)
	return ok
}

func (t *Ticket) poll(ctx context.Context, token string, wait, ttl time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	pacer := rate.NewLimiter(rate.Every(t.l.opts.PollInterval), 1)
	pacer.Allow()

	for {
		ok, err := t.l.store.AcquireIfAbsent(ctx, t.key, token, ttl)
		if err == nil && ok {
			return true, nil
		}
		if err != nil && !errors.Is(err, domain.ErrExhausted) {
			return false, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}

		waitCtx, cancel := context.WithDeadline(ctx, deadline)
		werr := pacer.Wait(waitCtx)
		cancel()
		if werr != nil {
			// não cabe outra tentativa antes do prazo (ou ctx cancelado)
			return false, nil
		}
	}
}

// Release solta o lock se este ticket ainda for o dono. Se o lock expirou e
// outro ticket o pegou, nada é removido.
func (t *Ticket) Release(ctx context.Context) {
	t.mu.Lock()
	token, held := t.token, t.held
	t.held = false
	t.mu.Unlock()
	if !held {
		return
	}

	release := func(ctx context.Context) (bool, error) {
		return t.l.store.ReleaseIfOwner(ctx, t.key, token)
	}

	var err error
	if t.l.exec.Mode() == domain.ModeCooperative {
		_, err = await(ctx, t.l.exec, lockReleaseTimeout, release, nil)
	} else {
		_, err = release(ctx)
	}
	if err != nil {
		t.l.log.Warn("lock release failed", zap.String("key", t.key), zap.Error(err))
	}
}
