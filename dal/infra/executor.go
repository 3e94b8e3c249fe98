package infra

import (
	"context"
	"errors"
	"sync"
	"time"

	"dal-gateway/dal/domain"

	"go.uber.org/zap"
)

var ErrLoopClosed = errors.New("loop closed")

// DirectExecutor é o modo bloqueante: a task roda na goroutine do chamador.
type DirectExecutor struct{}

func (DirectExecutor) Mode() domain.Mode { return domain.ModeBlocking }

func (DirectExecutor) Submit(ctx context.Context, timeout time.Duration, task func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := task(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return domain.NewError(domain.KindTimeout, "submit", err)
	}
	return err
}

// Loop é o modo cooperativo.
//
// Passos (Do/After) rodam um por vez numa única goroutine, então o estado tocado
// só dentro de passos dispensa mutex. Submit dispara uma task cancelável e espera
// o resultado com timeout.
type Loop struct {
	steps chan func()
	done  chan struct{}
	once  sync.Once
	log   *zap.Logger
}

func NewLoop(log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Loop{
		steps: make(chan func(), 256),
		done:  make(chan struct{}),
		log:   log.With(zap.String("component", "loop")),
	}
	go l.run()
	return l
}

func (l *Loop) Mode() domain.Mode { return domain.ModeCooperative }

func (l *Loop) run() {
	for {
		select {
		case <-l.done:
			return
		case step := <-l.steps:
			l.exec(step)
		}
	}
}

func (l *Loop) exec(step func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("step panicked", zap.Any("panic", r))
		}
	}()
	step()
}

// Do enfileira step e espera ele terminar. ctx só limita a espera para entrar
// na fila: depois de enfileirado, o passo roda até o fim.
func (l *Loop) Do(ctx context.Context, step func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		step()
	}

	select {
	case l.steps <- wrapped:
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return domain.NewError(domain.KindTimeout, "loop.do", ctx.Err())
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopClosed
	}
}

// After agenda step para daqui a d. O timer devolvido pode ser parado.
func (l *Loop) After(d time.Duration, step func()) *time.Timer {
	return time.AfterFunc(d, func() {
		select {
		case l.steps <- step:
		case <-l.done:
		}
	})
}

type result struct{ err error }

func (l *Loop) Submit(ctx context.Context, timeout time.Duration, task func(ctx context.Context) error) error {
	select {
	case <-l.done:
		return ErrLoopClosed
	default:
	}

	taskCtx, cancel := context.WithCancel(ctx)
	res := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				res <- result{err: errors.New("task panicked")}
				l.log.Error("task panicked", zap.Any("panic", r))
			}
		}()
		res <- result{err: task(taskCtx)}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case r := <-res:
		cancel()
		return r.err
	case <-timer:
		cancel()
		return domain.NewError(domain.KindTimeout, "loop.submit", context.DeadlineExceeded)
	case <-ctx.Done():
		cancel()
		return domain.NewError(domain.KindTimeout, "loop.submit", ctx.Err())
	}
}

func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}
