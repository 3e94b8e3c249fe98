package infra

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dal-gateway/dal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	l := NewLoop(nil)
	t.Cleanup(l.Close)
	return l
}

func TestDirectExecutor_TimeoutBecomesTypedError(t *testing.T) {
	err := DirectExecutor{}.Submit(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, domain.ErrTimeout)

	want := errors.New("boom")
	err = DirectExecutor{}.Submit(context.Background(), 0, func(context.Context) error { return want })
	require.ErrorIs(t, err, want)
}

func TestLoop_StepsRunSequentially(t *testing.T) {
	l := newTestLoop(t)

	var (
		running atomic.Int32
		overlap atomic.Bool
		done    = make(chan struct{}, 50)
	)
	for i := 0; i < 50; i++ {
		go func() {
			_ = l.Do(context.Background(), func() {
				if running.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(100 * time.Microsecond)
				running.Add(-1)
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	assert.False(t, overlap.Load())
}

func TestLoop_PanicInStepDoesNotStopLoop(t *testing.T) {
	l := newTestLoop(t)

	require.NoError(t, l.Do(context.Background(), func() { panic("step") }))

	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_AfterRunsOnLoop(t *testing.T) {
	l := newTestLoop(t)

	fired := make(chan struct{})
	l.After(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("scheduled step did not run")
	}
}

func TestLoop_SubmitTimeoutCancelsTask(t *testing.T) {
	l := newTestLoop(t)

	cancelled := make(chan struct{})
	err := l.Submit(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	require.ErrorIs(t, err, domain.ErrTimeout)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}

func TestLoop_SubmitReturnsTaskError(t *testing.T) {
	l := newTestLoop(t)

	want := errors.New("task failed")
	err := l.Submit(context.Background(), time.Second, func(context.Context) error { return want })
	require.ErrorIs(t, err, want)

	err = l.Submit(context.Background(), time.Second, func(context.Context) error { panic("task") })
	require.Error(t, err)
}

func TestLoop_ClosedRejectsWork(t *testing.T) {
	l := NewLoop(nil)
	l.Close()
	l.Close()

	require.ErrorIs(t, l.Do(context.Background(), func() {}), ErrLoopClosed)
	require.ErrorIs(t, l.Submit(context.Background(), time.Second, func(context.Context) error { return nil }), ErrLoopClosed)
}
