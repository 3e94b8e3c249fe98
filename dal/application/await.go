package application

import (
	"context"
	"sync"
	"time"

	"dal-gateway/dal/domain"
)

// await roda task pelo executor e devolve o valor produzido. Se quem espera
// desistir (timeout/cancelamento) depois que a task já produziu um valor, ou
// antes dela terminar, discard recebe o valor para limpar (ex: devolver conexão,
// soltar lock) e ele nunca vaza.
func await[T any](ctx context.Context, exec domain.Executor, timeout time.Duration,
	task func(ctx context.Context) (T, error), discard func(T)) (T, error) {

	var (
		mu        sync.Mutex
		out       T
		delivered bool
		abandoned bool
	)

	err := exec.Submit(ctx, timeout, func(ctx context.Context) error {
		v, err := task(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		if abandoned {
			if discard != nil {
				discard(v)
			}
			return nil
		}
		out, delivered = v, true
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		abandoned = true
		if delivered && discard != nil {
			discard(out)
		}
		var zero T
		return zero, err
	}
	return out, nil
}
