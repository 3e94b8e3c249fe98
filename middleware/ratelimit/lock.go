package ratelimit

import (
	"net/http"
	"time"

	"dal-gateway/dal/application"
)

type LockOptions struct {
	Locker application.TicketIssuer
	// KeyFn escolhe o recurso a serializar. Padrão: chave do cliente + método + path.
	KeyFn        KeyFunc
	WaitTimeout  time.Duration
	TTL          time.Duration
	RejectStatus int
}

// LockMiddleware serializa requisições com a mesma chave pelo lock distribuído:
// só uma por vez, em qualquer instância do gateway que use o mesmo backend.
func LockMiddleware(opts LockOptions) func(next http.Handler) http.Handler {
	if opts.Locker == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusConflict
	}
	if opts.KeyFn == nil {
		client := DefaultKeyFunc("", false)
		opts.KeyFn = func(r *http.Request) string {
			return client(r) + "@" + r.Method + " " + r.URL.Path
		}
	}

	guard := application.Guard{
		Locker:         opts.Locker,
		AcquireTimeout: opts.WaitTimeout,
		TTL:            opts.TTL,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := guard.Acquire(r.Context(), opts.KeyFn(r))
			if !ok {
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
