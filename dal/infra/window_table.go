package infra

import (
	"context"
	"time"

	"dal-gateway/dal/domain"
)

type windowEntry struct {
	remaining int
	total     int
	resetAt   time.Time
}

// TableWindowStore é o rate limiter do modo cooperativo. A janela é removida por
// um passo agendado no fim do período; se o passo atrasar, a checagem de resetAt
// abre a janela nova mesmo assim.
type TableWindowStore struct {
	loop    *Loop
	entries map[string]*windowEntry
}

func NewTableWindowStore(loop *Loop) *TableWindowStore {
	return &TableWindowStore{loop: loop, entries: make(map[string]*windowEntry)}
}

func (s *TableWindowStore) Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (domain.WindowState, error) {
	var st domain.WindowState
	err := s.loop.Do(ctx, func() {
		e, found := s.entries[key]
		if !found || !now.Before(e.resetAt) {
			e = &windowEntry{remaining: limit - 1, total: limit, resetAt: now.Add(window)}
			s.entries[key] = e
			s.loop.After(window, func() {
				if cur, ok := s.entries[key]; ok && cur == e {
					delete(s.entries, key)
				}
			})
		} else {
			e.remaining--
		}
		st = domain.WindowState{Remaining: e.remaining, Total: e.total, ResetAt: e.resetAt}
	})
	return st, err
}
