package infra

import (
	"context"
	"time"
)

type lockEntry struct {
	token     string
	expiresAt time.Time
	timer     *time.Timer
}

// TableLockStore é o lock do modo cooperativo: uma tabela em memória tocada
// apenas dentro de passos do Loop. A expiração é um passo agendado que remove
// a entrada se ela ainda tiver o token original.
type TableLockStore struct {
	loop    *Loop
	entries map[string]*lockEntry
	now     func() time.Time
}

func NewTableLockStore(loop *Loop) *TableLockStore {
	return &TableLockStore{loop: loop, entries: make(map[string]*lockEntry), now: time.Now}
}

func (s *TableLockStore) AcquireIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.loop.Do(ctx, func() {
		now := s.now()
		if e, held := s.entries[key]; held {
			if now.Before(e.expiresAt) {
				return
			}
			e.timer.Stop()
		}

		e := &lockEntry{token: token, expiresAt: now.Add(ttl)}
		e.timer = s.loop.After(ttl, func() {
			if cur, found := s.entries[key]; found && cur.token == token {
				delete(s.entries, key)
			}
		})
		s.entries[key] = e
		ok = true
	})
	return ok, err
}

func (s *TableLockStore) ReleaseIfOwner(ctx context.Context, key, token string) (bool, error) {
	var removed bool
	err := s.loop.Do(ctx, func() {
		e, found := s.entries[key]
		if !found || e.token != token {
			return
		}
		e.timer.Stop()
		delete(s.entries, key)
		removed = true
	})
	return removed, err
}

// Len devolve quantas chaves estão na tabela.
func (s *TableLockStore) Len(ctx context.Context) int {
	n := 0
	_ = s.loop.Do(ctx, func() { n = len(s.entries) })
	return n
}
