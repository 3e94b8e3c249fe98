package application

import (
	"context"
	"time"
)

// TicketIssuer é o que o Guard precisa de um Locker.
type TicketIssuer interface {
	NewTicket(key string) *Ticket
}

// Guard concentra a regra de aquisição/liberação de lock por chave com timeout,
// sem saber nada sobre HTTP.
type Guard struct {
	Locker         TicketIssuer
	AcquireTimeout time.Duration
	TTL            time.Duration
}

// Acquire tenta o lock de key.
// - Sem Locker, libera sempre (nada a coordenar).
// - `AcquireTimeout == 0` faz uma única tentativa.
// - `AcquireTimeout > 0` tenta até o timeout.
// Retorna (release, ok). Se ok=false, nenhum lock foi adquirido.
func (g Guard) Acquire(ctx context.Context, key string) (func(), bool) {
	if g.Locker == nil {
		return func() {}, true
	}

	wait := g.AcquireTimeout
	if wait < 0 {
		wait = 0
	}

	t := g.Locker.NewTicket(key)
	if !t.TryLock(ctx, wait, g.TTL) {
		return nil, false
	}
	return func() { t.Release(context.WithoutCancel(ctx)) }, true
}
