package domain

import (
	"context"
	"time"
)

// LockTicket é uma tentativa de lock: o token é novo a cada tentativa, nunca por chave.
type LockTicket struct {
	Key   string
	Token string
	TTL   time.Duration
}

// LockStore é a capacidade atômica exigida do backend do lock.
//
// AcquireIfAbsent grava token em key com expiração ttl somente se key não existir.
// ReleaseIfOwner remove key somente se o valor guardado for token.
// As duas operações precisam ser um único passo indivisível no backend.
type LockStore interface {
	AcquireIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseIfOwner(ctx context.Context, key, token string) (bool, error)
}

// WindowState é o que o backend devolve a cada consumo de uma janela.
type WindowState struct {
	Remaining int
	Total     int
	ResetAt   time.Time
}

// WindowStore decrementa atomicamente o contador de uma janela fixa,
// criando a janela (remaining = limit-1) quando ela não existe ou já venceu.
type WindowStore interface {
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (WindowState, error)
}

// RateWindow é o resultado de uma checagem de rate limit.
type RateWindow struct {
	Identifier string
	Limit      int
	Window     time.Duration
	Remaining  int
	ResetAt    time.Time
	// RetryAfter só é preenchido quando o limite foi atingido.
	RetryAfter time.Duration
}

func (w RateWindow) Reached() bool { return w.Remaining < 0 }
