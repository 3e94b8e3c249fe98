package domain

import (
	"context"
	"errors"
	"time"
)

type StatsKind string

const (
	StatsRateLimit StatsKind = "ratelimit"
	StatsLock      StatsKind = "lock"
)

// StatsEvent representa uma decisão de coordenação (rate limit ou lock).
//
// Observação: cuidado com cardinalidade ao persistir Key.
type StatsEvent struct {
	Kind    StatsKind
	Key     string
	Allowed bool
	At      time.Time
}

// StatsStore é a estratégia de persistência para estatísticas.
// Quem chama trata erro como best-effort.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// StatsStores grava o mesmo evento em vários destinos.
type StatsStores []StatsStore

func (s StatsStores) Record(ctx context.Context, ev StatsEvent) error {
	var errs []error
	for _, st := range s {
		if st == nil {
			continue
		}
		if err := st.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
