package infra

import (
	"context"

	"dal-gateway/dal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics agrupa os coletores Prometheus da camada.
// Todos os métodos aceitam receiver nil (métricas desligadas).
type Metrics struct {
	poolActive  *prometheus.GaugeVec
	poolIdle    *prometheus.GaugeVec
	poolEvents  *prometheus.CounterVec
	coordEvents *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		poolActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dal",
			Subsystem: "pool",
			Name:      "active_connections",
			Help:      "Connections holding a pool slot (idle + in use).",
		}, []string{"pool"}),
		poolIdle: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dal",
			Subsystem: "pool",
			Name:      "idle_connections",
			Help:      "Connections waiting in the idle queue.",
		}, []string{"pool"}),
		poolEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dal",
			Subsystem: "pool",
			Name:      "events_total",
			Help:      "Pool lifecycle events (created, reused, evicted, reaped, discarded, timeout).",
		}, []string{"pool", "event"}),
		coordEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dal",
			Name:      "coordination_decisions_total",
			Help:      "Lock and rate limit decisions.",
		}, []string{"kind", "result"}),
	}
}

func (m *Metrics) poolEvent(pool domain.PoolID, event string) {
	if m == nil {
		return
	}
	m.poolEvents.WithLabelValues(pool.String(), event).Inc()
}

func (m *Metrics) observePool(pool domain.PoolID, active int64, idle int) {
	if m == nil {
		return
	}
	m.poolActive.WithLabelValues(pool.String()).Set(float64(active))
	m.poolIdle.WithLabelValues(pool.String()).Set(float64(idle))
}

// Record implementa domain.StatsStore, então as métricas entram no mesmo fluxo
// best-effort das estatísticas.
func (m *Metrics) Record(_ context.Context, ev domain.StatsEvent) error {
	if m == nil {
		return nil
	}
	result := "denied"
	if ev.Allowed {
		result = "allowed"
	}
	m.coordEvents.WithLabelValues(string(ev.Kind), result).Inc()
	return nil
}
