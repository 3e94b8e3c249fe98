package infra

import (
	"context"
	"testing"

	"dal-gateway/dal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMemoryStatsStore_Record(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	_ = s.Record(ctx, domain.StatsEvent{Kind: domain.StatsRateLimit, Key: "a", Allowed: true})
	_ = s.Record(ctx, domain.StatsEvent{Kind: domain.StatsRateLimit, Key: "a", Allowed: false})
	_ = s.Record(ctx, domain.StatsEvent{Kind: domain.StatsLock, Key: "job", Allowed: true})

	if got := s.Total(); got.Allowed != 2 || got.Denied != 1 {
		t.Fatalf("expected total 2/1, got %+v", got)
	}
	if got := s.ByKind()[domain.StatsRateLimit]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("expected ratelimit 1/1, got %+v", got)
	}
	if got := s.ByKey()["job"]; got.Allowed != 1 {
		t.Fatalf("expected key job allowed=1, got %+v", got)
	}
}

func TestMemoryStatsStore_KeysNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Kind: domain.StatsLock, Key: "job", Allowed: true})
	if n := len(s.ByKey()); n != 0 {
		t.Fatalf("expected no per-key counters, got %d", n)
	}
}

func TestMetrics_RecordAndPool(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	_ = m.Record(context.Background(), domain.StatsEvent{Kind: domain.StatsLock, Allowed: false})
	if got := testutil.ToFloat64(m.coordEvents.WithLabelValues("lock", "denied")); got != 1 {
		t.Fatalf("expected 1 denied lock decision, got %v", got)
	}

	id := domain.PoolID{Type: domain.ResourceSQL, Worker: 2}
	m.poolEvent(id, "created")
	m.observePool(id, 3, 1)
	if got := testutil.ToFloat64(m.poolActive.WithLabelValues(id.String())); got != 3 {
		t.Fatalf("expected 3 active, got %v", got)
	}
	if got := testutil.ToFloat64(m.poolEvents.WithLabelValues(id.String(), "created")); got != 1 {
		t.Fatalf("expected 1 created event, got %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.poolEvent(domain.PoolID{}, "created")
	m.observePool(domain.PoolID{}, 1, 1)
	if err := m.Record(context.Background(), domain.StatsEvent{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
