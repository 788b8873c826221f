package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCardinalityGuardFiresPastLimit(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{CardinalityLimit: 3})

	for i := 0; i < 3; i++ {
		p.Timer("task.owner" + string(rune('a'+i)))
	}
	if got := testutil.CollectAndCount(p.warnCounter); got != 0 {
		t.Fatalf("expected no cardinality warning series at or under the limit, got %d", got)
	}

	p.Timer("task.ownerd") // 4th distinct name, pushes total past the limit of 3
	if got := testutil.CollectAndCount(p.warnCounter); got != 1 {
		t.Fatalf("expected one cardinality warning series after exceeding the limit, got %d", got)
	}
	if got := testutil.ToFloat64(p.warnCounter.WithLabelValues("rubidium_task_ownerd")); got != 1 {
		t.Fatalf("expected the over-limit metric name to be recorded once, got %v", got)
	}
}

func TestCardinalityGuardNeverFiresUnderLimit(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{CardinalityLimit: 100})

	p.Counter("a")
	p.Gauge("b")
	p.Histogram("c")
	p.Timer("d")

	if got := testutil.CollectAndCount(p.warnCounter); got != 0 {
		t.Fatalf("expected no cardinality warnings well under the limit, got %d", got)
	}
}
