package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveJob("scan", 10*time.Millisecond, nil)
	m.ObserveJob("scan", 10*time.Millisecond, errors.New("boom"))
	m.Transition("upcoming", "active")
	m.SetStuck(3)
	m.Snapshots("portfolio", 4)
	m.CoinsCredited("refund", decimal.NewFromInt(100))
	m.CoinsCredited("refund", decimal.NewFromInt(-5))
	m.SetTimers(2)

	if got := testutil.ToFloat64(m.JobRuns.WithLabelValues("scan")); got != 2 {
		t.Fatalf("job runs got %v", got)
	}
	if got := testutil.ToFloat64(m.JobErrors.WithLabelValues("scan")); got != 1 {
		t.Fatalf("job errors got %v", got)
	}
	if got := testutil.ToFloat64(m.Transitions.WithLabelValues("upcoming", "active")); got != 1 {
		t.Fatalf("transitions got %v", got)
	}
	if got := testutil.ToFloat64(m.StuckContests); got != 3 {
		t.Fatalf("stuck got %v", got)
	}
	if got := testutil.ToFloat64(m.SnapshotsWritten.WithLabelValues("portfolio")); got != 4 {
		t.Fatalf("snapshots got %v", got)
	}
	if got := testutil.ToFloat64(m.CoinsPaid.WithLabelValues("refund")); got != 100 {
		t.Fatalf("coins got %v", got)
	}
	if got := testutil.ToFloat64(m.ScheduledTimers); got != 2 {
		t.Fatalf("timers got %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveJob("scan", time.Second, nil)
	m.Transition("a", "b")
	m.SetStuck(1)
	m.Snapshots("x", 1)
	m.CoinsCredited("prize", decimal.NewFromInt(1))
	m.SetTimers(1)
}
