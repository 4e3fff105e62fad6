package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds the scheduler's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobRuns          *prometheus.CounterVec
	JobErrors        *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	Transitions      *prometheus.CounterVec
	StuckContests    prometheus.Gauge
	SnapshotsWritten *prometheus.CounterVec
	CoinsPaid        *prometheus.CounterVec
	ScheduledTimers  prometheus.Gauge
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockarena_scheduler_job_runs_total",
			Help: "Scheduler job executions",
		}, []string{"job"}),
		JobErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockarena_scheduler_job_errors_total",
			Help: "Scheduler job executions that returned an error",
		}, []string{"job"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockarena_scheduler_job_duration_seconds",
			Help:    "Wall time of scheduler jobs",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"job"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockarena_scheduler_transitions_total",
			Help: "Contest status transitions applied",
		}, []string{"from", "to"}),
		StuckContests: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockarena_scheduler_stuck_contests",
			Help: "Active contests past their end time that could not be completed",
		}),
		SnapshotsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockarena_scheduler_snapshots_written_total",
			Help: "Snapshot rows appended",
		}, []string{"kind"}),
		CoinsPaid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockarena_scheduler_coins_paid_total",
			Help: "Coins credited by the scheduler",
		}, []string{"type"}),
		ScheduledTimers: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockarena_scheduler_scheduled_timers",
			Help: "Pending one-shot contest timers",
		}),
	}
}

func (m *Metrics) ObserveJob(job string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(job).Inc()
	m.JobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
	if err != nil {
		m.JobErrors.WithLabelValues(job).Inc()
	}
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) SetStuck(n int) {
	if m == nil {
		return
	}
	m.StuckContests.Set(float64(n))
}

func (m *Metrics) Snapshots(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SnapshotsWritten.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) CoinsCredited(txType string, amount decimal.Decimal) {
	if m == nil || !amount.IsPositive() {
		return
	}
	m.CoinsPaid.WithLabelValues(txType).Add(amount.InexactFloat64())
}

func (m *Metrics) SetTimers(n int) {
	if m == nil {
		return
	}
	m.ScheduledTimers.Set(float64(n))
}

// Handler serves the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
