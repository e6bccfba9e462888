// Package metrics holds the Prometheus collectors for helpbot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for message ingestion, the advisory
// check, the dispatch store and the expiry sweep. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	MessagesTotal    *prometheus.CounterVec
	AdvisoryTotal    *prometheus.CounterVec
	AdvisoryDuration prometheus.Histogram
	StoreOpsTotal    *prometheus.CounterVec
	SweepRunsTotal   *prometheus.CounterVec
	SweepPurgedTotal prometheus.Counter
	SweepDuration    prometheus.Histogram
}

// NewMetrics registers and returns helpbot metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpbot_messages_total",
			Help: "Inbound messages by reported outcome.",
		}, []string{"outcome"}),
		AdvisoryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpbot_advisory_checks_total",
			Help: "Task-name advisory checks by result.",
		}, []string{"result"}),
		AdvisoryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "helpbot_advisory_duration_seconds",
			Help:    "Duration of advisory checks in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms .. ~6.4s
		}),
		StoreOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpbot_store_ops_total",
			Help: "Dispatch store operations by operation and result.",
		}, []string{"op", "result"}),
		SweepRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helpbot_sweep_runs_total",
			Help: "Expiry sweep runs by status.",
		}, []string{"status"}),
		SweepPurgedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helpbot_sweep_purged_total",
			Help: "Expired dispatch records removed by the sweep.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "helpbot_sweep_duration_seconds",
			Help:    "Duration of expiry sweeps in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms .. ~5s
		}),
	}

	reg.MustRegister(
		m.MessagesTotal,
		m.AdvisoryTotal,
		m.AdvisoryDuration,
		m.StoreOpsTotal,
		m.SweepRunsTotal,
		m.SweepPurgedTotal,
		m.SweepDuration,
	)
	return m
}

// ObserveMessage counts one handled message.
func (m *Metrics) ObserveMessage(outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveAdvisory records one advisory call.
func (m *Metrics) ObserveAdvisory(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.AdvisoryTotal.WithLabelValues(result).Inc()
	m.AdvisoryDuration.Observe(d.Seconds())
}

// ObserveStore counts one store operation.
func (m *Metrics) ObserveStore(op, result string) {
	if m == nil {
		return
	}
	m.StoreOpsTotal.WithLabelValues(op, result).Inc()
}

// ObserveSweep records one expiry sweep.
func (m *Metrics) ObserveSweep(purged int, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.SweepRunsTotal.WithLabelValues(status).Inc()
	m.SweepPurgedTotal.Add(float64(purged))
	m.SweepDuration.Observe(d.Seconds())
}
