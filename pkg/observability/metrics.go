package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for a benchmark run.
type Metrics struct {
	// Counters
	IterationsTotal *prometheus.CounterVec
	CasesTotal      *prometheus.CounterVec

	// Gauges
	InstancesReady *prometheus.GaugeVec

	// Histograms
	IterationDuration *prometheus.HistogramVec
	ProvisionDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics with reg. Use prometheus.DefaultRegisterer
// to expose them through MetricsServer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Counters
		IterationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querybench_iterations_total",
				Help: "Measured iterations by case and outcome",
			},
			[]string{"group", "case", "strategy", "status"},
		),
		CasesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "querybench_cases_total",
				Help: "Finished cases by final status",
			},
			[]string{"strategy", "status"},
		),

		// Gauges
		InstancesReady: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "querybench_instances_ready",
				Help: "Backend instances currently ready, by strategy",
			},
			[]string{"strategy"},
		),

		// Histograms
		IterationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querybench_iteration_duration_seconds",
				Help:    "Latency of one measured iteration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00005, 2, 18), // 50us to ~6.5s
			},
			[]string{"group", "case", "strategy"},
		),
		ProvisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "querybench_provision_duration_seconds",
				Help:    "Time from launch until an instance accepted connections",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
			},
			[]string{"strategy"},
		),
	}
}

// RecordIteration records one measured iteration.
func (m *Metrics) RecordIteration(group, name, strategy string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.IterationsTotal.WithLabelValues(group, name, strategy, status).Inc()
	if success {
		m.IterationDuration.WithLabelValues(group, name, strategy).Observe(d.Seconds())
	}
}

// RecordCase records the final status of a case.
func (m *Metrics) RecordCase(strategy, status string) {
	if m == nil {
		return
	}
	m.CasesTotal.WithLabelValues(strategy, status).Inc()
}

// RecordInstanceReady marks a backend as ready after d.
func (m *Metrics) RecordInstanceReady(strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.InstancesReady.WithLabelValues(strategy).Set(1)
	m.ProvisionDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordInstanceStopped clears the ready gauge for strategy.
func (m *Metrics) RecordInstanceStopped(strategy string) {
	if m == nil {
		return
	}
	m.InstancesReady.WithLabelValues(strategy).Set(0)
}
