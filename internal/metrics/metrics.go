// Package metrics exposes Prometheus counters and gauges for the
// manager pool and its task managers (SPEC_FULL.md "Metrics
// (expansion)"). Registered against a private registry rather than
// the global default, so the diagnostics server owns the one
// /metrics endpoint that exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements the tasklifecycle metrics sink.
type Metrics struct {
	registry *prometheus.Registry

	launchesStarted   *prometheus.CounterVec
	launchesSucceeded *prometheus.CounterVec
	launchesFailed    *prometheus.CounterVec
	launchesCancelled *prometheus.CounterVec
	retriesExhausted  *prometheus.CounterVec
	managersCreated   *prometheus.CounterVec
	managersDestroyed *prometheus.CounterVec
	activeManagers    prometheus.Gauge
}

// New builds a Metrics collector and its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		launchesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eirenewatch_launches_started_total",
			Help: "Number of task launches started, by entry id.",
		}, []string{"entry_id"}),
		launchesSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eirenewatch_launches_succeeded_total",
			Help: "Number of task launches that returned without error.",
		}, []string{"entry_id"}),
		launchesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eirenewatch_launches_failed_total",
			Help: "Number of task launches that returned a non-cancellation error.",
		}, []string{"entry_id"}),
		launchesCancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eirenewatch_launches_cancelled_total",
			Help: "Number of task launches aborted by cancellation.",
		}, []string{"entry_id"}),
		retriesExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eirenewatch_retries_exhausted_total",
			Help: "Number of times a slot's retry budget was exhausted.",
		}, []string{"entry_id"}),
		managersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eirenewatch_managers_created_total",
			Help: "Number of task managers created by the pool.",
		}, []string{"entry_id"}),
		managersDestroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eirenewatch_managers_destroyed_total",
			Help: "Number of task managers torn down by the pool.",
		}, []string{"entry_id"}),
		activeManagers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eirenewatch_active_managers",
			Help: "Current number of live task managers in the pool.",
		}),
	}

	reg.MustRegister(
		m.launchesStarted,
		m.launchesSucceeded,
		m.launchesFailed,
		m.launchesCancelled,
		m.retriesExhausted,
		m.managersCreated,
		m.managersDestroyed,
		m.activeManagers,
	)

	return m
}

// Registry returns the private Prometheus registry, for the
// diagnostics server to expose at /metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) LaunchStarted(entryID string) {
	m.launchesStarted.WithLabelValues(entryID).Inc()
}

func (m *Metrics) LaunchSucceeded(entryID string, _ int) {
	m.launchesSucceeded.WithLabelValues(entryID).Inc()
}

func (m *Metrics) LaunchFailed(entryID string, _ int) {
	m.launchesFailed.WithLabelValues(entryID).Inc()
}

func (m *Metrics) LaunchCancelled(entryID string) {
	m.launchesCancelled.WithLabelValues(entryID).Inc()
}

func (m *Metrics) RetriesExhausted(entryID string) {
	m.retriesExhausted.WithLabelValues(entryID).Inc()
}

func (m *Metrics) ManagerCreated(entryID string) {
	m.managersCreated.WithLabelValues(entryID).Inc()
	m.activeManagers.Inc()
}

func (m *Metrics) ManagerDestroyed(entryID string) {
	m.managersDestroyed.WithLabelValues(entryID).Inc()
	m.activeManagers.Dec()
}
