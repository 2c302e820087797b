// Package metrics exposes admission and rotation observations as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/osa030/demoday/internal/app/admission"
	"github.com/osa030/demoday/internal/app/rotation"
	"github.com/osa030/demoday/internal/domain/slot"
)

var (
	_ admission.MetricsCollector = (*PrometheusMetrics)(nil)
	_ rotation.MetricsCollector  = (*PrometheusMetrics)(nil)
)

// Opts represents options for PrometheusMetrics.
type Opts struct {
	// Namespace is prepended to all metric names.
	Namespace string

	// ConstLabels are applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics collects admission queue and credential rotation metrics.
type PrometheusMetrics struct {
	ActiveSessions  prometheus.Gauge
	WaitingRequests prometheus.Gauge
	GrantedTotal    *prometheus.CounterVec
	TimedOutTotal   *prometheus.CounterVec
	FailedTotal     *prometheus.CounterVec
	WaitDuration    *prometheus.HistogramVec
	RotationsTotal  *prometheus.CounterVec
}

// New creates PrometheusMetrics with the given options.
func New(opts Opts) *PrometheusMetrics {
	return &PrometheusMetrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_active_sessions",
			Help:        "Number of granted upstream sessions.",
			ConstLabels: opts.ConstLabels,
		}),
		WaitingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_waiting_requests",
			Help:        "Number of session requests waiting in the queue.",
			ConstLabels: opts.ConstLabels,
		}),
		GrantedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_granted_total",
			Help:        "Number of granted session requests.",
			ConstLabels: opts.ConstLabels,
		}, []string{"type"}),
		TimedOutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_timed_out_total",
			Help:        "Number of session requests rejected after waiting too long.",
			ConstLabels: opts.ConstLabels,
		}, []string{"type"}),
		FailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_failed_total",
			Help:        "Number of granted sessions whose token fetch failed.",
			ConstLabels: opts.ConstLabels,
		}, []string{"type"}),
		WaitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "admission_wait_duration_seconds",
			Help:        "Time a session request waited before its grant.",
			ConstLabels: opts.ConstLabels,
			Buckets:     []float64{0, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"type"}),
		RotationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "rotation_resolved_total",
			Help:        "Number of resolved credentials by role and strategy.",
			ConstLabels: opts.ConstLabels,
		}, []string{"role", "source"}),
	}
}

func (pm *PrometheusMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		pm.ActiveSessions,
		pm.WaitingRequests,
		pm.GrantedTotal,
		pm.TimedOutTotal,
		pm.FailedTotal,
		pm.WaitDuration,
		pm.RotationsTotal,
	}
}

// MustRegister registers all metrics and panics on conflicts.
func (pm *PrometheusMetrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(pm.collectors()...)
}

// Unregister removes all metrics from reg.
func (pm *PrometheusMetrics) Unregister(reg prometheus.Registerer) {
	for _, c := range pm.collectors() {
		reg.Unregister(c)
	}
}

func (pm *PrometheusMetrics) SetActive(n int) {
	pm.ActiveSessions.Set(float64(n))
}

func (pm *PrometheusMetrics) SetWaiting(n int) {
	pm.WaitingRequests.Set(float64(n))
}

func (pm *PrometheusMetrics) IncGranted(typ slot.Type) {
	pm.GrantedTotal.WithLabelValues(string(typ)).Inc()
}

func (pm *PrometheusMetrics) IncTimedOut(typ slot.Type) {
	pm.TimedOutTotal.WithLabelValues(string(typ)).Inc()
}

func (pm *PrometheusMetrics) IncFailed(typ slot.Type) {
	pm.FailedTotal.WithLabelValues(string(typ)).Inc()
}

func (pm *PrometheusMetrics) ObserveWait(typ slot.Type, d time.Duration) {
	pm.WaitDuration.WithLabelValues(string(typ)).Observe(d.Seconds())
}

func (pm *PrometheusMetrics) IncRotation(role slot.Role, source rotation.Source) {
	pm.RotationsTotal.WithLabelValues(string(role), string(source)).Inc()
}
