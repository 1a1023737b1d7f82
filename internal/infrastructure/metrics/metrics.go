// Package metrics exposes orchestrator counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "waveshift"

// Metrics is safe to use as a nil pointer; every recorder becomes a no-op,
// which keeps services usable in tests without a registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	transitionsTotal *prometheus.CounterVec
	callbacksTotal   *prometheus.CounterVec
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	uploadOpsTotal   *prometheus.CounterVec
	reapedTotal      prometheus.Counter
	openStreams      prometheus.Gauge
}

// New registers every collector with reg. Pass prometheus.NewRegistry() for
// isolation; registration panics on duplicates like prometheus.MustRegister.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task status transitions by target status.",
		}, []string{"to"}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Stage callbacks by outcome.",
		}, []string{"outcome"}),
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Stage dispatches by stage and outcome.",
		}, []string{"stage", "outcome"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent waiting for a stage acknowledgment.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		uploadOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_operations_total",
			Help:      "Upload coordinator operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		reapedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_reaped_total",
			Help:      "In-progress tasks failed after exceeding the stage timeout.",
		}),
		openStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_streams_open",
			Help:      "Status streams currently held open.",
		}),
	}

	reg.MustRegister(
		m.transitionsTotal,
		m.callbacksTotal,
		m.dispatchesTotal,
		m.dispatchDuration,
		m.uploadOpsTotal,
		m.reapedTotal,
		m.openStreams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry m was built with.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to).Inc()
}

// Callback outcomes: applied, duplicate, rejected, unauthorized.
func (m *Metrics) Callback(outcome string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Dispatch(stage, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(stage, outcome).Inc()
	m.dispatchDuration.WithLabelValues(stage).Observe(took.Seconds())
}

func (m *Metrics) UploadOp(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.uploadOpsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Reaped() {
	if m == nil {
		return
	}
	m.reapedTotal.Inc()
}

// StreamOpened increments the open stream gauge and returns the matching
// decrement.
func (m *Metrics) StreamOpened() func() {
	if m == nil {
		return func() {}
	}
	m.openStreams.Inc()
	return m.openStreams.Dec
}
