// Package metrics provides Prometheus metrics for slackclaw's orchestrator cycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric slackclaw exposes, exported
// alongside the cycle_finished structured log event for the same cycle.
type Metrics struct {
	TasksTotal        *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	ApprovalsTotal    *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	ActiveLocks       prometheus.Gauge
	ErrorsTotal       *prometheus.CounterVec
	CyclesTotal       prometheus.Counter
	ReportFailures    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slackclaw_tasks_total",
				Help: "Total tasks by terminal status.",
			},
			[]string{"status"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "slackclaw_task_duration_seconds",
				Help:    "Task execution duration by command source.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		ApprovalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slackclaw_approvals_total",
				Help: "Total approval decisions by result.",
			},
			[]string{"result"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "slackclaw_queue_depth",
				Help: "Number of tasks currently queued.",
			},
		),
		ActiveLocks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "slackclaw_active_locks",
				Help: "Number of execution locks currently held.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slackclaw_errors_total",
				Help: "Total errors by component and type.",
			},
			[]string{"component", "type"},
		),
		CyclesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "slackclaw_cycles_total",
				Help: "Total orchestrator cycles completed.",
			},
		),
		ReportFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slackclaw_report_failures_total",
				Help: "Total Reporter post failures by channel.",
			},
			[]string{"channel"},
		),
		registry: reg,
	}

	reg.MustRegister(m.TasksTotal)
	reg.MustRegister(m.TaskDuration)
	reg.MustRegister(m.ApprovalsTotal)
	reg.MustRegister(m.QueueDepth)
	reg.MustRegister(m.ActiveLocks)
	reg.MustRegister(m.ErrorsTotal)
	reg.MustRegister(m.CyclesTotal)
	reg.MustRegister(m.ReportFailures)

	return m
}

// Handler returns an http.Handler for the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTask increments the terminal-status counter.
func (m *Metrics) RecordTask(status string) {
	m.TasksTotal.WithLabelValues(status).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errType string) {
	m.ErrorsTotal.WithLabelValues(component, errType).Inc()
}

// RecordApproval increments the approval-result counter.
func (m *Metrics) RecordApproval(result string) {
	m.ApprovalsTotal.WithLabelValues(result).Inc()
}

// ObserveTaskDuration records task execution duration.
func (m *Metrics) ObserveTaskDuration(source string, seconds float64) {
	m.TaskDuration.WithLabelValues(source).Observe(seconds)
}

// SetQueueDepth reports the queue's current size.
func (m *Metrics) SetQueueDepth(n float64) {
	m.QueueDepth.Set(n)
}

// SetActiveLocks reports the current number of held execution locks.
func (m *Metrics) SetActiveLocks(n float64) {
	m.ActiveLocks.Set(n)
}

// RecordCycle increments the cycle counter.
func (m *Metrics) RecordCycle() {
	m.CyclesTotal.Inc()
}

// RecordReportFailure increments the report-failure counter for a channel.
func (m *Metrics) RecordReportFailure(channel string) {
	m.ReportFailures.WithLabelValues(channel).Inc()
}
