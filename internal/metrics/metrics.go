// Package metrics exposes Prometheus instruments for dispatches, resolutions
// and workflow runs. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "commandcenter"

type Metrics struct {
	registry         *prometheus.Registry
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	resolutions      *prometheus.CounterVec
	workflowRuns     *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	historyErrors    prometheus.Counter
}

// New registers every instrument on a fresh registry together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Top-level dispatches by command and result code.",
		}, []string{"command", "code"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Dispatch latency by command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Resolved commands by resolution strategy.",
		}, []string{"resolved_by"}),
		workflowRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Workflow runs by workflow and terminal status.",
		}, []string{"workflow", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Workflow step latency by workflow, step and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"workflow", "step", "outcome"}),
		historyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_append_errors_total",
			Help:      "Failed history appends.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.dispatches, m.dispatchDuration, m.resolutions,
		m.workflowRuns, m.stepDuration, m.historyErrors,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDispatch(command, code string, d time.Duration) {
	if m == nil {
		return
	}
	if code == "" {
		code = "ok"
	}
	m.dispatches.WithLabelValues(command, code).Inc()
	m.dispatchDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (m *Metrics) ObserveResolution(resolvedBy string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(resolvedBy).Inc()
}

func (m *Metrics) ObserveWorkflow(workflow, status string) {
	if m == nil {
		return
	}
	m.workflowRuns.WithLabelValues(workflow, status).Inc()
}

func (m *Metrics) ObserveStep(workflow, step string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.stepDuration.WithLabelValues(workflow, step, outcome).Observe(d.Seconds())
}

func (m *Metrics) IncHistoryError() {
	if m == nil {
		return
	}
	m.historyErrors.Inc()
}
