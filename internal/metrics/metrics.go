// Package metrics holds the prometheus collectors for calls, tool calls and
// qualification runs. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	CallsActive       prometheus.Gauge
	CallsTotal        *prometheus.CounterVec
	CallDuration      prometheus.Histogram
	ToolCallsTotal    *prometheus.CounterVec
	QualificationRuns *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "leadcrm"
	}
	registry := prometheus.NewRegistry()

	callsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "calls_active",
		Help:      "Number of call lifecycles not yet terminated",
	})
	callsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "calls_total",
		Help:      "Terminated call lifecycles by outcome",
	}, []string{"outcome"})
	callDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "call_duration_seconds",
		Help:      "Connected call duration in seconds",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
	})
	toolCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Agent tool calls by tool and result",
	}, []string{"tool", "result"})
	qualRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "qualification_runs_total",
		Help:      "Transcript extraction and simulation runs by kind and result",
	}, []string{"kind", "result"})
	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"method", "route", "status"})
	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	registry.MustRegister(callsActive, callsTotal, callDuration, toolCalls, qualRuns, httpRequests, httpDuration)

	return &Metrics{
		registry:          registry,
		CallsActive:       callsActive,
		CallsTotal:        callsTotal,
		CallDuration:      callDuration,
		ToolCallsTotal:    toolCalls,
		QualificationRuns: qualRuns,
		HTTPRequests:      httpRequests,
		HTTPDuration:      httpDuration,
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.CallsActive.Inc()
}

// CallFinished records a terminated lifecycle. duration is zero for calls
// that never connected.
func (m *Metrics) CallFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.CallDuration.Observe(duration.Seconds())
	}
}

func (m *Metrics) ToolCall(tool string, ok bool) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, result(ok)).Inc()
}

func (m *Metrics) QualificationRun(kind, res string) {
	if m == nil {
		return
	}
	m.QualificationRuns.WithLabelValues(kind, res).Inc()
}

func (m *Metrics) HTTPRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
