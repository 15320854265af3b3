package observe

import (
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Metrics is the prometheus metric set for the conversation core.
type Metrics struct {
	registry *prometheus.Registry

	CacheRequests    *prometheus.CounterVec
	TopicAssignments *prometheus.CounterVec
	PipelineRuns     *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
}

// NewMetrics registers the metric set on reg, or on a fresh registry when reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nova",
				Subsystem: "cache",
				Name:      "requests_total",
				Help:      "Cache lookups by result (hit, miss, error).",
			},
			[]string{"result"},
		),
		TopicAssignments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nova",
				Subsystem: "topic",
				Name:      "assignments_total",
				Help:      "Topic assignment outcomes.",
			},
			[]string{"outcome"},
		),
		PipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nova",
				Subsystem: "chain",
				Name:      "runs_total",
				Help:      "Generation pipeline runs by analysis and generation outcome.",
			},
			[]string{"analysis", "generation"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "nova",
				Subsystem: "provider",
				Name:      "call_seconds",
				Help:      "Provider call latency in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "status"},
		),
	}

	reg.MustRegister(m.CacheRequests, m.TopicAssignments, m.PipelineRuns, m.ProviderLatency)
	return m
}

// CacheResult counts a cache lookup.
func (m *Metrics) CacheResult(result string) {
	m.CacheRequests.WithLabelValues(result).Inc()
}

// TopicOutcome counts a topic assignment outcome.
func (m *Metrics) TopicOutcome(outcome string) {
	m.TopicAssignments.WithLabelValues(outcome).Inc()
}

// PipelineRun counts one pipeline invocation.
func (m *Metrics) PipelineRun(analysis, generation string) {
	m.PipelineRuns.WithLabelValues(analysis, generation).Inc()
}

// ObserveProvider records the latency of one provider call.
func (m *Metrics) ObserveProvider(provider string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderLatency.WithLabelValues(provider, status).Observe(d.Seconds())
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteText dumps the registry in the text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
