// Package metrics provides observability for the proxy pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the request pipeline.
type Metrics struct {
	// Request outcomes by dataset and outcome (allowed, denied, error).
	RequestOutcome *prometheus.CounterVec

	// Full pipeline latency, including the upstream call.
	PipelineLatency prometheus.Histogram

	// Upstream call latency on its own.
	UpstreamLatency prometheus.Histogram

	// Leaf fields stripped from upstream responses, by dataset.
	FieldsRemoved *prometheus.CounterVec
}

// New creates a Metrics instance with all pipeline metrics registered.
func New() *Metrics {
	return &Metrics{
		RequestOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hc_proxy_request_outcomes_total",
			Help: "Total request outcomes by dataset and outcome",
		}, []string{"dataset", "outcome"}),

		PipelineLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hc_proxy_pipeline_duration_seconds",
			Help:    "Duration of the full request pipeline including the upstream call",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		UpstreamLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hc_proxy_upstream_duration_seconds",
			Help:    "Duration of Haal Centraal upstream calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		FieldsRemoved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hc_proxy_fields_removed_total",
			Help: "Leaf fields stripped from upstream responses by dataset",
		}, []string{"dataset"}),
	}
}

// IncrementOutcome records a request outcome.
func (m *Metrics) IncrementOutcome(dataset, outcome string) {
	if m != nil {
		m.RequestOutcome.WithLabelValues(dataset, outcome).Inc()
	}
}

// ObservePipelineLatency records the total pipeline duration.
func (m *Metrics) ObservePipelineLatency(d time.Duration) {
	if m != nil {
		m.PipelineLatency.Observe(d.Seconds())
	}
}

// ObserveUpstreamLatency records one upstream call duration.
func (m *Metrics) ObserveUpstreamLatency(d time.Duration) {
	if m != nil {
		m.UpstreamLatency.Observe(d.Seconds())
	}
}

// AddFieldsRemoved records how many leaves filtering stripped.
func (m *Metrics) AddFieldsRemoved(dataset string, n int) {
	if m != nil && n > 0 {
		m.FieldsRemoved.WithLabelValues(dataset).Add(float64(n))
	}
}
