package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the process metrics. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	analyses        *prometheus.CounterVec
	analysisLatency *prometheus.HistogramVec
	events          *prometheus.CounterVec
	requests        *prometheus.CounterVec
}

// New creates a recorder backed by its own registry, with Go runtime and
// process collectors included.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		analyses: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "abgoat",
				Name:      "analyses_total",
				Help:      "Analyses run, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		analysisLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "abgoat",
				Name:      "analysis_duration_seconds",
				Help:      "Duration of analyses in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "abgoat",
				Name:      "events_recorded_total",
				Help:      "Beacon events accepted, by type",
			},
			[]string{"type"},
		),
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "abgoat",
				Name:      "http_requests_total",
				Help:      "HTTP requests, by route pattern and status",
			},
			[]string{"route", "method", "status"},
		),
	}
}

// Registry returns the registry to expose on /metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordAnalysis counts one analysis and observes its duration.
func (r *Recorder) RecordAnalysis(kind string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.analyses.WithLabelValues(kind, outcome).Inc()
	r.analysisLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordEvent counts an accepted beacon event.
func (r *Recorder) RecordEvent(eventType string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(eventType).Inc()
}

// RecordRequest counts a served HTTP request.
func (r *Recorder) RecordRequest(route, method, status string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(route, method, status).Inc()
}
