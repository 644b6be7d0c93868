package infra

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts job orchestration events.
type Metrics interface {
	IncJobSubmitted()
	IncJobCompleted(status string)
	IncPollError()
	IncAssetPersisted()
	IncDurableUploadFailure()
}

// NoopMetrics implements Metrics without emitting anything.
type NoopMetrics struct{}

func (NoopMetrics) IncJobSubmitted()         {}
func (NoopMetrics) IncJobCompleted(string)   {}
func (NoopMetrics) IncPollError()            {}
func (NoopMetrics) IncAssetPersisted()       {}
func (NoopMetrics) IncDurableUploadFailure() {}

// PromMetrics implements Metrics backed by Prometheus counters.
type PromMetrics struct {
	jobsSubmitted  prometheus.Counter
	jobsCompleted  *prometheus.CounterVec
	pollErrors     prometheus.Counter
	assetsSaved    prometheus.Counter
	uploadFailures prometheus.Counter
	once           sync.Once
}

// NewPromMetrics constructs and registers the counters under namespace.
func NewPromMetrics(namespace string) *PromMetrics {
	m := &PromMetrics{
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Video generation jobs submitted",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs reaching a terminal state by status",
		}, []string{"status"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Failed status polls against the provider",
		}),
		assetsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_persisted_total",
			Help:      "Generated assets persisted to storage",
		}),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "durable_upload_failures_total",
			Help:      "Durable uploads that fell back to local storage",
		}),
	}
	m.once.Do(func() {
		prometheus.MustRegister(m.jobsSubmitted, m.jobsCompleted, m.pollErrors, m.assetsSaved, m.uploadFailures)
	})
	return m
}

func (m *PromMetrics) IncJobSubmitted() { m.jobsSubmitted.Inc() }
func (m *PromMetrics) IncJobCompleted(status string) {
	m.jobsCompleted.WithLabelValues(status).Inc()
}
func (m *PromMetrics) IncPollError()            { m.pollErrors.Inc() }
func (m *PromMetrics) IncAssetPersisted()       { m.assetsSaved.Inc() }
func (m *PromMetrics) IncDurableUploadFailure() { m.uploadFailures.Inc() }

// MetricsHandler returns an HTTP handler for /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
