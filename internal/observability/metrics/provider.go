// Package metrics exposes Prometheus metrics for the application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rioncm/birdsong-go/internal/resilient"
)

// ProviderMetrics records resilient-client telemetry as Prometheus
// metrics. It implements resilient.Recorder.
type ProviderMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestAttempts *prometheus.HistogramVec
}

// NewProviderMetrics creates provider metrics registered on reg.
func NewProviderMetrics(reg prometheus.Registerer) (*ProviderMetrics, error) {
	m := &ProviderMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "birdsong_provider_requests_total",
			Help: "Provider requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "birdsong_provider_request_duration_seconds",
			Help:    "Provider request duration including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		requestAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "birdsong_provider_request_attempts",
			Help:    "Attempts used per provider request.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}, []string{"provider"}),
	}

	for _, c := range []prometheus.Collector{
		m.requestsTotal, m.requestDuration, m.requestAttempts,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Record implements resilient.Recorder.
func (m *ProviderMetrics) Record(rec resilient.RequestRecord) {
	m.requestsTotal.WithLabelValues(rec.Provider, string(rec.Outcome)).Inc()
	m.requestDuration.WithLabelValues(rec.Provider).Observe(rec.Duration.Seconds())
	if rec.Attempts > 0 {
		m.requestAttempts.WithLabelValues(rec.Provider).Observe(float64(rec.Attempts))
	}
}
