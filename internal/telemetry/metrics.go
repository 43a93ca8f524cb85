package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the panel.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	SubmissionsTotal   *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec
	CarrierErrors      *prometheus.CounterVec
}

// NewMetrics creates and registers Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kargopanel_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kargopanel_request_duration_seconds",
				Help:    "HTTP request duration in seconds by endpoint",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		SubmissionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kargopanel_submissions_total",
				Help: "Total shipment submissions by workflow step and outcome",
			},
			[]string{"step", "status"},
		),
		SubmissionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kargopanel_submission_duration_seconds",
				Help:    "Submission workflow duration in seconds by step",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		CarrierErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kargopanel_carrier_errors_total",
				Help: "Total carrier API errors by error code",
			},
			[]string{"code"},
		),
	}
}

// RecordRequest records an HTTP request metric.
func (m *Metrics) RecordRequest(endpoint, status string, duration float64) {
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration)
}

// RecordSubmission records a workflow submission metric.
func (m *Metrics) RecordSubmission(step, status string, duration float64) {
	m.SubmissionsTotal.WithLabelValues(step, status).Inc()
	m.SubmissionDuration.WithLabelValues(step).Observe(duration)
}

// RecordCarrierError records a carrier error metric.
func (m *Metrics) RecordCarrierError(code string) {
	m.CarrierErrors.WithLabelValues(code).Inc()
}
