package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Issuance metrics
	issuanceStartedTotal   *prometheus.CounterVec
	issuanceCompletedTotal *prometheus.CounterVec
	issuanceDuration       *prometheus.HistogramVec

	// Provisioning metrics
	provisioningFailuresTotal *prometheus.CounterVec

	// Registry gauges, refreshed from Aggregate()
	accountsByStatus *prometheus.GaugeVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// IssuanceMetrics provides methods to record key issuance metrics.
type IssuanceMetrics struct{}

// NewIssuanceMetrics creates a new IssuanceMetrics instance.
// Metrics are lazily registered on first use.
func NewIssuanceMetrics() *IssuanceMetrics {
	return &IssuanceMetrics{}
}

// InitMetrics initializes all Prometheus metrics.
// This should be called once at startup if Prometheus metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		issuanceStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keywarden_issuance_started_total",
				Help: "Total number of key issuance operations started",
			},
			[]string{"operation"},
		)

		issuanceCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keywarden_issuance_completed_total",
				Help: "Total number of key issuance operations completed",
			},
			[]string{"operation", "status"},
		)

		issuanceDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keywarden_issuance_duration_seconds",
				Help:    "Duration of key issuance operations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation"},
		)

		provisioningFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keywarden_provisioning_failures_total",
				Help: "Total number of remote public-key provisioning failures",
			},
			[]string{"operation"},
		)

		accountsByStatus = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "keywarden_accounts",
				Help: "Service accounts tracked in the registry, by lifecycle status",
			},
			[]string{"status"},
		)

		metricsRegistered = true
	})
}

// RecordIssuanceStarted records the start of a generate or rotate call.
func (m *IssuanceMetrics) RecordIssuanceStarted(operation string) {
	if !metricsRegistered || issuanceStartedTotal == nil {
		return
	}
	issuanceStartedTotal.WithLabelValues(operation).Inc()
}

// RecordIssuanceCompleted records the outcome of a generate or rotate
// call. Status is one of "success", "partial", "failure".
func (m *IssuanceMetrics) RecordIssuanceCompleted(operation, status string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}

	if issuanceCompletedTotal != nil {
		issuanceCompletedTotal.WithLabelValues(operation, status).Inc()
	}

	if issuanceDuration != nil {
		issuanceDuration.WithLabelValues(operation).Observe(durationSeconds)
	}
}

// RecordProvisioningFailure records a failed or timed-out remote
// provisioning attempt.
func (m *IssuanceMetrics) RecordProvisioningFailure(operation string) {
	if !metricsRegistered || provisioningFailuresTotal == nil {
		return
	}
	provisioningFailuresTotal.WithLabelValues(operation).Inc()
}

// SetAccountsByStatus refreshes the per-status registry gauges.
func (m *IssuanceMetrics) SetAccountsByStatus(status string, count int) {
	if !metricsRegistered || accountsByStatus == nil {
		return
	}
	accountsByStatus.WithLabelValues(status).Set(float64(count))
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}
