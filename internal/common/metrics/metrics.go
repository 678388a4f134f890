// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	IntakeSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_submissions_total",
			Help: "Application submissions by outcome code",
		},
		[]string{"outcome"},
	)

	IntakeCompensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_compensations_total",
			Help: "Compensating application deletes after a failed slot fill",
		},
		[]string{"result"},
	)

	IntakeClaimRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_claim_retries_total",
			Help: "Slot claims retried after losing a race to another submission",
		},
	)

	SlotsFilled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slots_filled",
			Help: "Number of roster slots currently filled",
		},
	)

	ApplicationStatusChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "application_status_changes_total",
			Help: "Application status transitions by target status",
		},
		[]string{"status"},
	)
)
