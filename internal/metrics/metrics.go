package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts transformation submissions by result.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photoremix",
		Name:      "submissions_total",
		Help:      "Transformation submissions by result (accepted, insufficient_credits, invalid, error).",
	}, []string{"result"})

	// GenerationsTotal counts finished background steps by outcome.
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photoremix",
		Name:      "generations_total",
		Help:      "Background generation steps by outcome.",
	}, []string{"outcome"})

	// GenerationDuration tracks time spent in the generative image service.
	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "photoremix",
		Name:      "generation_duration_seconds",
		Help:      "Generative image call duration in seconds.",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 120, 300},
	}, []string{"outcome"})

	// RetriesTotal counts retries by kind (auto, manual) and whether they were scheduled.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photoremix",
		Name:      "retries_total",
		Help:      "Generation retries by kind and result.",
	}, []string{"kind", "result"})

	// CreditsTotal counts credit movements by reason.
	CreditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photoremix",
		Name:      "credits_total",
		Help:      "Credits moved by reason (reserved, refunded, purchased, granted).",
	}, []string{"reason"})

	// WebhookRequestsTotal counts payment webhook requests by event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "photoremix",
		Name:      "webhook_requests_total",
		Help:      "Payment webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks payment webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "photoremix",
		Name:      "webhook_duration_seconds",
		Help:      "Payment webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// AssetsByStatus tracks originals per generation status.
	AssetsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "photoremix",
		Name:      "assets_by_status",
		Help:      "Number of original assets by generation status.",
	}, []string{"status"})

	// QueueDepth tracks ids waiting in the task queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "photoremix",
		Name:      "queue_depth",
		Help:      "Task ids waiting to be executed, by backend.",
	}, []string{"backend"})
)
