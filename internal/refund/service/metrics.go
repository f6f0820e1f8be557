package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gatewayAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refund_gateway_attempts_total",
			Help: "Total number of gateway refund attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome", "code"},
	)

	gatewayAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refund_gateway_attempt_duration_seconds",
			Help:    "Gateway refund attempt duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"strategy"},
	)

	refundResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refund_results_total",
			Help: "Refund pipeline results by final state",
		},
		[]string{"state"},
	)

	retryQueueEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refund_retry_enqueued_total",
			Help: "Refunds deferred to the retry queue by priority",
		},
		[]string{"priority"},
	)

	settlementDivergenceTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refund_settlement_divergence_total",
			Help: "Gateway-accepted refunds whose local settlement failed",
		},
	)

	notificationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refund_notification_failures_total",
			Help: "Refund notifications that could not be dispatched",
		},
	)
)
