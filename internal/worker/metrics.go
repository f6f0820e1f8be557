package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	replaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refund_retry_replays_total",
			Help: "Queue entries replayed by the retry worker, by resulting status",
		},
		[]string{"status"},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refund_retry_replay_duration_seconds",
			Help:    "Duration of a single queue entry replay",
			Buckets: prometheus.DefBuckets,
		},
	)

	stalledRecoveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refund_stalled_requests_recovered_total",
			Help: "Refund requests left in flight by a stopped process and recovered by the worker",
		},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "refund_retry_queue_entries",
			Help: "Retry queue entries by status",
		},
		[]string{"status"},
	)
)
