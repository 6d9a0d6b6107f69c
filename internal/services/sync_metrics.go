package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 同步指标
var (
	syncCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kbsync_sync_cycles_total",
			Help: "Total synchronization cycles by result",
		},
		[]string{"result"},
	)

	syncDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kbsync_sync_duration_seconds",
			Help:    "Duration of successful synchronization cycles",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	vectorsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kbsync_vectors_deleted_total",
			Help: "Total vectors deleted during resync cleanup",
		},
	)

	chunksUpsertedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kbsync_chunks_upserted_total",
			Help: "Total vector chunks upserted",
		},
	)
)
