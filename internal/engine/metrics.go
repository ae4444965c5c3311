package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockline_batches_total",
		Help: "Outline batches by result",
	}, []string{"result"})

	batchTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockline_batch_tasks_total",
		Help: "Tasks written by committed batches",
	}, []string{"op"})

	transitionedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blockline_transitioned_tasks_total",
		Help: "Tasks whose archive state changed, by direction and cause",
	}, []string{"direction", "cause"})

	deletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blockline_deleted_tasks_total",
		Help: "Tasks removed by confirmed deletions",
	})

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blockline_operation_duration_seconds",
		Help:    "Engine operation latency",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"op"})

	poolWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blockline_pool_wait_seconds",
		Help:    "Time spent waiting for a worker slot",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)
