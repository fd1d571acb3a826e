package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seckill",
		Name:      "admissions_total",
		Help:      "Submit results by outcome (accepted or reject reason).",
	}, []string{"result"})

	pipelineOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seckill",
		Name:      "pipeline_outcomes_total",
		Help:      "Reservations that reached a terminal state.",
	}, []string{"state"})

	compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seckill",
		Name:      "compensations_total",
		Help:      "Compensations by failure kind.",
	}, []string{"kind"})

	compensationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seckill",
		Name:      "compensation_errors_total",
		Help:      "Compensation steps that failed and need attention.",
	}, []string{"step"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "seckill",
		Name:      "order_queue_depth",
		Help:      "Reservations waiting for materialization.",
	})

	materializeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "seckill",
		Name:      "materialize_duration_seconds",
		Help:      "Time spent turning a reservation into an order.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	sweptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seckill",
		Name:      "swept_records_total",
		Help:      "Expired records removed by maintenance.",
	}, []string{"kind"})
)
