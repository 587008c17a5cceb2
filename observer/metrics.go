package observer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsObserver records latency and outcome counters for every wrapped
// operation, following the same promauto-registered HistogramVec/CounterVec
// pattern the teacher's tracing package uses for its own instrumentation.
type MetricsObserver struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

// NewMetricsObserver registers its metrics under namespace (default
// "shardrelay" when empty) and returns an Observer ready to add to a Chain.
func NewMetricsObserver(namespace string) *MetricsObserver {
	if namespace == "" {
		namespace = "shardrelay"
	}
	return &MetricsObserver{
		duration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of a TransactionRunner-executed operation in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"shard", "entity_class", "dao_class", "op_variant"},
		),
		outcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of operations executed, labeled by outcome.",
			},
			[]string{"shard", "entity_class", "dao_class", "op_variant", "outcome"},
		),
	}
}

func (o *MetricsObserver) Observe(ctx context.Context, rec Record, next Continuation) (interface{}, error) {
	start := time.Now()
	result, err := next(ctx)
	elapsed := time.Since(start).Seconds()

	labels := prometheus.Labels{
		"shard":        rec.ShardName,
		"entity_class": rec.EntityClassName,
		"dao_class":    rec.DAOClassName,
		"op_variant":   rec.OperationVariant,
	}
	o.duration.With(labels).Observe(elapsed)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	o.outcomes.With(prometheus.Labels{
		"shard":        rec.ShardName,
		"entity_class": rec.EntityClassName,
		"dao_class":    rec.DAOClassName,
		"op_variant":   rec.OperationVariant,
		"outcome":      outcome,
	}).Inc()

	return result, err
}
