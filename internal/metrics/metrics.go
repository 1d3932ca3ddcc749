package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	recordsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldsync",
			Name:      "records_enqueued_total",
			Help:      "Sync records enqueued by record type.",
		},
		[]string{"record_type", "target"},
	)

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldsync",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by target and outcome.",
		},
		[]string{"target", "outcome"},
	)

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fieldsync",
			Name:      "dispatch_cycles_total",
			Help:      "Dispatch cycles by target.",
		},
		[]string{"target"},
	)

	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fieldsync",
			Name:      "dispatch_cycle_duration_seconds",
			Help:      "Dispatch cycle duration by target.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"target"},
	)
)

// Delivery outcomes used as label values.
const (
	OutcomeSynced = "synced"
	OutcomeRetry  = "retry"
	OutcomeFailed = "failed"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(recordsEnqueued, deliveries, cycles, cycleDuration)
	})
}

// IncEnqueued increments the enqueued counter for a record type and target.
func IncEnqueued(recordType, target string) {
	recordsEnqueued.WithLabelValues(recordType, target).Inc()
}

// IncDelivery increments the delivery counter for a target and outcome.
func IncDelivery(target, outcome string) {
	deliveries.WithLabelValues(target, outcome).Inc()
}

// IncCycle increments the cycle counter for a target.
func IncCycle(target string) {
	cycles.WithLabelValues(target).Inc()
}

// ObserveCycleDuration records the duration of one dispatch cycle.
func ObserveCycleDuration(target string, seconds float64) {
	cycleDuration.WithLabelValues(target).Observe(seconds)
}
