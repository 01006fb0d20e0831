package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_cycle_duration_seconds",
			Help:    "End-to-end duration of one reconciliation cycle",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"label_id", "outcome"}, // outcome: remote, no_more, fallback
	)

	RemoteFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_fetch_total",
			Help: "Total remote API fetches",
		},
		[]string{"endpoint", "status"}, // status: success, error
	)

	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mutations_total",
			Help: "Total optimistic local mutations applied",
		},
		[]string{"op"}, // op: mark_read, mark_unread, star, unstar, move
	)

	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	OutboxPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_total",
			Help: "Outbox events published to MQ",
		},
		[]string{"status"}, // status: sent, failed
	)
)

func RecordSyncCycle(labelID, outcome string, duration time.Duration) {
	SyncCycleDuration.WithLabelValues(labelID, outcome).Observe(duration.Seconds())
}

func RecordRemoteFetch(endpoint, status string) {
	RemoteFetchTotal.WithLabelValues(endpoint, status).Inc()
}

func IncrementMutation(op string) {
	MutationsTotal.WithLabelValues(op).Inc()
}

func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func IncrementOutboxPublish(status string) {
	OutboxPublishTotal.WithLabelValues(status).Inc()
}
