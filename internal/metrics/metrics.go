package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pipeline metrics
	eventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paymesh_events_handled_total",
			Help: "Total number of events handled successfully",
		},
		[]string{"pipeline", "event_type"},
	)

	eventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paymesh_events_failed_total",
			Help: "Total number of events whose handling failed, by failure class",
		},
		[]string{"pipeline", "event_type", "reason"},
	)

	blocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paymesh_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
		[]string{"pipeline"},
	)

	blockProcessingTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paymesh_block_processing_duration_seconds",
			Help:    "Time taken to process all events of one block",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline"},
	)

	checkpointPosition = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paymesh_checkpoint_position",
			Help: "Last fully processed block per consumer",
		},
		[]string{"consumer"},
	)

	sourceHead = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paymesh_source_head_block",
			Help: "Latest block the source may read up to under its finality mode",
		},
		[]string{"pipeline"},
	)

	// Correlation and settlement metrics
	correlations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paymesh_correlations_total",
			Help: "Token transfers by correlation outcome",
		},
		[]string{"outcome"},
	)

	distributions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paymesh_distributions_total",
			Help: "Distribution trigger calls by outcome",
		},
		[]string{"outcome"},
	)

	distributionTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paymesh_distribution_duration_seconds",
			Help:    "Duration of distribution trigger calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paymesh_reconciliations_total",
			Help: "Unsettled transfers visited by the reconciliation job, by outcome",
		},
		[]string{"outcome"},
	)

	unsettledTransfers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "paymesh_unsettled_transfers",
			Help: "Token transfers awaiting settlement at the last reconciliation pass",
		},
	)

	// Notifier metrics
	notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paymesh_notifications_total",
			Help: "Webhook deliveries by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "paymesh_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paymesh_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "paymesh_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paymesh_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func EventHandledInc(pipeline, eventType string) {
	eventsHandled.WithLabelValues(pipeline, eventType).Inc()
}

func EventFailedInc(pipeline, eventType, reason string) {
	eventsFailed.WithLabelValues(pipeline, eventType, reason).Inc()
}

func BlockProcessedLog(pipeline string, duration time.Duration) {
	blocksProcessed.WithLabelValues(pipeline).Inc()
	blockProcessingTime.WithLabelValues(pipeline).Observe(duration.Seconds())
}

func CheckpointPositionSet(consumer string, position uint64) {
	checkpointPosition.WithLabelValues(consumer).Set(float64(position))
}

func SourceHeadSet(pipeline string, head uint64) {
	sourceHead.WithLabelValues(pipeline).Set(float64(head))
}

func CorrelationInc(outcome string) {
	correlations.WithLabelValues(outcome).Inc()
}

func DistributionLog(outcome string, duration time.Duration) {
	distributions.WithLabelValues(outcome).Inc()
	distributionTime.Observe(duration.Seconds())
}

func ReconciliationInc(outcome string) {
	reconciliations.WithLabelValues(outcome).Inc()
}

func UnsettledTransfersSet(n int) {
	unsettledTransfers.Set(float64(n))
}

func NotificationInc(kind, outcome string) {
	notifications.WithLabelValues(kind, outcome).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
