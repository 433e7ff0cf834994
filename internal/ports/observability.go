package ports

import "github.com/matthiasnowak/villasnode/internal/domain"

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name, path string, v float64)
	ObserveLatency(name, path string, seconds float64)

	SetGauge(name, path string, v float64)

	RecordHookError(path, hook string, s *domain.Sample)
}

type Field struct {
	Key   string
	Value any
}

// Metric names shared by the pipeline and observability backends.
const (
	MetricReceived      = "villas_samples_received_total"
	MetricProcessed     = "villas_samples_processed_total"
	MetricSkipped       = "villas_samples_skipped_total"
	MetricHookErrors    = "villas_hook_errors_total"
	MetricOverflow      = "villas_queue_overflow_total"
	MetricLost          = "villas_samples_lost_total"
	MetricWritten       = "villas_samples_written_total"
	MetricPoolExhausted = "villas_pool_exhausted_total"
	MetricHalts         = "villas_path_halts_total"
	// node metrics use the node name as path label
	MetricNodeDropped = "villas_node_dropped_total"

	GaugeQueueLength = "villas_queue_length"
	GaugePoolFree    = "villas_pool_free_blocks"
	GaugePathState   = "villas_path_state"
	GaugeNodeClients = "villas_node_clients"

	LatencyWrite = "villas_write_latency_seconds"
)
