// Package metrics exposes the federator's Prometheus counters and gauges
// via promhttp, the way a production Go service exposes /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "federator_records_forwarded_total",
		Help: "Records released by the filter engine and sent to a consumer.",
	}, []string{"client_id", "topic"})

	RecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "federator_records_dropped_total",
		Help: "Records dropped by the header filter engine.",
	}, []string{"client_id", "topic"})

	FilesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "federator_files_completed_total",
		Help: "Files successfully assembled and published.",
	}, []string{"client_id", "topic"})

	FilesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "federator_files_failed_total",
		Help: "Files that failed integrity verification during assembly.",
	}, []string{"client_id", "topic"})

	StreamWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "federator_stream_warnings_total",
		Help: "StreamWarning events emitted by the producer file stream service.",
	}, []string{"topic", "reason"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "federator_circuit_breaker_state",
		Help: "Circuit breaker state per operation (0=closed, 1=half-open, 2=open).",
	}, []string{"operation"})

	OffsetLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "federator_offset_lag",
		Help: "Difference between the producer's latest local offset and the consumer's persisted offset, when known.",
	}, []string{"client_id", "topic"})

	ConductorRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "federator_conductor_retries_total",
		Help: "Retry attempts made by a streaming conductor after a transport error.",
	}, []string{"server_name", "topic"})
)

// Handler returns the promhttp handler for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
