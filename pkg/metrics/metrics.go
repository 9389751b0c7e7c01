// Package metrics provides Prometheus observability for the shuffle read
// path. Per-reader timing counters remain the source of truth for the engine;
// the collectors here aggregate the same phase timings process-wide so
// operators can watch decompression, framing, and deserialization cost across
// all partitions of a stage.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Read phases instrumented on every block.
const (
	PhaseDecompress  = "decompress"
	PhaseIPC         = "ipc"
	PhaseDeserialize = "deserialize"
)

var (
	// BlocksRead counts data blocks successfully delivered, by codec.
	BlocksRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quasar",
			Subsystem: "shuffle",
			Name:      "blocks_read_total",
			Help:      "Total shuffle data blocks delivered to callers",
		},
		[]string{"codec"},
	)

	// BytesRead counts payload bytes, labelled compressed/uncompressed.
	BytesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quasar",
			Subsystem: "shuffle",
			Name:      "bytes_read_total",
			Help:      "Total shuffle block bytes processed",
		},
		[]string{"kind"},
	)

	// ReadErrors counts unrecoverable read failures by error type.
	ReadErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quasar",
			Subsystem: "shuffle",
			Name:      "read_errors_total",
			Help:      "Total unrecoverable shuffle read failures",
		},
		[]string{"type"},
	)

	// PhaseDuration tracks per-phase latency across all readers.
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quasar",
			Subsystem: "shuffle",
			Name:      "phase_duration_seconds",
			Help:      "Latency of one shuffle read phase for one block",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 12),
		},
		[]string{"phase"},
	)
)

// Timer measures one phase of one block read.
type Timer struct {
	phase string
	start time.Time
}

// StartTimer begins timing the given phase.
func StartTimer(phase string) *Timer {
	return &Timer{phase: phase, start: time.Now()}
}

// Stop records the elapsed time to the phase histogram and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	PhaseDuration.WithLabelValues(t.phase).Observe(d.Seconds())
	return d
}

// ObservePhase records an externally measured phase duration.
func ObservePhase(phase string, d time.Duration) {
	PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}
