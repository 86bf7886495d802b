// Package metrics is the thin instrumentation facade the pipeline records
// against. Components depend only on Backend; the concrete sink (Datadog,
// or nothing) is wired at startup.
package metrics

import "time"

// Labels are free-form metric dimensions.
type Labels map[string]string

// Backend receives measurements. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush submits anything buffered. Close stops background work and
	// flushes one final time.
	Flush() error
	Close() error
}

// Canonical metric names. Backends may remap them to their own naming
// scheme but the pipeline only ever emits these.
const (
	MetricStageTotal           = "ingest_stage_total"
	MetricStageDurationSeconds = "ingest_stage_duration_seconds"
	MetricRowsTotal            = "ingest_rows_total"
	MetricChunksTotal          = "ingest_chunks_total"
	MetricSessionsTotal        = "ingest_sessions_total"
)

// Nop discards everything. The default when no sink is configured, so call
// sites never nil-check.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Flush() error                             { return nil }
func (Nop) Close() error                             { return nil }

var _ Backend = Nop{}

// Stage records one pipeline stage outcome with its duration.
func Stage(b Backend, stage, status string, d time.Duration) {
	l := Labels{"stage": stage, "status": status}
	b.IncCounter(MetricStageTotal, 1, l)
	b.ObserveHistogram(MetricStageDurationSeconds, d.Seconds(), l)
}

// Rows records row outcomes (kind: inserted, updated, skipped, error).
func Rows(b Backend, kind string, n int) {
	if n <= 0 {
		return
	}
	b.IncCounter(MetricRowsTotal, float64(n), Labels{"kind": kind})
}

// Chunk records one committed write chunk.
func Chunk(b Backend) {
	b.IncCounter(MetricChunksTotal, 1, nil)
}

// Session records a session reaching a terminal status.
func Session(b Backend, status string) {
	b.IncCounter(MetricSessionsTotal, 1, Labels{"status": status})
}
