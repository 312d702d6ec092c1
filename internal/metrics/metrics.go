// Package metrics defines the backend-agnostic metrics surface used by the
// mapping pipeline.
//
// Design goals (intentionally opinionated):
//   - The mapping core depends only on Backend; no Datadog-specific code
//     leaks into decision logic.
//   - Writes must be cheap and safe to sprinkle through hot loops; backends
//     buffer in memory and submit on their own schedule.
//   - A nil-safe no-op default keeps tests and offline runs silent.
package metrics

// Labels carries low-cardinality metric dimensions ("field", "prov", "pass").
type Labels map[string]string

// Backend receives counters and distribution samples.
//
// Implementations must be safe for concurrent use: the CLI analyzes pages on
// one goroutine, but the flusher runs on another.
type Backend interface {
	// IncCounter adds delta to a named counter. Non-positive deltas are ignored.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample of a distribution (durations,
	// scores). Negative values are ignored.
	ObserveHistogram(name string, value float64, labels Labels)

	// Close flushes buffered data and releases resources. Call once.
	Close() error
}

// Metric names emitted by the pipeline. Kept here so backends can switch on
// a closed set instead of parsing strings.
const (
	MetricPagesTotal       = "formmap_pages_total"
	MetricFieldsMapped     = "formmap_fields_mapped_total"
	MetricSafeguardRejects = "formmap_safeguard_rejects_total"
	MetricFilterRejects    = "formmap_filter_rejects_total"
	MetricRescueTotal      = "formmap_rescue_total"
	MetricPassPanics       = "formmap_pass_panics_total"
	MetricMapDuration      = "formmap_map_duration_seconds"
	MetricFieldScore       = "formmap_field_score"
)

// Nop is the default backend: it drops everything.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Close() error                             { return nil }

var _ Backend = Nop{}
