// Package mapping implements the field-mapping decision engine: given a
// page's classified form elements, decide a one-to-one mapping from logical
// field key to a single chosen element.
//
// The pipeline runs in strict sequence against one page:
//
//	main per-field loop -> required rescue -> phone-triplet promotion ->
//	ordered salvage passes -> prefecture-select safety correction
//
// All stages write into one shared mapping session; the registrar inside the
// session is the sole authority for accepting an assignment. No stage runs
// concurrently with another and nothing here needs locking.
//
// Failure policy: nothing in this package propagates an error to the caller.
// A broken candidate is skipped, a broken pass is logged and abandoned, and
// the worst outcome is an incomplete (never inconsistent) mapping.
package mapping

import (
	"log"
	"time"

	"formmap/internal/config"
	"formmap/internal/dom"
	"formmap/internal/fieldspec"
	"formmap/internal/metrics"
	"formmap/internal/required"
	"formmap/internal/score"
)

// Logger is the minimal logging interface used by the engine.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Provenance records which stage produced an assignment.
type Provenance string

const (
	ProvNormal              Provenance = "normal"
	ProvFallback            Provenance = "fallback"
	ProvSalvageEmail        Provenance = "salvage_email"
	ProvSalvageEmailStrict  Provenance = "salvage_email_strict"
	ProvSalvageEmailLabel   Provenance = "salvage_email_label"
	ProvSalvageSubject      Provenance = "salvage_subject"
	ProvSalvagePostalSplit  Provenance = "salvage_postal_split"
	ProvSalvagePostal       Provenance = "salvage_postal"
	ProvSalvagePrefecture   Provenance = "salvage_prefecture"
	ProvSalvageAddress      Provenance = "salvage_address"
	ProvSalvageName         Provenance = "salvage_name"
	ProvForcedEmail         Provenance = "forced_email"
	ProvForcedAddress       Provenance = "forced_address"
	ProvRequiredRescue      Provenance = "required_rescue"
	ProvRequiredRescueSel   Provenance = "required_rescue_select"
	ProvPromoteSplit        Provenance = "promote_split"
	ProvSafetyRemap         Provenance = "safety_remap"
)

// MappedElement is one accepted field assignment.
type MappedElement struct {
	Element   *dom.Element `json:"-"`
	Index     int          `json:"element_index"`
	TagName   string       `json:"tag_name"`
	InputType string       `json:"input_type,omitempty"`
	Name      string       `json:"name,omitempty"`
	ID        string       `json:"id,omitempty"`
	Score     int          `json:"score"`
	Prov      Provenance   `json:"provenance"`
	Required  bool         `json:"required"`

	// AutoAction directives for the downstream value writer.
	// "copy_from": write the value of CopyFromField instead of generating one.
	AutoAction    string `json:"auto_action,omitempty"`
	CopyFromField string `json:"copy_from_field,omitempty"`
}

// FieldMapping is the pipeline output: logical field key to chosen element,
// with insertion order preserved for deterministic output.
type FieldMapping struct {
	entries map[string]MappedElement
	order   []string
}

// NewFieldMapping creates an empty mapping.
func NewFieldMapping() *FieldMapping {
	return &FieldMapping{entries: make(map[string]MappedElement)}
}

// Get returns the assignment for key.
func (m *FieldMapping) Get(key string) (MappedElement, bool) {
	e, ok := m.entries[key]
	return e, ok
}

// Has reports whether key is mapped.
func (m *FieldMapping) Has(key string) bool {
	_, ok := m.entries[key]
	return ok
}

// Len returns the number of assignments.
func (m *FieldMapping) Len() int { return len(m.entries) }

// Keys returns the mapping keys in insertion order.
func (m *FieldMapping) Keys() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// put inserts or replaces an assignment. Internal: all external writes go
// through the session registrar.
func (m *FieldMapping) put(key string, e MappedElement) {
	if _, ok := m.entries[key]; !ok {
		m.order = append(m.order, key)
	}
	m.entries[key] = e
}

// remove deletes an assignment, preserving relative order of the rest.
func (m *FieldMapping) remove(key string) {
	if _, ok := m.entries[key]; !ok {
		return
	}
	delete(m.entries, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// HasElement reports whether the given arena index is mapped under any key.
func (m *FieldMapping) HasElement(index int) bool {
	for _, e := range m.entries {
		if e.Index == index {
			return true
		}
	}
	return false
}

// Engine wires the pipeline's collaborators. Respecting the zero value is
// deliberate: only Settings is mandatory, everything else defaults.
type Engine struct {
	Settings config.Settings

	// Scorer is the quick/detailed scoring collaborator. Nil means a default
	// score.Scorer wired to the run's required set.
	Scorer Scorer

	// Logger receives stage logs. Nil discards.
	Logger Logger

	// Metrics receives per-stage counters. Nil discards.
	Metrics metrics.Backend
}

// Scorer is the scoring seam, satisfied by *score.Scorer.
type Scorer interface {
	Quick(el *dom.Element, p *fieldspec.Pattern, kind fieldspec.FieldKind) int
	Detailed(el *dom.Element, p *fieldspec.Pattern, kind fieldspec.FieldKind) (int, score.Details)
}

func (e *Engine) logf(format string, v ...any) {
	if e.Logger == nil {
		return
	}
	e.Logger.Printf(format, v...)
}

func (e *Engine) count(name string, labels metrics.Labels) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.IncCounter(name, 1, labels)
}

func (e *Engine) observe(name string, v float64, labels metrics.Labels) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.ObserveHistogram(name, v, labels)
}

// NewEngine creates an engine with production defaults and stderr logging.
func NewEngine(settings config.Settings) *Engine {
	return &Engine{
		Settings: settings,
		Logger:   log.New(log.Writer(), "mapping: ", 0),
	}
}

// MapFields runs the whole pipeline for one page and returns the final
// mapping. It never returns an error: per-pass failures are logged and the
// pipeline proceeds with what it has.
func (e *Engine) MapFields(classified *dom.Classified, req required.Analysis) *FieldMapping {
	start := time.Now()
	sess := newSession(e, classified, req)

	e.runMainLoop(sess)
	e.logf("stage=main_loop ok mapped=%d", sess.mapping.Len())

	// Fixed post-loop order. Each stage is idempotent and a no-op when its
	// precondition is absent.
	e.runPass(sess, "required_rescue", e.requiredRescue)
	e.runPass(sess, "promote_phone_split", e.promotePhoneSplit)
	e.runPass(sess, "promote_postal_split", e.promotePostalSplit)
	e.runSalvagePasses(sess)
	e.runPass(sess, "prefecture_select_correction", e.correctPrefectureSelect)

	e.logf("stage=pipeline ok mapped=%d used=%d", sess.mapping.Len(), len(sess.used))
	e.count(metrics.MetricPagesTotal, nil)
	e.observe(metrics.MetricMapDuration, time.Since(start).Seconds(), nil)
	return sess.mapping
}

// runPass executes one pass behind a recover boundary: a failing pass must
// not block subsequent passes or corrupt the mapping built so far.
func (e *Engine) runPass(sess *session, name string, pass func(*session)) {
	defer func() {
		if r := recover(); r != nil {
			e.logf("stage=%s skip panic=%v", name, r)
			e.count(metrics.MetricPassPanics, metrics.Labels{"pass": name})
		}
	}()
	pass(sess)
	e.logf("stage=%s ok mapped=%d", name, sess.mapping.Len())
}
