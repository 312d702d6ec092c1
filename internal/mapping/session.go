package mapping

import (
	"fmt"

	"formmap/internal/dom"
	"formmap/internal/fieldspec"
	"formmap/internal/metrics"
	"formmap/internal/required"
	"formmap/internal/score"
)

// session holds the mutable state of one page analysis: the mapping under
// construction, the used-element set, and the duplicate-prevention registry.
// It is owned by a single goroutine and discarded after the page.
type session struct {
	engine     *Engine
	classified *dom.Classified
	req        required.Analysis
	scorer     Scorer

	mapping *FieldMapping
	// used tracks consumed arena indices; one element maps to at most one key.
	used map[int]struct{}
	// tempValues is the registrar's value ledger for the downstream writer:
	// every registration claims the placeholder it will later write. Today's
	// placeholder is one-to-one with the key, so the collision branch only
	// backs up the dup-key check; it becomes load-bearing the moment
	// generateTempFieldValue emits writer-real values.
	tempValues map[string]string // value -> key that owns it

	essentials map[string]struct{}
	// essentialDone tracks which essential fields are satisfied, feeding the
	// threshold policy.
	essentialDone map[string]struct{}

	// counters for synthetic key suffixes
	autoTextN   int
	autoSelectN int
	autoConfN   int
}

func newSession(e *Engine, classified *dom.Classified, req required.Analysis) *session {
	s := &session{
		engine:        e,
		classified:    classified,
		req:           req,
		mapping:       NewFieldMapping(),
		used:          make(map[int]struct{}),
		tempValues:    make(map[string]string),
		essentials:    e.Settings.EssentialSet(),
		essentialDone: make(map[string]struct{}),
	}

	s.scorer = e.Scorer
	if s.scorer == nil {
		s.scorer = &score.Scorer{
			RequiredBoost:      e.Settings.RequiredBoost,
			RequiredPhoneBoost: e.Settings.RequiredPhoneBoost,
			Required:           req.Has,
		}
	}
	return s
}

func (s *session) isUsed(el *dom.Element) bool {
	_, ok := s.used[el.Index]
	return ok
}

// allEssentialsDone reports whether every configured essential field (or a
// sibling covering it) is satisfied. Name-family keys cover for each other:
// a form has either split names or a unified name, never both.
func (s *session) allEssentialsDone() bool {
	for key := range s.essentials {
		if s.essentialSatisfied(key) {
			continue
		}
		return false
	}
	return true
}

func (s *session) essentialSatisfied(key string) bool {
	if _, ok := s.essentialDone[key]; ok {
		return true
	}
	if s.mapping.Has(key) {
		return true
	}
	switch fieldspec.KindOf(key) {
	case fieldspec.KindLastName, fieldspec.KindFirstName, fieldspec.KindFullName:
		return s.mapping.Has(fieldspec.KeyFullName) ||
			(s.mapping.Has(fieldspec.KeyLastName) && s.mapping.Has(fieldspec.KeyFirstName))
	case fieldspec.KindLastNameKana, fieldspec.KindFirstNameKana,
		fieldspec.KindLastNameHira, fieldspec.KindFirstNameHira,
		fieldspec.KindFullNameKana:
		// Kana variants are alternatives; any one satisfies the family.
		return s.mapping.Has(fieldspec.KeyFullNameKana) ||
			(s.mapping.Has(fieldspec.KeyLastNameKana) && s.mapping.Has(fieldspec.KeyFirstNameKana)) ||
			(s.mapping.Has(fieldspec.KeyLastNameHira) && s.mapping.Has(fieldspec.KeyFirstNameHira))
	}
	return false
}

// generateTempFieldValue mints the placeholder the downstream value writer
// later replaces. The placeholder doubles as the registrar's collision key.
func generateTempFieldValue(key string) string {
	return "{{" + key + "}}"
}

// register is the duplicate-prevention authority: it accepts or rejects the
// final registration of a field -> element assignment.
//
// Rejection reasons:
//   - the key is already mapped (first writer wins within a pass sequence)
//   - the element is already consumed by another key
//   - the placeholder value collides with one registered under another key
//     (redundant with the dup-key check while placeholders mirror keys; kept
//     so a future value generator cannot silently double-write)
//
// On success the element is marked used and, if the key is essential, the
// field is marked completed.
func (s *session) register(key string, el *dom.Element, sc int, prov Provenance) bool {
	if s.mapping.Has(key) {
		return false
	}
	if s.isUsed(el) {
		return false
	}
	temp := generateTempFieldValue(key)
	if owner, ok := s.tempValues[temp]; ok && owner != key {
		return false
	}

	me := MappedElement{
		Element:   el,
		Index:     el.Index,
		TagName:   el.Info.TagName,
		InputType: el.Info.Type,
		Name:      el.Info.Name,
		ID:        el.Info.ID,
		Score:     sc,
		Prov:      prov,
		Required:  s.req.Has(el.Identity()),
	}
	s.mapping.put(key, me)
	s.used[el.Index] = struct{}{}
	s.tempValues[temp] = key

	if _, ok := s.essentials[key]; ok {
		s.essentialDone[key] = struct{}{}
	}

	s.engine.logf("register key=%s idx=%d name=%q score=%d prov=%s required=%t",
		key, el.Index, el.Info.Name, sc, prov, me.Required)
	s.engine.count(metrics.MetricFieldsMapped, metrics.Labels{"field": key, "prov": string(prov)})
	s.engine.observe(metrics.MetricFieldScore, float64(sc), metrics.Labels{"field": key})
	return true
}

// registerDirective registers a synthetic copy-from assignment (confirmation
// email fields must mirror the email value, never get their own).
func (s *session) registerDirective(key string, el *dom.Element, sc int, prov Provenance, copyFrom string) bool {
	if !s.register(key, el, sc, prov) {
		return false
	}
	me, _ := s.mapping.Get(key)
	me.AutoAction = "copy_from"
	me.CopyFromField = copyFrom
	s.mapping.put(key, me)
	return true
}

// unregister removes an assignment and frees its element. Only the split
// promotion and safety corrections use this.
func (s *session) unregister(key string) {
	me, ok := s.mapping.Get(key)
	if !ok {
		return
	}
	delete(s.used, me.Index)
	delete(s.tempValues, generateTempFieldValue(key))
	s.mapping.remove(key)
}

// nextAutoKey mints a synthetic key with a stable per-session counter.
func (s *session) nextAutoKey(prefix string) string {
	switch prefix {
	case fieldspec.AutoRequiredTextPrefix:
		s.autoTextN++
		return fmt.Sprintf("%s%d", prefix, s.autoTextN)
	case fieldspec.AutoRequiredSelectPrefix:
		s.autoSelectN++
		return fmt.Sprintf("%s%d", prefix, s.autoSelectN)
	case fieldspec.AutoEmailConfirmPrefix:
		s.autoConfN++
		return fmt.Sprintf("%s%d", prefix, s.autoConfN)
	}
	// Address supplements are keyed 1..2 by the caller.
	return prefix
}

// nextAddressSupplementKey returns 住所_補助1 or 住所_補助2, or "" when both
// slots are taken.
func (s *session) nextAddressSupplementKey() string {
	for i := 1; i <= 2; i++ {
		key := fmt.Sprintf("%s%d", fieldspec.AddressSupplementPrefix, i)
		if !s.mapping.Has(key) {
			return key
		}
	}
	return ""
}
