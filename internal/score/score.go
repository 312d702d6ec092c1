// Package score implements the per-element scoring collaborators of the
// mapping pipeline: a cheap quick score used to rank candidates and a full
// detailed score with a per-signal breakdown.
//
// The numeric scale is open-ended (not clamped to 100): a type=email match
// plus an exact name match plus a confident label can stack well past the
// base threshold, which is what the early-stop rule keys off.
package score

import (
	"fmt"
	"sort"
	"strings"

	"formmap/internal/dom"
	"formmap/internal/fieldspec"
)

// Signal identifies one scoring contribution in a breakdown.
type Signal string

const (
	SignalType          Signal = "type"
	SignalName          Signal = "name"
	SignalID            Signal = "id"
	SignalClass         Signal = "class"
	SignalPlaceholder   Signal = "placeholder"
	SignalContext       Signal = "context"
	SignalStrictPattern Signal = "strict_pattern"
	SignalRequiredBoost Signal = "required_boost"
	SignalPenalty       Signal = "penalty"
)

// Details decomposes a detailed score by signal.
type Details struct {
	Info      dom.ElementInfo `json:"element_info"`
	Total     int             `json:"total_score"`
	Breakdown map[Signal]int  `json:"score_breakdown"`
}

// String renders the breakdown as "name:80,context:49" with signals sorted,
// for stable log lines.
func (d Details) String() string {
	if len(d.Breakdown) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(d.Breakdown))
	for sig, pts := range d.Breakdown {
		parts = append(parts, fmt.Sprintf("%s:%d", sig, pts))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Signal weights. Attribute name evidence outranks id, id outranks class and
// placeholder; a confident markup label sits between name and id.
const (
	weightType        = 100
	weightName        = 80
	weightID          = 60
	weightClass       = 25
	weightPlaceholder = 40
	weightStrict      = 50
	contextWeight     = 70 // scaled by context confidence
)

// Scorer computes quick and detailed scores. The zero value is ready to use;
// RequiredBoost fields mirror the settings they come from.
type Scorer struct {
	// RequiredBoost is added when the element's identity is in the required
	// set (general fields).
	RequiredBoost int
	// RequiredPhoneBoost replaces RequiredBoost for phone fields, which need
	// a gentler push to avoid swallowing fax/number inputs.
	RequiredPhoneBoost int
	// Required reports whether an identity is in the required set. Nil means
	// no required information.
	Required func(identity string) bool
}

// Quick computes the cheap ranking score from attributes only. No context
// texts are consulted, making it safe to run over every unused candidate.
func (s *Scorer) Quick(el *dom.Element, p *fieldspec.Pattern, kind fieldspec.FieldKind) int {
	if p == nil || !p.AcceptsTag(el.Info.TagName) || !p.AcceptsType(el.Info.TagName, el.Info.Type) {
		return 0
	}

	total := 0
	if strongTypeMatch(el, p) {
		total += weightType
	}
	attr := el.NormAttr()
	if fieldspec.ContainsAny(attr, p.StrictTokens) {
		total += weightName
	}
	// The boost amplifies evidence; it must never rank a zero-evidence
	// element above the cut on its own.
	if total > 0 {
		total += s.requiredBoost(el, kind)
	}
	return total
}

// Detailed computes the full score with a per-signal breakdown.
func (s *Scorer) Detailed(el *dom.Element, p *fieldspec.Pattern, kind fieldspec.FieldKind) (int, Details) {
	d := Details{Info: el.Info, Breakdown: make(map[Signal]int)}
	if p == nil || !p.AcceptsTag(el.Info.TagName) || !p.AcceptsType(el.Info.TagName, el.Info.Type) {
		return 0, d
	}

	add := func(sig Signal, pts int) {
		if pts == 0 {
			return
		}
		d.Breakdown[sig] += pts
		d.Total += pts
	}

	if strongTypeMatch(el, p) {
		add(SignalType, weightType)
	}

	if fieldspec.ContainsAny(fieldspec.Normalize(el.Info.Name), p.StrictTokens) {
		add(SignalName, weightName)
	}
	if fieldspec.ContainsAny(fieldspec.Normalize(el.Info.ID), p.StrictTokens) {
		add(SignalID, weightID)
	}
	if fieldspec.ContainsAny(fieldspec.Normalize(el.Info.Class), p.StrictTokens) {
		add(SignalClass, weightClass)
	}
	if fieldspec.ContainsAny(fieldspec.Normalize(el.Info.Placeholder), p.StrictTokens) {
		add(SignalPlaceholder, weightPlaceholder)
	}

	// Context evidence: take the single best-scoring context rather than
	// summing; stacked labels repeat the same words.
	bestCtx := 0
	for _, c := range el.Contexts {
		if !fieldspec.ContainsAny(fieldspec.Normalize(c.Text), p.StrictTokens) {
			continue
		}
		pts := int(float64(contextWeight) * c.Confidence)
		if pts > bestCtx {
			bestCtx = pts
		}
	}
	add(SignalContext, bestCtx)

	// Strict-pattern bonus on top of name evidence: exact attribute equality
	// with a strict token is near-certain.
	norm := fieldspec.Normalize(el.Info.Name)
	for _, tok := range p.StrictTokens {
		if norm == tok {
			add(SignalStrictPattern, weightStrict)
			break
		}
	}

	if d.Total > 0 {
		add(SignalRequiredBoost, s.requiredBoost(el, kind))
	}

	return d.Total, d
}

// StrictHit reports whether the element's attributes or best context text
// contain one of the pattern's strict tokens. Used by the early-stop rule.
func StrictHit(el *dom.Element, p *fieldspec.Pattern) bool {
	if p == nil {
		return false
	}
	if fieldspec.ContainsAny(el.NormAttr(), p.StrictTokens) {
		return true
	}
	return fieldspec.ContainsAny(fieldspec.Normalize(el.BestContext()), p.StrictTokens)
}

func strongTypeMatch(el *dom.Element, p *fieldspec.Pattern) bool {
	if p.StrongType == "" {
		return false
	}
	if p.StrongType == "textarea" {
		return el.Info.TagName == "textarea"
	}
	return el.Info.TagName == "input" && el.Info.Type == p.StrongType
}

func (s *Scorer) requiredBoost(el *dom.Element, kind fieldspec.FieldKind) int {
	if s.Required == nil {
		return 0
	}
	id := el.Identity()
	if id == "" || !s.Required(id) {
		return 0
	}
	if kind == fieldspec.KindPhone || kind == fieldspec.KindFax {
		return s.RequiredPhoneBoost
	}
	return s.RequiredBoost
}
