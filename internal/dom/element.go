// Package dom models form elements for the mapping pipeline and classifies a
// parsed page into per-kind buckets.
//
// The dom package is responsible for:
//   - The Element arena: every candidate gets a stable index at
//     classification time; "used" tracking downstream is a set of indices.
//   - ElementInfo snapshots: immutable attribute/visibility data captured once
//     per run so the pipeline never re-queries markup mid-decision.
//   - Context-text extraction (label[for], table/definition-list row labels,
//     aria-labelledby, nearby cell text) with per-source confidence.
//
// Classification is static: it runs over parsed HTML via goquery. Live
// browser I/O is out of scope; a caller with a running page snapshots its
// HTML and feeds it here.
package dom

import (
	"strings"

	"formmap/internal/fieldspec"
)

// ElementInfo is a read-only snapshot of one form element. Immutable for the
// duration of a mapping run.
type ElementInfo struct {
	TagName     string `json:"tag_name"`
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	ID          string `json:"id,omitempty"`
	Class       string `json:"class,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Style       string `json:"style,omitempty"`
	Visible     bool   `json:"visible"`
	Required    bool   `json:"required,omitempty"`
	MaxLength   int    `json:"max_length,omitempty"`
}

// AttrText returns the normalized concatenation of the identifying
// attributes, the haystack for token matching. Computed once and cached on
// the element.
func (i ElementInfo) attrText() string {
	return strings.Join([]string{i.Name, i.ID, i.Class, i.Placeholder}, " ")
}

// ContextSource identifies where a piece of context text came from. The
// source determines both confidence and whether the text may establish
// required-ness (free-floating text may not).
type ContextSource int

const (
	SourceLabelFor ContextSource = iota
	SourceTableHeader
	SourceDefinitionTerm
	SourceRowLabel
	SourceAriaLabelledBy
	SourceNearbyText
)

var contextSourceNames = map[ContextSource]string{
	SourceLabelFor:       "label_for",
	SourceTableHeader:    "th_label",
	SourceDefinitionTerm: "dt_label",
	SourceRowLabel:       "row_label",
	SourceAriaLabelledBy: "aria_labelledby",
	SourceNearbyText:     "nearby_text",
}

func (s ContextSource) String() string {
	if n, ok := contextSourceNames[s]; ok {
		return n
	}
	return "unknown"
}

// LabelDerived reports whether this source is a markup label relationship
// (as opposed to loose surrounding text). Only label-derived context may
// carry required markers.
func (s ContextSource) LabelDerived() bool {
	switch s {
	case SourceLabelFor, SourceTableHeader, SourceDefinitionTerm, SourceRowLabel, SourceAriaLabelledBy:
		return true
	}
	return false
}

// ContextText is label-like text associated with an element.
type ContextText struct {
	Source     ContextSource `json:"source"`
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
}

// Element is one candidate form element in the arena.
type Element struct {
	// Index is the stable arena identity assigned at classification.
	Index int
	Info  ElementInfo
	// Contexts holds label-like texts, highest confidence first.
	Contexts []ContextText
	// Options holds option texts for select elements.
	Options []string

	normAttr string // cached Normalize(attrText)
}

// NormAttr returns the element's normalized attribute haystack
// (name + id + class + placeholder), computed once.
func (e *Element) NormAttr() string {
	if e.normAttr == "" {
		e.normAttr = fieldspec.Normalize(e.Info.attrText())
	}
	return e.normAttr
}

// BestContext returns the highest-confidence context text, or "".
func (e *Element) BestContext() string {
	if len(e.Contexts) == 0 {
		return ""
	}
	best := e.Contexts[0]
	for _, c := range e.Contexts[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best.Text
}

// Identity returns the name if set, else the id. Required-elements sets key
// on this value.
func (e *Element) Identity() string {
	if e.Info.Name != "" {
		return e.Info.Name
	}
	return e.Info.ID
}

// Classified groups the page's elements into input-kind buckets.
// Bucket membership is determined once; the same *Element pointer appears in
// exactly one bucket.
type Classified struct {
	TextInputs   []*Element
	EmailInputs  []*Element
	TelInputs    []*Element
	URLInputs    []*Element
	NumberInputs []*Element
	Textareas    []*Element
	Selects      []*Element
	Radios       []*Element
	Checkboxes   []*Element
}

// AllBuckets returns every bucket in sweep order. Fillable buckets first so
// the required-rescue pass sees text-like elements before selects.
func (c *Classified) AllBuckets() [][]*Element {
	return [][]*Element{
		c.TextInputs, c.EmailInputs, c.TelInputs, c.URLInputs,
		c.NumberInputs, c.Textareas, c.Selects, c.Radios, c.Checkboxes,
	}
}

// Fillable returns the buckets a text value can be written into.
func (c *Classified) Fillable() [][]*Element {
	return [][]*Element{
		c.TextInputs, c.EmailInputs, c.TelInputs, c.URLInputs,
		c.NumberInputs, c.Textareas,
	}
}

// Total counts all classified elements.
func (c *Classified) Total() int {
	n := 0
	for _, b := range c.AllBuckets() {
		n += len(b)
	}
	return n
}
