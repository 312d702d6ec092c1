// Package required implements the upstream pass that decides which elements
// a form treats as mandatory. Its output is purely advisory: the mapping
// pipeline uses it to relax thresholds and to drive the final rescue sweep.
package required

import (
	"strings"

	"formmap/internal/dom"
	"formmap/internal/fieldspec"
)

// Analysis is the advisory output consumed by the mapping pipeline.
type Analysis struct {
	// RequiredElements holds name/id identities flagged required.
	RequiredElements map[string]struct{}
	// TreatAllAsRequired widens eligibility to every essential field plus
	// company name, for forms that mark nothing explicitly but reject
	// submissions with blanks anyway.
	TreatAllAsRequired bool
}

// Has reports whether identity was flagged required.
func (a Analysis) Has(identity string) bool {
	if identity == "" {
		return false
	}
	_, ok := a.RequiredElements[identity]
	return ok
}

// Analyze sweeps every classified element once and collects required
// identities.
//
// An element counts as required when:
//   - it carries the required or aria-required attribute, or
//   - its name/id contains "required" or "must" literally, or
//   - a label-derived context text carries a required marker (必須 in any
//     bracket style, or a bare "*" / ※ prefix). Free-floating nearby text
//     never qualifies; decorative asterisks in running prose are too common.
func Analyze(classified *dom.Classified) Analysis {
	a := Analysis{RequiredElements: make(map[string]struct{})}

	total := 0
	for _, bucket := range classified.AllBuckets() {
		for _, el := range bucket {
			total++
			if isRequired(el) {
				if id := el.Identity(); id != "" {
					a.RequiredElements[id] = struct{}{}
				}
			}
		}
	}

	// A form with fillable fields but no explicit markers usually rejects
	// blanks anyway; widen eligibility rather than under-map it.
	if total > 0 && len(a.RequiredElements) == 0 {
		a.TreatAllAsRequired = true
	}
	return a
}

func isRequired(el *dom.Element) bool {
	if el.Info.Required {
		return true
	}

	attr := el.NormAttr()
	if strings.Contains(attr, "required") || strings.Contains(attr, "must") {
		return true
	}

	for _, c := range el.Contexts {
		if !c.Source.LabelDerived() {
			continue
		}
		if HasRequiredMarker(c.Text) {
			return true
		}
	}
	return false
}

// HasRequiredMarker reports whether label text carries a required marker.
func HasRequiredMarker(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if strings.Contains(text, "必須") {
		return true
	}
	norm := fieldspec.Normalize(text)
	if strings.Contains(norm, "required") {
		return true
	}
	// A bare or prefixed asterisk is a marker only when it is adjacent to the
	// label, not buried mid-sentence.
	return strings.HasPrefix(text, "*") || strings.HasSuffix(text, "*") ||
		strings.HasPrefix(text, "※") || strings.HasSuffix(text, "※")
}
