package dom

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Context-source confidences. Explicit markup relationships outrank
// positional guesses.
const (
	confLabelFor       = 0.95
	confAriaLabelledBy = 0.9
	confTableHeader    = 0.85
	confDefinitionTerm = 0.85
	confRowLabel       = 0.7
	confNearbyText     = 0.4
)

// maxContextLen bounds each extracted label; row cells occasionally hold
// whole paragraphs of boilerplate that would drown token matching.
const maxContextLen = 120

// extractContexts finds label-like text for one element, best sources first.
func extractContexts(sel *goquery.Selection, doc *goquery.Document) []ContextText {
	var out []ContextText

	add := func(src ContextSource, text string, conf float64) {
		text = collapseSpace(text)
		if text == "" {
			return
		}
		if len(text) > maxContextLen {
			text = truncateRunes(text, maxContextLen)
		}
		out = append(out, ContextText{Source: src, Text: text, Confidence: conf})
	}

	// <label for="id">
	if id, ok := sel.Attr("id"); ok && id != "" {
		doc.Find("label").Each(func(_ int, lab *goquery.Selection) {
			if f, _ := lab.Attr("for"); f == id {
				add(SourceLabelFor, lab.Text(), confLabelFor)
			}
		})
	}

	// Enclosing <label>text <input></label>
	if lab := sel.Closest("label"); lab.Length() > 0 {
		add(SourceLabelFor, lab.Text(), confLabelFor)
	}

	// aria-labelledby="id1 id2"
	if ids, ok := sel.Attr("aria-labelledby"); ok {
		for _, id := range strings.Fields(ids) {
			if t := doc.Find("#" + id).First(); t.Length() > 0 {
				add(SourceAriaLabelledBy, t.Text(), confAriaLabelledBy)
			}
		}
	}

	// <tr><th>label</th><td><input></td></tr>
	if row := sel.Closest("tr"); row.Length() > 0 {
		if th := row.Find("th").First(); th.Length() > 0 {
			add(SourceTableHeader, th.Text(), confTableHeader)
		} else if cell := sel.Closest("td"); cell.Length() > 0 {
			// Left-sibling cell text when the row has no header cell.
			if prev := cell.Prev(); prev.Length() > 0 {
				add(SourceRowLabel, prev.Text(), confRowLabel)
			}
		}
	}

	// <dt>label</dt><dd><input></dd>
	if dd := sel.Closest("dd"); dd.Length() > 0 {
		if dt := dd.PrevFiltered("dt"); dt.Length() > 0 {
			add(SourceDefinitionTerm, dt.Text(), confDefinitionTerm)
		}
	}

	// Immediately preceding sibling text inside a generic wrapper. Weak
	// evidence only.
	if len(out) == 0 {
		if wrap := sel.Closest("div, p, li"); wrap.Length() > 0 {
			own := wrap.Clone()
			own.Find("input, textarea, select").Remove()
			add(SourceNearbyText, own.Text(), confNearbyText)
		}
	}

	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts s to at most n bytes, backing up to a rune boundary so a
// multibyte label is never split mid-sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
