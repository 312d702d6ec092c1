package dom

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ClassifyHTML parses the given HTML string and classifies its form elements
// into buckets.
//
// Semantics:
//   - Every input/textarea/select gets an arena index in document order.
//   - Hidden/submit/button/image/reset/file inputs are never candidates and
//     are not classified at all.
//   - Unknown input types fall into the text bucket (browsers treat unknown
//     types as text).
//
// Missing forms are not an error; a page with no fillable elements simply
// classifies to an empty set.
func ClassifyHTML(html string) (*Classified, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return ClassifyDocument(doc), nil
}

// ClassifyDocument classifies an already-parsed document.
func ClassifyDocument(doc *goquery.Document) *Classified {
	out := &Classified{}
	next := 0

	doc.Find("input, textarea, select").Each(func(_ int, sel *goquery.Selection) {
		info := snapshotInfo(sel)

		if info.TagName == "input" {
			switch info.Type {
			case "hidden", "submit", "button", "image", "reset", "file":
				return
			}
		}

		el := &Element{
			Index:    next,
			Info:     info,
			Contexts: extractContexts(sel, doc),
		}
		next++

		switch info.TagName {
		case "textarea":
			out.Textareas = append(out.Textareas, el)
		case "select":
			sel.Find("option").Each(func(_ int, opt *goquery.Selection) {
				el.Options = append(el.Options, strings.TrimSpace(opt.Text()))
			})
			out.Selects = append(out.Selects, el)
		case "input":
			switch info.Type {
			case "email":
				out.EmailInputs = append(out.EmailInputs, el)
			case "tel":
				out.TelInputs = append(out.TelInputs, el)
			case "url":
				out.URLInputs = append(out.URLInputs, el)
			case "number":
				out.NumberInputs = append(out.NumberInputs, el)
			case "radio":
				out.Radios = append(out.Radios, el)
			case "checkbox":
				out.Checkboxes = append(out.Checkboxes, el)
			default:
				out.TextInputs = append(out.TextInputs, el)
			}
		}
	})

	return out
}

// snapshotInfo captures the immutable per-element attribute snapshot.
func snapshotInfo(sel *goquery.Selection) ElementInfo {
	attr := func(name string) string {
		v, _ := sel.Attr(name)
		return strings.TrimSpace(v)
	}

	info := ElementInfo{
		TagName:     goquery.NodeName(sel),
		Type:        strings.ToLower(attr("type")),
		Name:        attr("name"),
		ID:          attr("id"),
		Class:       attr("class"),
		Placeholder: attr("placeholder"),
		Style:       attr("style"),
	}

	if _, ok := sel.Attr("required"); ok {
		info.Required = true
	}
	if v, ok := sel.Attr("aria-required"); ok && strings.EqualFold(strings.TrimSpace(v), "true") {
		info.Required = true
	}
	if ml := attr("maxlength"); ml != "" {
		if n, err := strconv.Atoi(ml); err == nil {
			info.MaxLength = n
		}
	}

	info.Visible = visibleByStyle(info.Style) && !hiddenByAttrs(sel)
	return info
}

func hiddenByAttrs(sel *goquery.Selection) bool {
	if _, ok := sel.Attr("hidden"); ok {
		return true
	}
	if v, ok := sel.Attr("aria-hidden"); ok && strings.EqualFold(strings.TrimSpace(v), "true") {
		return true
	}
	// A hidden ancestor hides the element no matter what its own style says.
	for p := sel.Parent(); p.Length() > 0; p = p.Parent() {
		if style, ok := p.Attr("style"); ok && !visibleByStyle(style) {
			return true
		}
		if _, ok := p.Attr("hidden"); ok {
			return true
		}
	}
	return false
}
