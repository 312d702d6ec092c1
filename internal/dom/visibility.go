package dom

import (
	"strconv"
	"strings"
)

// visibleByStyle inspects an inline style declaration for the hiding
// techniques used by honeypots and collapsed form sections:
//
//	display:none, visibility:hidden, pointer-events:none, opacity ~0,
//	off-screen absolute positioning, negative z-index.
//
// A parse failure on any single declaration leaves that declaration
// inconclusive rather than marking the element hidden.
func visibleByStyle(style string) bool {
	if strings.TrimSpace(style) == "" {
		return true
	}

	props := parseInlineStyle(style)

	if props["display"] == "none" {
		return false
	}
	if props["visibility"] == "hidden" || props["visibility"] == "collapse" {
		return false
	}
	if props["pointer-events"] == "none" {
		return false
	}
	if op, ok := props["opacity"]; ok {
		if f, err := strconv.ParseFloat(op, 64); err == nil && f < 0.01 {
			return false
		}
	}
	if props["position"] == "absolute" || props["position"] == "fixed" {
		if offscreen(props["left"]) || offscreen(props["top"]) {
			return false
		}
	}
	if z, ok := props["z-index"]; ok {
		if n, err := strconv.Atoi(z); err == nil && n < 0 {
			return false
		}
	}
	return true
}

// parseInlineStyle splits "a: b; c: d" into a lowercase property map.
func parseInlineStyle(style string) map[string]string {
	props := make(map[string]string)
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		props[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
	}
	return props
}

// offscreen reports whether a left/top value pushes the element far outside
// the viewport (the classic -9999px honeypot).
func offscreen(v string) bool {
	v = strings.TrimSuffix(v, "px")
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return false
	}
	return f < -1000
}
