package mapping

import (
	"regexp"
	"strings"

	"formmap/internal/dom"
	"formmap/internal/fieldspec"
)

// promotePhoneSplit detects a three-part phone form and converts the unified
// phone mapping into 電話番号1/2/3. A three-part form must never also receive
// a single concatenated value, so the unified key is removed on promotion.
//
// Detection accepts either explicit 1/2/3 markers in name/id, or a shared
// array-index base (tel[0]/tel[1]/tel[2]). When a unified phone mapping is
// already chosen, its own name seeds the base search.
func (e *Engine) promotePhoneSplit(sess *session) {
	if sess.mapping.Has(fieldspec.SplitKey(fieldspec.KeyPhone, 1)) {
		return
	}

	candidates := phoneSplitCandidates(sess)
	if unified, ok := sess.mapping.Get(fieldspec.KeyPhone); ok {
		// The chosen unified element may itself be part 1 of a triplet.
		if unified.Element != nil {
			candidates = append(candidates, unified.Element)
		}
	}
	if len(candidates) < 3 {
		return
	}

	triplet := findPhoneTriplet(candidates)
	if triplet == nil {
		return
	}

	if unified, ok := sess.mapping.Get(fieldspec.KeyPhone); ok {
		e.logf("promote_phone_split drop_unified idx=%d", unified.Index)
		sess.unregister(fieldspec.KeyPhone)
	}

	for i, el := range triplet {
		key := fieldspec.SplitKey(fieldspec.KeyPhone, i+1)
		sess.register(key, el, e.Settings.MinScoreThreshold, ProvPromoteSplit)
	}
}

// phoneSplitCandidates collects unused tel/text/number inputs with phone-ish
// attributes.
func phoneSplitCandidates(sess *session) []*dom.Element {
	var out []*dom.Element
	for _, bucket := range [][]*dom.Element{sess.classified.TelInputs, sess.classified.TextInputs, sess.classified.NumberInputs} {
		for _, el := range bucket {
			if sess.isUsed(el) {
				continue
			}
			attr := el.NormAttr()
			if fieldspec.ContainsAny(attr, fieldspec.PhoneTokens) || el.Info.Type == "tel" {
				if !fieldspec.ContainsAny(attr, fieldspec.FaxTokens) {
					out = append(out, el)
				}
			}
		}
	}
	return out
}

var arrayIndexRe = regexp.MustCompile(`^(.*)\[(\d)\]$`)

// findPhoneTriplet looks for three elements forming an ordered 1/2/3 (or
// 0/1/2 array) group with a shared base name.
func findPhoneTriplet(candidates []*dom.Element) []*dom.Element {
	type part struct {
		el  *dom.Element
		pos int
	}
	groups := make(map[string][]part)

	addPart := func(base string, pos int, el *dom.Element) {
		for _, p := range groups[base] {
			if p.pos == pos {
				return
			}
		}
		groups[base] = append(groups[base], part{el: el, pos: pos})
	}

	for _, el := range candidates {
		for _, ident := range []string{el.Info.Name, el.Info.ID} {
			if ident == "" {
				continue
			}
			if m := arrayIndexRe.FindStringSubmatch(ident); m != nil {
				addPart(m[1], int(m[2][0]-'0')+1, el)
				continue
			}
			if n := digitSuffix(ident); n >= 1 && n <= 3 {
				base := strings.TrimRight(ident, "0123456789")
				base = strings.TrimRight(base, "_-")
				addPart(base, n, el)
			}
		}
	}

	for _, parts := range groups {
		if len(parts) != 3 {
			continue
		}
		ordered := make([]*dom.Element, 3)
		ok := true
		for _, p := range parts {
			if p.pos < 1 || p.pos > 3 || ordered[p.pos-1] != nil {
				ok = false
				break
			}
			ordered[p.pos-1] = p.el
		}
		if ok && ordered[0] != nil && ordered[1] != nil && ordered[2] != nil {
			return ordered
		}
	}
	return nil
}

// promotePostalSplit detects a two-part postal form and converts the unified
// postal mapping into 郵便番号1/2. As with the phone triplet, a split form
// must never also receive a single concatenated value, so the unified key is
// removed on promotion.
//
// The pair may arrive in pieces: the main loop typically claims zip1 under
// the unified key, and the required rescue may have claimed zip2 under
// 郵便番号2 already. Both are fed back into the pair search so the final
// mapping is the ordered split regardless of which passes fired.
func (e *Engine) promotePostalSplit(sess *session) {
	key1 := fieldspec.SplitKey(fieldspec.KeyPostal, 1)
	key2 := fieldspec.SplitKey(fieldspec.KeyPostal, 2)
	if sess.mapping.Has(key1) {
		// A split half never coexists with the unified key.
		if unified, ok := sess.mapping.Get(fieldspec.KeyPostal); ok {
			e.logf("promote_postal_split drop_unified idx=%d", unified.Index)
			sess.unregister(fieldspec.KeyPostal)
		}
		return
	}

	candidates := postalSplitCandidates(sess)
	if unified, ok := sess.mapping.Get(fieldspec.KeyPostal); ok && unified.Element != nil {
		candidates = append(candidates, unified.Element)
	}
	if part2, ok := sess.mapping.Get(key2); ok && part2.Element != nil {
		candidates = append(candidates, part2.Element)
	}
	if len(candidates) < 2 {
		return
	}

	pair := findPostalPair(candidates)
	if pair == nil {
		return
	}

	if unified, ok := sess.mapping.Get(fieldspec.KeyPostal); ok {
		e.logf("promote_postal_split drop_unified idx=%d", unified.Index)
		sess.unregister(fieldspec.KeyPostal)
	}
	// Re-register an early-rescued part 2 so both halves carry the same
	// provenance and score.
	sess.unregister(key2)

	sess.register(key1, pair[0], e.Settings.MinScoreThreshold, ProvPromoteSplit)
	sess.register(key2, pair[1], e.Settings.MinScoreThreshold, ProvPromoteSplit)
}

// postalSplitCandidates collects unused text/tel/number inputs with postal
// attributes that clear the postal safeguard.
func postalSplitCandidates(sess *session) []*dom.Element {
	var out []*dom.Element
	for _, bucket := range [][]*dom.Element{sess.classified.TextInputs, sess.classified.TelInputs, sess.classified.NumberInputs} {
		for _, el := range bucket {
			if sess.isUsed(el) {
				continue
			}
			attr := el.NormAttr()
			if !fieldspec.ContainsAny(attr, fieldspec.PostalTokens) {
				continue
			}
			if fieldspec.ContainsAny(attr, fieldspec.AuthTokens) {
				continue
			}
			if !safeguardPasses(fieldspec.KindPostal, el) {
				continue
			}
			out = append(out, el)
		}
	}
	return out
}

// findPostalPair looks for two elements forming an ordered 1/2 group with a
// shared base name (zip1/zip2, postal_1/postal_2, zip[1]/zip[2]).
func findPostalPair(candidates []*dom.Element) []*dom.Element {
	type part struct {
		el  *dom.Element
		pos int
	}
	groups := make(map[string][]part)

	addPart := func(base string, pos int, el *dom.Element) {
		for _, p := range groups[base] {
			if p.pos == pos || p.el == el {
				return
			}
		}
		groups[base] = append(groups[base], part{el: el, pos: pos})
	}

	for _, el := range candidates {
		for _, ident := range []string{el.Info.Name, el.Info.ID} {
			if ident == "" {
				continue
			}
			n := digitSuffix(ident)
			if n != 1 && n != 2 {
				continue
			}
			base := strings.TrimRight(ident, "]")
			base = strings.TrimRight(base, "0123456789")
			base = strings.TrimRight(base, "_-[")
			addPart(base, n, el)
		}
	}

	for _, parts := range groups {
		if len(parts) != 2 {
			continue
		}
		ordered := make([]*dom.Element, 2)
		ok := true
		for _, p := range parts {
			if ordered[p.pos-1] != nil {
				ok = false
				break
			}
			ordered[p.pos-1] = p.el
		}
		if ok && ordered[0] != nil && ordered[1] != nil {
			return ordered
		}
	}
	return nil
}

// correctPrefectureSelect remaps a prefecture assignment from a text input to
// a well-formed prefecture select when one exists: selects are intrinsically
// lower-risk for this field.
func (e *Engine) correctPrefectureSelect(sess *session) {
	current, ok := sess.mapping.Get(fieldspec.KeyPrefecture)
	if !ok || current.TagName == "select" {
		return
	}

	var best *dom.Element
	bestHits := 0
	for _, el := range sess.classified.Selects {
		if sess.isUsed(el) {
			continue
		}
		hits := fieldspec.CountPrefectureOptions(el.Options)
		if hits >= fieldspec.MinPrefectureOptions && hits > bestHits {
			best = el
			bestHits = hits
		}
	}
	if best == nil {
		return
	}

	e.logf("prefecture_correction remap idx=%d->%d hits=%d", current.Index, best.Index, bestHits)
	sess.unregister(fieldspec.KeyPrefecture)
	sess.register(fieldspec.KeyPrefecture, best, e.Settings.MinScoreThreshold, ProvSafetyRemap)
}
