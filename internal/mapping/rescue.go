package mapping

import (
	"strings"

	"formmap/internal/dom"
	"formmap/internal/fieldspec"
	"formmap/internal/metrics"
	"formmap/internal/required"
)

// requiredRescue is the final recall guarantee: every element the upstream
// detector flagged required must end up represented in the mapping, unless it
// is non-fillable (checkbox/radio/select handled by the click/select
// auto-handlers) or blacklisted (auth/CAPTCHA/token inputs).
//
// Flow: narrow pre-salvages for postal and literal email first (common yet
// easily missed by generic scoring), then one sweep over every bucket.
func (e *Engine) requiredRescue(sess *session) {
	e.rescuePostalPre(sess)
	e.rescueEmailPre(sess)

	for _, bucket := range sess.classified.AllBuckets() {
		for _, el := range bucket {
			if sess.isUsed(el) {
				continue
			}
			if !e.elementNeedsRescue(sess, el) {
				continue
			}
			e.rescueOne(sess, el)
		}
	}

	e.rescueRequiredSelects(sess)
}

// rescuePostalPre recovers required postal inputs (single and 2-way split) by
// explicit attribute evidence before the generic sweep muddies the water.
func (e *Engine) rescuePostalPre(sess *session) {
	if sess.mapping.Has(fieldspec.KeyPostal) ||
		sess.mapping.Has(fieldspec.SplitKey(fieldspec.KeyPostal, 1)) {
		return
	}

	var first, second *dom.Element
	for _, bucket := range [][]*dom.Element{sess.classified.TextInputs, sess.classified.TelInputs, sess.classified.NumberInputs} {
		for _, el := range bucket {
			if sess.isUsed(el) || !sess.req.Has(el.Identity()) {
				continue
			}
			attr := el.NormAttr()
			if !fieldspec.ContainsAny(attr, fieldspec.PostalTokens) {
				continue
			}
			if fieldspec.ContainsAny(attr, fieldspec.AuthTokens) {
				continue
			}
			switch digitSuffix(el.Info.Name + " " + el.Info.ID) {
			case 1:
				if first == nil {
					first = el
				}
			case 2:
				if second == nil {
					second = el
				}
			default:
				if first == nil {
					first = el
				}
			}
		}
	}

	floor := e.rescueFloor()
	if first != nil && second != nil {
		sess.register(fieldspec.SplitKey(fieldspec.KeyPostal, 1), first, floor, ProvRequiredRescue)
		sess.register(fieldspec.SplitKey(fieldspec.KeyPostal, 2), second, floor, ProvRequiredRescue)
		return
	}
	if first != nil && safeguardPasses(fieldspec.KindPostal, first) {
		sess.register(fieldspec.KeyPostal, first, floor, ProvRequiredRescue)
	}
}

// rescueEmailPre recovers a required input whose name or id is literally
// "email" (sans confirmation markers), which legacy markup leaves unscored.
func (e *Engine) rescueEmailPre(sess *session) {
	if sess.mapping.Has(fieldspec.KeyEmail) {
		return
	}

	for _, bucket := range [][]*dom.Element{sess.classified.EmailInputs, sess.classified.TextInputs} {
		for _, el := range bucket {
			if sess.isUsed(el) || !sess.req.Has(el.Identity()) {
				continue
			}
			name := fieldspec.Normalize(el.Info.Name)
			id := fieldspec.Normalize(el.Info.ID)
			if name != "email" && id != "email" {
				continue
			}
			if fieldspec.ContainsAny(el.NormAttr(), e.Settings.Confirm()) {
				continue
			}
			if sess.register(fieldspec.KeyEmail, el, e.rescueFloor(), ProvRequiredRescue) {
				return
			}
		}
	}
}

// elementNeedsRescue decides whether an unused element is "required" for
// rescue purposes: flagged upstream, literally marked in its attributes, or
// carrying a qualifying label-origin marker. Free-floating nearby text must
// not trigger a rescue.
func (e *Engine) elementNeedsRescue(sess *session, el *dom.Element) bool {
	if sess.req.Has(el.Identity()) {
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
		if required.HasRequiredMarker(c.Text) {
			return true
		}
	}
	return false
}

// rescueOne infers a key for one required element, applies the
// post-inference corrections, and registers through the normal gates.
func (e *Engine) rescueOne(sess *session, el *dom.Element) {
	// Non-fillable elements are the click/select auto-handlers' business.
	switch el.Info.TagName {
	case "select":
		return // picked up by rescueRequiredSelects
	}
	if el.Info.Type == "checkbox" || el.Info.Type == "radio" {
		return
	}

	attr := el.NormAttr()
	if fieldspec.ContainsAny(attr, fieldspec.AuthTokens) {
		return
	}
	if fieldspec.ContainsAny(attr, fieldspec.TrapTokens) {
		return
	}

	key := inferFieldKey(el)
	key = e.correctInferredKey(sess, el, key)
	if key == "" {
		return
	}

	// Anything resolving to an auth-like token after inference is dropped
	// regardless of the field guess.
	if fieldspec.ContainsAny(fieldspec.Normalize(key), fieldspec.AuthTokens) {
		return
	}

	kind := fieldspec.KindOf(key)
	if !allowCandidate(kind, el) {
		return
	}
	if safetyCritical(kind) && !safeguardPasses(kind, el) {
		e.logf("rescue skip reason=safeguard key=%s idx=%d", key, el.Index)
		return
	}

	if kind == fieldspec.KindEmailConfirm {
		sess.registerDirective(key, el, e.rescueFloor(), ProvRequiredRescue, fieldspec.KeyEmail)
		return
	}

	if sess.register(key, el, e.rescueFloor(), ProvRequiredRescue) {
		e.count(metrics.MetricRescueTotal, metrics.Labels{"field": kind.String()})
	}
}

// correctInferredKey applies the deterministic post-inference corrections.
// Logical collisions are redirected to supplemental or synthetic keys rather
// than erroring.
func (e *Engine) correctInferredKey(sess *session, el *dom.Element, key string) string {
	attr := el.NormAttr()
	ctx := fieldspec.Normalize(allContextText(el))
	evidence := attr + " " + ctx

	// An "address" that is really a furigana input belongs to the kana name.
	if key == fieldspec.KeyAddress && fieldspec.ContainsAny(evidence, fieldspec.KanaTokens) {
		key = fieldspec.KeyFullNameKana
	}

	// A "message" textarea whose evidence is address-shaped is an address
	// field in disguise.
	if key == fieldspec.KeyMessage && el.Info.TagName == "textarea" &&
		fieldspec.ContainsAny(evidence, fieldspec.AddressTokens) &&
		!fieldspec.ContainsAny(evidence, fieldspec.MessagePrimaryTokens) {
		key = fieldspec.KeyAddress
	}

	// A postal-looking "address" is postal, with the positional suffix
	// inferred from name/id digits.
	if key == fieldspec.KeyAddress && fieldspec.ContainsAny(attr, fieldspec.PostalTokens) {
		key = fieldspec.KeyPostal
	}

	// Direct postal inference follows the same positional redirect: zip2 on a
	// form that already holds the unified key is the 4-digit half of a split
	// pair, not a second full postal code.
	if key == fieldspec.KeyPostal {
		if n := digitSuffix(el.Info.Name + " " + el.Info.ID); n == 1 || n == 2 {
			return fieldspec.SplitKey(fieldspec.KeyPostal, n)
		}
	}

	// A second address becomes a supplemental slot; with both slots taken it
	// still must be represented, so it falls through to a synthetic key.
	if key == fieldspec.KeyAddress && sess.mapping.Has(fieldspec.KeyAddress) {
		if k := sess.nextAddressSupplementKey(); k != "" {
			return k
		}
		return sess.nextAutoKey(fieldspec.AutoRequiredTextPrefix)
	}

	// An email-ish element with confirmation markers mirrors the email value
	// instead of receiving its own.
	if key == fieldspec.KeyEmail && fieldspec.ContainsAny(attr, e.Settings.Confirm()) {
		return sess.nextAutoKey(fieldspec.AutoEmailConfirmPrefix)
	}

	// Collision with an existing non-expandable key: place the element under
	// a synthetic key so required coverage still holds.
	if key != "" && sess.mapping.Has(key) {
		return sess.nextAutoKey(fieldspec.AutoRequiredTextPrefix)
	}

	if key == "" {
		return sess.nextAutoKey(fieldspec.AutoRequiredTextPrefix)
	}
	return key
}

// rescueRequiredSelects registers still-unused required selects under
// synthetic keys for the select auto-handler. A select whose options are the
// prefecture names is claimed for 都道府県 first; only shape-less selects get
// a synthetic key.
func (e *Engine) rescueRequiredSelects(sess *session) {
	for _, el := range sess.classified.Selects {
		if sess.isUsed(el) {
			continue
		}
		if !e.elementNeedsRescue(sess, el) {
			continue
		}
		if fieldspec.ContainsAny(el.NormAttr(), fieldspec.AuthTokens) {
			continue
		}
		if !sess.mapping.Has(fieldspec.KeyPrefecture) &&
			fieldspec.CountPrefectureOptions(el.Options) >= fieldspec.MinPrefectureOptions {
			if sess.register(fieldspec.KeyPrefecture, el, e.rescueFloor(), ProvRequiredRescue) {
				continue
			}
		}
		key := sess.nextAutoKey(fieldspec.AutoRequiredSelectPrefix)
		sess.register(key, el, e.rescueFloor(), ProvRequiredRescueSel)
	}
}

// rescueFloor is the salvage score floor: at least 15, never above the
// configured base threshold.
func (e *Engine) rescueFloor() int {
	floor := e.Settings.FallbackMinScore
	if floor < 15 {
		floor = 15
	}
	if floor > e.Settings.MinScoreThreshold {
		floor = e.Settings.MinScoreThreshold
	}
	return floor
}

// digitSuffix extracts a trailing 1/2/3 marker from name/id text, tolerating
// bracketed array forms (zip[1], tel_2).
func digitSuffix(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	s = strings.TrimRight(s, "]")
	if s == "" {
		return 0
	}
	last := s[len(s)-1]
	if last < '0' || last > '9' {
		return 0
	}
	// Only single-digit suffixes are positional markers; tel10 is a widget id.
	if len(s) >= 2 {
		prev := s[len(s)-2]
		if prev >= '0' && prev <= '9' {
			return 0
		}
	}
	return int(last - '0')
}
