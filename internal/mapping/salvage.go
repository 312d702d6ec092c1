package mapping

import (
	"formmap/internal/dom"
	"formmap/internal/fieldspec"
)

// runSalvagePasses executes the fixed, ordered sequence of narrow
// high-precision rescues. Each pass runs only when its target field is still
// unmapped and registers through the same duplicate-prevention registrar as
// everything else.
//
// The order is part of the contract: earlier passes have stronger evidence
// requirements, so reordering would let weak matches steal elements from
// strong ones.
func (e *Engine) runSalvagePasses(sess *session) {
	passes := []struct {
		name string
		fn   func(*session)
	}{
		{"message_fallback", e.salvageMessage},
		{"email_fallback", e.salvageEmail},
		{"email_strict_attr", e.salvageEmailStrictAttr},
		{"email_label_context", e.salvageEmailLabelContext},
		{"email_table_label", e.salvageEmailTableLabel},
		{"postal_split_attr", e.salvagePostalSplit},
		{"postal_fallback", e.salvagePostal},
		{"prefecture_attr", e.salvagePrefecture},
		{"address_fallback", e.salvageAddress},
		{"address_common_forced", e.salvageCommonAddress},
		{"name_fallback", e.salvageName},
		{"subject_fallback", e.salvageSubject},
	}

	for _, p := range passes {
		e.runPass(sess, p.name, p.fn)
	}
}

// fallbackScore is the synthetic score recorded for salvage registrations the
// external scorer under-valued.
func (e *Engine) fallbackScore() int {
	if e.Settings.FallbackMinScore > 0 {
		return e.Settings.FallbackMinScore
	}
	return 15
}

// salvageMessage recovers 本文: prefer a textarea matching primary message
// tokens, then secondary tokens (excluding "other/optional" disclaimers);
// only when no textarea qualifies fall back to a text input with both
// attribute and label evidence.
func (e *Engine) salvageMessage(sess *session) {
	if sess.mapping.Has(fieldspec.KeyMessage) {
		return
	}

	pick := func(vocab []string) *dom.Element {
		for _, el := range sess.classified.Textareas {
			if sess.isUsed(el) || !el.Info.Visible {
				continue
			}
			evidence := el.NormAttr() + " " + fieldspec.Normalize(allContextText(el))
			if !fieldspec.ContainsAny(evidence, vocab) {
				continue
			}
			if fieldspec.ContainsAny(evidence, fieldspec.OptionalDisclaimerTokens) &&
				!fieldspec.ContainsAny(evidence, fieldspec.MessagePrimaryTokens) {
				continue
			}
			if !safeguardPasses(fieldspec.KindMessage, el) {
				continue
			}
			return el
		}
		return nil
	}

	if el := pick(fieldspec.MessagePrimaryTokens); el != nil {
		sess.register(fieldspec.KeyMessage, el, e.fallbackScore(), ProvFallback)
		return
	}
	if el := pick(fieldspec.MessageSecondaryTokens); el != nil {
		sess.register(fieldspec.KeyMessage, el, e.fallbackScore(), ProvFallback)
		return
	}

	// Last resort: a text input with both attribute and label evidence.
	for _, el := range sess.classified.TextInputs {
		if sess.isUsed(el) || !el.Info.Visible {
			continue
		}
		attrHit := fieldspec.ContainsAny(el.NormAttr(), fieldspec.MessagePrimaryTokens)
		ctxHit := fieldspec.ContainsAny(fieldspec.Normalize(allContextText(el)), fieldspec.MessagePrimaryTokens)
		if attrHit && ctxHit {
			sess.register(fieldspec.KeyMessage, el, e.fallbackScore(), ProvFallback)
			return
		}
	}
}

// salvageEmail recovers メールアドレス from label or attribute evidence,
// excluding confirmation signals. Legacy markup down-scores these, so a
// synthetic floor is recorded when the row-label evidence is strong.
func (e *Engine) salvageEmail(sess *session) {
	if sess.mapping.Has(fieldspec.KeyEmail) {
		return
	}

	for _, bucket := range [][]*dom.Element{sess.classified.EmailInputs, sess.classified.TextInputs} {
		for _, el := range bucket {
			if sess.isUsed(el) || !el.Info.Visible {
				continue
			}
			attr := el.NormAttr()
			ctx := fieldspec.Normalize(allContextText(el))
			if fieldspec.ContainsAny(attr, e.Settings.Confirm()) ||
				fieldspec.ContainsAny(ctx, e.Settings.Confirm()) {
				continue
			}
			typed := el.Info.TagName == "input" && el.Info.Type == "email"
			if !typed && !fieldspec.ContainsAny(attr+" "+ctx, fieldspec.EmailTokens) {
				continue
			}
			if fieldspec.ContainsAny(attr, fieldspec.AuthTokens) {
				continue
			}
			sc := e.fallbackScore()
			// Strong row-label evidence earns the base score even when the
			// scorer under-valued the element.
			if fieldspec.ContainsAny(ctx, fieldspec.EmailTokens) {
				sc = e.Settings.MinScoreThreshold
			}
			if sess.register(fieldspec.KeyEmail, el, sc, ProvSalvageEmail) {
				return
			}
		}
	}
}

// salvageEmailStrictAttr recovers メールアドレス on the literal
// name == id == "email" match, excluding confirm/check tokens.
func (e *Engine) salvageEmailStrictAttr(sess *session) {
	if sess.mapping.Has(fieldspec.KeyEmail) {
		return
	}

	for _, bucket := range [][]*dom.Element{sess.classified.EmailInputs, sess.classified.TextInputs} {
		for _, el := range bucket {
			if sess.isUsed(el) {
				continue
			}
			name := fieldspec.Normalize(el.Info.Name)
			id := fieldspec.Normalize(el.Info.ID)
			if name != "email" || id != "email" {
				continue
			}
			if fieldspec.ContainsAny(el.NormAttr(), e.Settings.Confirm()) {
				continue
			}
			if sess.register(fieldspec.KeyEmail, el, e.fallbackScore(), ProvSalvageEmailStrict) {
				return
			}
		}
	}
}

// salvageEmailLabelContext recovers メールアドレス from a table-row label
// containing mail tokens, excluding confirm tokens.
func (e *Engine) salvageEmailLabelContext(sess *session) {
	if sess.mapping.Has(fieldspec.KeyEmail) {
		return
	}

	for _, bucket := range [][]*dom.Element{sess.classified.EmailInputs, sess.classified.TextInputs} {
		for _, el := range bucket {
			if sess.isUsed(el) || !el.Info.Visible {
				continue
			}
			for _, c := range el.Contexts {
				if c.Source != dom.SourceTableHeader && c.Source != dom.SourceRowLabel {
					continue
				}
				text := fieldspec.Normalize(c.Text)
				if !fieldspec.ContainsAny(text, fieldspec.EmailTokens) {
					continue
				}
				if fieldspec.ContainsAny(text, e.Settings.Confirm()) {
					continue
				}
				if sess.register(fieldspec.KeyEmail, el, e.fallbackScore(), ProvSalvageEmailLabel) {
					return
				}
			}
		}
	}
}

// salvageEmailTableLabel is the forced variant: a left-sibling table-cell
// text containing mail tokens is decisive on legacy table layouts. The same
// sweep covers the attribute sub/subject/title salvage for 件名.
func (e *Engine) salvageEmailTableLabel(sess *session) {
	needEmail := !sess.mapping.Has(fieldspec.KeyEmail)
	needSubject := !sess.mapping.Has(fieldspec.KeySubject)
	if !needEmail && !needSubject {
		return
	}

	for _, el := range sess.classified.TextInputs {
		if sess.isUsed(el) {
			continue
		}

		if needEmail {
			for _, c := range el.Contexts {
				if c.Source != dom.SourceRowLabel {
					continue
				}
				text := fieldspec.Normalize(c.Text)
				if fieldspec.ContainsAny(text, fieldspec.EmailTokens) &&
					!fieldspec.ContainsAny(text, e.Settings.Confirm()) {
					if sess.register(fieldspec.KeyEmail, el, e.fallbackScore(), ProvForcedEmail) {
						needEmail = false
					}
					break
				}
			}
		}

		if needSubject {
			attr := el.NormAttr()
			if fieldspec.ContainsAny(attr, []string{"subject", "sub_", "_sub", "title"}) &&
				!fieldspec.ContainsAny(attr, fieldspec.KanaTokens) &&
				safeguardPasses(fieldspec.KindSubject, el) {
				if sess.register(fieldspec.KeySubject, el, e.fallbackScore(), ProvSalvageSubject) {
					needSubject = false
				}
			}
		}

		if !needEmail && !needSubject {
			return
		}
	}
}

// salvagePostalSplit recovers 郵便番号1/2 from explicit zip1/zip2-style
// attribute pairs, each independently safeguard-checked.
func (e *Engine) salvagePostalSplit(sess *session) {
	key1 := fieldspec.SplitKey(fieldspec.KeyPostal, 1)
	key2 := fieldspec.SplitKey(fieldspec.KeyPostal, 2)
	if sess.mapping.Has(key1) || sess.mapping.Has(key2) || sess.mapping.Has(fieldspec.KeyPostal) {
		return
	}

	var first, second *dom.Element
	for _, bucket := range [][]*dom.Element{sess.classified.TextInputs, sess.classified.TelInputs, sess.classified.NumberInputs} {
		for _, el := range bucket {
			if sess.isUsed(el) {
				continue
			}
			attr := el.NormAttr()
			if !fieldspec.ContainsAny(attr, fieldspec.PostalTokens) {
				continue
			}
			if !safeguardPasses(fieldspec.KindPostal, el) {
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
			}
		}
	}

	if first != nil && second != nil {
		sess.register(key1, first, e.fallbackScore(), ProvSalvagePostalSplit)
		sess.register(key2, second, e.fallbackScore(), ProvSalvagePostalSplit)
	}
}

// salvagePostal recovers the single 郵便番号 from the best tel/text candidate
// passing the postal safeguard, at the relaxed postal threshold.
func (e *Engine) salvagePostal(sess *session) {
	if sess.mapping.Has(fieldspec.KeyPostal) ||
		sess.mapping.Has(fieldspec.SplitKey(fieldspec.KeyPostal, 1)) {
		return
	}

	p := fieldspec.Get(fieldspec.KeyPostal)
	var best *dom.Element
	bestScore := 0

	for _, bucket := range [][]*dom.Element{sess.classified.TelInputs, sess.classified.TextInputs, sess.classified.NumberInputs} {
		for _, el := range bucket {
			if sess.isUsed(el) || !el.Info.Visible {
				continue
			}
			if !safeguardPasses(fieldspec.KindPostal, el) {
				continue
			}
			sc, _ := sess.scorer.Detailed(el, p, fieldspec.KindPostal)
			if sc > bestScore {
				best, bestScore = el, sc
			}
		}
	}

	if best != nil && bestScore >= e.Settings.PostalFallbackMinScore {
		sess.register(fieldspec.KeyPostal, best, bestScore, ProvSalvagePostal)
	}
}

// salvagePrefecture recovers 都道府県 from attribute/context tokens on an
// input or a structurally valid select. A select listing the prefecture names
// themselves qualifies with no attribute or label hint at all: the option
// texts are the strongest evidence that exists for this field.
func (e *Engine) salvagePrefecture(sess *session) {
	if sess.mapping.Has(fieldspec.KeyPrefecture) {
		return
	}

	buckets := [][]*dom.Element{sess.classified.Selects, sess.classified.TextInputs}
	for _, bucket := range buckets {
		for _, el := range bucket {
			if sess.isUsed(el) || !el.Info.Visible {
				continue
			}
			evidence := el.NormAttr() + " " + fieldspec.Normalize(allContextText(el))
			tokenHit := fieldspec.ContainsAny(evidence, fieldspec.PrefectureTokens)
			optionHit := el.Info.TagName == "select" &&
				fieldspec.CountPrefectureOptions(el.Options) >= fieldspec.MinPrefectureOptions
			if !tokenHit && !optionHit {
				continue
			}
			if !allowCandidate(fieldspec.KindPrefecture, el) {
				continue
			}
			if !safeguardPasses(fieldspec.KindPrefecture, el) {
				continue
			}
			if sess.register(fieldspec.KeyPrefecture, el, e.fallbackScore(), ProvSalvagePrefecture) {
				return
			}
		}
	}
}

// strongAddressAttrs relax the address fallback threshold: these literal
// attribute names are address fields on virtually every Japanese form.
var strongAddressAttrs = []string{"city", "adrs", "addr1", "addr2", "address1", "address2", "room", "town"}

// salvageAddress recovers 住所 (and up to two 住所_補助N supplements) from
// attribute or context address tokens, excluding kana/department/
// order-number/trap semantics.
func (e *Engine) salvageAddress(sess *session) {
	slots := 0
	if !sess.mapping.Has(fieldspec.KeyAddress) {
		slots++
	}
	for i := 1; i <= 2; i++ {
		if !sess.mapping.Has(fieldspec.SplitKey(fieldspec.AddressSupplementPrefix, i)) {
			slots++
		}
	}
	if slots == 0 {
		return
	}

	for _, el := range sess.classified.TextInputs {
		if sess.isUsed(el) || !el.Info.Visible {
			continue
		}
		attr := el.NormAttr()
		ctx := fieldspec.Normalize(allContextText(el))
		evidence := attr + " " + ctx

		if !fieldspec.ContainsAny(evidence, fieldspec.AddressTokens) {
			continue
		}
		if fieldspec.ContainsAny(attr, fieldspec.TrapTokens) ||
			fieldspec.ContainsAny(evidence, fieldspec.KanaTokens) ||
			fieldspec.ContainsAny(evidence, fieldspec.DepartmentTokens) ||
			fieldspec.ContainsAny(evidence, fieldspec.OrderNumberTokens) {
			continue
		}
		if !allowCandidate(fieldspec.KindAddress, el) {
			continue
		}
		if !safeguardPasses(fieldspec.KindAddress, el) {
			continue
		}

		// Per-candidate threshold: strong literal attributes are accepted at
		// the fallback floor; everything else must carry context evidence too.
		strong := fieldspec.ContainsAny(attr, strongAddressAttrs)
		if !strong && !fieldspec.ContainsAny(ctx, fieldspec.AddressTokens) {
			continue
		}

		key := fieldspec.KeyAddress
		if sess.mapping.Has(key) {
			key = sess.nextAddressSupplementKey()
			if key == "" {
				return
			}
		}
		sess.register(key, el, e.fallbackScore(), ProvSalvageAddress)
	}
}

// salvageCommonAddress force-maps the literal name="city" / name="adrs"
// convention: always accepted when present and unused.
func (e *Engine) salvageCommonAddress(sess *session) {
	for _, el := range sess.classified.TextInputs {
		if sess.isUsed(el) {
			continue
		}
		name := fieldspec.Normalize(el.Info.Name)
		if name != "city" && name != "adrs" {
			continue
		}

		key := fieldspec.KeyAddress
		if sess.mapping.Has(key) {
			key = sess.nextAddressSupplementKey()
			if key == "" {
				return
			}
		}
		sess.register(key, el, e.fallbackScore(), ProvForcedAddress)
	}
}

// salvageName recovers 統合氏名 or the 姓/名 split from attribute or label
// evidence, excluding organization tokens.
func (e *Engine) salvageName(sess *session) {
	haveFull := sess.mapping.Has(fieldspec.KeyFullName)
	haveSplit := sess.mapping.Has(fieldspec.KeyLastName) && sess.mapping.Has(fieldspec.KeyFirstName)
	if haveFull || haveSplit {
		return
	}

	var last, first, full *dom.Element
	for _, el := range sess.classified.TextInputs {
		if sess.isUsed(el) || !el.Info.Visible {
			continue
		}
		attr := el.NormAttr()
		ctx := fieldspec.Normalize(allContextText(el))
		evidence := attr + " " + ctx

		if fieldspec.ContainsAny(evidence, fieldspec.CompanyTokens) {
			continue
		}
		if fieldspec.ContainsAny(evidence, fieldspec.KanaTokens) {
			continue
		}

		role := nameRole(attr)
		if role == "" {
			role = nameRole(ctx)
		}
		switch role {
		case "last":
			if last == nil {
				last = el
			}
		case "first":
			if first == nil {
				first = el
			}
		default:
			if full == nil && fieldspec.ContainsAny(evidence, fieldspec.NameTokens) {
				full = el
			}
		}
	}

	if last != nil && first != nil {
		if !sess.mapping.Has(fieldspec.KeyLastName) {
			sess.register(fieldspec.KeyLastName, last, e.fallbackScore(), ProvSalvageName)
		}
		if !sess.mapping.Has(fieldspec.KeyFirstName) {
			sess.register(fieldspec.KeyFirstName, first, e.fallbackScore(), ProvSalvageName)
		}
		return
	}
	if full != nil && safeguardPasses(fieldspec.KindFullName, full) {
		sess.register(fieldspec.KeyFullName, full, e.fallbackScore(), ProvSalvageName)
	}
}

// salvageSubject recovers 件名 from attribute/label subject tokens,
// excluding name/contact/trap tokens.
func (e *Engine) salvageSubject(sess *session) {
	if sess.mapping.Has(fieldspec.KeySubject) {
		return
	}

	for _, el := range sess.classified.TextInputs {
		if sess.isUsed(el) || !el.Info.Visible {
			continue
		}
		attr := el.NormAttr()
		ctx := fieldspec.Normalize(allContextText(el))
		evidence := attr + " " + ctx

		if !fieldspec.ContainsAny(evidence, fieldspec.SubjectTokens) {
			continue
		}
		if fieldspec.ContainsAny(evidence, fieldspec.NameTokens) ||
			fieldspec.ContainsAny(evidence, fieldspec.PhoneTokens) ||
			fieldspec.ContainsAny(attr, fieldspec.TrapTokens) {
			continue
		}
		if !safeguardPasses(fieldspec.KindSubject, el) {
			continue
		}
		if sess.register(fieldspec.KeySubject, el, e.fallbackScore(), ProvSalvageSubject) {
			return
		}
	}
}
