package mapping

import (
	"formmap/internal/dom"
	"formmap/internal/fieldspec"
)

// inferFieldKey guesses the logical mapping key for an element the main loop
// left unmapped but the rescue sweep must place somewhere.
//
// Layered priority (first hit wins):
//
//	email input type > textarea (message) > postal tokens > prefecture
//	tokens > tel input type > address tokens > generic text email/phone
//	tokens > split-name inference > unified-name fallback
//
// Returns "" when nothing matches; the caller mints a synthetic key then.
func inferFieldKey(el *dom.Element) string {
	info := el.Info
	attr := el.NormAttr()
	ctx := fieldspec.Normalize(allContextText(el))
	evidence := attr + " " + ctx

	if info.TagName == "input" && info.Type == "email" {
		return fieldspec.KeyEmail
	}
	if info.TagName == "textarea" {
		return fieldspec.KeyMessage
	}
	if fieldspec.ContainsAny(evidence, fieldspec.PostalTokens) {
		return fieldspec.KeyPostal
	}
	if fieldspec.ContainsAny(evidence, fieldspec.PrefectureTokens) {
		return fieldspec.KeyPrefecture
	}
	if info.TagName == "input" && info.Type == "tel" {
		return fieldspec.KeyPhone
	}
	if fieldspec.ContainsAny(evidence, fieldspec.AddressTokens) {
		return fieldspec.KeyAddress
	}

	// Generic text inputs: attribute evidence for email/phone still wins
	// over name inference.
	if fieldspec.ContainsAny(attr, fieldspec.EmailTokens) {
		return fieldspec.KeyEmail
	}
	if fieldspec.ContainsAny(attr, fieldspec.FaxTokens) {
		return fieldspec.KeyFax
	}
	if fieldspec.ContainsAny(attr, fieldspec.PhoneTokens) {
		return fieldspec.KeyPhone
	}

	// Company and subject outrank split-name inference: 会社名 and 件名 both
	// contain 名 and would otherwise read as a first-name field.
	if fieldspec.ContainsAny(evidence, fieldspec.CompanyTokens) {
		return fieldspec.KeyCompany
	}
	if fieldspec.ContainsAny(evidence, fieldspec.SubjectTokens) {
		return fieldspec.KeySubject
	}

	if key := inferNameKey(attr, ctx); key != "" {
		return key
	}
	if fieldspec.ContainsAny(evidence, fieldspec.NameTokens) {
		return fieldspec.KeyFullName
	}
	return ""
}

// inferNameKey distinguishes the name-field family: script (kanji vs
// katakana vs hiragana) crossed with sub-role (last vs first vs unified).
// Attribute tokens take priority over context tokens for the sub-role, since
// labels frequently say 氏名 over a pair of split inputs.
func inferNameKey(attr, ctx string) string {
	script := nameScript(attr)
	if script == "" {
		script = nameScript(ctx)
	}

	role := nameRole(attr)
	if role == "" {
		role = nameRole(ctx)
	}

	if script == "" && role == "" {
		return ""
	}

	switch script {
	case "katakana":
		switch role {
		case "last":
			return fieldspec.KeyLastNameKana
		case "first":
			return fieldspec.KeyFirstNameKana
		}
		return fieldspec.KeyFullNameKana
	case "hiragana":
		switch role {
		case "last":
			return fieldspec.KeyLastNameHira
		case "first":
			return fieldspec.KeyFirstNameHira
		}
		return fieldspec.KeyFullNameKana
	}

	switch role {
	case "last":
		return fieldspec.KeyLastName
	case "first":
		return fieldspec.KeyFirstName
	}
	return ""
}

func nameScript(text string) string {
	if text == "" {
		return ""
	}
	// Hiragana markers are a subset of the generic kana vocabulary; check
	// them first so ふりがな does not resolve to katakana.
	if fieldspec.ContainsAny(text, fieldspec.HiraganaTokens) {
		return "hiragana"
	}
	if fieldspec.ContainsAny(text, fieldspec.KatakanaTokens) {
		return "katakana"
	}
	return ""
}

func nameRole(text string) string {
	if text == "" {
		return ""
	}
	// Unified-name words contain 名 as a substring; settle them before the
	// first-name check so 氏名/名前 never read as "first".
	for _, full := range []string{"氏名", "名前", "fullname", "full_name", "full name"} {
		if fieldspec.ContainsAny(text, []string{full}) {
			return ""
		}
	}
	if fieldspec.ContainsAny(text, fieldspec.LastNameTokens) {
		return "last"
	}
	if fieldspec.ContainsAny(text, fieldspec.FirstNameTokens) {
		return "first"
	}
	return ""
}

// allContextText concatenates every context text, not just the best one: the
// rescue pass trades precision for recall and wants all the evidence.
func allContextText(el *dom.Element) string {
	out := ""
	for _, c := range el.Contexts {
		if out != "" {
			out += " "
		}
		out += c.Text
	}
	return out
}
