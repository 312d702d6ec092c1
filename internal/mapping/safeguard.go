package mapping

import (
	"formmap/internal/dom"
	"formmap/internal/fieldspec"
)

// safeguardPasses is the post-score, field-specific acceptance predicate:
// after a candidate clears its threshold, this gate asks whether it is
// semantically plausible for the field at all.
//
// The switch is exhaustive over FieldKind. Kinds without a listed predicate
// default to pass; failure demotes the candidate to rejected for this field
// only (a later salvage pass may still recover the field with a different
// candidate).
func safeguardPasses(kind fieldspec.FieldKind, el *dom.Element) bool {
	attr := el.NormAttr()
	ctx := fieldspec.Normalize(el.BestContext())
	evidence := attr + " " + ctx

	switch kind {
	case fieldspec.KindEmail:
		if el.Info.TagName == "input" && el.Info.Type == "email" {
			return true
		}
		return fieldspec.ContainsAny(evidence, fieldspec.EmailTokens)

	case fieldspec.KindEmailConfirm:
		// Same positive evidence as email; the confirm marker requirement is
		// enforced by the passes that mint these keys.
		if el.Info.TagName == "input" && el.Info.Type == "email" {
			return true
		}
		return fieldspec.ContainsAny(evidence, fieldspec.EmailTokens)

	case fieldspec.KindPhone:
		if fieldspec.ContainsAny(ctx, fieldspec.PhoneNegativeTokens) {
			return false
		}
		if el.Info.TagName == "input" && el.Info.Type == "tel" {
			return true
		}
		return fieldspec.ContainsAny(evidence, fieldspec.PhoneTokens)

	case fieldspec.KindPostal:
		if fieldspec.ContainsAny(evidence, fieldspec.PostalNegativeTokens) {
			return false
		}
		return fieldspec.ContainsAny(evidence, fieldspec.PostalTokens)

	case fieldspec.KindPrefecture:
		// A select offering the actual prefecture names is its own evidence;
		// attribute-less dropdowns are common on legacy forms. Inputs and
		// sparse selects still need textual evidence.
		if el.Info.TagName == "select" &&
			fieldspec.CountPrefectureOptions(el.Options) >= fieldspec.MinPrefectureOptions {
			return true
		}
		return fieldspec.ContainsAny(evidence, fieldspec.PrefectureTokens)

	case fieldspec.KindAddress:
		if fieldspec.ContainsAny(evidence, fieldspec.KanaTokens) {
			return false
		}
		if fieldspec.ContainsAny(evidence, fieldspec.DepartmentTokens) {
			return false
		}
		if fieldspec.ContainsAny(evidence, fieldspec.AuthTokens) {
			return false
		}
		if fieldspec.ContainsAny(ctx, fieldspec.TravelTokens) {
			return false
		}
		if fieldspec.ContainsAny(evidence, fieldspec.AddressTokens) {
			return true
		}
		return fieldspec.ContainsAny(evidence, fieldspec.PrefectureTokens)

	case fieldspec.KindMessage:
		if fieldspec.ContainsAny(ctx, fieldspec.TravelTokens) {
			return false
		}
		// Address words around a textarea mean "write your address here"
		// unless message words co-occur.
		if fieldspec.ContainsAny(evidence, fieldspec.AddressTokens) &&
			!fieldspec.ContainsAny(evidence, fieldspec.MessagePrimaryTokens) {
			return false
		}
		return true

	case fieldspec.KindCompany:
		if fieldspec.ContainsAny(evidence, fieldspec.KanaTokens) {
			return false
		}
		return !fieldspec.ContainsAny(ctx, fieldspec.StrongPersonalNameTokens)

	case fieldspec.KindCompanyKana:
		return true

	case fieldspec.KindLastName, fieldspec.KindFirstName:
		if fieldspec.ContainsAny(evidence, fieldspec.SubjectTokens) {
			return false
		}
		return !fieldspec.ContainsAny(evidence, fieldspec.CompanyTokens)

	case fieldspec.KindSubject:
		return !fieldspec.ContainsAny(evidence, fieldspec.KanaTokens)

	case fieldspec.KindJobTitle:
		if fieldspec.ContainsAny(ctx, fieldspec.HearAboutTokens) {
			return false
		}
		return fieldspec.ContainsAny(evidence, fieldspec.JobTitleTokens)

	case fieldspec.KindLastNameKana, fieldspec.KindFirstNameKana,
		fieldspec.KindFullNameKana:
		if fieldspec.ContainsAny(evidence, fieldspec.GenderTokens) {
			return false
		}
		return fieldspec.ContainsAny(evidence, fieldspec.KanaTokens)

	case fieldspec.KindLastNameHira, fieldspec.KindFirstNameHira:
		if fieldspec.ContainsAny(evidence, fieldspec.GenderTokens) {
			return false
		}
		return fieldspec.ContainsAny(evidence, fieldspec.HiraganaTokens) ||
			fieldspec.ContainsAny(evidence, fieldspec.KanaTokens)

	case fieldspec.KindFullName:
		if fieldspec.ContainsAny(evidence, fieldspec.AddressTokens) ||
			fieldspec.ContainsAny(evidence, fieldspec.PostalTokens) ||
			fieldspec.ContainsAny(evidence, fieldspec.PrefectureTokens) {
			return false
		}
		return !fieldspec.ContainsAny(evidence, fieldspec.CompanyTokens)

	case fieldspec.KindUnknown, fieldspec.KindDepartment, fieldspec.KindFax,
		fieldspec.KindGender, fieldspec.KindURL:
		return true
	}
	return true
}

// safetyCriticalKinds are the kinds the required-rescue pass must re-check
// with the safeguard before registering; a wrong rescue on these corrupts a
// submission.
func safetyCritical(kind fieldspec.FieldKind) bool {
	switch kind {
	case fieldspec.KindEmail, fieldspec.KindEmailConfirm, fieldspec.KindPhone,
		fieldspec.KindPostal, fieldspec.KindPrefecture, fieldspec.KindAddress,
		fieldspec.KindMessage:
		return true
	}
	return false
}
