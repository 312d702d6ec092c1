package mapping

import (
	"strings"

	"formmap/internal/dom"
	"formmap/internal/fieldspec"
)

// allowCandidate is the cheap pre-admission gate run before any expensive
// scoring. Pure predicate: no session state is touched.
//
// Order of checks matters for cost, not correctness: field-agnostic trap and
// visibility checks first, field-specific structure checks last.
func allowCandidate(kind fieldspec.FieldKind, el *dom.Element) bool {
	attr := el.NormAttr()

	if fieldspec.ContainsAny(attr, fieldspec.TrapTokens) {
		return false
	}
	if !el.Info.Visible {
		return false
	}

	switch kind {
	case fieldspec.KindPrefecture, fieldspec.KindAddress:
		if el.Info.TagName == "select" && !prefectureSelectOK(el) {
			// An unrelated dropdown (title, country, how-did-you-hear) must
			// not be admitted just because its attributes look address-ish.
			return false
		}
		if kind == fieldspec.KindAddress && el.Info.TagName != "select" {
			return addressTextInputOK(attr, el)
		}
		return true

	case fieldspec.KindGender:
		if el.Info.TagName == "select" {
			return genderSelectOK(el)
		}
		return true

	case fieldspec.KindUnknown,
		fieldspec.KindLastName, fieldspec.KindFirstName,
		fieldspec.KindLastNameKana, fieldspec.KindFirstNameKana,
		fieldspec.KindLastNameHira, fieldspec.KindFirstNameHira,
		fieldspec.KindFullName, fieldspec.KindFullNameKana,
		fieldspec.KindCompany, fieldspec.KindCompanyKana,
		fieldspec.KindDepartment, fieldspec.KindJobTitle,
		fieldspec.KindEmail, fieldspec.KindEmailConfirm,
		fieldspec.KindPhone, fieldspec.KindFax,
		fieldspec.KindPostal, fieldspec.KindSubject,
		fieldspec.KindMessage, fieldspec.KindURL:
		return true
	}
	return true
}

// prefectureSelectOK requires option texts to contain at least
// MinPrefectureOptions distinct prefecture names, or the literal word.
func prefectureSelectOK(el *dom.Element) bool {
	if fieldspec.CountPrefectureOptions(el.Options) >= fieldspec.MinPrefectureOptions {
		return true
	}
	for _, opt := range el.Options {
		if strings.Contains(opt, "都道府県") ||
			strings.Contains(fieldspec.Normalize(opt), "prefecture") {
			return true
		}
	}
	return false
}

// genderSelectOK requires evidence of both a male and a female option.
func genderSelectOK(el *dom.Element) bool {
	var male, female bool
	for _, opt := range el.Options {
		norm := fieldspec.Normalize(opt)
		if fieldspec.ContainsAny(norm, fieldspec.MaleTokens) {
			male = true
		}
		if fieldspec.ContainsAny(norm, fieldspec.FemaleTokens) {
			female = true
		}
	}
	return male && female
}

// addressTextInputOK rejects text inputs whose attributes or placeholder
// signal a sub-part or an unrelated number field rather than the address
// itself.
func addressTextInputOK(attr string, el *dom.Element) bool {
	if fieldspec.ContainsAny(attr, fieldspec.BuildingTokens) {
		return false
	}
	if fieldspec.ContainsAny(attr, fieldspec.DepartmentTokens) {
		return false
	}
	if fieldspec.ContainsAny(attr, fieldspec.KanaTokens) {
		return false
	}
	if fieldspec.ContainsAny(attr, fieldspec.OrderNumberTokens) {
		return false
	}
	ph := fieldspec.Normalize(el.Info.Placeholder)
	if fieldspec.ContainsAny(ph, fieldspec.BuildingTokens) {
		return false
	}
	return true
}
