// Package fieldspec defines the logical form-field vocabulary used by the
// mapping pipeline.
//
// The fieldspec package is responsible for:
//   - The closed FieldKind enum of logical fields (email, postal, address, ...)
//   - Canonical mapping keys, including split keys (電話番号1..3, 郵便番号1/2)
//     and supplemental/synthetic keys (住所_補助N, auto_required_text_N)
//   - Per-field Pattern configuration (weight, accepted tags/types, strict
//     text patterns)
//   - Token vocabularies shared by filtering, safeguarding, inference, and
//     salvage, with full/half-width normalization
//
// Design constraints:
//   - Everything here is immutable after package init; callers must never
//     mutate returned slices or maps.
//   - All token matching is done against Normalize()d text, so vocabularies
//     are stored lowercase half-width.
package fieldspec

import (
	"strconv"
	"strings"
)

// FieldKind identifies a logical form field independent of markup.
//
// The set is closed: every switch over FieldKind in the mapping pipeline is
// written exhaustively so a new kind fails loudly at review time rather than
// silently passing every gate.
type FieldKind int

const (
	KindUnknown FieldKind = iota
	KindLastName
	KindFirstName
	KindLastNameKana  // katakana セイ
	KindFirstNameKana // katakana メイ
	KindLastNameHira  // hiragana せい
	KindFirstNameHira // hiragana めい
	KindFullName      // unified 統合氏名
	KindFullNameKana  // unified 統合氏名カナ
	KindCompany
	KindCompanyKana
	KindDepartment
	KindJobTitle
	KindEmail
	KindEmailConfirm
	KindPhone
	KindFax
	KindPostal
	KindPrefecture
	KindAddress
	KindSubject
	KindMessage
	KindGender
	KindURL
)

// Canonical mapping keys. The downstream value writer consumes these keys, so
// they are part of the output contract and must not change casually.
const (
	KeyLastName      = "姓"
	KeyFirstName     = "名"
	KeyLastNameKana  = "セイ"
	KeyFirstNameKana = "メイ"
	KeyLastNameHira  = "せい"
	KeyFirstNameHira = "めい"
	KeyFullName      = "統合氏名"
	KeyFullNameKana  = "統合氏名カナ"
	KeyCompany       = "会社名"
	KeyCompanyKana   = "会社名カナ"
	KeyDepartment    = "部署名"
	KeyJobTitle      = "役職"
	KeyEmail         = "メールアドレス"
	KeyPhone         = "電話番号"
	KeyFax           = "FAX番号"
	KeyPostal        = "郵便番号"
	KeyPrefecture    = "都道府県"
	KeyAddress       = "住所"
	KeySubject       = "件名"
	KeyMessage       = "本文"
	KeyGender        = "性別"
	KeyURL           = "ホームページ"
)

// Prefixes for synthetic keys minted by the required-rescue pass.
const (
	AutoRequiredTextPrefix   = "auto_required_text_"
	AutoRequiredSelectPrefix = "auto_required_select_"
	AutoEmailConfirmPrefix   = "auto_email_confirm_"
	AddressSupplementPrefix  = "住所_補助"
)

var kindNames = map[FieldKind]string{
	KindUnknown:       "unknown",
	KindLastName:      "last_name",
	KindFirstName:     "first_name",
	KindLastNameKana:  "last_name_kana",
	KindFirstNameKana: "first_name_kana",
	KindLastNameHira:  "last_name_hira",
	KindFirstNameHira: "first_name_hira",
	KindFullName:      "full_name",
	KindFullNameKana:  "full_name_kana",
	KindCompany:       "company",
	KindCompanyKana:   "company_kana",
	KindDepartment:    "department",
	KindJobTitle:      "job_title",
	KindEmail:         "email",
	KindEmailConfirm:  "email_confirm",
	KindPhone:         "phone",
	KindFax:           "fax",
	KindPostal:        "postal",
	KindPrefecture:    "prefecture",
	KindAddress:       "address",
	KindSubject:       "subject",
	KindMessage:       "message",
	KindGender:        "gender",
	KindURL:           "url",
}

func (k FieldKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

var keyToKind = map[string]FieldKind{
	KeyLastName:      KindLastName,
	KeyFirstName:     KindFirstName,
	KeyLastNameKana:  KindLastNameKana,
	KeyFirstNameKana: KindFirstNameKana,
	KeyLastNameHira:  KindLastNameHira,
	KeyFirstNameHira: KindFirstNameHira,
	KeyFullName:      KindFullName,
	KeyFullNameKana:  KindFullNameKana,
	KeyCompany:       KindCompany,
	KeyCompanyKana:   KindCompanyKana,
	KeyDepartment:    KindDepartment,
	KeyJobTitle:      KindJobTitle,
	KeyEmail:         KindEmail,
	KeyPhone:         KindPhone,
	KeyFax:           KindFax,
	KeyPostal:        KindPostal,
	KeyPrefecture:    KindPrefecture,
	KeyAddress:       KindAddress,
	KeySubject:       KindSubject,
	KeyMessage:       KindMessage,
	KeyGender:        KindGender,
	KeyURL:           KindURL,
}

// KindOf resolves a mapping key (canonical, split, supplemental, or synthetic)
// to its logical kind.
//
// Semantics:
//   - Split keys resolve to the unified kind: 電話番号2 -> KindPhone.
//   - 住所_補助N resolves to KindAddress.
//   - auto_email_confirm_N resolves to KindEmailConfirm.
//   - auto_required_text_N / auto_required_select_N resolve to KindUnknown;
//     they carry no field semantics by construction.
func KindOf(key string) FieldKind {
	if k, ok := keyToKind[key]; ok {
		return k
	}
	if strings.HasPrefix(key, AddressSupplementPrefix) {
		return KindAddress
	}
	if strings.HasPrefix(key, AutoEmailConfirmPrefix) {
		return KindEmailConfirm
	}
	if base, n := splitTrailingDigits(key); n > 0 {
		if k, ok := keyToKind[base]; ok {
			return k
		}
	}
	return KindUnknown
}

// SplitKey returns the key for the i-th part of a split field
// (e.g. SplitKey(KeyPhone, 2) == "電話番号2").
func SplitKey(base string, i int) string {
	return base + strconv.Itoa(i)
}

// splitTrailingDigits splits "電話番号2" into ("電話番号", 2).
// Returns n == 0 when key has no trailing ASCII digits.
func splitTrailingDigits(key string) (string, int) {
	i := len(key)
	for i > 0 && key[i-1] >= '0' && key[i-1] <= '9' {
		i--
	}
	if i == len(key) {
		return key, 0
	}
	n, err := strconv.Atoi(key[i:])
	if err != nil {
		return key, 0
	}
	return key[:i], n
}

// IsEssential reports whether key belongs to the essential set in settings.
// Split keys inherit the essential-ness of their unified key.
func IsEssential(key string, essentials map[string]struct{}) bool {
	if _, ok := essentials[key]; ok {
		return true
	}
	if base, n := splitTrailingDigits(key); n > 0 {
		_, ok := essentials[base]
		return ok
	}
	return false
}
