package fieldspec

import "sort"

// Pattern is the per-field configuration driving the mapping orchestrator.
//
// Weight orders field processing (higher first), Tags/Types bound which
// elements may be scored for the field, and StrictTokens are the
// high-precision text patterns used for early stop and bonus scoring.
type Pattern struct {
	Key    string
	Kind   FieldKind
	Weight int

	// Tags accepted for this field ("input", "textarea", "select").
	Tags []string
	// Types accepted for input elements ("text", "email", "tel", ...).
	// Empty means any input type that the classifier bucketed as fillable.
	Types []string

	// StrictTokens: when one of these occurs in attributes or a confident
	// context text, the match is near-certain.
	StrictTokens []string

	// StrongType is the input type (or tag for textarea) whose presence is
	// decisive for this field; used by the early-stop rule.
	StrongType string

	// Essential fields participate in the early-stop rule and use the larger
	// quick-rank K.
	Essential bool
}

var patterns = []Pattern{
	{
		Key: KeyLastName, Kind: KindLastName, Weight: 100,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: LastNameTokens, Essential: true,
	},
	{
		Key: KeyFirstName, Kind: KindFirstName, Weight: 99,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: FirstNameTokens, Essential: true,
	},
	{
		Key: KeyLastNameKana, Kind: KindLastNameKana, Weight: 95,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: KatakanaTokens, Essential: true,
	},
	{
		Key: KeyFirstNameKana, Kind: KindFirstNameKana, Weight: 94,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: KatakanaTokens, Essential: true,
	},
	{
		Key: KeyLastNameHira, Kind: KindLastNameHira, Weight: 93,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: HiraganaTokens, Essential: true,
	},
	{
		Key: KeyFirstNameHira, Kind: KindFirstNameHira, Weight: 92,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: HiraganaTokens, Essential: true,
	},
	{
		Key: KeyFullName, Kind: KindFullName, Weight: 90,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: NameTokens, Essential: true,
	},
	{
		Key: KeyFullNameKana, Kind: KindFullNameKana, Weight: 89,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: KanaTokens, Essential: true,
	},
	{
		Key: KeyEmail, Kind: KindEmail, Weight: 85,
		Tags: []string{"input"}, Types: []string{"email", "text"},
		StrictTokens: EmailTokens, StrongType: "email", Essential: true,
	},
	{
		Key: KeyMessage, Kind: KindMessage, Weight: 80,
		Tags: []string{"textarea", "input"}, Types: []string{"text"},
		StrictTokens: MessagePrimaryTokens, StrongType: "textarea", Essential: true,
	},
	{
		Key: KeyCompany, Kind: KindCompany, Weight: 70,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: CompanyTokens,
	},
	{
		Key: KeyCompanyKana, Kind: KindCompanyKana, Weight: 68,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: KanaTokens,
	},
	{
		Key: KeyPhone, Kind: KindPhone, Weight: 65,
		Tags: []string{"input"}, Types: []string{"tel", "text", "number"},
		StrictTokens: PhoneTokens, StrongType: "tel",
	},
	{
		Key: KeyPostal, Kind: KindPostal, Weight: 60,
		Tags: []string{"input"}, Types: []string{"tel", "text", "number"},
		StrictTokens: PostalTokens,
	},
	{
		Key: KeyPrefecture, Kind: KindPrefecture, Weight: 58,
		Tags: []string{"select", "input"}, Types: []string{"text"},
		StrictTokens: PrefectureTokens,
	},
	{
		Key: KeyAddress, Kind: KindAddress, Weight: 55,
		Tags: []string{"input", "textarea"}, Types: []string{"text"},
		StrictTokens: AddressTokens,
	},
	{
		Key: KeySubject, Kind: KindSubject, Weight: 50,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: SubjectTokens,
	},
	{
		Key: KeyDepartment, Kind: KindDepartment, Weight: 40,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: DepartmentTokens,
	},
	{
		Key: KeyJobTitle, Kind: KindJobTitle, Weight: 38,
		Tags: []string{"input"}, Types: []string{"text"},
		StrictTokens: JobTitleTokens,
	},
	{
		Key: KeyURL, Kind: KindURL, Weight: 30,
		Tags: []string{"input"}, Types: []string{"url", "text"},
		StrictTokens: URLTokens, StrongType: "url",
	},
	{
		Key: KeyGender, Kind: KindGender, Weight: 25,
		Tags: []string{"select"},
		StrictTokens: GenderTokens,
	},
	{
		Key: KeyFax, Kind: KindFax, Weight: 20,
		Tags: []string{"input"}, Types: []string{"tel", "text"},
		StrictTokens: FaxTokens,
	},
}

var patternByKey = func() map[string]*Pattern {
	m := make(map[string]*Pattern, len(patterns))
	for i := range patterns {
		m[patterns[i].Key] = &patterns[i]
	}
	return m
}()

// Get returns the pattern for a canonical key, or nil if none is defined.
// Split and supplemental keys resolve through their unified key.
func Get(key string) *Pattern {
	if p, ok := patternByKey[key]; ok {
		return p
	}
	switch KindOf(key) {
	case KindPhone:
		return patternByKey[KeyPhone]
	case KindPostal:
		return patternByKey[KeyPostal]
	case KindAddress:
		return patternByKey[KeyAddress]
	case KindEmailConfirm:
		return patternByKey[KeyEmail]
	}
	return nil
}

// SortedByWeight returns all patterns in descending weight order. The slice
// is a copy; callers may not rely on mutating it.
func SortedByWeight() []Pattern {
	out := make([]Pattern, len(patterns))
	copy(out, patterns)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

// AcceptsTag reports whether the pattern admits the given tag name.
func (p *Pattern) AcceptsTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AcceptsType reports whether the pattern admits the given input type.
// Non-input tags (textarea, select) are not type-constrained.
func (p *Pattern) AcceptsType(tag, typ string) bool {
	if tag != "input" || len(p.Types) == 0 {
		return true
	}
	if typ == "" {
		typ = "text"
	}
	for _, t := range p.Types {
		if t == typ {
			return true
		}
	}
	return false
}
