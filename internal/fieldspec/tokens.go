package fieldspec

import (
	"strings"

	"golang.org/x/text/width"
)

// Normalize canonicalizes attribute/label text for token matching:
// full-width ASCII is folded to half-width (ＭＡＩＬ -> MAIL, half-width kana
// to full-width), then lowercased and trimmed.
//
// Every vocabulary below is stored in normalized form, so callers must
// Normalize() once and reuse the result rather than matching raw text.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(width.Fold.String(s)))
}

// ContainsAny reports whether normalized text contains any token from vocab.
// text must already be Normalize()d.
func ContainsAny(text string, vocab []string) bool {
	if text == "" {
		return false
	}
	for _, tok := range vocab {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

// MatchAny returns the first matching token, for logging which token fired.
func MatchAny(text string, vocab []string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, tok := range vocab {
		if strings.Contains(text, tok) {
			return tok, true
		}
	}
	return "", false
}

// Trap / honeypot / dummy attribute tokens. An element whose name, id, or
// class contains one of these is never a mapping candidate.
var TrapTokens = []string{
	"honeypot", "honey_pot", "honei", "trap", "dummy", "fake_", "_fake",
	"decoy", "nospam", "anti_spam", "antispam", "bot_field", "botfield",
}

// Auth / CAPTCHA / token attribute tokens. Elements carrying these are
// blacklisted from mapping and from required rescue.
var AuthTokens = []string{
	"captcha", "recaptcha", "csrf", "token", "nonce", "password", "passwd",
	"otp", "onetime", "auth_key", "authenticity", "challenge", "image_auth",
	"認証", "画像認証",
}

// Email evidence.
var EmailTokens = []string{
	"email", "e-mail", "e_mail", "mail", "メール", "めーる", "mailaddress",
	"mail_address",
}

// Confirmation markers: a field that re-asks for a value already entered.
var ConfirmTokens = []string{
	"confirm", "confirmation", "conf_", "_conf", "check", "retype", "re-type",
	"reenter", "re-enter", "verify", "確認", "再入力", "mail2", "email2",
}

// Phone evidence and disqualifiers.
var (
	PhoneTokens = []string{
		"tel", "phone", "mobile", "keitai", "denwa", "電話", "携帯", "tel_no",
		"telno", "phonenumber", "contact_number",
	}
	// Time-of-day / "preferred contact method" context means the field is
	// about the call, not the number.
	PhoneNegativeTokens = []string{
		"時間帯", "時間", "時刻", "午前", "午後", "連絡方法", "連絡手段",
		"contact method", "preferred contact", "ご希望の連絡",
	}
)

// Fax evidence. Kept separate from phone so the treat-all-as-required
// widening never drags fax in.
var FaxTokens = []string{"fax", "ファックス", "ファクス", "fax番号"}

// Postal code evidence and disqualifiers.
var (
	PostalTokens = []string{
		"zip", "zipcode", "zip_code", "postal", "postcode", "post_code",
		"郵便", "郵便番号", "〒", "yubin", "ybn",
	}
	PostalNegativeTokens = []string{
		"captcha", "token", "confirm", "verification", "認証", "確認",
	}
)

// Prefecture evidence.
var PrefectureTokens = []string{
	"都道府県", "prefecture", "pref", "p-region", "region", "todofuken",
	"州", "province",
}

// Address evidence and disqualifiers.
var (
	AddressTokens = []string{
		"address", "addr", "adrs", "住所", "street", "city", "town",
		"市区町村", "番地", "丁目", "banchi", "jusho", "所在地", "地名",
	}
	// Building / room-number semantics: a sub-part of an address managed by
	// dedicated fields, never the unified address itself.
	BuildingTokens = []string{
		"building", "bldg", "ビル", "建物", "マンション", "アパート", "部屋",
		"room", "号室", "棟",
	}
	DepartmentTokens = []string{
		"部署", "department", "division", "busho", "所属", "係",
	}
	OrderNumberTokens = []string{
		"order", "注文", "tracking", "追跡", "伝票", "受付番号", "予約番号",
		"会員番号", "membership",
	}
)

// Kana / furigana / hiragana script indicators.
var (
	KanaTokens = []string{
		"kana", "furigana", "カナ", "フリガナ", "ふりがな", "ひらがな",
		"よみがな", "ヨミガナ", "yomigana", "ruby",
	}
	HiraganaTokens = []string{"ふりがな", "ひらがな", "よみがな", "hiragana"}
	KatakanaTokens = []string{"フリガナ", "カタカナ", "ヨミガナ", "katakana", "kana"}
)

// Message / free-text evidence, in priority bands.
var (
	MessagePrimaryTokens = []string{
		"お問い合わせ内容", "お問合せ内容", "問い合わせ内容", "本文",
		"message", "inquiry", "お問い合わせ", "ご質問", "ご相談", "相談内容",
		"質問内容",
	}
	MessageSecondaryTokens = []string{
		"内容", "詳細", "detail", "備考", "remarks", "comment", "コメント",
		"ご意見", "ご要望", "概要",
	}
	// "Other (optional)" style disclaimers around a textarea mean the field
	// is an extra, not the inquiry body.
	OptionalDisclaimerTokens = []string{
		"その他", "任意", "optional", "あれば", "ございましたら",
	}
)

// Travel / reservation context: forms about bookings use address-like words
// (宿泊地, destination) that must not be mistaken for sender address/message.
var TravelTokens = []string{
	"宿泊", "宿泊地", "予約", "チェックイン", "チェックアウト", "旅行",
	"travel", "reservation", "booking", "destination", "滞在",
}

// Personal-name evidence.
var (
	NameTokens = []string{
		"name", "氏名", "名前", "お名前", "full_name", "fullname", "your-name",
		"your_name",
	}
	LastNameTokens = []string{
		"last", "lastname", "last_name", "family", "family_name", "sei",
		"姓", "苗字", "名字", "surname",
	}
	FirstNameTokens = []string{
		"first", "firstname", "first_name", "given", "given_name", "mei",
		"名", "下の名前",
	}
	// Phrases that strongly indicate a person, used to keep company-name
	// fields from swallowing personal-name inputs.
	StrongPersonalNameTokens = []string{
		"お名前", "氏名", "ご担当者", "担当者名", "your name",
	}
)

// Organization evidence.
var CompanyTokens = []string{
	"company", "会社", "会社名", "貴社", "御社", "法人", "corp", "corporate",
	"organization", "organisation", "団体", "企業", "屋号", "店舗名",
}

// Subject line evidence.
var SubjectTokens = []string{
	"件名", "subject", "題名", "タイトル", "title", "sub",
}

// Job title evidence and disqualifiers.
var (
	JobTitleTokens = []string{
		"役職", "position", "job_title", "jobtitle", "post", "肩書",
	}
	// "How did you hear about us" questionnaires often carry "きっかけ" with
	// generic title-ish attributes.
	HearAboutTokens = []string{
		"きっかけ", "どちらで", "知った", "hear about", "how did you",
		"アンケート",
	}
)

// Gender option evidence.
var (
	MaleTokens   = []string{"男", "男性", "male", "man"}
	FemaleTokens = []string{"女", "女性", "female", "woman"}
	GenderTokens = []string{"性別", "gender", "sex"}
)

// Required markers recognized in labels and attribute text.
var RequiredMarkTokens = []string{
	"required", "must", "必須", "※必須", "[必須]", "(必須)", "【必須】", "*",
}

// URL field evidence.
var URLTokens = []string{"url", "http", "website", "homepage", "ホームページ", "サイト"}
