package mapping

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"formmap/internal/config"
	"formmap/internal/dom"
	"formmap/internal/fieldspec"
	"formmap/internal/required"
)

// classifyT parses and classifies a test fixture.
func classifyT(t *testing.T, html string) *dom.Classified {
	t.Helper()
	cls, err := dom.ClassifyHTML(html)
	if err != nil {
		t.Fatalf("ClassifyHTML: %v", err)
	}
	return cls
}

// mapHTML runs the full pipeline over one fixture with default settings.
func mapHTML(t *testing.T, html string) *FieldMapping {
	t.Helper()
	cls := classifyT(t, html)
	req := required.Analyze(cls)
	e := &Engine{Settings: config.Default()}
	return e.MapFields(cls, req)
}

// mustName asserts key is mapped to the element with the given name attribute.
func mustName(t *testing.T, fm *FieldMapping, key, name string) MappedElement {
	t.Helper()
	me, ok := fm.Get(key)
	if !ok {
		t.Fatalf("key %s not mapped; mapped keys: %v", key, fm.Keys())
	}
	if me.Name != name {
		t.Fatalf("key %s mapped to name=%q, want %q", key, me.Name, name)
	}
	return me
}

// basicContactForm is a typical table-laid-out Japanese contact form with
// split name/kana rows, contact details and an inquiry body.
const basicContactForm = `
<table>
<tr><th>姓<span>必須</span></th><td><input type="text" name="sei"></td></tr>
<tr><th>名</th><td><input type="text" name="mei"></td></tr>
<tr><th>セイ</th><td><input type="text" name="sei_kana"></td></tr>
<tr><th>メイ</th><td><input type="text" name="mei_kana"></td></tr>
<tr><th>メールアドレス</th><td><input type="email" name="email"></td></tr>
<tr><th>電話番号</th><td><input type="tel" name="tel"></td></tr>
<tr><th>郵便番号</th><td><input type="text" name="zip"></td></tr>
<tr><th>都道府県</th><td><select name="pref">
	<option>選択してください</option>
	<option>北海道</option><option>東京都</option><option>大阪府</option>
	<option>京都府</option><option>沖縄県</option><option>福岡県</option>
</select></td></tr>
<tr><th>ご住所</th><td><input type="text" name="address"></td></tr>
<tr><th>お問い合わせ内容</th><td><textarea name="message"></textarea></td></tr>
</table>`

// TestMapFields_BasicContactForm verifies the whole pipeline on the common
// case: every row of a labeled table form lands on its logical field, the
// required flag follows the label marker, and no element is claimed twice.
func TestMapFields_BasicContactForm(t *testing.T) {
	t.Parallel()

	fm := mapHTML(t, basicContactForm)

	want := map[string]string{
		fieldspec.KeyLastName:      "sei",
		fieldspec.KeyFirstName:     "mei",
		fieldspec.KeyLastNameKana:  "sei_kana",
		fieldspec.KeyFirstNameKana: "mei_kana",
		fieldspec.KeyEmail:         "email",
		fieldspec.KeyPhone:         "tel",
		fieldspec.KeyPostal:        "zip",
		fieldspec.KeyPrefecture:    "pref",
		fieldspec.KeyAddress:       "address",
		fieldspec.KeyMessage:       "message",
	}
	if fm.Len() != len(want) {
		t.Fatalf("mapped %d fields, want %d; keys: %v", fm.Len(), len(want), fm.Keys())
	}
	for key, name := range want {
		mustName(t, fm, key, name)
	}

	if me, _ := fm.Get(fieldspec.KeyLastName); !me.Required {
		t.Error("姓 carries a 必須 marker and must be flagged required")
	}
	if me, _ := fm.Get(fieldspec.KeyFirstName); me.Required {
		t.Error("名 has no marker and must not be flagged required")
	}
	if me, _ := fm.Get(fieldspec.KeyPrefecture); me.TagName != "select" {
		t.Errorf("都道府県 mapped to %s, want select", me.TagName)
	}

	seen := make(map[int]string)
	for _, key := range fm.Keys() {
		me, _ := fm.Get(key)
		if prev, dup := seen[me.Index]; dup {
			t.Fatalf("element %d mapped under both %s and %s", me.Index, prev, key)
		}
		seen[me.Index] = key
	}
}

// TestMapFields_Deterministic verifies that two runs over the same page
// produce identical mappings. The pipeline must be a pure function of the
// classified page; any ordering nondeterminism here corrupts stored runs.
func TestMapFields_Deterministic(t *testing.T) {
	t.Parallel()

	first := mapHTML(t, basicContactForm)
	second := mapHTML(t, basicContactForm)

	if !reflect.DeepEqual(first.Keys(), second.Keys()) {
		t.Fatalf("key order differs across runs: %v vs %v", first.Keys(), second.Keys())
	}
	for _, key := range first.Keys() {
		a, _ := first.Get(key)
		b, _ := second.Get(key)
		if a.Index != b.Index || a.Prov != b.Prov || a.Score != b.Score {
			t.Fatalf("key %s differs across runs: %+v vs %+v", key, a, b)
		}
	}
}

// TestMapFields_PhoneTripletPromotion verifies that an array-indexed phone
// triplet is promoted to 電話番号1/2/3 and the unified key is removed. A
// three-part form receiving one concatenated number is a broken submission.
func TestMapFields_PhoneTripletPromotion(t *testing.T) {
	t.Parallel()

	fm := mapHTML(t, `
		<input type="tel" name="tel[0]">
		<input type="tel" name="tel[1]">
		<input type="tel" name="tel[2]">
	`)

	if fm.Has(fieldspec.KeyPhone) {
		t.Fatal("unified 電話番号 must be removed after promotion")
	}
	for i := 1; i <= 3; i++ {
		key := fieldspec.SplitKey(fieldspec.KeyPhone, i)
		me := mustName(t, fm, key, "tel["+string(rune('0'+i-1))+"]")
		if me.Prov != ProvPromoteSplit {
			t.Errorf("%s provenance = %s, want %s", key, me.Prov, ProvPromoteSplit)
		}
	}
}

// TestMapFields_RequiredLegacyEmail verifies that a required bare text input
// named "email" is still mapped: legacy forms predate type="email" and the
// required-match path must carry them over the quality threshold.
func TestMapFields_RequiredLegacyEmail(t *testing.T) {
	t.Parallel()

	fm := mapHTML(t, `
		<table><tr><th>連絡先<span>※必須</span></th>
		<td><input type="text" name="email" id="email"></td></tr></table>
	`)

	me := mustName(t, fm, fieldspec.KeyEmail, "email")
	if !me.Required {
		t.Error("required marker on the row label must flag the mapping required")
	}
}

// TestMapFields_EmailConfirmDirective verifies that a confirmation email
// input becomes a synthetic copy-from assignment instead of competing for
// メールアドレス. Writing an independent value into a confirm field fails
// the form's equality check.
func TestMapFields_EmailConfirmDirective(t *testing.T) {
	t.Parallel()

	fm := mapHTML(t, `
		<input type="email" name="email" required>
		<input type="email" name="email_check" required>
	`)

	mustName(t, fm, fieldspec.KeyEmail, "email")

	confirm := mustName(t, fm, fieldspec.AutoEmailConfirmPrefix+"1", "email_check")
	if confirm.AutoAction != "copy_from" || confirm.CopyFromField != fieldspec.KeyEmail {
		t.Fatalf("confirm directive = %q/%q, want copy_from/%s",
			confirm.AutoAction, confirm.CopyFromField, fieldspec.KeyEmail)
	}
}

// TestMapFields_RequiredRescueSynthetics verifies the recall guarantee:
// required elements with no recognizable vocabulary end up under synthetic
// keys rather than dropped. An unmapped required field blocks submission.
func TestMapFields_RequiredRescueSynthetics(t *testing.T) {
	t.Parallel()

	fm := mapHTML(t, `
		<table>
		<tr><th>ご要望<span>必須</span></th><td><input type="text" name="f99"></td></tr>
		<tr><th>ご用件<span>必須</span></th><td><select name="s1">
			<option>選択してください</option><option>資料請求</option>
		</select></td></tr>
		</table>
	`)

	text := mustName(t, fm, fieldspec.AutoRequiredTextPrefix+"1", "f99")
	if text.Prov != ProvRequiredRescue {
		t.Errorf("text rescue provenance = %s, want %s", text.Prov, ProvRequiredRescue)
	}
	sel := mustName(t, fm, fieldspec.AutoRequiredSelectPrefix+"1", "s1")
	if sel.TagName != "select" {
		t.Errorf("select rescue mapped a %s", sel.TagName)
	}
}

// TestMapFields_HoneypotNeverMapped verifies that trap inputs and offscreen
// inputs never receive an assignment even when their names look perfect.
// Filling a honeypot gets the submission silently discarded.
func TestMapFields_HoneypotNeverMapped(t *testing.T) {
	t.Parallel()

	fm := mapHTML(t, `
		<input type="text" name="email_honeypot">
		<input type="text" name="mail_backup" style="position:absolute; left:-9999px">
		<input type="email" name="contact_mail">
	`)

	mustName(t, fm, fieldspec.KeyEmail, "contact_mail")
	for _, key := range fm.Keys() {
		me, _ := fm.Get(key)
		if me.Name == "email_honeypot" || me.Name == "mail_backup" {
			t.Fatalf("trap element %q mapped under %s", me.Name, key)
		}
	}
}

// TestMapFields_DisclaimerTextareaNotMessage verifies that an "other
// remarks (optional)" textarea loses 本文 to the real inquiry textarea and
// stays unmapped.
func TestMapFields_DisclaimerTextareaNotMessage(t *testing.T) {
	t.Parallel()

	html := `<table>
		<tr><th>お問い合わせ内容</th><td><textarea name="inquiry"></textarea></td></tr>
		<tr><th>その他（任意）</th><td><textarea name="other"></textarea></td></tr>
	</table>`
	fm := mapHTML(t, html)

	mustName(t, fm, fieldspec.KeyMessage, "inquiry")

	cls := classifyT(t, html)
	for _, el := range cls.Textareas {
		if el.Info.Name == "other" && fm.HasElement(el.Index) {
			t.Fatal("disclaimer textarea must stay unmapped")
		}
	}
}

// TestMapFields_AddressSupplements verifies that extra address inputs take
// the 住所_補助N slots instead of fighting over 住所.
func TestMapFields_AddressSupplements(t *testing.T) {
	t.Parallel()

	fm := mapHTML(t, `
		<table><tr><th>ご住所</th><td><input type="text" name="address"></td></tr></table>
		<input type="text" name="city">
		<input type="text" name="adrs">
	`)

	mustName(t, fm, fieldspec.KeyAddress, "address")
	mustName(t, fm, fieldspec.AddressSupplementPrefix+"1", "city")
	mustName(t, fm, fieldspec.AddressSupplementPrefix+"2", "adrs")
}

// TestMapFields_PrefectureSelectCorrection verifies the safety remap: when a
// text input wins 都道府県 on attribute evidence but the page has a
// well-formed prefecture select, the select takes over.
func TestMapFields_PrefectureSelectCorrection(t *testing.T) {
	t.Parallel()

	fm := mapHTML(t, `
		<table><tr><th>都道府県</th><td><input type="text" name="pref"></td></tr></table>
		<select name="f08">
			<option>選択してください</option>
			<option>北海道</option><option>東京都</option><option>大阪府</option>
			<option>京都府</option><option>沖縄県</option><option>福岡県</option>
		</select>
	`)

	me := mustName(t, fm, fieldspec.KeyPrefecture, "f08")
	if me.TagName != "select" || me.Prov != ProvSafetyRemap {
		t.Fatalf("prefecture = %s/%s, want select/%s", me.TagName, me.Prov, ProvSafetyRemap)
	}
}

// TestMapFields_PrefectureSelectByOptionsOnly verifies a select is mapped to
// 都道府県 on the strength of its option texts alone. Legacy dropdowns often
// carry a meaningless name and no label, so the prefecture names themselves
// must count as evidence.
func TestMapFields_PrefectureSelectByOptionsOnly(t *testing.T) {
	t.Parallel()

	fm := mapHTML(t, `
		<select name="f08">
			<option>選択してください</option>
			<option>北海道</option><option>青森県</option><option>東京都</option>
			<option>京都府</option><option>大阪府</option><option>沖縄県</option>
		</select>
	`)

	me := mustName(t, fm, fieldspec.KeyPrefecture, "f08")
	if me.TagName != "select" {
		t.Fatalf("都道府県 mapped to %s, want select", me.TagName)
	}
	if me.Prov != ProvSalvagePrefecture {
		t.Errorf("provenance = %s, want %s", me.Prov, ProvSalvagePrefecture)
	}
}

// TestMapFields_RequiredPrefectureSelect verifies a required hint-less
// prefecture select is claimed for 都道府県 by the rescue sweep instead of
// being parked under a synthetic select key.
func TestMapFields_RequiredPrefectureSelect(t *testing.T) {
	t.Parallel()

	fm := mapHTML(t, `
		<select name="s9" required>
			<option>選択してください</option>
			<option>北海道</option><option>青森県</option><option>東京都</option>
			<option>京都府</option><option>大阪府</option><option>沖縄県</option>
		</select>
	`)

	me := mustName(t, fm, fieldspec.KeyPrefecture, "s9")
	if me.Prov != ProvRequiredRescue {
		t.Errorf("provenance = %s, want %s", me.Prov, ProvRequiredRescue)
	}
	if fm.Has(fieldspec.AutoRequiredSelectPrefix + "1") {
		t.Fatal("prefecture-shaped select must not take a synthetic select key")
	}
}

// TestMapFields_PostalSplitPair verifies a zip1/zip2 pair ends up as
// 郵便番号1/2 with the unified key removed. A split form receiving one
// concatenated 7-digit code is a broken submission, same as the phone
// triplet.
func TestMapFields_PostalSplitPair(t *testing.T) {
	t.Parallel()

	fm := mapHTML(t, `
		<input type="text" name="zip1">
		<input type="text" name="zip2">
	`)

	if fm.Has(fieldspec.KeyPostal) {
		t.Fatal("unified 郵便番号 must be removed after promotion")
	}
	for i := 1; i <= 2; i++ {
		key := fieldspec.SplitKey(fieldspec.KeyPostal, i)
		me := mustName(t, fm, key, "zip"+string(rune('0'+i)))
		if me.Prov != ProvPromoteSplit {
			t.Errorf("%s provenance = %s, want %s", key, me.Prov, ProvPromoteSplit)
		}
	}
}

// TestMapFields_RequiredPostalSplit verifies the required variant of the
// postal pair: both halves land on 郵便番号1/2 flagged required, and neither
// degrades to a synthetic key. A full code in the 3-digit half plus junk in
// the other is exactly the corrupt write the split keys exist to prevent.
func TestMapFields_RequiredPostalSplit(t *testing.T) {
	t.Parallel()

	fm := mapHTML(t, `
		<table><tr><th>郵便番号<span>※必須</span></th>
		<td><input type="text" name="zip1"><input type="text" name="zip2"></td></tr></table>
	`)

	if fm.Has(fieldspec.KeyPostal) {
		t.Fatal("unified 郵便番号 must be removed after promotion")
	}
	if fm.Has(fieldspec.AutoRequiredTextPrefix + "1") {
		t.Fatal("the second postal half must not degrade to a synthetic key")
	}
	for i := 1; i <= 2; i++ {
		key := fieldspec.SplitKey(fieldspec.KeyPostal, i)
		me := mustName(t, fm, key, "zip"+string(rune('0'+i)))
		if !me.Required {
			t.Errorf("%s must be flagged required", key)
		}
		if me.Prov != ProvPromoteSplit {
			t.Errorf("%s provenance = %s, want %s", key, me.Prov, ProvPromoteSplit)
		}
	}
}

// captureLogger records formatted log lines for assertions.
type captureLogger struct {
	lines []string
}

func (l *captureLogger) Printf(format string, v ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

// TestMapFields_AcceptLogsScoreBreakdown verifies accepted main-loop
// assignments log their per-signal score breakdown. The breakdown is the only
// record of why a field won, so dropping it would make stored runs
// unexplainable.
func TestMapFields_AcceptLogsScoreBreakdown(t *testing.T) {
	t.Parallel()

	lg := &captureLogger{}
	cls := classifyT(t, basicContactForm)
	e := &Engine{Settings: config.Default(), Logger: lg}
	e.MapFields(cls, required.Analyze(cls))

	found := false
	for _, line := range lg.lines {
		if strings.Contains(line, " accept ") && strings.Contains(line, "breakdown=") &&
			!strings.Contains(line, "breakdown=none") {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("no accept line carries a score breakdown; lines: %v", lg.lines)
	}
}

// TestSalvageMessage_SecondaryTokens verifies the message fallback band
// ordering directly: a 備考 textarea is picked up by the secondary band, a
// disclaimer-only textarea is not.
func TestSalvageMessage_SecondaryTokens(t *testing.T) {
	t.Parallel()

	e := &Engine{Settings: config.Default()}

	cls := classifyT(t, `<table>
		<tr><th>備考</th><td><textarea name="note"></textarea></td></tr>
		<tr><th>その他（任意）</th><td><textarea name="etc"></textarea></td></tr>
	</table>`)
	sess := newSession(e, cls, required.Analysis{})
	e.salvageMessage(sess)
	me := mustName(t, sess.mapping, fieldspec.KeyMessage, "note")
	if me.Prov != ProvFallback {
		t.Errorf("provenance = %s, want %s", me.Prov, ProvFallback)
	}

	cls = classifyT(t, `<table>
		<tr><th>その他ご要望があれば</th><td><textarea name="etc"></textarea></td></tr>
	</table>`)
	sess = newSession(e, cls, required.Analysis{})
	e.salvageMessage(sess)
	if sess.mapping.Has(fieldspec.KeyMessage) {
		t.Fatal("disclaimer-only textarea must not be salvaged as 本文")
	}
}
