package fieldspec

import "strings"

// Prefectures lists the 47 Japanese prefecture names as they appear in
// well-formed select options.
var Prefectures = []string{
	"北海道", "青森県", "岩手県", "宮城県", "秋田県", "山形県", "福島県",
	"茨城県", "栃木県", "群馬県", "埼玉県", "千葉県", "東京都", "神奈川県",
	"新潟県", "富山県", "石川県", "福井県", "山梨県", "長野県", "岐阜県",
	"静岡県", "愛知県", "三重県", "滋賀県", "京都府", "大阪府", "兵庫県",
	"奈良県", "和歌山県", "鳥取県", "島根県", "岡山県", "広島県", "山口県",
	"徳島県", "香川県", "愛媛県", "高知県", "福岡県", "佐賀県", "長崎県",
	"熊本県", "大分県", "宮崎県", "鹿児島県", "沖縄県",
}

// CountPrefectureOptions counts how many distinct prefecture names occur in
// the given option texts. Suffix-less forms ("東京", "大阪") also count, so
// terse dropdowns are not penalized.
func CountPrefectureOptions(options []string) int {
	seen := make(map[string]struct{})
	for _, opt := range options {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		for _, p := range Prefectures {
			if _, ok := seen[p]; ok {
				continue
			}
			if strings.Contains(opt, p) || opt == shortPrefectureName(p) {
				seen[p] = struct{}{}
				break
			}
		}
	}
	return len(seen)
}

// shortPrefectureName strips exactly one classifier suffix: 東京都 -> 東京,
// 京都府 -> 京都. The suffixes are whole runes, never a trim set, so 京都府
// cannot degrade to 京. 北海道 has no short form and is returned unchanged.
func shortPrefectureName(p string) string {
	for _, suffix := range []string{"都", "府", "県"} {
		if strings.HasSuffix(p, suffix) {
			return strings.TrimSuffix(p, suffix)
		}
	}
	return p
}

// MinPrefectureOptions is the minimum number of distinct prefecture names a
// select must offer before it is trusted as a prefecture/address dropdown.
const MinPrefectureOptions = 5
