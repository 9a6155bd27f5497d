package ocr

import (
	"strings"

	"github.com/go-text/typesetting/language"
)

// ScriptHint names a writing system the caller expects on its receipts
type ScriptHint string

const (
	ScriptLatin              ScriptHint = "latin"
	ScriptJapanese           ScriptHint = "japanese"
	ScriptTraditionalChinese ScriptHint = "traditional-chinese"
)

var tesseractLanguages = map[ScriptHint]string{
	ScriptLatin:              "eng",
	ScriptJapanese:           "jpn",
	ScriptTraditionalChinese: "chi_tra",
}

// ParseScriptHints parses a comma-separated list such as "latin,japanese".
// Unknown names are skipped.
func ParseScriptHints(s string) []ScriptHint {
	var hints []ScriptHint
	for _, part := range strings.Split(s, ",") {
		h := ScriptHint(strings.ToLower(strings.TrimSpace(part)))
		if _, ok := tesseractLanguages[h]; ok {
			hints = append(hints, h)
		}
	}
	return hints
}

// LanguagesFor maps script hints to Tesseract traineddata names. Latin is
// always included since every receipt carries Latin digits and codes.
func LanguagesFor(hints []ScriptHint) []string {
	langs := []string{"eng"}
	seen := map[string]bool{"eng": true}
	for _, h := range hints {
		l, ok := tesseractLanguages[h]
		if !ok || seen[l] {
			continue
		}
		seen[l] = true
		langs = append(langs, l)
	}
	return langs
}

// cjkSampleRunes bounds how much of a quick pass is inspected
const cjkSampleRunes = 500

// lexical markers that survive even a Latin-only engine reading a CJK receipt
var cjkMarkers = []string{
	"NT$", "TWD", "NTD", "JPY", "RMB",
	"円", "元", "合計", "合计", "總計", "統一發票", "發票", "領収", "税込", "稅",
}

// HasCJK reports whether the first 500 characters of OCR text look like a
// Chinese, Japanese or Korean receipt.
func HasCJK(text string) bool {
	sample := []rune(text)
	if len(sample) > cjkSampleRunes {
		sample = sample[:cjkSampleRunes]
	}

	cjk := 0
	for _, r := range sample {
		if isCJKScript(language.LookupScript(r)) {
			cjk++
		}
	}
	if cjk >= 2 {
		return true
	}

	s := string(sample)
	for _, m := range cjkMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// DetectScript returns the dominant script of text, Latin if nothing is
// classified. Digits and punctuation do not count.
func DetectScript(text string) language.Script {
	counts := make(map[language.Script]int)
	maxCount := 0
	best := language.Latin
	for _, r := range text {
		script := language.LookupScript(r)
		if script == language.Unknown || !script.Strong() {
			continue
		}
		counts[script]++
		if counts[script] > maxCount {
			maxCount = counts[script]
			best = script
		}
	}
	return best
}

func isCJKScript(s language.Script) bool {
	switch s {
	case language.Han, language.Hiragana, language.Katakana, language.Hangul:
		return true
	}
	return false
}
