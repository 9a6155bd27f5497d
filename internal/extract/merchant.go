package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// merchantScanLines is how far down the receipt a merchant name may appear
const merchantScanLines = 8

// ExtractMerchant scores the first lines of the receipt and returns the
// most likely store name, or UnknownMerchant.
func ExtractMerchant(lines []string) string {
	best, bestScore := "", 0
	found := false
	for i, line := range lines {
		if i >= merchantScanLines {
			break
		}
		if rejectMerchantLine(line) {
			continue
		}
		score := merchantScore(line, i)
		if !found || score > bestScore {
			best, bestScore, found = line, score, true
		}
	}
	if !found {
		return UnknownMerchant
	}
	return cleanMerchant(best)
}

func rejectMerchantLine(line string) bool {
	switch {
	case decorativeLine.MatchString(line),
		!hasLetter(line),
		phonePattern.MatchString(line),
		addressPattern.MatchString(line),
		dateLikePattern.MatchString(line),
		receiptPattern.MatchString(line),
		thankYouPattern.MatchString(line):
		return true
	}
	return digitRatio(line) > 0.5
}

func merchantScore(line string, index int) int {
	score := 10 - index
	if isAllCaps(line) {
		score += 3
	}
	if n := utf8.RuneCountInString(line); n >= 5 && n <= 30 {
		score += 2
	}
	if storePattern.MatchString(line) {
		score += 3
	}
	if digitMidLine.MatchString(line) {
		score -= 2
	}
	return score
}

// cleanMerchant title-cases shouting Latin names: WALMART becomes Walmart
func cleanMerchant(name string) string {
	if isAllCaps(name) && isLatin(name) {
		return cases.Title(language.English).String(name)
	}
	return name
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

// isAllCaps reports whether s has cased letters and all of them are upper case
func isAllCaps(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

func isLatin(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}

// digitRatio is the share of non-space runes that are digits
func digitRatio(s string) float64 {
	var digits, total int
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(digits) / float64(total)
}
