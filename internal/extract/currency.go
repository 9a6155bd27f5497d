package extract

import (
	"regexp"
	"strings"
)

// DefaultCurrency is used when nothing in the text identifies one
const DefaultCurrency = "USD"

type currencySymbol struct {
	symbol string
	code   string
}

// currencySymbols is ordered longest first so "NT$" is consumed before "$".
// Ties in count resolve to the earlier row.
var currencySymbols = []currencySymbol{
	{"NT$", "TWD"},
	{"HK$", "HKD"},
	{"S$", "SGD"},
	{"A$", "AUD"},
	{"C$", "CAD"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"¥", "JPY"},
	{"₩", "KRW"},
	{"₹", "INR"},
	{"฿", "THB"},
	{"₫", "VND"},
	{"₱", "PHP"},
}

type currencyCode struct {
	re   *regexp.Regexp
	code string
}

var currencyCodes = []currencyCode{
	{regexp.MustCompile(`\bUSD\b`), "USD"},
	{regexp.MustCompile(`\bEUR\b`), "EUR"},
	{regexp.MustCompile(`\bGBP\b`), "GBP"},
	{regexp.MustCompile(`\bJPY\b`), "JPY"},
	{regexp.MustCompile(`\b(?:CNY|RMB)\b`), "CNY"},
	{regexp.MustCompile(`\b(?:TWD|NTD)\b`), "TWD"},
	{regexp.MustCompile(`\bHKD\b`), "HKD"},
	{regexp.MustCompile(`\bSGD\b`), "SGD"},
	{regexp.MustCompile(`\bAUD\b`), "AUD"},
	{regexp.MustCompile(`\bCAD\b`), "CAD"},
	{regexp.MustCompile(`\bKRW\b`), "KRW"},
	{regexp.MustCompile(`\bINR\b`), "INR"},
	{regexp.MustCompile(`\bTHB\b`), "THB"},
	{regexp.MustCompile(`\bMYR\b`), "MYR"},
	// regional scripts
	{regexp.MustCompile(`新台幣|新臺幣|台幣|臺幣`), "TWD"},
	{regexp.MustCompile(`人民币|人民幣`), "CNY"},
	{regexp.MustCompile(`円`), "JPY"},
	{regexp.MustCompile(`원`), "KRW"},
	// bare 元 on Traditional Chinese receipts; 元年 is an era year, not money
	{regexp.MustCompile(`元(?:[^年]|$)`), "TWD"},
}

var trailingNumber = regexp.MustCompile(`(\d[\d,]*)(\.\d+)?\s*(?:円|元)?\s*$`)

// DetectCurrency identifies the receipt currency: the most frequent symbol,
// else a currency code, else JPY when amounts are integral with three or
// more digits, else USD.
func DetectCurrency(text string) string {
	if code := currencyBySymbol(text); code != "" {
		return code
	}
	for _, c := range currencyCodes {
		if c.re.MatchString(text) {
			return c.code
		}
	}
	if looksLikeYen(text) {
		return "JPY"
	}
	return DefaultCurrency
}

func currencyBySymbol(text string) string {
	best, bestCount := "", 0
	for _, s := range currencySymbols {
		n := strings.Count(text, s.symbol)
		if n == 0 {
			continue
		}
		// consume so "$" does not also count "NT$"
		text = strings.ReplaceAll(text, s.symbol, " ")
		if n > bestCount {
			best, bestCount = s.code, n
		}
	}
	return best
}

// looksLikeYen reports whether line-end amounts are all integers and at
// least one has three or more digits
func looksLikeYen(text string) bool {
	found := false
	for _, line := range strings.Split(text, "\n") {
		if dateLikePattern.MatchString(line) || phonePattern.MatchString(line) {
			continue
		}
		m := trailingNumber.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if m[2] != "" {
			return false
		}
		if len(strings.ReplaceAll(m[1], ",", "")) >= 3 {
			found = true
		}
	}
	return found
}
