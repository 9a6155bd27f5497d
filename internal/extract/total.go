package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// an amount standing alone at the end of a line
	lineEndAmount = regexp.MustCompile(`(?:^|[\s:])` + symbolPattern + `?\s*` + amountPattern + `\s*(?:円|元)?$`)

	maxFallbackTotal = decimal.NewFromInt(100000)
)

// ExtractTotal returns the largest amount following any total keyword. With
// no keyword match it falls back to the largest line-end amount up to
// 100,000, and then to the sum of items.
func ExtractTotal(text string, items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, re := range totalPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if amount, ok := parseAmount(m[1], m[2]); ok && amount.GreaterThan(total) {
				total = amount
			}
		}
	}
	if total.IsPositive() {
		return total
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if dateLikePattern.MatchString(line) || phonePattern.MatchString(line) {
			continue
		}
		m := lineEndAmount.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		amount, ok := parseAmount(m[1], m[2])
		if ok && amount.GreaterThan(total) && amount.LessThanOrEqual(maxFallbackTotal) {
			total = amount
		}
	}
	if total.IsPositive() {
		return total
	}

	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}
