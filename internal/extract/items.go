package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const symbolPattern = `(?:NT\$|HK\$|S\$|A\$|C\$|[$€£¥₩₹฿₫₱])`

var (
	// description, then whitespace or a currency symbol, then a line-end amount
	itemLine       = regexp.MustCompile(`^(.*?\S)(?:\s+|\s*` + symbolPattern + `\s*)` + symbolPattern + `?` + amountPattern + `\s*(?:円|元)?$`)
	quantityPrefix = regexp.MustCompile(`^(\d+)\s*[xX×@]\s*(.+)$`)
	// "MILK 2 @ 3.50": count and unit price after the description
	quantitySuffix = regexp.MustCompile(`^(.*?\S)\s+(\d+)\s*[xX×@]\s*` + symbolPattern + `?\d+(?:\.\d{1,2})?$`)
	// "2 @ 3.50 7.00": a count line continuing the description above it
	quantityLine = regexp.MustCompile(`^(\d+)\s*[xX×@]\s*` + symbolPattern + `?\d+(?:\.\d{1,2})?\s+` + symbolPattern + `?` + amountPattern + `\s*(?:円|元)?$`)

	minItemAmount = decimal.RequireFromString("0.01")
	maxItemAmount = decimal.NewFromInt(10000)
)

// ExtractItems finds line items: lines ending in an amount that are not
// totals, tax or payment lines. The merchant line is skipped.
func ExtractItems(lines []string, merchant string) []Item {
	var (
		items []Item
		// last unpriced line, the description for a following count line
		pending string
	)
	seen := make(map[string]bool)
	add := func(item Item) {
		key := ItemKey(item.Description, item.Amount, -1)
		if seen[key] {
			return
		}
		seen[key] = true
		items = append(items, item)
	}

	for _, line := range lines {
		if line == merchant || strings.EqualFold(line, merchant) {
			pending = ""
			continue
		}
		if itemSkipPattern.MatchString(line) || phonePattern.MatchString(line) || dateLikePattern.MatchString(line) {
			pending = ""
			continue
		}

		if q := quantityLine.FindStringSubmatch(strings.TrimSpace(line)); q != nil {
			amount, ok := parseAmount(q[2], q[3])
			if pending != "" && ok && validItemAmount(amount) {
				qty, _ := strconv.Atoi(q[1])
				add(Item{Description: pending, Amount: amount, Quantity: qty})
			}
			pending = ""
			continue
		}

		m := itemLine.FindStringSubmatch(line)
		if m == nil {
			pending = strings.TrimSpace(line)
			if utf8.RuneCountInString(pending) < 2 || !hasLetter(pending) {
				pending = ""
			}
			continue
		}
		pending = ""
		amount, ok := parseAmount(m[2], m[3])
		if !ok || !validItemAmount(amount) {
			continue
		}

		item := Item{Description: strings.TrimSpace(m[1]), Amount: amount}
		if q := quantityPrefix.FindStringSubmatch(item.Description); q != nil {
			item.Quantity, _ = strconv.Atoi(q[1])
			item.Description = strings.TrimSpace(q[2])
		} else if q := quantitySuffix.FindStringSubmatch(item.Description); q != nil {
			item.Quantity, _ = strconv.Atoi(q[2])
			item.Description = strings.TrimSpace(q[1])
		}
		if utf8.RuneCountInString(item.Description) < 2 || !hasLetter(item.Description) {
			continue
		}
		add(item)
	}
	return items
}

func validItemAmount(amount decimal.Decimal) bool {
	return !amount.LessThan(minItemAmount) && !amount.GreaterThan(maxItemAmount)
}

// ItemKey is the deduplication key for a line item: the lower-cased
// description, cut to prefix runes when prefix > 0, and the amount in cents.
func ItemKey(description string, amount decimal.Decimal, prefix int) string {
	desc := strings.ToLower(strings.TrimSpace(description))
	if prefix > 0 {
		if r := []rune(desc); len(r) > prefix {
			desc = string(r[:prefix])
		}
	}
	return desc + "|" + amount.Round(2).StringFixed(2)
}
