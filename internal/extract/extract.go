// Package extract pulls structured receipt fields out of raw OCR text using
// locale-aware regular expressions and heuristics.
package extract

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"
)

// UnknownMerchant is the placeholder used when no merchant line qualifies
const UnknownMerchant = "Unknown Merchant"

// Item is one candidate line item
type Item struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Quantity    int             `json:"quantity,omitempty"`
}

// Receipt is the structured output for one image
type Receipt struct {
	Merchant string          `json:"merchant"`
	Date     string          `json:"date"` // ISO 8601, YYYY-MM-DD
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"` // ISO 4217
	Items    []Item          `json:"items"`
	// Confidence is 0-1
	Confidence float64 `json:"confidence"`
	Refund     bool    `json:"refund,omitempty"`
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Extractor runs the field heuristics
type Extractor struct {
	timeSource TimeSource
}

// New creates an Extractor using the wall clock for date defaults
func New() *Extractor {
	return &Extractor{timeSource: defaultTimeSource{}}
}

// NewWithTimeSource creates an Extractor with a custom clock for testing
func NewWithTimeSource(ts TimeSource) *Extractor {
	return &Extractor{timeSource: ts}
}

// Extract runs every field heuristic over text. ocrConfidence is on the
// engine's 0-100 scale.
func (e *Extractor) Extract(text string, ocrConfidence float64) *Receipt {
	text = Normalize(text)
	lines := splitLines(text)

	r := &Receipt{
		Currency: DetectCurrency(text),
		Date:     e.ParseDate(text),
		Merchant: ExtractMerchant(lines),
		Refund:   refundPattern.MatchString(text),
	}
	r.Items = ExtractItems(lines, r.Merchant)
	r.Total = ExtractTotal(text, r.Items)
	if r.Items == nil {
		r.Items = []Item{}
	}
	r.Confidence = Score(ocrConfidence, r)
	return r
}

// Score computes extraction confidence on a 0-1 scale: OCR confidence / 100,
// then ×0.8 for an unknown merchant, ×0.7 for a zero total and ×0.8 when no
// items were found.
func Score(ocrConfidence float64, r *Receipt) float64 {
	c := min(max(ocrConfidence/100, 0), 1)
	if r.Merchant == "" || r.Merchant == UnknownMerchant {
		c *= 0.8
	}
	if r.Total.IsZero() {
		c *= 0.7
	}
	if len(r.Items) == 0 {
		c *= 0.8
	}
	return c
}

// Normalize folds full-width digits, letters and symbols to their ASCII
// forms and unifies line endings.
func Normalize(text string) string {
	text = width.Fold.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// splitLines returns the trimmed, non-empty lines of text
func splitLines(text string) []string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// parseAmount converts a matched integer part (with optional thousands
// separators) and fractional part into a decimal
func parseAmount(intPart, fracPart string) (decimal.Decimal, bool) {
	s := strings.ReplaceAll(intPart, ",", "")
	if fracPart != "" {
		s += "." + fracPart
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
