// Package semantic merges heuristic extraction with the output of a local
// language model that has read the same OCR text.
package semantic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-lens/internal/extract"
)

// Per-field confidence floors a semantic value must exceed to win
const (
	merchantFloor = 0.5
	dateFloor     = 0.4
	totalFloor    = 0.5

	itemKeyPrefix = 10
)

// Field is a value with the model's 0-1 confidence in it
type Field[T any] struct {
	Value      T       `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ParseResult is a semantic reading of a receipt
type ParseResult struct {
	Merchant   Field[string]          `json:"merchant"`
	Date       Field[string]          `json:"date"`
	Total      Field[decimal.Decimal] `json:"total"`
	Currency   Field[string]          `json:"currency"`
	Items      []extract.Item         `json:"items"`
	Confidence float64                `json:"confidence"`
}

// Extractor parses OCR text into fields
type Extractor interface {
	ParseReceiptText(ctx context.Context, text string) (*ParseResult, error)
}

// Preloader is implemented by extractors whose model can be loaded ahead of use
type Preloader interface {
	Preload(ctx context.Context) error
}

// Merge combines a heuristic extraction with a semantic one field by field.
// ocrConfidence is on the 0-100 engine scale. The heuristic receipt is not
// modified.
func Merge(h *extract.Receipt, s *ParseResult, ocrConfidence float64) *extract.Receipt {
	out := *h
	out.Items = append([]extract.Item(nil), h.Items...)
	if s == nil {
		return &out
	}

	if s.Merchant.Confidence > merchantFloor && s.Merchant.Value != "" && s.Merchant.Value != extract.UnknownMerchant {
		out.Merchant = s.Merchant.Value
	}
	if s.Date.Confidence > dateFloor && validISODate(s.Date.Value) {
		out.Date = s.Date.Value
	}
	if s.Total.Confidence > totalFloor && s.Total.Value.IsPositive() {
		out.Total = s.Total.Value
	}
	if h.Currency == extract.DefaultCurrency && s.Currency.Value != "" && s.Currency.Value != extract.DefaultCurrency {
		out.Currency = s.Currency.Value
	}

	out.Items = mergeItems(s.Items, h.Items)

	blend := 0.5*(ocrConfidence/100) + 0.5*s.Confidence
	out.Confidence = min(max(h.Confidence, s.Confidence, blend), 1)
	return &out
}

// mergeItems keeps semantic items first, then heuristic items that do not
// duplicate one already kept
func mergeItems(semantic, heuristic []extract.Item) []extract.Item {
	items := make([]extract.Item, 0, len(semantic)+len(heuristic))
	seen := make(map[string]bool)
	for _, list := range [][]extract.Item{semantic, heuristic} {
		for _, item := range list {
			key := extract.ItemKey(item.Description, item.Amount, itemKeyPrefix)
			if seen[key] {
				continue
			}
			seen[key] = true
			items = append(items, item)
		}
	}
	return items
}

func validISODate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
