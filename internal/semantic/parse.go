package semantic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/receipt-lens/internal/extract"
)

// parseResultJSON parses the model's JSON answer, tolerating markdown fences
// and chatter around the object
func parseResultJSON(text string) (*ParseResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var result ParseResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	result.Merchant.Value = strings.TrimSpace(result.Merchant.Value)
	result.Currency.Value = strings.ToUpper(strings.TrimSpace(result.Currency.Value))
	result.Date.Value = strings.TrimSpace(result.Date.Value)
	if result.Date.Value != "" && !validISODate(result.Date.Value) {
		// unusable; let the heuristic date stand
		result.Date = Field[string]{}
	}

	items := result.Items[:0]
	for _, item := range result.Items {
		item.Description = strings.TrimSpace(item.Description)
		if item.Description == "" || item.Amount.IsNegative() {
			continue
		}
		items = append(items, item)
	}
	result.Items = items

	result.Merchant.Confidence = clamp01(result.Merchant.Confidence)
	result.Date.Confidence = clamp01(result.Date.Confidence)
	result.Total.Confidence = clamp01(result.Total.Confidence)
	result.Currency.Confidence = clamp01(result.Currency.Confidence)
	result.Confidence = clamp01(result.Confidence)

	if result.Merchant.Value == "" {
		result.Merchant.Value = extract.UnknownMerchant
		result.Merchant.Confidence = 0
	}
	return &result, nil
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
