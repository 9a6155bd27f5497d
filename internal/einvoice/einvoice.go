// Package einvoice reads the QR codes printed on Taiwanese uniform e-invoices
// (電子發票證明聯). The left code carries the invoice number, date, amounts and
// tax IDs, which are more reliable than OCR of the same receipt.
package einvoice

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-lens/internal/extract"
)

// Currency is the currency every e-invoice is issued in
const Currency = "TWD"

// ErrNotInvoice is returned for QR payloads that are not a left e-invoice code
var ErrNotInvoice = errors.New("not a Taiwan e-invoice QR code")

const (
	headerLen   = 77
	rocYearBase = 1911
)

var invoiceNumber = regexp.MustCompile(`^[A-Z]{2}\d{8}$`)

// Invoice is the decoded left QR code
type Invoice struct {
	Number      string          `json:"number"`
	Date        string          `json:"date"` // ISO 8601
	RandomCode  string          `json:"random_code"`
	SalesAmount decimal.Decimal `json:"sales_amount"` // before tax
	TotalAmount decimal.Decimal `json:"total_amount"`
	BuyerID     string          `json:"buyer_id,omitempty"`
	SellerID    string          `json:"seller_id"`
	Items       []extract.Item  `json:"items,omitempty"`
}

// Parse decodes a left-code payload. Item details after the fixed header are
// read when they are UTF-8 or Base64 encoded; Big5 item lists are skipped.
func Parse(text string) (*Invoice, error) {
	if len(text) < headerLen {
		return nil, fmt.Errorf("payload too short (%d bytes): %w", len(text), ErrNotInvoice)
	}

	inv := &Invoice{
		Number:     text[0:10],
		RandomCode: text[17:21],
		BuyerID:    text[37:45],
		SellerID:   text[45:53],
	}
	if !invoiceNumber.MatchString(inv.Number) {
		return nil, fmt.Errorf("invalid invoice number %q: %w", inv.Number, ErrNotInvoice)
	}

	date, err := rocDate(text[10:17])
	if err != nil {
		return nil, fmt.Errorf("parsing invoice date: %w", err)
	}
	inv.Date = date

	if inv.SalesAmount, err = hexAmount(text[21:29]); err != nil {
		return nil, fmt.Errorf("parsing sales amount: %w", err)
	}
	if inv.TotalAmount, err = hexAmount(text[29:37]); err != nil {
		return nil, fmt.Errorf("parsing total amount: %w", err)
	}
	if inv.BuyerID == "00000000" {
		inv.BuyerID = ""
	}

	inv.Items = parseItems(text[headerLen:])
	return inv, nil
}

// Apply overwrites the fields the invoice states authoritatively and
// re-scores the receipt
func (inv *Invoice) Apply(r *extract.Receipt, ocrConfidence float64) {
	r.Date = inv.Date
	r.Currency = Currency
	if inv.TotalAmount.IsPositive() {
		r.Total = inv.TotalAmount
	}
	if len(r.Items) == 0 && len(inv.Items) > 0 {
		r.Items = inv.Items
	}
	r.Confidence = extract.Score(ocrConfidence, r)
}

// rocDate converts yyyMMdd in the Minguo calendar to ISO
func rocDate(s string) (string, error) {
	if len(s) != 7 {
		return "", fmt.Errorf("want 7 digits, got %q", s)
	}
	y, err := strconv.Atoi(s[0:3])
	if err != nil {
		return "", fmt.Errorf("year %q: %w", s[0:3], err)
	}
	t, err := time.Parse("20060102", fmt.Sprintf("%04d%s", y+rocYearBase, s[3:]))
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}

func hexAmount(s string) (decimal.Decimal, error) {
	n, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(n), nil
}

// parseItems reads ":self-use:count:total:encoding:name:qty:price..."
func parseItems(rest string) []extract.Item {
	fields := strings.Split(rest, ":")
	if len(fields) < 5 || fields[0] != "" {
		return nil
	}

	var items []extract.Item
	encoding := fields[4]
	for i := 5; i+2 < len(fields); i += 3 {
		name := fields[i]
		switch encoding {
		case "1":
		case "2":
			b, err := base64.StdEncoding.DecodeString(name)
			if err != nil {
				continue
			}
			name = string(b)
		default:
			return nil
		}

		qty, err := decimal.NewFromString(fields[i+1])
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(fields[i+2])
		if err != nil {
			continue
		}
		item := extract.Item{
			Description: strings.TrimSpace(name),
			Amount:      qty.Mul(price),
		}
		if qty.IsInteger() && qty.GreaterThan(decimal.NewFromInt(1)) {
			item.Quantity = int(qty.IntPart())
		}
		items = append(items, item)
	}
	return items
}
