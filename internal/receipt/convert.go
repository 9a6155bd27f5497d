package receipt

import (
	"github.com/zombor/receipt-lens/internal/extract"
)

// ToTransactions turns an extracted receipt into transaction candidates: one
// per line item, or a single one for the whole receipt when no items were
// found but a total was. A receipt with neither yields none.
func ToTransactions(r *extract.Receipt) []LocalTransaction {
	typ := TransactionExpense
	if r.Refund {
		typ = TransactionIncome
	}

	if len(r.Items) == 0 {
		if !r.Total.IsPositive() {
			return []LocalTransaction{}
		}
		return []LocalTransaction{{
			Date:        r.Date,
			Description: r.Merchant,
			Amount:      r.Total,
			Type:        typ,
			Currency:    r.Currency,
			Confidence:  r.Confidence,
		}}
	}

	txs := make([]LocalTransaction, 0, len(r.Items))
	for _, item := range r.Items {
		txs = append(txs, LocalTransaction{
			Date:        r.Date,
			Description: item.Description,
			Amount:      item.Amount,
			Type:        typ,
			Currency:    r.Currency,
			Confidence:  r.Confidence,
		})
	}
	return txs
}
