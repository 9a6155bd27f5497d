package receipt

import (
	"slices"
	"strings"

	"github.com/zombor/receipt-lens/internal/extract"
)

const (
	// batchKeyPrefix is how much of a description identifies a duplicate
	// across overlapping photos
	batchKeyPrefix = 20

	rawTextSeparator = "\n\n----------\n\n"
)

// imageResult is the single-image pipeline output for one image of a batch
type imageResult struct {
	Name         string
	RawText      string
	Engine       string
	Confidence   float64
	Transactions []LocalTransaction
}

// Deduplicate drops transactions that repeat an earlier one by description
// prefix and amount. The survivor of each group is the most confident one
// and takes the position of the group's first occurrence.
func Deduplicate(txs []LocalTransaction) []LocalTransaction {
	out := make([]LocalTransaction, 0, len(txs))
	index := make(map[string]int)
	for _, tx := range txs {
		key := extract.ItemKey(tx.Description, tx.Amount, batchKeyPrefix)
		if i, ok := index[key]; ok {
			if tx.Confidence > out[i].Confidence {
				out[i] = tx
			}
			continue
		}
		index[key] = len(out)
		out = append(out, tx)
	}
	return out
}

// aggregate merges per-image results in image order
func aggregate(parts []imageResult) *ProcessingResult {
	res := &ProcessingResult{Transactions: []LocalTransaction{}}
	if len(parts) == 0 {
		return res
	}

	texts := make([]string, 0, len(parts))
	var engines []string
	var all []LocalTransaction
	var conf float64
	for _, p := range parts {
		texts = append(texts, p.RawText)
		if p.Engine != "" && !slices.Contains(engines, p.Engine) {
			engines = append(engines, p.Engine)
		}
		all = append(all, p.Transactions...)
		conf += p.Confidence
	}

	res.RawText = strings.Join(texts, rawTextSeparator)
	res.Engine = strings.Join(engines, "+")
	res.Transactions = Deduplicate(all)
	res.Confidence = conf / float64(len(parts))
	return res
}
