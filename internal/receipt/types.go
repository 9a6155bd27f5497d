package receipt

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of money in a transaction
type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

// LocalTransaction is one transaction candidate extracted from a receipt
type LocalTransaction struct {
	Date        string          `json:"date"` // YYYY-MM-DD
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	Currency    string          `json:"currency"`
	Confidence  float64         `json:"confidence"` // 0-1
}

// ProcessingResult is the output of one processReceipt or
// processMultipleImages call
type ProcessingResult struct {
	ID               string             `json:"id"`
	Transactions     []LocalTransaction `json:"transactions"`
	RawText          string             `json:"raw_text"`
	Confidence       float64            `json:"confidence"` // 0-1
	ProcessingTimeMs int64              `json:"processing_time_ms"`
	// Engine names the OCR engine(s) that produced the text
	Engine string `json:"engine"`
	// Skipped lists images that failed and were left out of a batch
	Skipped []string `json:"skipped,omitempty"`
}

// ProcessingState is the observable state of a pipeline
type ProcessingState struct {
	IsReady      bool   `json:"is_ready"`
	IsProcessing bool   `json:"is_processing"`
	Progress     int    `json:"progress"` // 0-100
	Status       string `json:"status"`
	LastError    string `json:"last_error,omitempty"`
}

// Image is an encoded receipt photo or document
type Image struct {
	Name        string
	Data        []byte
	ContentType string
}

// ProcessingMode selects heuristic-only or heuristic plus semantic extraction
type ProcessingMode string

const (
	ModeBasic    ProcessingMode = "basic"
	ModeEnhanced ProcessingMode = "enhanced"
)

// ParseProcessingMode converts a preference string into a ProcessingMode
func ParseProcessingMode(s string) (ProcessingMode, error) {
	switch ProcessingMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeBasic:
		return ModeBasic, nil
	case ModeEnhanced:
		return ModeEnhanced, nil
	}
	return "", fmt.Errorf("unknown processing mode %q (want basic or enhanced)", s)
}
