package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReceiptImage struct {
	Filename string
	MimeType string
	Data     []byte
}

type ReceiptLineItem struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type ExtractedReceipt struct {
	MerchantName      string            `json:"merchant_name"`
	Date              time.Time         `json:"date"`
	TotalAmount       decimal.Decimal   `json:"total_amount"`
	LineItems         []ReceiptLineItem `json:"line_items"`
	SuggestedCategory string            `json:"suggested_category,omitempty"`
	Confidence        float64           `json:"confidence"`
	Fallback          bool              `json:"fallback"`
}

// FallbackReceipt is the minimal record used when provider output cannot be parsed.
func FallbackReceipt(now time.Time) ExtractedReceipt {
	return ExtractedReceipt{
		MerchantName: "Unrecognized receipt",
		Date:         DateOnly(now),
		TotalAmount:  decimal.Zero,
		LineItems:    []ReceiptLineItem{},
		Confidence:   FallbackConfidence,
		Fallback:     true,
	}
}
