// Package extraction turns provider output into ExtractedReceipt values.
// Providers live in subpackages; Router picks one by MIME type.
package extraction

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

const defaultModelConfidence = 0.5

type receiptJSON struct {
	MerchantName      string          `json:"merchant_name"`
	Date              string          `json:"date"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	LineItems         []lineItemJSON  `json:"line_items"`
	SuggestedCategory string          `json:"suggested_category"`
	Confidence        *float64        `json:"confidence"`
}

type lineItemJSON struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// ParseReceiptJSON reads the JSON object a model returned. Anything that does
// not yield a merchant or a total falls back to domain.FallbackReceipt.
func ParseReceiptJSON(raw string, now time.Time) domain.ExtractedReceipt {
	var payload receiptJSON
	if err := json.Unmarshal([]byte(CleanModelJSON(raw)), &payload); err != nil {
		return domain.FallbackReceipt(now)
	}

	merchant := strings.TrimSpace(payload.MerchantName)
	total := payload.TotalAmount.Abs()
	if merchant == "" && total.IsZero() {
		return domain.FallbackReceipt(now)
	}
	if merchant == "" {
		merchant = domain.FallbackReceipt(now).MerchantName
	}

	date := domain.DateOnly(now)
	if parsed, err := domain.ParseRecordDate(payload.Date); err == nil {
		date = parsed
	}

	confidence := defaultModelConfidence
	if payload.Confidence != nil {
		confidence = clamp(*payload.Confidence)
	}

	items := make([]domain.ReceiptLineItem, 0, len(payload.LineItems))
	for _, item := range payload.LineItems {
		description := strings.TrimSpace(item.Description)
		if description == "" {
			continue
		}
		items = append(items, domain.ReceiptLineItem{Description: description, Amount: item.Amount})
	}

	return domain.ExtractedReceipt{
		MerchantName:      merchant,
		Date:              date,
		TotalAmount:       total,
		LineItems:         items,
		SuggestedCategory: strings.TrimSpace(payload.SuggestedCategory),
		Confidence:        confidence,
	}
}

// CleanModelJSON strips Markdown fences and any prose around the outermost object.
func CleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

const amountPattern = `(-?\d{1,3}(?:[ ,]\d{3})*(?:\.\d{2})|-?\d+\.\d{2})`

var (
	totalLine      = regexp.MustCompile(`(?i)\b(grand total|total due|amount due|balance due|total)\b[^0-9\-]*` + amountPattern)
	subtotalLine   = regexp.MustCompile(`(?i)\b(sub-?total|tax|vat|change|cash|tip)\b`)
	itemLine       = regexp.MustCompile(`^(.*[A-Za-z].*?)\s+` + amountPattern + `$`)
	isoDate        = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	slashDate      = regexp.MustCompile(`\b\d{2}/\d{2}/\d{4}\b`)
	dotDate        = regexp.MustCompile(`\b\d{2}\.\d{2}\.\d{4}\b`)
	letterPattern  = regexp.MustCompile(`[A-Za-z]`)
	thousandsStrip = strings.NewReplacer(",", "", " ", "")
)

// ParseReceiptText applies line heuristics to text pulled out of a PDF or a
// plain-text receipt. Without a recognizable total the result is the fallback.
func ParseReceiptText(text string, now time.Time) domain.ExtractedReceipt {
	lines := make([]string, 0)
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	var (
		merchant string
		total    decimal.Decimal
		found    bool
		items    = make([]domain.ReceiptLineItem, 0)
	)
	for _, line := range lines {
		if merchant == "" && letterPattern.MatchString(line) && !totalLine.MatchString(line) {
			merchant = line
			continue
		}
		if match := totalLine.FindStringSubmatch(line); match != nil && !subtotalLine.MatchString(line) {
			if amount, err := decimal.NewFromString(thousandsStrip.Replace(match[2])); err == nil {
				total = amount.Abs()
				found = true
			}
			continue
		}
		if subtotalLine.MatchString(line) {
			continue
		}
		if match := itemLine.FindStringSubmatch(line); match != nil {
			if amount, err := decimal.NewFromString(thousandsStrip.Replace(match[2])); err == nil {
				items = append(items, domain.ReceiptLineItem{Description: strings.TrimSpace(match[1]), Amount: amount})
			}
		}
	}
	if !found {
		return domain.FallbackReceipt(now)
	}

	confidence := 0.4
	date := domain.DateOnly(now)
	if parsed, ok := findDate(text); ok {
		date = parsed
		confidence += 0.2
	}
	if merchant != "" {
		confidence += 0.1
	} else {
		merchant = domain.FallbackReceipt(now).MerchantName
	}
	if len(items) > 0 {
		confidence += 0.1
	}

	return domain.ExtractedReceipt{
		MerchantName: merchant,
		Date:         date,
		TotalAmount:  total,
		LineItems:    items,
		Confidence:   confidence,
	}
}

func findDate(text string) (time.Time, bool) {
	for _, pattern := range []*regexp.Regexp{isoDate, slashDate, dotDate} {
		if raw := pattern.FindString(text); raw != "" {
			if parsed, err := domain.ParseRecordDate(raw); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
