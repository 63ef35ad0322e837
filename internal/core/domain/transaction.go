package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Transaction is the normalized record every source is folded into.
// Amount is signed: negative values are outflows.
type Transaction struct {
	ID                 string          `json:"id"`
	AccountID          string          `json:"account_id"`
	SourceID           string          `json:"source_id,omitempty"`
	ExternalID         string          `json:"external_id,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Description        string          `json:"description"`
	Date               time.Time       `json:"date"`
	Category           string          `json:"category,omitempty"`
	CategoryConfidence float64         `json:"category_confidence"`
	Pending            bool            `json:"pending"`
	DedupeKey          string          `json:"dedupe_key"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (t Transaction) HasProvenance() bool {
	return t.SourceID != "" && t.ExternalID != ""
}

// HeuristicKey identifies a transaction from a source without stable external ids.
func HeuristicKey(amount decimal.Decimal, description string, date time.Time) string {
	return fmt.Sprintf("%s|%s|%s", amount.String(), NormalizeDescription(description), DateBucket(date))
}

var folder = cases.Fold()

// NormalizeDescription folds case, applies NFKC and collapses whitespace.
func NormalizeDescription(description string) string {
	folded := folder.String(norm.NFKC.String(description))
	return strings.Join(strings.Fields(folded), " ")
}

func DateBucket(date time.Time) string {
	return date.UTC().Format("2006-01-02")
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// RawValue accepts either a JSON string or number so malformed values are
// reported per record instead of failing the whole payload decode.
type RawValue string

func (v *RawValue) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case trimmed == "null":
		*v = ""
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = RawValue(s)
	default:
		*v = RawValue(trimmed)
	}
	return nil
}

// RawRecord is a transaction as delivered by a source, before normalization.
type RawRecord struct {
	ExternalID  string   `json:"external_id,omitempty"`
	AccountID   string   `json:"account_id,omitempty"`
	Amount      RawValue `json:"amount"`
	Date        RawValue `json:"date"`
	Description string   `json:"description"`
	Pending     bool     `json:"pending,omitempty"`
}

var recordDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
	"02.01.2006",
}

// ParseRecordDate accepts the date layouts seen in aggregator feeds and spreadsheets.
func ParseRecordDate(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	for _, layout := range recordDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return DateOnly(parsed), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}

// Normalize validates the record shape and converts it to a Transaction.
// Failures are ErrMalformedRecord and concern this record only.
func (r RawRecord) Normalize(sourceID, defaultAccountID string) (Transaction, error) {
	description := strings.TrimSpace(r.Description)
	if description == "" {
		return Transaction{}, WrapError(ErrMalformedRecord, "normalize record", fmt.Errorf("description is empty"))
	}
	rawAmount := strings.TrimSpace(string(r.Amount))
	if rawAmount == "" {
		return Transaction{}, WrapError(ErrMalformedRecord, "normalize record", fmt.Errorf("amount is missing"))
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return Transaction{}, WrapError(ErrMalformedRecord, "normalize record", fmt.Errorf("amount %q is not numeric", rawAmount))
	}
	if strings.TrimSpace(string(r.Date)) == "" {
		return Transaction{}, WrapError(ErrMalformedRecord, "normalize record", fmt.Errorf("date is missing"))
	}
	date, err := ParseRecordDate(string(r.Date))
	if err != nil {
		return Transaction{}, WrapError(ErrMalformedRecord, "normalize record", err)
	}

	accountID := strings.TrimSpace(r.AccountID)
	if accountID == "" {
		accountID = defaultAccountID
	}
	txn := Transaction{
		AccountID:   accountID,
		SourceID:    sourceID,
		ExternalID:  strings.TrimSpace(r.ExternalID),
		Amount:      amount,
		Description: description,
		Date:        date,
		Pending:     r.Pending,
	}
	txn.DedupeKey = HeuristicKey(txn.Amount, txn.Description, txn.Date)
	return txn, nil
}
