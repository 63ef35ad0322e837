package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Period string

const (
	PeriodCurrentMonth Period = "current_month"
	PeriodLastMonth    Period = "last_month"
)

// ParsePeriod accepts the canonical keywords and their short aliases.
func ParsePeriod(raw string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "current_month", "current", "this_month":
		return PeriodCurrentMonth, nil
	case "last_month", "last", "previous_month":
		return PeriodLastMonth, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse period", fmt.Errorf("unknown period %q", raw))
	}
}

// Bounds resolves the period to a half-open [start, end) range relative to now.
func (p Period) Bounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if p == PeriodLastMonth {
		return firstOfMonth.AddDate(0, -1, 0), firstOfMonth
	}
	return firstOfMonth, now
}

type Reconciliation struct {
	AccountID string          `json:"account_id"`
	Period    Period          `json:"period"`
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end"`
	Income    decimal.Decimal `json:"income"`
	Expenses  decimal.Decimal `json:"expenses"`
	NetFlow   decimal.Decimal `json:"net_flow"`
	Count     int             `json:"count"`
}
