package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultCategoryThreshold = 0.8
	OtherCategoryID          = "other"
	OtherCategoryName        = "Other"
	FallbackConfidence       = 0.1
)

type CategoryRule struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Keywords  []string  `json:"keywords" yaml:"keywords"`
	Patterns  []string  `json:"patterns" yaml:"patterns"`
	Threshold float64   `json:"threshold" yaml:"threshold"`
	IsSystem  bool      `json:"is_system" yaml:"system"`
	Active    bool      `json:"active" yaml:"active"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// EffectiveThreshold falls back to the default when no threshold is configured.
func (r CategoryRule) EffectiveThreshold() float64 {
	if r.Threshold <= 0 {
		return DefaultCategoryThreshold
	}
	return r.Threshold
}

type CategoryResult struct {
	CategoryID string  `json:"category_id"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

func OtherCategory() CategoryResult {
	return CategoryResult{
		CategoryID: OtherCategoryID,
		Category:   OtherCategoryName,
		Confidence: FallbackConfidence,
	}
}

type RuleType string

const (
	RuleAmountRange        RuleType = "amount_range"
	RuleCategoryMapping    RuleType = "category_mapping"
	RuleDuplicateDetection RuleType = "duplicate_detection"
)

type RuleParams struct {
	Min               *decimal.Decimal `json:"min,omitempty" yaml:"min,omitempty"`
	Max               *decimal.Decimal `json:"max,omitempty" yaml:"max,omitempty"`
	AllowedCategories []string         `json:"allowed_categories,omitempty" yaml:"allowed_categories,omitempty"`
}

type ValidationRule struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Type      RuleType   `json:"type" yaml:"type"`
	Params    RuleParams `json:"params" yaml:"params"`
	Active    bool       `json:"active" yaml:"active"`
	CreatedAt time.Time  `json:"created_at" yaml:"-"`
}

// ValidationSubject is the data a rule set is applied to. Empty fields are absent.
type ValidationSubject struct {
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Category    string           `json:"category,omitempty"`
	Description string           `json:"description,omitempty"`
	Date        *time.Time       `json:"date,omitempty"`
	AccountID   string           `json:"account_id,omitempty"`
}

type RuleResult struct {
	RuleID   string   `json:"rule_id"`
	RuleName string   `json:"rule_name"`
	RuleType RuleType `json:"rule_type"`
	Passed   bool     `json:"passed"`
	Message  string   `json:"message"`
}

type ValidationReport struct {
	Passed  bool         `json:"passed"`
	Results []RuleResult `json:"results"`
}
