package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

type ruleEvaluator func(ctx context.Context, subject domain.ValidationSubject, rule domain.ValidationRule) (bool, string, error)

type Validator struct {
	rules      ports.ValidationRuleStore
	duplicates *DuplicateDetector
	evaluators map[domain.RuleType]ruleEvaluator
}

func NewValidator(rules ports.ValidationRuleStore, duplicates *DuplicateDetector) *Validator {
	v := &Validator{
		rules:      rules,
		duplicates: duplicates,
	}
	v.evaluators = map[domain.RuleType]ruleEvaluator{
		domain.RuleAmountRange:        evaluateAmountRange,
		domain.RuleCategoryMapping:    evaluateCategoryMapping,
		domain.RuleDuplicateDetection: v.evaluateDuplicate,
	}
	return v
}

// Validate applies every active rule to subject.
func (v *Validator) Validate(ctx context.Context, subject domain.ValidationSubject) (domain.ValidationReport, error) {
	rules, err := v.rules.ListActive(ctx)
	if err != nil {
		return domain.ValidationReport{}, fmt.Errorf("list validation rules: %w", err)
	}
	return v.ApplyRules(ctx, subject, rules)
}

// ApplyRules evaluates all rules and reports each outcome; it never stops at
// the first failure. It does not mutate the subject.
func (v *Validator) ApplyRules(ctx context.Context, subject domain.ValidationSubject, rules []domain.ValidationRule) (domain.ValidationReport, error) {
	report := domain.ValidationReport{
		Passed:  true,
		Results: make([]domain.RuleResult, 0, len(rules)),
	}
	for _, rule := range rules {
		result := domain.RuleResult{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			RuleType: rule.Type,
		}

		evaluate, ok := v.evaluators[rule.Type]
		if !ok {
			result.Message = fmt.Sprintf("unknown rule type %q", rule.Type)
		} else {
			passed, message, err := evaluate(ctx, subject, rule)
			if err != nil {
				return domain.ValidationReport{}, fmt.Errorf("evaluate rule %s: %w", rule.ID, err)
			}
			result.Passed = passed
			result.Message = message
		}

		report.Passed = report.Passed && result.Passed
		report.Results = append(report.Results, result)
	}
	return report, nil
}

func evaluateAmountRange(_ context.Context, subject domain.ValidationSubject, rule domain.ValidationRule) (bool, string, error) {
	if subject.Amount == nil {
		return false, "amount is missing", nil
	}
	abs := subject.Amount.Abs()

	lower := decimal.Zero
	if rule.Params.Min != nil {
		lower = *rule.Params.Min
	}
	if abs.LessThan(lower) {
		return false, fmt.Sprintf("amount %s is below minimum %s", abs, lower), nil
	}
	if rule.Params.Max != nil && abs.GreaterThan(*rule.Params.Max) {
		return false, fmt.Sprintf("amount %s exceeds maximum %s", abs, *rule.Params.Max), nil
	}
	return true, "amount within range", nil
}

func evaluateCategoryMapping(_ context.Context, subject domain.ValidationSubject, rule domain.ValidationRule) (bool, string, error) {
	category := strings.TrimSpace(subject.Category)
	if category == "" {
		return true, "no category to check", nil
	}
	if slices.Contains(rule.Params.AllowedCategories, category) {
		return true, "category allowed", nil
	}
	return false, fmt.Sprintf("category %q is not allowed", category), nil
}

func (v *Validator) evaluateDuplicate(ctx context.Context, subject domain.ValidationSubject, _ domain.ValidationRule) (bool, string, error) {
	if subject.Amount == nil || subject.Date == nil || strings.TrimSpace(subject.Description) == "" {
		return true, "insufficient data for duplicate check", nil
	}
	duplicate, err := v.duplicates.IsDuplicate(ctx, domain.Transaction{
		Amount:      *subject.Amount,
		Description: subject.Description,
		Date:        *subject.Date,
	})
	if err != nil {
		return false, "", err
	}
	if duplicate {
		return false, "matching transaction already exists", nil
	}
	return true, "no duplicate found", nil
}
