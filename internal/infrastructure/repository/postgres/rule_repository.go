package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

type CategoryRuleRepository struct {
	db *sql.DB
}

func NewCategoryRuleRepository(db *sql.DB) *CategoryRuleRepository {
	return &CategoryRuleRepository{db: db}
}

// ListActive returns active rules in creation order; the categorizer relies on it for tie-breaks.
func (r *CategoryRuleRepository) ListActive(ctx context.Context) ([]domain.CategoryRule, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, keywords, patterns, threshold, is_system, active, created_at
FROM category_rules
WHERE active
ORDER BY created_at, id
`)
	if err != nil {
		return nil, fmt.Errorf("list category rules: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CategoryRule, 0)
	for rows.Next() {
		var (
			rule               domain.CategoryRule
			keywords, patterns []byte
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &keywords, &patterns, &rule.Threshold, &rule.IsSystem, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category rule: %w", err)
		}
		if err := json.Unmarshal(keywords, &rule.Keywords); err != nil {
			return nil, fmt.Errorf("unmarshal keywords for %s: %w", rule.ID, err)
		}
		if err := json.Unmarshal(patterns, &rule.Patterns); err != nil {
			return nil, fmt.Errorf("unmarshal patterns for %s: %w", rule.ID, err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category rules: %w", err)
	}
	return out, nil
}

// Upsert writes rule by id. Existing system rules can only be replaced by a system definition.
func (r *CategoryRuleRepository) Upsert(ctx context.Context, rule domain.CategoryRule) error {
	keywords, err := json.Marshal(nonNil(rule.Keywords))
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	patterns, err := json.Marshal(nonNil(rule.Patterns))
	if err != nil {
		return fmt.Errorf("marshal patterns: %w", err)
	}
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
INSERT INTO category_rules (id, name, keywords, patterns, threshold, is_system, active, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
	keywords = EXCLUDED.keywords,
	patterns = EXCLUDED.patterns,
	threshold = EXCLUDED.threshold,
	is_system = EXCLUDED.is_system,
	active = EXCLUDED.active
WHERE NOT category_rules.is_system OR EXCLUDED.is_system
`, rule.ID, rule.Name, keywords, patterns, rule.EffectiveThreshold(), rule.IsSystem, rule.Active, createdAt)
	if err != nil {
		return fmt.Errorf("upsert category rule: %w", err)
	}
	if err := expectOneRow(result, "upsert category rule"); err != nil {
		if errors.Is(err, errNoRows) {
			return domain.WrapError(domain.ErrInvalidInput, "upsert category rule", fmt.Errorf("system rule %s is not editable", rule.ID))
		}
		return err
	}
	return nil
}

type ValidationRuleRepository struct {
	db *sql.DB
}

func NewValidationRuleRepository(db *sql.DB) *ValidationRuleRepository {
	return &ValidationRuleRepository{db: db}
}

func (r *ValidationRuleRepository) ListActive(ctx context.Context) ([]domain.ValidationRule, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, type, params, active, created_at
FROM validation_rules
WHERE active
ORDER BY created_at, id
`)
	if err != nil {
		return nil, fmt.Errorf("list validation rules: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ValidationRule, 0)
	for rows.Next() {
		var (
			rule     domain.ValidationRule
			ruleType string
			params   []byte
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &ruleType, &params, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan validation rule: %w", err)
		}
		rule.Type = domain.RuleType(ruleType)
		if err := json.Unmarshal(params, &rule.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params for %s: %w", rule.ID, err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validation rules: %w", err)
	}
	return out, nil
}

func (r *ValidationRuleRepository) Upsert(ctx context.Context, rule domain.ValidationRule) error {
	params, err := json.Marshal(rule.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO validation_rules (id, name, type, params, active, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name, type = EXCLUDED.type, params = EXCLUDED.params, active = EXCLUDED.active
`, rule.ID, rule.Name, string(rule.Type), params, rule.Active, createdAt)
	if err != nil {
		return fmt.Errorf("upsert validation rule: %w", err)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
