package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

var (
	keywordWeight = decimal.RequireFromString("0.3")
	patternWeight = decimal.RequireFromString("0.5")
	maxConfidence = decimal.NewFromInt(1)
)

// Categorizer is an additive keyword/pattern scorer over the active category rules.
type Categorizer struct {
	rules ports.CategoryRuleStore

	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

func NewCategorizer(rules ports.CategoryRuleStore) *Categorizer {
	return &Categorizer{
		rules:    rules,
		compiled: make(map[string]*regexp.Regexp),
	}
}

func (c *Categorizer) Categorize(ctx context.Context, text string) (domain.CategoryResult, error) {
	rules, err := c.ActiveRules(ctx)
	if err != nil {
		return domain.CategoryResult{}, err
	}
	return c.Score(text, rules), nil
}

// ActiveRules loads the rule set once so batch callers can Score many texts against it.
func (c *Categorizer) ActiveRules(ctx context.Context) ([]domain.CategoryRule, error) {
	rules, err := c.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list category rules: %w", err)
	}
	return rules, nil
}

// Score picks the best rule for text. Rules are expected in creation order;
// on equal scores the earlier rule wins.
func (c *Categorizer) Score(text string, rules []domain.CategoryRule) domain.CategoryResult {
	lowered := strings.ToLower(text)

	var (
		best      *domain.CategoryRule
		bestScore decimal.Decimal
	)
	for i := range rules {
		rule := &rules[i]
		score := c.ruleScore(text, lowered, rule)
		threshold := decimal.NewFromFloat(rule.EffectiveThreshold())
		if score.LessThan(threshold) {
			continue
		}
		if best == nil || score.GreaterThan(bestScore) {
			best = rule
			bestScore = score
		}
	}

	if best == nil {
		return domain.OtherCategory()
	}
	return domain.CategoryResult{
		CategoryID: best.ID,
		Category:   best.Name,
		Confidence: decimal.Min(bestScore, maxConfidence).InexactFloat64(),
	}
}

func (c *Categorizer) ruleScore(text, lowered string, rule *domain.CategoryRule) decimal.Decimal {
	score := decimal.Zero
	for _, keyword := range rule.Keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, keyword) {
			score = score.Add(keywordWeight)
		}
	}
	for _, pattern := range rule.Patterns {
		re := c.pattern(rule.ID, pattern)
		if re != nil && re.MatchString(text) {
			score = score.Add(patternWeight)
		}
	}
	return score
}

func (c *Categorizer) pattern(ruleID, pattern string) *regexp.Regexp {
	if strings.TrimSpace(pattern) == "" {
		return nil
	}

	c.mu.RLock()
	re, ok := c.compiled[pattern]
	c.mu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		slog.Warn("category_pattern_invalid", "rule_id", ruleID, "pattern", pattern, "error", err)
		re = nil
	}

	c.mu.Lock()
	c.compiled[pattern] = re
	c.mu.Unlock()
	return re
}
