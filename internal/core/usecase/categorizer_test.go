package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
)

type categoryRulesFake struct {
	rules []domain.CategoryRule
	err   error
	loads int
}

func (f *categoryRulesFake) ListActive(context.Context) ([]domain.CategoryRule, error) {
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.CategoryRule, len(f.rules))
	copy(out, f.rules)
	return out, nil
}

func (f *categoryRulesFake) Upsert(_ context.Context, rule domain.CategoryRule) error {
	f.rules = append(f.rules, rule)
	return nil
}

func coffeeRule() domain.CategoryRule {
	return domain.CategoryRule{
		ID:        "coffee",
		Name:      "Coffee Shops",
		Keywords:  []string{"coffee", "cafe"},
		Patterns:  []string{"STARBUCKS"},
		Threshold: 0.8,
		Active:    true,
	}
}

func TestCategorizeKeywordPlusPatternMeetsThreshold(t *testing.T) {
	c := NewCategorizer(&categoryRulesFake{rules: []domain.CategoryRule{coffeeRule()}})

	got, err := c.Categorize(context.Background(), "STARBUCKS COFFEE")
	require.NoError(t, err)
	require.Equal(t, "coffee", got.CategoryID)
	require.Equal(t, "Coffee Shops", got.Category)
	require.Equal(t, 0.8, got.Confidence)
}

func TestCategorizeBelowThresholdFallsBackToOther(t *testing.T) {
	c := NewCategorizer(&categoryRulesFake{rules: []domain.CategoryRule{coffeeRule()}})

	got, err := c.Categorize(context.Background(), "corner cafe")
	require.NoError(t, err)
	require.Equal(t, domain.OtherCategory(), got)
}

func TestCategorizeIsDeterministic(t *testing.T) {
	rules := []domain.CategoryRule{
		coffeeRule(),
		{ID: "fuel", Name: "Transportation", Keywords: []string{"gas", "fuel"}, Patterns: []string{"SHELL"}, Active: true},
	}
	c := NewCategorizer(&categoryRulesFake{rules: rules})

	first, err := c.Categorize(context.Background(), "SHELL gas station")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := c.Categorize(context.Background(), "SHELL gas station")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.Equal(t, "fuel", first.CategoryID)
}

func TestCategorizeTieGoesToFirstRegisteredRule(t *testing.T) {
	rules := []domain.CategoryRule{
		{ID: "first", Name: "Dining", Keywords: []string{"burger", "grill", "bar"}, Active: true},
		{ID: "second", Name: "Nightlife", Keywords: []string{"burger", "grill", "bar"}, Active: true},
	}
	c := NewCategorizer(&categoryRulesFake{rules: rules})

	got, err := c.Categorize(context.Background(), "burger grill bar")
	require.NoError(t, err)
	require.Equal(t, "first", got.CategoryID)
	require.InDelta(t, 0.9, got.Confidence, 1e-9)
}

func TestCategorizeHigherScoreWinsRegardlessOfOrder(t *testing.T) {
	rules := []domain.CategoryRule{
		{ID: "weak", Name: "Groceries", Keywords: []string{"market", "fresh", "food"}, Active: true},
		{ID: "strong", Name: "Restaurants", Keywords: []string{"food"}, Patterns: []string{"MARKET GRILL", "FRESH"}, Active: true},
	}
	c := NewCategorizer(&categoryRulesFake{rules: rules})

	got, err := c.Categorize(context.Background(), "Market Grill Fresh Food")
	require.NoError(t, err)
	require.Equal(t, "strong", got.CategoryID)
	require.Equal(t, 1.0, got.Confidence)
}

func TestCategorizeSkipsInvalidPattern(t *testing.T) {
	rule := domain.CategoryRule{ID: "broken", Name: "Broken", Keywords: []string{"rent", "lease", "flat"}, Patterns: []string{"("}, Active: true}
	c := NewCategorizer(&categoryRulesFake{rules: []domain.CategoryRule{rule}})

	got, err := c.Categorize(context.Background(), "flat rent lease")
	require.NoError(t, err)
	require.Equal(t, "broken", got.CategoryID)
}

func TestCategorizePropagatesStoreError(t *testing.T) {
	c := NewCategorizer(&categoryRulesFake{err: errors.New("db down")})

	_, err := c.Categorize(context.Background(), "anything")
	require.Error(t, err)
}
