// Package yamlseed loads category and validation rules from YAML and upserts
// them into the rule stores at startup.
package yamlseed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/ledger-ingest/internal/core/domain"
	"github.com/kirillkom/ledger-ingest/internal/core/ports"
)

//go:embed rules.yaml
var defaultRules []byte

type ruleFile struct {
	Categories      []categoryEntry   `yaml:"categories"`
	ValidationRules []validationEntry `yaml:"validation_rules"`
}

type categoryEntry struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Keywords  []string `yaml:"keywords"`
	Patterns  []string `yaml:"patterns"`
	Threshold float64  `yaml:"threshold"`
	System    bool     `yaml:"system"`
	Active    *bool    `yaml:"active"`
}

type validationEntry struct {
	ID     string            `yaml:"id"`
	Name   string            `yaml:"name"`
	Type   domain.RuleType   `yaml:"type"`
	Params domain.RuleParams `yaml:"params"`
	Active *bool             `yaml:"active"`
}

type Rules struct {
	Categories []domain.CategoryRule
	Validation []domain.ValidationRule
}

// Load reads path, or the embedded defaults when path is empty.
func Load(path string) (Rules, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultRules)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and checks a rules document. Entries without "active" are active.
func Parse(data []byte) (Rules, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var file ruleFile
	if err := decoder.Decode(&file); err != nil {
		return Rules{}, fmt.Errorf("decode rules: %w", err)
	}

	out := Rules{
		Categories: make([]domain.CategoryRule, 0, len(file.Categories)),
		Validation: make([]domain.ValidationRule, 0, len(file.ValidationRules)),
	}
	seen := make(map[string]struct{})
	for _, entry := range file.Categories {
		if err := checkID("category", entry.ID, seen); err != nil {
			return Rules{}, err
		}
		if strings.TrimSpace(entry.Name) == "" {
			return Rules{}, fmt.Errorf("category %s: name is required", entry.ID)
		}
		for _, pattern := range entry.Patterns {
			if _, err := regexp.Compile(pattern); err != nil {
				return Rules{}, fmt.Errorf("category %s: pattern %q: %w", entry.ID, pattern, err)
			}
		}
		out.Categories = append(out.Categories, domain.CategoryRule{
			ID:        entry.ID,
			Name:      entry.Name,
			Keywords:  entry.Keywords,
			Patterns:  entry.Patterns,
			Threshold: entry.Threshold,
			IsSystem:  entry.System,
			Active:    isActive(entry.Active),
		})
	}

	seen = make(map[string]struct{})
	for _, entry := range file.ValidationRules {
		if err := checkID("validation rule", entry.ID, seen); err != nil {
			return Rules{}, err
		}
		switch entry.Type {
		case domain.RuleAmountRange, domain.RuleCategoryMapping, domain.RuleDuplicateDetection:
		default:
			return Rules{}, fmt.Errorf("validation rule %s: unknown type %q", entry.ID, entry.Type)
		}
		out.Validation = append(out.Validation, domain.ValidationRule{
			ID:     entry.ID,
			Name:   entry.Name,
			Type:   entry.Type,
			Params: entry.Params,
			Active: isActive(entry.Active),
		})
	}
	return out, nil
}

// Seed upserts every rule in file order so creation order follows the file.
// A store refusing to overwrite an operator-protected rule is skipped, not fatal.
func Seed(ctx context.Context, categories ports.CategoryRuleStore, validations ports.ValidationRuleStore, rules Rules) error {
	for _, rule := range rules.Categories {
		if err := categories.Upsert(ctx, rule); err != nil && !domain.IsKind(err, domain.ErrInvalidInput) {
			return fmt.Errorf("seed category %s: %w", rule.ID, err)
		}
	}
	for _, rule := range rules.Validation {
		if err := validations.Upsert(ctx, rule); err != nil {
			return fmt.Errorf("seed validation rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

func checkID(kind, id string, seen map[string]struct{}) error {
	if strings.TrimSpace(id) == "" {
		return errors.New(kind + ": id is required")
	}
	if _, dup := seen[id]; dup {
		return fmt.Errorf("%s %s: duplicate id", kind, id)
	}
	seen[id] = struct{}{}
	return nil
}

func isActive(flag *bool) bool {
	return flag == nil || *flag
}
