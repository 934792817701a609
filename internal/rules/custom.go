package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CustomEngine evaluates operator-defined CEL rules on top of the built-in
// battery. Expressions must return bool; a true result adds the rule's
// contribution under its label.
type CustomEngine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*compiledCustomRule
}

type compiledCustomRule struct {
	config  *domain.CustomRuleConfig
	program cel.Program
}

// NewCustomEngine creates a custom rule engine with the transaction
// variables bound into the CEL environment.
func NewCustomEngine() (*CustomEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("card_type", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("is_weekend", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CustomEngine{
		env:           env,
		compiledRules: make(map[string]*compiledCustomRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *CustomEngine) ValidateRule(cfg *domain.CustomRuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compile(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *CustomEngine) LoadRule(cfg *domain.CustomRuleConfig) error {
	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.compiledRules[cfg.ID] = compiled
	e.mu.Unlock()
	return nil
}

// LoadRules compiles and loads every enabled rule.
func (e *CustomEngine) LoadRules(configs []*domain.CustomRuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears existing rules and loads new ones atomically.
func (e *CustomEngine) ReloadRules(configs []*domain.CustomRuleConfig) error {
	newRules := make(map[string]*compiledCustomRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.compiledRules = newRules
	e.mu.Unlock()
	return nil
}

// RemoveRule unloads a rule by ID.
func (e *CustomEngine) RemoveRule(ruleID string) {
	e.mu.Lock()
	delete(e.compiledRules, ruleID)
	e.mu.Unlock()
}

// RulesCount returns the number of loaded rules.
func (e *CustomEngine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// LoadedRules returns the currently loaded rule configurations.
func (e *CustomEngine) LoadedRules() []*domain.CustomRuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.CustomRuleConfig, 0, len(e.compiledRules))
	for _, r := range e.compiledRules {
		out = append(out, r.config)
	}
	return out
}

// Evaluate runs every loaded rule against the transaction. A rule that
// fails to evaluate is logged and skipped; it never aborts the pass.
func (e *CustomEngine) Evaluate(tx *domain.Transaction) []Firing {
	e.mu.RLock()
	rules := make([]*compiledCustomRule, 0, len(e.compiledRules))
	for _, r := range e.compiledRules {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	// Stable firing order keeps scoring output deterministic.
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].config.ID < rules[j].config.ID
	})

	if len(rules) == 0 {
		return nil
	}

	activation := map[string]any{
		"tx": map[string]any{
			"id":                tx.ID,
			"amount":            tx.Amount,
			"merchant":          tx.Merchant,
			"merchant_category": tx.MerchantCategory,
			"location":          tx.Location,
			"user_id":           tx.UserID,
			"card_type":         tx.CardType,
		},
		"amount":            tx.Amount,
		"merchant":          tx.Merchant,
		"merchant_category": tx.MerchantCategory,
		"location":          tx.Location,
		"user_id":           tx.UserID,
		"card_type":         tx.CardType,
		"hour":              int64(tx.Hour()),
		"day_of_week":       int64(tx.DayOfWeek()),
		"is_weekend":        tx.IsWeekend(),
	}

	var fired []Firing
	for _, rule := range rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			slog.Warn("custom rule evaluation failed",
				"rule_id", rule.config.ID,
				"tx_id", tx.ID,
				"error", err,
			)
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			fired = append(fired, Firing{
				Label:        rule.config.Label,
				Contribution: rule.config.Contribution,
			})
		}
	}
	return fired
}

// Close cleans up the engine.
func (e *CustomEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*compiledCustomRule)
	return nil
}

func (e *CustomEngine) compile(cfg *domain.CustomRuleConfig) (*compiledCustomRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &compiledCustomRule{config: cfg, program: program}, nil
}
