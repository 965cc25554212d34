// Package rules provides the CEL-Go based deterministic rule engine.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/riskforge/riskforge/internal/domain"
)

// Engine compiles rule expressions once and evaluates them against
// transaction feature vectors. The loaded rule set can be swapped at
// runtime without restarting workers.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// Create CEL environment with the evaluation variables
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("device_id", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("is_night", cel.BoolType),
		cel.Variable("is_new_device", cel.BoolType),
		cel.Variable("is_unusual_location", cel.BoolType),
		cel.Variable("velocity_count", cel.IntType),
		cel.Variable("amount_log", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads all enabled rules.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules atomically replaces the loaded rule set with the enabled
// rules from configs. A compile failure leaves the current set untouched.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// Evaluation is the output of running the full rule set once.
type Evaluation struct {
	Results []domain.RuleResult
	// Score is the sum of triggered rule weights divided by the sum of
	// all loaded rule weights, clamped to [0, 1].
	Score float64
}

// Evaluate runs every loaded rule against the transaction and its feature
// vector. Rules are pure predicates; an expression that errors at runtime
// indicates malformed input and fails the evaluation with a validation
// error. An empty rule set scores 0.
func (e *Engine) Evaluate(ctx context.Context, tx *domain.Transaction, fv domain.FeatureVector) (*Evaluation, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrValidation)
	}
	if fv == nil {
		return nil, fmt.Errorf("%w: feature vector is required", domain.ErrValidation)
	}

	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return &Evaluation{Score: 0}, nil
	}

	activation := map[string]any{
		"tx": map[string]any{
			"id":        tx.ID,
			"user_id":   tx.UserID,
			"amount":    tx.Amount,
			"currency":  tx.Currency,
			"location":  tx.Location,
			"device_id": tx.DeviceID,
		},
		"amount":              tx.Amount,
		"currency":            tx.Currency,
		"user_id":             tx.UserID,
		"device_id":           tx.DeviceID,
		"location":            tx.Location,
		"hour":                int64(fv[domain.FeatureHour]),
		"is_night":            fv[domain.FeatureIsNight] != 0,
		"is_new_device":       fv[domain.FeatureIsNewDevice] != 0,
		"is_unusual_location": fv[domain.FeatureIsUnusualLocation] != 0,
		"velocity_count":      int64(fv[domain.FeatureVelocityCount]),
		"amount_log":          fv[domain.FeatureAmountLog],
	}

	// Parallel evaluation using worker pool pattern
	results := make([]domain.RuleResult, len(rules))
	errs := make([]error, len(rules))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx], errs[idx] = evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	var totalWeight, triggeredWeight float64
	for i := range results {
		if errs[i] != nil {
			return nil, errs[i]
		}
		totalWeight += results[i].Weight
		if results[i].Triggered {
			triggeredWeight += results[i].Weight
		}
	}

	score := 0.0
	if totalWeight > 0 {
		score = triggeredWeight / totalWeight
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	return &Evaluation{Results: results, Score: score}, nil
}

// evaluateRule runs a single compiled predicate.
func evaluateRule(rule *CompiledRule, activation map[string]any) (domain.RuleResult, error) {
	result := domain.RuleResult{
		RuleID: rule.Config.ID,
		Name:   rule.Config.Name,
		Weight: rule.Config.Weight,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		return result, fmt.Errorf("%w: rule %s: %v", domain.ErrValidation, rule.Config.ID, err)
	}

	triggered, ok := out.(types.Bool)
	if !ok {
		return result, fmt.Errorf("%w: rule %s: expression did not yield bool", domain.ErrValidation, rule.Config.ID)
	}
	result.Triggered = bool(triggered)

	return result, nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	if cfg.Weight < 0 {
		return nil, fmt.Errorf("rule %s: weight must be non-negative", cfg.ID)
	}

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

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
