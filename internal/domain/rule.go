package domain

// RuleConfig defines one deterministic fraud heuristic.
// Expression is a CEL predicate over the evaluation context; Weight is the
// rule's contribution to the normalized rule score when it triggers.
// The rule set is configuration: adding or removing rules never requires
// touching the combiner or any other component.
type RuleConfig struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`
}

// RuleResult is the outcome of evaluating a single rule.
type RuleResult struct {
	RuleID    string  `json:"ruleId"`
	Name      string  `json:"name"`
	Triggered bool    `json:"triggered"`
	Weight    float64 `json:"weight"`
}
