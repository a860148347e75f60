package domain

// RuleConfig defines a user-configured detection rule evaluated by the
// CEL engine after the built-in battery. Boolean expressions contribute
// RiskScore when true; numeric expressions trigger when positive.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate against the transaction
	Expression string `json:"expression"`

	// Risk contribution in [0,1] when the rule triggers
	RiskScore float64 `json:"riskScore"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}
