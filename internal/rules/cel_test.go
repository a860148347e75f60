package rules

import (
	"context"
	"testing"

	"github.com/sentinelfraud/sentinel/internal/domain"
)

func testRuleConfig(id, expr string, risk float64) *domain.RuleConfig {
	return &domain.RuleConfig{
		ID:          id,
		Name:        id,
		Description: "test rule " + id,
		Version:     "1",
		Expression:  expr,
		RiskScore:   risk,
		Enabled:     true,
	}
}

func TestEngineLoadAndEvaluate(t *testing.T) {
	engine, err := NewEngine(nil, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	if err := engine.LoadRule(testRuleConfig("r-amount", `amount > 1000.0`, 0.65)); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}
	if err := engine.LoadRule(testRuleConfig("r-category", `merchant_category == "jewelry"`, 0.4)); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}

	tx := baseTransaction()
	tx.Amount = 2500

	results := engine.EvaluateAll(context.Background(), tx, 0)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	amount := findResult(t, results, "r-amount")
	if !amount.Triggered {
		t.Error("expected amount rule to trigger")
	}
	if amount.RiskScore != 0.65 {
		t.Errorf("risk = %v, want 0.65", amount.RiskScore)
	}

	category := findResult(t, results, "r-category")
	if category.Triggered {
		t.Error("expected category rule not to trigger")
	}
	if category.RiskScore != 0.1 {
		t.Errorf("untriggered risk = %v, want 0.1", category.RiskScore)
	}
}

func TestEngineRejectsInvalidExpressions(t *testing.T) {
	engine, err := NewEngine(nil, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	tests := []struct {
		name string
		expr string
	}{
		{"syntax error", `amount >)`},
		{"unknown variable", `no_such_var > 1.0`},
		{"non-numeric result", `"hello"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := engine.ValidateRule(testRuleConfig("bad", tt.expr, 0.5)); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Errorf("RulesCount = %d, want 0 after failed validations", engine.RulesCount())
	}
}

func TestEngineVelocityVariable(t *testing.T) {
	velocity := func(_ context.Context, _ string, _ int) (int64, error) {
		return 42, nil
	}

	engine, err := NewEngine(velocity, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	if err := engine.LoadRule(testRuleConfig("r-velocity", `velocity_count > 40`, 0.75)); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}

	results := engine.EvaluateAll(context.Background(), baseTransaction(), 3600)
	r := findResult(t, results, "r-velocity")
	if !r.Triggered {
		t.Error("expected velocity rule to trigger at count 42")
	}
}

func TestEngineTxMapAccess(t *testing.T) {
	engine, err := NewEngine(nil, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	cfg := testRuleConfig("r-tx", `tx.merchant_country == "NG" && amount > 100.0`, 0.55)
	if err := engine.LoadRule(cfg); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}

	tx := baseTransaction()
	tx.MerchantCountry = "NG"
	tx.Amount = 150

	results := engine.EvaluateAll(context.Background(), tx, 0)
	if !results[0].Triggered {
		t.Error("expected tx map rule to trigger")
	}
}

func TestEngineReloadRules(t *testing.T) {
	engine, err := NewEngine(nil, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	if err := engine.LoadRule(testRuleConfig("old", `amount > 0.0`, 0.5)); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}

	configs := []*domain.RuleConfig{
		testRuleConfig("new-1", `amount > 500.0`, 0.5),
		testRuleConfig("new-2", `hour >= 0 && hour <= 4`, 0.6),
	}
	// disabled rules are skipped on reload
	disabled := testRuleConfig("new-3", `amount > 0.0`, 0.5)
	disabled.Enabled = false
	configs = append(configs, disabled)

	if err := engine.ReloadRules(configs); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}

	if got := engine.RulesCount(); got != 2 {
		t.Errorf("RulesCount = %d, want 2", got)
	}

	loaded := engine.GetLoadedRules()
	for _, cfg := range loaded {
		if cfg.ID == "old" {
			t.Error("old rule survived reload")
		}
	}
}

func TestEngineReloadRejectsBadBatchAtomically(t *testing.T) {
	engine, err := NewEngine(nil, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	if err := engine.LoadRule(testRuleConfig("keep", `amount > 0.0`, 0.5)); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}

	bad := []*domain.RuleConfig{
		testRuleConfig("good", `amount > 1.0`, 0.5),
		testRuleConfig("broken", `amount >)`, 0.5),
	}
	if err := engine.ReloadRules(bad); err == nil {
		t.Fatal("expected reload to fail on broken expression")
	}

	// failed reload leaves the previous rule set intact
	if got := engine.RulesCount(); got != 1 {
		t.Errorf("RulesCount = %d, want 1 after failed reload", got)
	}
}

func TestEngineEvaluationErrorIsolation(t *testing.T) {
	engine, err := NewEngine(nil, 4)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer engine.Close()

	// division by a zero-valued variable fails at eval time, not compile time
	if err := engine.LoadRule(testRuleConfig("r-div", `100 / velocity_count > 1`, 0.5)); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}
	if err := engine.LoadRule(testRuleConfig("r-ok", `amount > 1.0`, 0.5)); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}

	results := engine.EvaluateAll(context.Background(), baseTransaction(), 0)

	div := findResult(t, results, "r-div")
	if !div.Failed() {
		t.Error("expected divide-by-zero rule to be marked as failed")
	}

	ok := findResult(t, results, "r-ok")
	if ok.Failed() || !ok.Triggered {
		t.Error("healthy rule should still evaluate")
	}
}
