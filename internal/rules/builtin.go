// Package rules implements the deterministic rule layer: a fixed,
// ordered battery of built-in predicates plus a CEL engine for
// user-configured rules.
package rules

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sentinelfraud/sentinel/internal/domain"
)

// CheckFunc evaluates one side-effect-free predicate against a raw
// transaction. Rules see the raw record, not the feature vector, since
// several reason about missing-field presence which imputation erases.
type CheckFunc func(ctx context.Context, tx *domain.Transaction) (triggered bool, risk float64, reason string)

// Rule is one entry in the battery: an explicit registered descriptor
// so evaluation order and error attribution stay unambiguous.
type Rule struct {
	Name  string
	Check CheckFunc
}

// VelocityFunc returns the number of recent transactions for a card in
// the given window.
type VelocityFunc func(ctx context.Context, cardID string, windowSecs int) (int64, error)

// BatteryParams are the rule score constants. They are policy subject
// to tuning, not a fixed contract, so they live in configuration rather
// than as literals.
type BatteryParams struct {
	HighAmountThreshold     float64
	HighAmountScore         float64
	ElevatedAmountThreshold float64
	ElevatedAmountScore     float64

	VelocityBaseline float64
	VelocityLimit    int64 // transactions per window before triggering
	VelocityWindow   int   // seconds
	VelocityScore    float64

	MissingLocationScore float64
	InvalidLocationScore float64

	MissingTimestampScore float64
	QuietHourStart        int
	QuietHourEnd          int
	QuietHoursScore       float64

	HighRiskCategories []string
	MerchantRiskScore  float64

	// UntriggeredBaseline is reported for rules that pass.
	UntriggeredBaseline float64
}

// DefaultBatteryParams returns the standard rule constants.
func DefaultBatteryParams() BatteryParams {
	return BatteryParams{
		HighAmountThreshold:     10000,
		HighAmountScore:         0.8,
		ElevatedAmountThreshold: 5000,
		ElevatedAmountScore:     0.6,
		VelocityBaseline:        0.2,
		VelocityLimit:           10,
		VelocityWindow:          3600,
		VelocityScore:           0.7,
		MissingLocationScore:    0.7,
		InvalidLocationScore:    0.9,
		MissingTimestampScore:   0.6,
		QuietHourStart:          2,
		QuietHourEnd:            5,
		QuietHoursScore:         0.5,
		HighRiskCategories:      []string{"gambling", "cryptocurrency", "adult", "pharmacy"},
		MerchantRiskScore:       0.7,
		UntriggeredBaseline:     0.1,
	}
}

// Battery returns the ordered built-in rule set. The velocity rule
// consults recent-transaction history when a VelocityFunc is provided
// and degrades to an untriggered baseline otherwise.
func Battery(params BatteryParams, velocity VelocityFunc) []Rule {
	return []Rule{
		{Name: "amount_threshold", Check: amountThresholdRule(params)},
		{Name: "velocity", Check: velocityRule(params, velocity)},
		{Name: "location", Check: locationRule(params)},
		{Name: "time_pattern", Check: timePatternRule(params)},
		{Name: "merchant_risk", Check: merchantRiskRule(params)},
	}
}

// EvaluateBattery runs every rule in order. Each rule is isolated: a
// panic inside one rule is captured as an error marker for that rule
// only and never aborts the remaining rules or the call.
func EvaluateBattery(ctx context.Context, battery []Rule, tx *domain.Transaction) []domain.RuleResult {
	results := make([]domain.RuleResult, len(battery))
	for i, rule := range battery {
		results[i] = evaluateOne(ctx, rule, tx)
	}
	return results
}

func evaluateOne(ctx context.Context, rule Rule, tx *domain.Transaction) (result domain.RuleResult) {
	result.Rule = rule.Name

	defer func() {
		if r := recover(); r != nil {
			result = domain.RuleResult{
				Rule: rule.Name,
				Err:  fmt.Sprintf("rule panicked: %v", r),
			}
		}
	}()

	triggered, risk, reason := rule.Check(ctx, tx)
	result.Triggered = triggered
	result.RiskScore = risk
	result.Reason = reason
	return result
}

func amountThresholdRule(p BatteryParams) CheckFunc {
	return func(_ context.Context, tx *domain.Transaction) (bool, float64, string) {
		if tx.Amount > p.HighAmountThreshold {
			return true, p.HighAmountScore, fmt.Sprintf("high amount: $%.2f", tx.Amount)
		}
		if tx.Amount > p.ElevatedAmountThreshold {
			return true, p.ElevatedAmountScore, fmt.Sprintf("unusual amount: $%.2f", tx.Amount)
		}
		return false, p.UntriggeredBaseline, "amount within normal range"
	}
}

func velocityRule(p BatteryParams, velocity VelocityFunc) CheckFunc {
	return func(ctx context.Context, tx *domain.Transaction) (bool, float64, string) {
		if velocity == nil || tx.CardID == "" {
			return false, p.VelocityBaseline, "velocity check passed"
		}

		count, err := velocity(ctx, tx.CardID, p.VelocityWindow)
		if err != nil {
			// History source unavailable; fall back to baseline
			// rather than failing the rule.
			return false, p.VelocityBaseline, "velocity history unavailable"
		}
		if count > p.VelocityLimit {
			return true, p.VelocityScore,
				fmt.Sprintf("%d transactions in the last %ds exceeds limit %d", count, p.VelocityWindow, p.VelocityLimit)
		}
		return false, p.VelocityBaseline, "velocity check passed"
	}
}

func locationRule(p BatteryParams) CheckFunc {
	return func(_ context.Context, tx *domain.Transaction) (bool, float64, string) {
		if tx.Latitude == nil || tx.Longitude == nil {
			return true, p.MissingLocationScore, "missing location data"
		}
		if math.Abs(*tx.Latitude) > 90 || math.Abs(*tx.Longitude) > 180 {
			return true, p.InvalidLocationScore, "invalid coordinates"
		}
		return false, p.UntriggeredBaseline, "location data valid"
	}
}

func timePatternRule(p BatteryParams) CheckFunc {
	return func(_ context.Context, tx *domain.Transaction) (bool, float64, string) {
		if tx.Timestamp.IsZero() {
			return true, p.MissingTimestampScore, "missing timestamp"
		}
		hour := tx.Timestamp.Hour()
		if hour >= p.QuietHourStart && hour <= p.QuietHourEnd {
			return true, p.QuietHoursScore, fmt.Sprintf("unusual hour: %02d:00", hour)
		}
		return false, p.UntriggeredBaseline, "normal time pattern"
	}
}

func merchantRiskRule(p BatteryParams) CheckFunc {
	return func(_ context.Context, tx *domain.Transaction) (bool, float64, string) {
		category := strings.ToLower(tx.MerchantCategory)
		for _, risky := range p.HighRiskCategories {
			if risky != "" && strings.Contains(category, risky) {
				return true, p.MerchantRiskScore, "high-risk merchant category: " + category
			}
		}
		return false, p.UntriggeredBaseline, "standard merchant category"
	}
}
