// Package ensemble combines model predictions and rule outcomes into a
// single fraud verdict and derives the risk metrics reported with it.
package ensemble

import (
	"github.com/sentinelfraud/sentinel/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Combiner folds the parallel model and rule outputs into one score.
// Weights are configurable but must describe a convex combination.
type Combiner struct {
	mlWeight       float64
	ruleWeight     float64
	fraudThreshold float64
}

const (
	// abstention is the neutral probability used when every model
	// failed or none is loaded.
	abstention = 0.5

	// ruleBaseline is the rule-side score when no rule triggered.
	ruleBaseline = 0.1
)

// NewCombiner returns a combiner with the given ML weight, rule weight
// and fraud decision threshold. Invalid weights fall back to the
// standard 0.7/0.3 split.
func NewCombiner(mlWeight, ruleWeight, fraudThreshold float64) *Combiner {
	if mlWeight < 0 || ruleWeight < 0 || mlWeight+ruleWeight == 0 {
		mlWeight, ruleWeight = 0.7, 0.3
	}
	// normalize so the output stays a probability
	total := mlWeight + ruleWeight
	if fraudThreshold <= 0 || fraudThreshold >= 1 {
		fraudThreshold = 0.7
	}
	return &Combiner{
		mlWeight:       mlWeight / total,
		ruleWeight:     ruleWeight / total,
		fraudThreshold: fraudThreshold,
	}
}

// Combined is the raw ensemble outcome before risk metrics are applied.
type Combined struct {
	FraudProbability float64
	RuleRiskScore    float64
	ConfidenceScore  float64
	IsFraud          bool
	Method           string
}

// Combine merges model predictions and rule results. Failed models are
// excluded from the ML mean; if none remain the ML side abstains at
// 0.5. Only triggered rules contribute to the rule mean; an untriggered
// battery scores the 0.1 baseline.
func (c *Combiner) Combine(predictions []domain.ModelPrediction, rules []domain.RuleResult) Combined {
	var probs, confidences []float64
	for _, p := range predictions {
		if p.Failed() {
			continue
		}
		probs = append(probs, p.FraudProbability)
		confidences = append(confidences, p.ConfidenceScore)
	}

	var ruleScores []float64
	for _, r := range rules {
		if r.Failed() || !r.Triggered {
			continue
		}
		ruleScores = append(ruleScores, r.RiskScore)
	}

	mlProb, mlConfidence := abstention, abstention
	if len(probs) > 0 {
		mlProb = stat.Mean(probs, nil)
		mlConfidence = stat.Mean(confidences, nil)
	}

	ruleRisk := ruleBaseline
	if len(ruleScores) > 0 {
		ruleRisk = stat.Mean(ruleScores, nil)
	}

	finalProb := c.mlWeight*mlProb + c.ruleWeight*ruleRisk

	return Combined{
		FraudProbability: finalProb,
		RuleRiskScore:    ruleRisk,
		ConfidenceScore:  mlConfidence,
		IsFraud:          finalProb > c.fraudThreshold,
		Method:           domain.MethodEnsemble,
	}
}

// Fallback is the neutral outcome used when scoring fails outright. It
// never flags the transaction; the caller surfaces the failure through
// the detection method instead.
func Fallback() Combined {
	return Combined{
		FraudProbability: abstention,
		RuleRiskScore:    abstention,
		ConfidenceScore:  abstention,
		IsFraud:          false,
		Method:           domain.MethodFallback,
	}
}
