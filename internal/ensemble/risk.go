package ensemble

import "github.com/sentinelfraud/sentinel/internal/domain"

// RiskMetrics is the derived reporting layer on top of the ensemble
// probability: a composite score amplified by contextual risk factors,
// mapped onto operational risk levels and recommended actions.
type RiskMetrics struct {
	CompositeRisk     float64
	RiskFactors       []string
	RiskLevel         string
	RecommendedAction string
}

const (
	highAmountFactorThreshold = 10000
	factorAmplification       = 0.1
)

// ComputeRiskMetrics derives risk factors from the raw transaction
// record and amplifies the base probability by 10% per factor, clamped
// to 1. Factors inspect the raw record because imputation during
// preprocessing erases the missing-field signals.
func ComputeRiskMetrics(combined Combined, tx *domain.Transaction) RiskMetrics {
	var factors []string

	if tx.Amount > highAmountFactorThreshold {
		factors = append(factors, "high_amount")
	}
	if tx.Latitude == nil || tx.Longitude == nil {
		factors = append(factors, "missing_location")
	}
	if tx.IPAddress == "" {
		factors = append(factors, "missing_ip")
	}

	composite := combined.FraudProbability * (1 + float64(len(factors))*factorAmplification)
	if composite > 1 {
		composite = 1
	}

	return RiskMetrics{
		CompositeRisk:     composite,
		RiskFactors:       factors,
		RiskLevel:         riskLevel(composite),
		RecommendedAction: recommendedAction(composite),
	}
}

func riskLevel(score float64) string {
	switch {
	case score >= 0.8:
		return domain.RiskCritical
	case score >= 0.6:
		return domain.RiskHigh
	case score >= 0.4:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func recommendedAction(score float64) string {
	switch {
	case score >= 0.8:
		return domain.ActionBlock
	case score >= 0.6:
		return domain.ActionReview
	case score >= 0.4:
		return domain.ActionMonitor
	default:
		return domain.ActionApprove
	}
}
