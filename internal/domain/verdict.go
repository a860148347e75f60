package domain

import (
	"time"
)

// ModelPrediction is the output of a single model for one scoring call.
// Err is set when the model failed or timed out; such predictions are
// excluded from the ensemble vote.
type ModelPrediction struct {
	Model            string    `json:"model"`
	FraudProbability float64   `json:"fraudProbability"`
	ConfidenceScore  float64   `json:"confidenceScore"`
	Raw              []float64 `json:"raw,omitempty"`
	Err              string    `json:"error,omitempty"`
}

// Failed reports whether the prediction carries an error marker.
func (p ModelPrediction) Failed() bool { return p.Err != "" }

// RuleResult is the output of a single rule evaluation.
// A rule that raised is recorded with Err set, never conflated with
// triggered=false.
type RuleResult struct {
	Rule      string  `json:"rule"`
	Triggered bool    `json:"triggered"`
	RiskScore float64 `json:"riskScore"`
	Reason    string  `json:"reason"`
	Err       string  `json:"error,omitempty"`
}

// Failed reports whether the rule evaluation errored.
func (r RuleResult) Failed() bool { return r.Err != "" }

// Risk level constants, ordered by severity.
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Recommended action constants; each mirrors the risk level tier.
const (
	ActionApprove = "approve"
	ActionMonitor = "monitor"
	ActionReview  = "review"
	ActionBlock   = "block"
)

// Detection method constants.
const (
	MethodEnsemble = "ensemble"
	MethodFallback = "fallback"
)

// Verdict is the engine's sole externally visible output. It is
// constructed once per scoring call and immutable thereafter.
type Verdict struct {
	ID            string `json:"verdictId"`
	TransactionID string `json:"transactionId"`

	FraudProbability float64 `json:"fraudProbability"`
	RiskScore        float64 `json:"riskScore"`
	ConfidenceScore  float64 `json:"confidenceScore"`
	IsFraud          bool    `json:"isFraud"`

	CompositeRisk       float64  `json:"compositeRiskScore"`
	RiskLevel           string   `json:"riskLevel"`
	RecommendedAction   string   `json:"recommendedAction"`
	ContributingFactors []string `json:"contributingFactors"`

	DetectionMethod string `json:"detectionMethod"`

	ModelPredictions []ModelPrediction `json:"modelPredictions,omitempty"`
	RuleResults      []RuleResult      `json:"ruleResults,omitempty"`

	PredictionMs int64     `json:"predictionTimeMs"`
	Timestamp    time.Time `json:"timestamp"`
}

// Feedback is an analyst's post-hoc label for a scored transaction,
// consumed by the retraining loop.
type Feedback struct {
	ID            string    `json:"feedbackId"`
	TransactionID string    `json:"transactionId"`
	IsFraud       bool      `json:"isFraud"`
	Analyst       string    `json:"analyst,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// PerformanceStats is the engine's rolling observational state.
// Reset only on process restart; never persisted.
type PerformanceStats struct {
	PredictionCount     int64    `json:"predictionCount"`
	AveragePredictionMs float64  `json:"averagePredictionMs"`
	LoadedModels        []string `json:"loadedModels"`
	LoadedRules         int      `json:"loadedRules"`
	PreprocessorLoaded  bool     `json:"preprocessorLoaded"`
}
