//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Sentinel fraud
// scoring engine.
//
// These tests verify the COMPLETE scoring pipeline:
//
//	Transaction → Preprocessing → Models + Rules → Ensemble → Verdict
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. TRANSACTION: A card payment (card, amount, merchant, location, time)
//
// 2. MODELS: Two ML detectors score each transaction in parallel:
//   - anomaly: reconstruction error over engineered features
//   - sequence: deviation from the card's recent transaction history
//
// 3. RULES: A battery of built-in checks plus operator-defined CEL rules.
//     Each rule returns triggered/risk/reason; risks are averaged.
//
// 4. ENSEMBLE: Weighted blend of model and rule scores:
//     0.7 × ML probability + 0.3 × rule risk, flagged when > threshold
//
// 5. VERDICT: Final decision with riskLevel (low/medium/high/critical),
//     recommendedAction (approve/monitor/review/block) and contributing
//     factors.
//
// PREREQUISITE: the server must hold trained models. The suite trains
// them itself through POST /retrain on first use, so a freshly started
// server with an empty database works.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("SENTINEL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching Sentinel's API contract)
// ============================================================================

// DetectRequest is the transaction sent to POST /detect
type DetectRequest struct {
	TransactionID    string   `json:"transactionId,omitempty"`
	CardID           string   `json:"cardId"`
	Amount           float64  `json:"amount"`
	Currency         string   `json:"currency,omitempty"`
	MerchantCategory string   `json:"merchantCategory,omitempty"`
	MerchantCountry  string   `json:"merchantCountry,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	IPAddress        string   `json:"ipAddress,omitempty"`
	Timestamp        string   `json:"timestamp,omitempty"`
}

// DetectResponse is what POST /detect returns
type DetectResponse struct {
	VerdictID           string       `json:"verdictId"`
	TransactionID       string       `json:"transactionId"`
	FraudProbability    float64      `json:"fraudProbability"`
	RiskScore           float64      `json:"riskScore"`
	IsFraud             bool         `json:"isFraud"`
	CompositeRisk       float64      `json:"compositeRiskScore"`
	RiskLevel           string       `json:"riskLevel"`
	RecommendedAction   string       `json:"recommendedAction"`
	ContributingFactors []string     `json:"contributingFactors"`
	DetectionMethod     string       `json:"detectionMethod"`
	RuleResults         []RuleResult `json:"ruleResults"`
	Metadata            Metadata     `json:"metadata"`
}

type RuleResult struct {
	Rule      string  `json:"rule"`
	Triggered bool    `json:"triggered"`
	RiskScore float64 `json:"riskScore"`
	Reason    string  `json:"reason"`
}

type Metadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// LabeledTransaction is a training row for POST /retrain
type LabeledTransaction struct {
	DetectRequest
	IsFraud bool `json:"isFraud"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

var trainOnce sync.Once

// ensureTrained trains the remote engine with a small labeled corpus so
// the suite works against a freshly started server. Retraining an
// already-fitted server is harmless; it just bumps the model version.
func ensureTrained(t *testing.T, config TestConfig) {
	t.Helper()

	trainOnce.Do(func() {
		var rows []LabeledTransaction
		for i := 0; i < 30; i++ {
			rows = append(rows, LabeledTransaction{
				DetectRequest: DetectRequest{
					CardID:           fmt.Sprintf("train-card-%d", i%3),
					Amount:           40 + float64(i%7)*12,
					Currency:         "USD",
					MerchantCategory: "grocery",
					MerchantCountry:  "US",
					IPAddress:        "10.0.0.5",
					Timestamp:        fmt.Sprintf("2026-08-%02dT14:30:00Z", (i%27)+1),
				},
			})
		}
		for i := 0; i < 5; i++ {
			rows = append(rows, LabeledTransaction{
				DetectRequest: DetectRequest{
					CardID:           "train-card-fraud",
					Amount:           9500 + float64(i)*800,
					Currency:         "USD",
					MerchantCategory: "cryptocurrency",
					Timestamp:        fmt.Sprintf("2026-08-%02dT03:00:00Z", i+1),
				},
				IsFraud: true,
			})
		}

		body, err := json.Marshal(map[string]any{"transactions": rows})
		if err != nil {
			t.Fatalf("Failed to marshal training corpus: %v", err)
		}

		client := &http.Client{Timeout: 60 * time.Second}
		resp, err := client.Post(config.BaseURL+"/retrain", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("Retrain request failed: %v", err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200 from /retrain, got %d: %s", resp.StatusCode, string(respBody))
		}
	})
}

func detect(t *testing.T, config TestConfig, req DetectRequest) DetectResponse {
	t.Helper()

	ensureTrained(t, config)

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result DetectResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

func float64Ptr(v float64) *float64 { return &v }

// ============================================================================
// SCENARIO 1: Normal Transaction (Low Risk)
// ============================================================================

func TestNormalTransaction_LowRisk(t *testing.T) {
	/*
	   SCENARIO: A regular $55 grocery purchase during the day, with
	   complete location, IP and timestamp data.

	   EXPECTED BEHAVIOR:
	   - amount_threshold: $55 well below limits → baseline
	   - location / time_pattern / merchant_risk: clean signals
	   - Models score close to the training distribution

	   FINAL DECISION: isFraud=false, no contributing factors
	*/
	config := getTestConfig()

	result := detect(t, config, DetectRequest{
		CardID:           "card-normal-001",
		Amount:           55.00,
		Currency:         "USD",
		MerchantCategory: "grocery",
		MerchantCountry:  "US",
		Latitude:         float64Ptr(51.5),
		Longitude:        float64Ptr(-0.12),
		IPAddress:        "10.0.0.8",
		Timestamp:        "2026-08-28T14:30:00Z",
	})

	// ASSERTIONS
	if result.IsFraud {
		t.Errorf("Expected isFraud=false for a normal transaction, got true (prob=%.3f)", result.FraudProbability)
	}

	if len(result.ContributingFactors) > 0 {
		t.Errorf("Expected no contributing factors, got %v", result.ContributingFactors)
	}

	if result.FraudProbability < 0 || result.FraudProbability > 1 {
		t.Errorf("Fraud probability out of range: %.3f", result.FraudProbability)
	}

	t.Logf("✓ Normal transaction passed: isFraud=%v, prob=%.3f, level=%s",
		result.IsFraud, result.FraudProbability, result.RiskLevel)
}

// ============================================================================
// SCENARIO 2: High Amount Transaction (Triggers amount rule + factor)
// ============================================================================

func TestHighAmountTransaction_RuleTriggered(t *testing.T) {
	/*
	   SCENARIO: A $15,000 purchase (above the $10,000 threshold)

	   EXPECTED BEHAVIOR:
	   - amount_threshold rule fires with its high-amount score
	   - "high_amount" appears in contributingFactors
	   - The composite risk is amplified 10% per factor over the base
	     probability

	   NOTE: one firing rule alone is averaged against the quiet rules
	   and blended at 30% weight, so a single signal rarely crosses the
	   fraud threshold. Multiple signals compound.
	*/
	config := getTestConfig()

	result := detect(t, config, DetectRequest{
		CardID:           "card-highamount-001",
		Amount:           15000.00,
		Currency:         "USD",
		MerchantCategory: "grocery",
		MerchantCountry:  "US",
		Latitude:         float64Ptr(40.7),
		Longitude:        float64Ptr(-74.0),
		IPAddress:        "10.0.0.9",
		Timestamp:        "2026-08-28T14:30:00Z",
	})

	hasFactor := false
	for _, f := range result.ContributingFactors {
		if f == "high_amount" {
			hasFactor = true
		}
	}
	if !hasFactor {
		t.Errorf("Expected high_amount in contributing factors, got %v", result.ContributingFactors)
	}

	ruleFired := false
	for _, r := range result.RuleResults {
		if r.Rule == "amount_threshold" && r.Triggered {
			ruleFired = true
		}
	}
	if !ruleFired {
		t.Errorf("Expected amount_threshold rule to fire for $15,000: %+v", result.RuleResults)
	}

	if result.CompositeRisk < result.FraudProbability {
		t.Errorf("Expected composite risk (%.3f) >= base probability (%.3f) when factors present",
			result.CompositeRisk, result.FraudProbability)
	}

	t.Logf("✓ High-amount transaction: isFraud=%v, prob=%.3f, composite=%.3f, factors=%v",
		result.IsFraud, result.FraudProbability, result.CompositeRisk, result.ContributingFactors)
}

// ============================================================================
// SCENARIO 3: Threshold Boundary Testing (Exact $10,000)
// ============================================================================

func TestExactThreshold_NoHighAmountFactor(t *testing.T) {
	/*
	   SCENARIO: Transaction of exactly $10,000

	   EXPECTED BEHAVIOR:
	   - The amount check is strict greater-than: $10,000 is NOT > $10,000
	   - No "high_amount" contributing factor

	   WHY THIS TEST:
	   Boundary conditions catch off-by-one errors in threshold logic.
	*/
	config := getTestConfig()

	result := detect(t, config, DetectRequest{
		CardID:           "card-boundary-001",
		Amount:           10000.00,
		Currency:         "USD",
		MerchantCategory: "grocery",
		Latitude:         float64Ptr(48.8),
		Longitude:        float64Ptr(2.35),
		IPAddress:        "10.0.0.10",
		Timestamp:        "2026-08-28T14:30:00Z",
	})

	for _, f := range result.ContributingFactors {
		if f == "high_amount" {
			t.Errorf("Did not expect high_amount factor for exactly $10,000 (threshold is >10000)")
		}
	}

	t.Logf("✓ Boundary test passed: $10,000 exactly → factors=%v", result.ContributingFactors)
}

func TestJustAboveThreshold_FactorPresent(t *testing.T) {
	/*
	   SCENARIO: Transaction of $10,000.01 (just above threshold)

	   EXPECTED: "high_amount" factor present, unlike the exact-threshold case.
	*/
	config := getTestConfig()

	result := detect(t, config, DetectRequest{
		CardID:           "card-justabove-001",
		Amount:           10000.01,
		Currency:         "USD",
		MerchantCategory: "grocery",
		Latitude:         float64Ptr(48.8),
		Longitude:        float64Ptr(2.35),
		IPAddress:        "10.0.0.11",
		Timestamp:        "2026-08-28T14:30:00Z",
	})

	hasFactor := false
	for _, f := range result.ContributingFactors {
		if f == "high_amount" {
			hasFactor = true
		}
	}
	if !hasFactor {
		t.Errorf("Expected high_amount factor for $10,000.01, got %v", result.ContributingFactors)
	}

	t.Logf("✓ Just-above-threshold: $10,000.01 → factors=%v", result.ContributingFactors)
}

// ============================================================================
// SCENARIO 4: Compound Risk (Multiple Rules Triggering)
// ============================================================================

func TestCompoundRisk_MultipleSignals(t *testing.T) {
	/*
	   SCENARIO: A $15,000 cryptocurrency purchase at 03:00 with no
	   location and no IP address.

	   EXPECTED BEHAVIOR:
	   - amount_threshold: fires (high amount)
	   - location: fires (missing coordinates)
	   - time_pattern: fires (quiet hours)
	   - merchant_risk: fires (cryptocurrency)
	   - Factors: high_amount, missing_location, missing_ip

	   WHY THIS MATTERS:
	   Multiple red flags compound: each factor amplifies the composite
	   score by 10%, and the averaged rule risk climbs with every
	   triggered rule. This profile matches the fraud rows the models
	   were trained on, so both pillars of the ensemble agree.
	*/
	config := getTestConfig()

	result := detect(t, config, DetectRequest{
		CardID:           "card-compound-001",
		Amount:           15000.00,
		Currency:         "USD",
		MerchantCategory: "cryptocurrency",
		Timestamp:        "2026-08-28T03:00:00Z",
	})

	triggered := 0
	for _, r := range result.RuleResults {
		if r.Triggered {
			triggered++
		}
	}
	if triggered < 3 {
		t.Errorf("Expected at least 3 rules to fire for compound risk, got %d: %+v", triggered, result.RuleResults)
	}

	if len(result.ContributingFactors) < 3 {
		t.Errorf("Expected at least 3 contributing factors, got %v", result.ContributingFactors)
	}

	if result.RiskLevel == "low" {
		t.Errorf("Expected elevated risk level for compound signals, got %s (composite=%.3f)",
			result.RiskLevel, result.CompositeRisk)
	}

	t.Logf("✓ Compound risk: isFraud=%v, composite=%.3f, level=%s, action=%s, factors=%v",
		result.IsFraud, result.CompositeRisk, result.RiskLevel, result.RecommendedAction, result.ContributingFactors)
}

// ============================================================================
// SCENARIO 5: Missing Timestamp (Absence as a Signal)
// ============================================================================

func TestMissingTimestamp_RuleFires(t *testing.T) {
	/*
	   SCENARIO: Request omits the timestamp entirely.

	   EXPECTED BEHAVIOR:
	   - The server preserves the zero timestamp instead of defaulting
	     it to now; its absence is itself a fraud signal
	   - time_pattern rule fires with reason "missing timestamp"
	*/
	config := getTestConfig()

	result := detect(t, config, DetectRequest{
		CardID:           "card-notimestamp-001",
		Amount:           80.00,
		Currency:         "USD",
		MerchantCategory: "grocery",
		Latitude:         float64Ptr(51.5),
		Longitude:        float64Ptr(-0.12),
		IPAddress:        "10.0.0.12",
	})

	fired := false
	for _, r := range result.RuleResults {
		if r.Rule == "time_pattern" && r.Triggered {
			fired = true
		}
	}
	if !fired {
		t.Errorf("Expected time_pattern rule to fire for missing timestamp: %+v", result.RuleResults)
	}

	t.Logf("✓ Missing timestamp fired time_pattern rule")
}

// ============================================================================
// SCENARIO 6: Currency Handling
// ============================================================================

func TestDifferentCurrencies_ConsistentScoring(t *testing.T) {
	/*
	   SCENARIO: Verify the engine handles different currencies consistently

	   BEHAVIOR:
	   - Amounts are evaluated RAW without FX conversion
	   - A 15,000 transaction carries the high_amount factor in every
	     currency
	*/
	config := getTestConfig()

	currencies := []string{"USD", "EUR", "GBP", "JPY"}

	for _, currency := range currencies {
		t.Run(currency, func(t *testing.T) {
			result := detect(t, config, DetectRequest{
				CardID:           fmt.Sprintf("card-%s-001", currency),
				Amount:           15000,
				Currency:         currency,
				MerchantCategory: "grocery",
				Latitude:         float64Ptr(35.6),
				Longitude:        float64Ptr(139.7),
				IPAddress:        "10.0.0.13",
				Timestamp:        "2026-08-28T14:30:00Z",
			})

			hasFactor := false
			for _, f := range result.ContributingFactors {
				if f == "high_amount" {
					hasFactor = true
				}
			}
			if !hasFactor {
				t.Errorf("Expected high_amount factor for %s 15000, got %v", currency, result.ContributingFactors)
			}

			t.Logf("%s: isFraud=%v, prob=%.3f", currency, result.IsFraud, result.FraudProbability)
		})
	}
}

// ============================================================================
// SCENARIO 7: Input Validation
// ============================================================================

func TestMissingCardID_Error(t *testing.T) {
	/*
	   SCENARIO: Request missing the required cardId field

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()
	ensureTrained(t, config)

	body, _ := json.Marshal(DetectRequest{
		Amount:   100,
		Currency: "USD",
	})

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(config.BaseURL+"/detect", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing cardId, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: missing cardId → HTTP %d", resp.StatusCode)
}

func TestZeroAmount_Error(t *testing.T) {
	/*
	   SCENARIO: Request with zero amount

	   EXPECTED: HTTP 400 Bad Request (amount must be positive)
	*/
	config := getTestConfig()
	ensureTrained(t, config)

	body, _ := json.Marshal(DetectRequest{
		CardID:   "card-001",
		Amount:   0,
		Currency: "USD",
	})

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(config.BaseURL+"/detect", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero amount, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: zero amount → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 8: Alert Retrieval After Detection
// ============================================================================

func TestAlertRetrievable_AfterDetection(t *testing.T) {
	/*
	   SCENARIO: Every scored transaction is persisted as a verdict and
	   retrievable through GET /alerts/{id}.
	*/
	config := getTestConfig()

	result := detect(t, config, DetectRequest{
		CardID:           "card-alert-001",
		Amount:           15000.00,
		Currency:         "USD",
		MerchantCategory: "cryptocurrency",
		Timestamp:        "2026-08-28T03:30:00Z",
	})

	if result.VerdictID == "" {
		t.Fatal("Missing verdictId in detect response")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(config.BaseURL + "/alerts/" + result.VerdictID)
	if err != nil {
		t.Fatalf("Alert lookup failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for alert lookup, got %d", resp.StatusCode)
	}

	var stored DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		t.Fatalf("Failed to decode stored verdict: %v", err)
	}

	if stored.TransactionID != result.TransactionID {
		t.Errorf("Stored verdict transaction %s does not match %s", stored.TransactionID, result.TransactionID)
	}

	t.Logf("✓ Verdict %s retrievable after detection", result.VerdictID)
}

// ============================================================================
// SCENARIO 9: Analyst Feedback Round Trip
// ============================================================================

func TestFeedbackRoundTrip(t *testing.T) {
	/*
	   SCENARIO: An analyst confirms a flagged transaction as fraud.
	   The label is stored and listed under the transaction.
	*/
	config := getTestConfig()

	result := detect(t, config, DetectRequest{
		CardID:           "card-feedback-001",
		Amount:           250.00,
		Currency:         "USD",
		MerchantCategory: "electronics",
		Latitude:         float64Ptr(52.5),
		Longitude:        float64Ptr(13.4),
		IPAddress:        "10.0.0.14",
		Timestamp:        "2026-08-28T16:00:00Z",
	})

	body, _ := json.Marshal(map[string]any{
		"transactionId": result.TransactionID,
		"isFraud":       true,
		"analyst":       "integration-suite",
		"notes":         "confirmed with cardholder",
	})

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(config.BaseURL+"/feedback", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Feedback request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 for feedback, got %d", resp.StatusCode)
	}

	listResp, err := client.Get(config.BaseURL + "/feedback/transaction/" + result.TransactionID)
	if err != nil {
		t.Fatalf("Feedback list failed: %v", err)
	}
	defer listResp.Body.Close()

	var items []struct {
		TransactionID string `json:"transactionId"`
		IsFraud       bool   `json:"isFraud"`
		Analyst       string `json:"analyst"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&items); err != nil {
		t.Fatalf("Failed to decode feedback list: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("Expected at least one feedback entry")
	}
	if !items[0].IsFraud || items[0].Analyst != "integration-suite" {
		t.Errorf("Unexpected feedback entry: %+v", items[0])
	}

	t.Logf("✓ Feedback stored and listed for transaction %s", result.TransactionID)
}

// ============================================================================
// SCENARIO 10: Custom CEL Rule Lifecycle
// ============================================================================

func TestCustomRuleLifecycle(t *testing.T) {
	/*
	   SCENARIO: Create a CEL rule via the API, reload the rule engine,
	   and verify the rule participates in scoring.

	   RULE: flags any transaction from merchant country "KP".
	*/
	config := getTestConfig()
	ensureTrained(t, config)

	ruleID := fmt.Sprintf("embargo-country-%d", time.Now().UnixNano())
	body, _ := json.Marshal(map[string]any{
		"id":         ruleID,
		"name":       "Embargoed merchant country",
		"expression": `merchant_country == "KP"`,
		"riskScore":  0.9,
		"enabled":    true,
	})

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(config.BaseURL+"/rules", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Rule creation failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 for rule creation, got %d", resp.StatusCode)
	}

	reloadResp, err := client.Post(config.BaseURL+"/rules/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("Rule reload failed: %v", err)
	}
	reloadResp.Body.Close()
	if reloadResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for rule reload, got %d", reloadResp.StatusCode)
	}

	result := detect(t, config, DetectRequest{
		CardID:           "card-rule-001",
		Amount:           60.00,
		Currency:         "USD",
		MerchantCategory: "grocery",
		MerchantCountry:  "KP",
		Latitude:         float64Ptr(39.0),
		Longitude:        float64Ptr(125.7),
		IPAddress:        "10.0.0.15",
		Timestamp:        "2026-08-28T12:00:00Z",
	})

	// Rule results report the rule name, not its ID.
	fired := false
	for _, r := range result.RuleResults {
		if r.Rule == "Embargoed merchant country" && r.Triggered {
			fired = true
		}
	}
	if !fired {
		t.Errorf("Expected custom rule %s to fire for KP merchant: %+v", ruleID, result.RuleResults)
	}

	t.Logf("✓ Custom rule %s created, reloaded and fired", ruleID)
}

// ============================================================================
// SCENARIO 11: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify response includes all required metadata

	   This ensures the API contract is stable for clients.
	*/
	config := getTestConfig()

	result := detect(t, config, DetectRequest{
		CardID:           "card-metadata-001",
		Amount:           100,
		Currency:         "USD",
		MerchantCategory: "grocery",
		Latitude:         float64Ptr(51.5),
		Longitude:        float64Ptr(-0.12),
		IPAddress:        "10.0.0.16",
		Timestamp:        "2026-08-28T11:00:00Z",
	})

	if result.VerdictID == "" {
		t.Error("Missing verdictId")
	}
	if result.TransactionID == "" {
		t.Error("Missing transactionId")
	}
	if result.FraudProbability < 0 || result.FraudProbability > 1 {
		t.Errorf("Fraud probability out of range: %.3f", result.FraudProbability)
	}
	if result.CompositeRisk < 0 || result.CompositeRisk > 1 {
		t.Errorf("Composite risk out of range: %.3f", result.CompositeRisk)
	}

	switch result.RiskLevel {
	case "low", "medium", "high", "critical":
	default:
		t.Errorf("Invalid riskLevel: %s", result.RiskLevel)
	}
	switch result.RecommendedAction {
	case "approve", "monitor", "review", "block":
	default:
		t.Errorf("Invalid recommendedAction: %s", result.RecommendedAction)
	}

	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}
	// TotalMs can be 0 for sub-millisecond scoring
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}
	if result.Metadata.Version == "" {
		t.Error("Missing metadata.version")
	}

	t.Logf("✓ Metadata complete: verdictId=%s, traceId=%s, totalMs=%d, version=%s",
		result.VerdictID[:8], result.Metadata.TraceID, result.Metadata.TotalMs, result.Metadata.Version)
}
