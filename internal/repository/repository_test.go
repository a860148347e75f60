package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sentinelfraud/sentinel/internal/domain"
)

func ptr(v float64) *float64 { return &v }

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "sentinel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:               "tx-001",
			CardID:           "card-001",
			Amount:           1000.00,
			Currency:         "USD",
			CardType:         "credit",
			MerchantID:       "merchant-001",
			MerchantName:     "Acme Retail",
			MerchantCategory: "retail",
			MerchantCountry:  "US",
			Latitude:         ptr(40.7128),
			Longitude:        ptr(-74.0060),
			IPAddress:        "203.0.113.9",
			Timestamp:        time.Now().UTC(),
			CreatedAt:        time.Now().UTC(),
			Metadata:         map[string]any{"source": "api"},
		}

		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.ID != tx.ID {
			t.Errorf("expected ID %s, got %s", tx.ID, retrieved.ID)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if retrieved.Latitude == nil || *retrieved.Latitude != *tx.Latitude {
			t.Errorf("expected Latitude %v, got %v", tx.Latitude, retrieved.Latitude)
		}
	})

	t.Run("NullableLocation", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:        "tx-noloc",
			CardID:    "card-001",
			Amount:    50,
			Currency:  "USD",
			Timestamp: time.Now().UTC(),
			CreatedAt: time.Now().UTC(),
		}

		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if retrieved.Latitude != nil || retrieved.Longitude != nil {
			t.Error("expected nil coordinates to round-trip as nil")
		}
	})

	t.Run("GetTransactionsByCard", func(t *testing.T) {
		tx2 := &domain.Transaction{
			ID:        "tx-002",
			CardID:    "card-001",
			Amount:    500.00,
			Currency:  "USD",
			Timestamp: time.Now().UTC(),
			CreatedAt: time.Now().UTC(),
		}

		if err := repo.SaveTransaction(ctx, tx2); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		since := time.Now().Add(-1 * time.Hour)
		transactions, err := repo.GetTransactionsByCard(ctx, "card-001", since)
		if err != nil {
			t.Fatalf("GetTransactionsByCard failed: %v", err)
		}

		if len(transactions) != 3 {
			t.Errorf("expected 3 transactions, got %d", len(transactions))
		}
	})

	t.Run("SaveAndGetVerdict", func(t *testing.T) {
		v := &domain.Verdict{
			ID:                  "verdict-001",
			TransactionID:       "tx-001",
			FraudProbability:    0.59,
			RiskScore:           0.8,
			ConfidenceScore:     0.5,
			IsFraud:             false,
			CompositeRisk:       0.649,
			RiskLevel:           domain.RiskHigh,
			RecommendedAction:   domain.ActionReview,
			ContributingFactors: []string{"high_amount"},
			DetectionMethod:     domain.MethodEnsemble,
			RuleResults: []domain.RuleResult{
				{Rule: "amount_threshold", Triggered: true, RiskScore: 0.8, Reason: "high amount"},
			},
			PredictionMs: 12,
			Timestamp:    time.Now().UTC(),
		}

		if err := repo.SaveVerdict(ctx, v); err != nil {
			t.Fatalf("SaveVerdict failed: %v", err)
		}

		retrieved, err := repo.GetVerdict(ctx, v.ID)
		if err != nil {
			t.Fatalf("GetVerdict failed: %v", err)
		}

		if retrieved.FraudProbability != v.FraudProbability {
			t.Errorf("expected probability %.2f, got %.2f", v.FraudProbability, retrieved.FraudProbability)
		}
		if len(retrieved.RuleResults) != 1 || retrieved.RuleResults[0].Rule != "amount_threshold" {
			t.Errorf("rule results did not round-trip: %+v", retrieved.RuleResults)
		}
		if len(retrieved.ContributingFactors) != 1 || retrieved.ContributingFactors[0] != "high_amount" {
			t.Errorf("factors did not round-trip: %v", retrieved.ContributingFactors)
		}
	})

	t.Run("ListAlerts", func(t *testing.T) {
		alert := &domain.Verdict{
			ID:                "verdict-002",
			TransactionID:     "tx-002",
			FraudProbability:  0.91,
			RiskScore:         0.8,
			ConfidenceScore:   0.8,
			IsFraud:           true,
			CompositeRisk:     0.95,
			RiskLevel:         domain.RiskCritical,
			RecommendedAction: domain.ActionBlock,
			DetectionMethod:   domain.MethodEnsemble,
			PredictionMs:      8,
			Timestamp:         time.Now().UTC(),
		}

		if err := repo.SaveVerdict(ctx, alert); err != nil {
			t.Fatalf("SaveVerdict failed: %v", err)
		}

		alerts, err := repo.ListAlerts(ctx, time.Now().Add(-time.Hour), 10)
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}

		if len(alerts) != 1 {
			t.Fatalf("expected 1 alert, got %d", len(alerts))
		}
		if alerts[0].ID != "verdict-002" {
			t.Errorf("expected alert verdict-002, got %s", alerts[0].ID)
		}
	})

	t.Run("SaveAndListFeedback", func(t *testing.T) {
		fb := &domain.Feedback{
			ID:            "fb-001",
			TransactionID: "tx-001",
			IsFraud:       true,
			Analyst:       "analyst-1",
			Notes:         "confirmed chargeback",
			CreatedAt:     time.Now().UTC(),
		}

		if err := repo.SaveFeedback(ctx, fb); err != nil {
			t.Fatalf("SaveFeedback failed: %v", err)
		}

		list, err := repo.ListFeedbackByTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("ListFeedbackByTransaction failed: %v", err)
		}

		if len(list) != 1 {
			t.Fatalf("expected 1 feedback entry, got %d", len(list))
		}
		if !list[0].IsFraud || list[0].Analyst != "analyst-1" {
			t.Errorf("feedback did not round-trip: %+v", list[0])
		}
	})

	t.Run("RuleConfigLifecycle", func(t *testing.T) {
		rule := &domain.RuleConfig{
			ID:          "rule-001",
			Name:        "large-crypto",
			Description: "large crypto purchases",
			Version:     "1",
			Expression:  `amount > 2000.0 && merchant_category == "cryptocurrency"`,
			RiskScore:   0.75,
			Enabled:     true,
		}

		if err := repo.SaveRuleConfig(ctx, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		retrieved, err := repo.GetRuleConfig(ctx, rule.ID)
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if retrieved.Expression != rule.Expression || retrieved.RiskScore != rule.RiskScore {
			t.Errorf("rule did not round-trip: %+v", retrieved)
		}

		// Upsert same version
		rule.RiskScore = 0.8
		if err := repo.SaveRuleConfig(ctx, rule); err != nil {
			t.Fatalf("SaveRuleConfig upsert failed: %v", err)
		}
		retrieved, _ = repo.GetRuleConfig(ctx, rule.ID)
		if retrieved.RiskScore != 0.8 {
			t.Errorf("expected upserted risk 0.8, got %v", retrieved.RiskScore)
		}

		list, err := repo.ListRuleConfigs(ctx)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("expected 1 rule, got %d", len(list))
		}
	})

	t.Run("ArtifactLifecycle", func(t *testing.T) {
		artifact := &domain.ModelArtifact{
			Name:      "preprocessor",
			Version:   "v-abc",
			Kind:      "preprocessor",
			Payload:   []byte(`{"schema":"v1"}`),
			CreatedAt: time.Now().UTC(),
		}

		if err := repo.SaveArtifact(ctx, artifact); err != nil {
			t.Fatalf("SaveArtifact failed: %v", err)
		}

		got, err := repo.GetArtifact(ctx, "preprocessor", "v-abc")
		if err != nil {
			t.Fatalf("GetArtifact failed: %v", err)
		}
		if string(got.Payload) != string(artifact.Payload) {
			t.Errorf("payload did not round-trip")
		}

		newer := &domain.ModelArtifact{
			Name:      "preprocessor",
			Version:   "v-def",
			Kind:      "preprocessor",
			Payload:   []byte(`{"schema":"v1","fitted":true}`),
			CreatedAt: time.Now().UTC().Add(time.Second),
		}
		if err := repo.SaveArtifact(ctx, newer); err != nil {
			t.Fatalf("SaveArtifact failed: %v", err)
		}

		latest, err := repo.GetLatestArtifact(ctx, "preprocessor")
		if err != nil {
			t.Fatalf("GetLatestArtifact failed: %v", err)
		}
		if latest.Version != "v-def" {
			t.Errorf("expected latest version v-def, got %s", latest.Version)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetVerdict(ctx, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetLatestArtifact(ctx, "nonexistent"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
