package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sentinelfraud/sentinel/internal/domain"
	"github.com/sentinelfraud/sentinel/internal/engine"
	"github.com/sentinelfraud/sentinel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	rules   *rules.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, ruleEngine *rules.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  eng,
		rules:   ruleEngine,
		version: version,
	}
}

// DetectResponse is the response for POST /detect.
type DetectResponse struct {
	*domain.Verdict
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Detect handles POST /detect requests: synchronous fraud scoring.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.CardID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "cardId is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}

	txID := req.TransactionID
	if txID == "" {
		txID = uuid.New().String()
	}

	// A zero timestamp is deliberately preserved: its absence is a rule
	// signal, not a value to default.
	tx := &domain.Transaction{
		ID:               txID,
		CardID:           req.CardID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		CardType:         req.CardType,
		MerchantID:       req.MerchantID,
		MerchantName:     req.MerchantName,
		MerchantCategory: req.MerchantCategory,
		MerchantCountry:  req.MerchantCountry,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		IPAddress:        req.IPAddress,
		Timestamp:        req.Timestamp,
		CreatedAt:        time.Now().UTC(),
		Metadata:         req.Metadata,
	}

	verdict, err := h.engine.Score(ctx, tx)
	if err != nil {
		status := errStatus(err)
		slog.Error("scoring failed", "tx_id", txID, "error", err)
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", txID, "error", err)
		}
		if err := h.repo.SaveVerdict(ctx, verdict); err != nil {
			slog.Error("failed to save verdict", "tx_id", txID, "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(verdict)
		if err := h.bus.Publish(ctx, domain.TopicVerdict, payload); err != nil {
			slog.Error("failed to publish verdict", "tx_id", txID, "error", err)
		}
		if verdict.IsFraud {
			if err := h.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
				slog.Error("failed to publish alert", "tx_id", txID, "error", err)
			}
		}
	}

	resp := DetectResponse{Verdict: verdict}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the server can score traffic. The engine always
// answers (rule-only fallback), so readiness only reflects liveness plus
// which models are loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.GetPerformanceStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ready":        true,
		"modelVersion": h.engine.ModelVersion(),
		"loadedModels": stats.LoadedModels,
	})
}

// GetAlert retrieves a verdict by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	verdictID := chi.URLParam(r, "id")

	if verdictID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "alert id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	verdict, err := h.repo.GetVerdict(ctx, verdictID)
	if err != nil {
		slog.Error("failed to get verdict", "id", verdictID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "alert not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}

// ListAlerts returns fraud verdicts since the given time.
// Query params: since (RFC3339, default 24h ago), limit (default 100).
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC3339",
			})
			return
		}
		since = parsed
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	alerts, err := h.repo.ListAlerts(ctx, since, limit)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// FeedbackRequest is the request body for POST /feedback.
type FeedbackRequest struct {
	TransactionID string `json:"transactionId"`
	IsFraud       bool   `json:"isFraud"`
	Analyst       string `json:"analyst,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// CreateFeedback records an analyst label for a scored transaction.
func (h *Handler) CreateFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.TransactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactionId is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	fb := &domain.Feedback{
		ID:            uuid.New().String(),
		TransactionID: req.TransactionID,
		IsFraud:       req.IsFraud,
		Analyst:       req.Analyst,
		Notes:         req.Notes,
		CreatedAt:     time.Now().UTC(),
	}

	if err := h.repo.SaveFeedback(ctx, fb); err != nil {
		slog.Error("failed to save feedback", "tx_id", req.TransactionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save feedback",
		})
		return
	}

	writeJSON(w, http.StatusCreated, fb)
}

// ListFeedback returns all feedback for a transaction.
func (h *Handler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	feedback, err := h.repo.ListFeedbackByTransaction(ctx, txID)
	if err != nil {
		slog.Error("failed to list feedback", "tx_id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list feedback",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"feedback": feedback,
		"count":    len(feedback),
	})
}

// ReloadModels loads the latest persisted model artifacts into the engine.
func (h *Handler) ReloadModels(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ReloadModels(r.Context()); err != nil {
		slog.Error("model reload failed", "error", err)
		writeJSON(w, errStatus(err), map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("models reloaded", "version", h.engine.ModelVersion())
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "models reloaded",
		"version": h.engine.ModelVersion(),
	})
}

// RetrainRequest is the request body for POST /retrain.
type RetrainRequest struct {
	Transactions []domain.LabeledTransaction `json:"transactions"`
}

// Retrain fits fresh models on the supplied labeled corpus and swaps
// them in atomically. In-flight scores keep the previous model set.
func (h *Handler) Retrain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RetrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	report, err := h.engine.Retrain(ctx, req.Transactions)
	if err != nil {
		slog.Error("retrain failed", "error", err)
		writeJSON(w, errStatus(err), map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("retrain complete",
		"version", report.Version,
		"samples", report.Samples,
		"duration_ms", report.TrainDurationMs,
	)
	writeJSON(w, http.StatusOK, report)
}

// Stats returns engine performance statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetPerformanceStats())
}

// ListRules returns all loaded custom rules.
// Rules are loaded from the database at startup and can be reloaded via
// POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.rules.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.rules.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	RiskScore   float64 `json:"riskScore"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule creates a new custom rule and saves it to the database.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		RiskScore:   req.RiskScore,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression by attempting to load
	if err := h.rules.LoadRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.rules.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// errStatus maps domain errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFitted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
