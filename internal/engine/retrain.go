package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sentinelfraud/sentinel/internal/domain"
	"github.com/sentinelfraud/sentinel/internal/feature"
	"github.com/sentinelfraud/sentinel/internal/model"
)

// Retraining defaults. Epoch counts trade training time against fit
// quality on the small windows this engine trains on.
const (
	minTrainingSamples = 20
	anomalyEpochs      = 50
	sequenceEpochs     = 100
	encodingDim        = 8
)

// RetrainReport summarizes one retraining run.
type RetrainReport struct {
	Version         string  `json:"version"`
	Samples         int     `json:"samples"`
	FraudSamples    int     `json:"fraudSamples"`
	AnomalyLoss     float64 `json:"anomalyLoss"`
	SequenceLoss    float64 `json:"sequenceLoss"`
	TrainDurationMs int64   `json:"trainDurationMs"`
}

// Retrain fits a fresh preprocessor and model pair on labeled history,
// persists the bundle when a store is configured, and atomically swaps
// the new generation in. The previous generation keeps serving until
// the swap.
func (e *Engine) Retrain(ctx context.Context, labeled []domain.LabeledTransaction) (*RetrainReport, error) {
	if len(labeled) < minTrainingSamples {
		return nil, fmt.Errorf("%w: need at least %d labeled samples, got %d",
			domain.ErrInvalidInput, minTrainingSamples, len(labeled))
	}

	start := time.Now()

	txs := make([]domain.Transaction, len(labeled))
	for i, l := range labeled {
		txs[i] = l.Transaction
	}

	pre := feature.New()
	if err := pre.Fit(txs); err != nil {
		return nil, err
	}

	vectors, err := pre.TransformBatch(txs)
	if err != nil {
		return nil, err
	}

	var normal [][]float64
	fraudCount := 0
	for i, l := range labeled {
		if l.IsFraud {
			fraudCount++
		} else {
			normal = append(normal, vectors[i])
		}
	}
	if len(normal) == 0 {
		return nil, fmt.Errorf("%w: training set has no legitimate transactions", domain.ErrInvalidInput)
	}

	anomaly := model.NewAutoencoder(pre.FeatureCount(), encodingDim, pre.Schema())
	anomalyHistory, err := anomaly.Fit(normal, anomalyEpochs)
	if err != nil {
		return nil, fmt.Errorf("anomaly training failed: %w", err)
	}
	if err := anomaly.CalibrateThreshold(normal, e.cfg.ContaminationRate); err != nil {
		return nil, fmt.Errorf("threshold calibration failed: %w", err)
	}

	seq := model.NewSequenceClassifier(pre.FeatureCount(), e.cfg.SequenceLength, pre.Schema())
	windows, labels := buildSequenceWindows(labeled, vectors, pre.FeatureCount(), e.cfg.SequenceLength)
	seqHistory, err := seq.Fit(windows, labels, sequenceEpochs)
	if err != nil {
		return nil, fmt.Errorf("sequence training failed: %w", err)
	}

	version := uuid.NewString()
	bundle := &model.Bundle{
		Version:      version,
		Preprocessor: pre,
		Anomaly:      anomaly,
		Sequence:     seq,
	}

	if e.store != nil {
		if err := e.store.Save(ctx, bundle); err != nil {
			return nil, fmt.Errorf("failed to persist model bundle: %w", err)
		}
	}

	e.models.Store(&modelSet{
		version:      version,
		preprocessor: pre,
		anomaly:      anomaly,
		sequence:     seq,
	})

	report := &RetrainReport{
		Version:         version,
		Samples:         len(labeled),
		FraudSamples:    fraudCount,
		AnomalyLoss:     lastLoss(anomalyHistory),
		SequenceLoss:    lastLoss(seqHistory),
		TrainDurationMs: time.Since(start).Milliseconds(),
	}

	e.logger.InfoContext(ctx, "models retrained",
		"version", version,
		"samples", report.Samples,
		"fraudSamples", report.FraudSamples,
		"ms", report.TrainDurationMs,
	)

	return report, nil
}

// buildSequenceWindows orders each card's transactions by timestamp
// and emits one flattened window per transaction, containing that
// transaction and its predecessors.
func buildSequenceWindows(labeled []domain.LabeledTransaction, vectors [][]float64, inputDim, seqLen int) (windows [][]float64, labels []bool) {
	type entry struct {
		idx int
		ts  time.Time
	}

	byCard := make(map[string][]entry)
	for i, l := range labeled {
		key := l.CardID
		if key == "" {
			key = l.ID
		}
		byCard[key] = append(byCard[key], entry{idx: i, ts: l.Timestamp})
	}

	cards := make([]string, 0, len(byCard))
	for card := range byCard {
		cards = append(cards, card)
	}
	sort.Strings(cards)

	for _, card := range cards {
		entries := byCard[card]
		sort.Slice(entries, func(a, b int) bool { return entries[a].ts.Before(entries[b].ts) })

		var history [][]float64
		for _, en := range entries {
			history = append(history, vectors[en.idx])
			windows = append(windows, model.Flatten(history, inputDim, seqLen))
			labels = append(labels, labeled[en.idx].IsFraud)
		}
	}

	return windows, labels
}

func lastLoss(h *model.TrainingHistory) float64 {
	if h == nil || len(h.Loss) == 0 {
		return 0
	}
	return h.Loss[len(h.Loss)-1]
}
