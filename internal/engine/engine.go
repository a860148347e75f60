// Package engine orchestrates the fraud scoring pipeline: feature
// preprocessing, parallel model inference, rule evaluation, ensemble
// combination and risk metric derivation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sentinelfraud/sentinel/internal/domain"
	"github.com/sentinelfraud/sentinel/internal/ensemble"
	"github.com/sentinelfraud/sentinel/internal/feature"
	"github.com/sentinelfraud/sentinel/internal/metrics"
	"github.com/sentinelfraud/sentinel/internal/model"
	"github.com/sentinelfraud/sentinel/internal/rules"
)

// modelSet is the closed set of loaded models plus the fitted
// preprocessor. Swapped atomically as a unit so one scoring call never
// observes a mixed generation.
type modelSet struct {
	version      string
	preprocessor *feature.Preprocessor
	anomaly      *model.Autoencoder
	sequence     *model.SequenceClassifier
}

func (m *modelSet) loadedModels() []string {
	var names []string
	if m.anomaly != nil && m.anomaly.Fitted() {
		names = append(names, m.anomaly.Name())
	}
	if m.sequence != nil && m.sequence.Fitted() {
		names = append(names, m.sequence.Name())
	}
	return names
}

// Engine is the fraud scoring engine. Safe for concurrent use.
type Engine struct {
	cfg       domain.EngineConfig
	models    atomic.Pointer[modelSet]
	combiner  *ensemble.Combiner
	battery   []rules.Rule
	custom    *rules.Engine
	store     *model.Store
	collector *metrics.Collector
	history   *historyBuffer
	logger    *slog.Logger

	// sem bounds concurrent model inference across all scoring calls.
	sem chan struct{}
}

// Options carries the engine's collaborators.
type Options struct {
	Config      domain.EngineConfig
	RuleParams  rules.BatteryParams
	Velocity    rules.VelocityFunc
	CustomRules *rules.Engine
	Store       *model.Store
	Collector   *metrics.Collector
	Logger      *slog.Logger
}

// New creates a scoring engine with an empty model set. Call
// ReloadModels or Retrain to make ML inference available; until then
// every score degrades to rule-plus-abstention.
func New(opts Options) *Engine {
	cfg := opts.Config
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ScoreTimeout <= 0 {
		cfg.ScoreTimeout = 2 * time.Second
	}
	if cfg.SequenceLength <= 0 {
		cfg.SequenceLength = 10
	}
	if opts.RuleParams.HighAmountThreshold <= 0 {
		opts.RuleParams = rules.DefaultBatteryParams()
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := opts.Collector
	if collector == nil {
		collector = metrics.NewCollector()
	}

	e := &Engine{
		cfg:       cfg,
		combiner:  ensemble.NewCombiner(cfg.MLWeight, cfg.RuleWeight, cfg.FraudThreshold),
		battery:   rules.Battery(opts.RuleParams, opts.Velocity),
		custom:    opts.CustomRules,
		store:     opts.Store,
		collector: collector,
		history:   newHistoryBuffer(cfg.SequenceLength),
		logger:    logger,
		sem:       make(chan struct{}, cfg.Workers),
	}
	e.models.Store(&modelSet{version: "empty", preprocessor: feature.New()})
	return e
}

// Score runs the full pipeline for one transaction and returns its
// verdict. Only ErrInvalidInput and ErrNotFitted propagate as errors;
// every other failure is contained inside the verdict.
func (e *Engine) Score(ctx context.Context, tx *domain.Transaction) (*domain.Verdict, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrInvalidInput)
	}

	start := time.Now()

	// One consistent model generation per call.
	set := e.models.Load()

	features, err := set.preprocessor.Transform(tx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ScoreTimeout)
	defer cancel()

	window := e.history.window(tx.CardID, features)
	predictions := e.predict(ctx, set, features, window)
	ruleResults := e.evaluateRules(ctx, tx)

	combined := e.combine(predictions, ruleResults)
	risk := ensemble.ComputeRiskMetrics(combined, tx)

	for _, p := range predictions {
		if p.Failed() {
			e.collector.ObserveModelFailure(p.Model)
		}
	}
	for _, r := range ruleResults {
		if r.Triggered {
			e.collector.ObserveRuleTrigger(r.Rule)
		}
	}

	e.history.append(tx.CardID, features)

	elapsed := time.Since(start)
	e.collector.ObservePrediction(combined.Method, float64(elapsed.Milliseconds()), combined.IsFraud)

	verdict := &domain.Verdict{
		ID:                  uuid.NewString(),
		TransactionID:       tx.ID,
		FraudProbability:    combined.FraudProbability,
		RiskScore:           combined.RuleRiskScore,
		ConfidenceScore:     combined.ConfidenceScore,
		IsFraud:             combined.IsFraud,
		CompositeRisk:       risk.CompositeRisk,
		RiskLevel:           risk.RiskLevel,
		RecommendedAction:   risk.RecommendedAction,
		ContributingFactors: risk.RiskFactors,
		DetectionMethod:     combined.Method,
		ModelPredictions:    predictions,
		RuleResults:         ruleResults,
		PredictionMs:        elapsed.Milliseconds(),
		Timestamp:           time.Now().UTC(),
	}

	e.logger.DebugContext(ctx, "transaction scored",
		"txId", tx.ID,
		"probability", verdict.FraudProbability,
		"riskLevel", verdict.RiskLevel,
		"method", verdict.DetectionMethod,
		"ms", verdict.PredictionMs,
	)

	return verdict, nil
}

// PredictFromFeatures exposes the ML side as an opaque numeric
// predictor over a raw feature vector: the mean fraud probability of
// the healthy models, or the abstention value with none loaded. Used
// by explanation tooling that perturbs feature vectors directly.
func (e *Engine) PredictFromFeatures(ctx context.Context, features []float64) (float64, error) {
	set := e.models.Load()

	if !set.preprocessor.Fitted() {
		return 0, domain.ErrNotFitted
	}
	if len(features) != set.preprocessor.FeatureCount() {
		return 0, fmt.Errorf("%w: expected %d features, got %d",
			domain.ErrInvalidInput, set.preprocessor.FeatureCount(), len(features))
	}

	predictions := e.predict(ctx, set, features, [][]float64{features})

	var sum float64
	var n int
	for _, p := range predictions {
		if p.Failed() {
			continue
		}
		sum += p.FraudProbability
		n++
	}
	if n == 0 {
		return 0.5, nil
	}
	return sum / float64(n), nil
}

type indexedPrediction struct {
	idx  int
	pred domain.ModelPrediction
}

// predict fans model inference out over the bounded worker pool and
// joins with the call deadline. A model that misses the deadline is
// marked failed with a timeout annotation; its goroutine finishes in
// the background without touching the returned slice.
func (e *Engine) predict(ctx context.Context, set *modelSet, features []float64, window [][]float64) []domain.ModelPrediction {
	type task struct {
		name string
		run  func() (domain.ModelPrediction, error)
	}

	var tasks []task
	if set.anomaly != nil && set.anomaly.Fitted() {
		anomaly := set.anomaly
		tasks = append(tasks, task{name: anomaly.Name(), run: func() (domain.ModelPrediction, error) {
			return anomaly.Predict(features)
		}})
	}
	if set.sequence != nil && set.sequence.Fitted() {
		seq := set.sequence
		flat := model.Flatten(window, seq.InputDim, seq.SeqLen)
		tasks = append(tasks, task{name: seq.Name(), run: func() (domain.ModelPrediction, error) {
			return seq.Predict(flat)
		}})
	}

	if len(tasks) == 0 {
		return nil
	}

	resCh := make(chan indexedPrediction, len(tasks))
	for i, t := range tasks {
		go func(idx int, t task) {
			select {
			case e.sem <- struct{}{}:
				defer func() { <-e.sem }()
			case <-ctx.Done():
				return
			}

			pred, err := t.run()
			if err != nil {
				pred = domain.ModelPrediction{Model: t.name, Err: err.Error()}
			}
			resCh <- indexedPrediction{idx: idx, pred: pred}
		}(i, t)
	}

	predictions := make([]domain.ModelPrediction, len(tasks))
	received := make([]bool, len(tasks))
	for done := 0; done < len(tasks); {
		select {
		case r := <-resCh:
			predictions[r.idx] = r.pred
			received[r.idx] = true
			done++
		case <-ctx.Done():
			for i := range predictions {
				if !received[i] {
					predictions[i] = domain.ModelPrediction{
						Model: tasks[i].name,
						Err:   domain.ErrTimeout.Error(),
					}
				}
			}
			return predictions
		}
	}

	return predictions
}

// evaluateRules runs the built-in battery and, when configured, the
// custom CEL rules. Results are concatenated battery-first.
func (e *Engine) evaluateRules(ctx context.Context, tx *domain.Transaction) []domain.RuleResult {
	results := rules.EvaluateBattery(ctx, e.battery, tx)
	if e.custom != nil {
		results = append(results, e.custom.EvaluateAll(ctx, tx, velocityWindowSecs)...)
	}
	return results
}

const velocityWindowSecs = 3600

// combine applies the ensemble with a panic barrier: any failure in
// combination degrades to the neutral fallback verdict rather than
// propagating to the caller.
func (e *Engine) combine(predictions []domain.ModelPrediction, ruleResults []domain.RuleResult) (out ensemble.Combined) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("ensemble combination failed", "panic", r)
			out = ensemble.Fallback()
		}
	}()
	return e.combiner.Combine(predictions, ruleResults)
}

// ReloadModels swaps in the latest persisted model bundle. In-flight
// scoring calls keep the generation they started with.
func (e *Engine) ReloadModels(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("no model store configured")
	}

	bundle, err := e.store.LoadLatest(ctx)
	if err != nil {
		return err
	}

	e.models.Store(&modelSet{
		version:      bundle.Version,
		preprocessor: bundle.Preprocessor,
		anomaly:      bundle.Anomaly,
		sequence:     bundle.Sequence,
	})

	e.logger.InfoContext(ctx, "models reloaded", "version", bundle.Version)
	return nil
}

// ModelVersion returns the active model generation identifier.
func (e *Engine) ModelVersion() string {
	return e.models.Load().version
}

// GetPerformanceStats returns the engine's rolling counters and the
// active model inventory.
func (e *Engine) GetPerformanceStats() domain.PerformanceStats {
	set := e.models.Load()
	count, avg := e.collector.Snapshot()

	loadedRules := len(e.battery)
	if e.custom != nil {
		loadedRules += e.custom.RulesCount()
	}

	return domain.PerformanceStats{
		PredictionCount:     count,
		AveragePredictionMs: avg,
		LoadedModels:        set.loadedModels(),
		LoadedRules:         loadedRules,
		PreprocessorLoaded:  set.preprocessor.Fitted(),
	}
}
