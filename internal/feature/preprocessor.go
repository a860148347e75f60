// Package feature implements the fitted transaction preprocessor that
// turns raw transactions into fixed-length numeric feature vectors.
package feature

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sentinelfraud/sentinel/internal/domain"
)

// SchemaVersion identifies the feature schema. Models record the schema
// they were trained against; a mismatch is a fatal configuration error.
const SchemaVersion = "v1"

// DefaultRareMerchantCutoff is the frequency below which a merchant is
// flagged rare.
const DefaultRareMerchantCutoff = 5

// defaultTimeSinceLastHours is used when a card has no prior transaction.
const defaultTimeSinceLastHours = 24.0

// unknownClass is the reserved bucket for categories unseen at fit time.
const unknownClass = "unknown"

// featureNames is the fixed, ordered feature schema. Scaled numeric
// columns first, then label-encoded categoricals, then binary flags.
var featureNames = []string{
	"amount", "amount_log", "hour", "day_of_week",
	"amount_mean", "amount_std", "amount_min", "amount_max",
	"merchant_frequency", "time_since_last",
	"merchant_encoded", "category_encoded", "country_encoded",
	"is_weekend", "is_night", "amount_rounded",
	"merchant_rare", "high_amount", "velocity_risk",
}

// RobustScaler scales a value by fitted median and interquartile range.
type RobustScaler struct {
	Median float64 `json:"median"`
	IQR    float64 `json:"iqr"`
}

// Scale applies the fitted scaling. A zero IQR (constant column)
// degrades to centering only.
func (s RobustScaler) Scale(v float64) float64 {
	iqr := s.IQR
	if iqr == 0 {
		iqr = 1
	}
	return (v - s.Median) / iqr
}

// LabelEncoder maps category strings to stable integer codes. The
// reserved unknown bucket absorbs categories unseen at fit time.
type LabelEncoder struct {
	Classes map[string]int `json:"classes"`
}

// Encode returns the code for v, falling back to the unknown bucket.
func (e LabelEncoder) Encode(v string) int {
	if v == "" {
		v = unknownClass
	}
	if code, ok := e.Classes[v]; ok {
		return code
	}
	return e.Classes[unknownClass]
}

// CardStats holds per-card aggregates computed over the fitting corpus.
type CardStats struct {
	AmountMean float64   `json:"amountMean"`
	AmountStd  float64   `json:"amountStd"`
	AmountMin  float64   `json:"amountMin"`
	AmountMax  float64   `json:"amountMax"`
	Count      int       `json:"count"`
	Merchants  int       `json:"merchants"`
	Categories int       `json:"categories"`
	LastSeen   time.Time `json:"lastSeen"`
}

// fittedState is the serializable outcome of Fit.
type fittedState struct {
	SchemaVersion  string                  `json:"schemaVersion"`
	FeatureNames   []string                `json:"featureNames"`
	Scalers        map[string]RobustScaler `json:"scalers"`
	Encoders       map[string]LabelEncoder `json:"encoders"`
	Cards          map[string]CardStats    `json:"cards"`
	MerchantCounts map[string]int          `json:"merchantCounts"`
	RareCutoff     int                     `json:"rareCutoff"`
}

// Preprocessor is the deterministic, fitted raw-transaction-to-vector
// transform. Fit (or LoadState) must be called before Transform. After
// fitting, the state is read-only and safe for concurrent Transform.
type Preprocessor struct {
	state  fittedState
	fitted bool
}

// New returns an unfitted preprocessor.
func New() *Preprocessor {
	return &Preprocessor{}
}

// Fitted reports whether the preprocessor holds fitted state.
func (p *Preprocessor) Fitted() bool { return p.fitted }

// FeatureNames returns the ordered feature schema.
func (p *Preprocessor) FeatureNames() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// FeatureCount returns the feature vector length.
func (p *Preprocessor) FeatureCount() int { return len(featureNames) }

// Schema returns the fitted schema version.
func (p *Preprocessor) Schema() string { return SchemaVersion }

// Fit computes per-card aggregates, merchant frequencies, categorical
// vocabularies, and robust scaling parameters over the training corpus.
func (p *Preprocessor) Fit(txs []domain.Transaction) error {
	if len(txs) == 0 {
		return fmt.Errorf("%w: empty training corpus", domain.ErrInvalidInput)
	}

	state := fittedState{
		SchemaVersion:  SchemaVersion,
		FeatureNames:   featureNames,
		Scalers:        make(map[string]RobustScaler),
		Encoders:       make(map[string]LabelEncoder),
		Cards:          make(map[string]CardStats),
		MerchantCounts: make(map[string]int),
		RareCutoff:     DefaultRareMerchantCutoff,
	}

	// Per-card aggregates over the whole fitting corpus.
	byCard := make(map[string][]domain.Transaction)
	for _, tx := range txs {
		byCard[tx.CardID] = append(byCard[tx.CardID], tx)
		state.MerchantCounts[merchantKey(&tx)]++
	}
	for cardID, cardTxs := range byCard {
		state.Cards[cardID] = computeCardStats(cardTxs)
	}

	// Categorical vocabularies, unknown bucket always present.
	merchants := []string{unknownClass}
	categories := []string{unknownClass}
	countries := []string{unknownClass}
	for _, tx := range txs {
		merchants = append(merchants, orUnknown(merchantKey(&tx)))
		categories = append(categories, orUnknown(tx.MerchantCategory))
		countries = append(countries, orUnknown(tx.MerchantCountry))
	}
	state.Encoders["merchant"] = fitEncoder(merchants)
	state.Encoders["category"] = fitEncoder(categories)
	state.Encoders["country"] = fitEncoder(countries)

	// Robust scalers over the raw numeric columns, computed exactly as
	// Transform computes them so train and inference stay symmetric.
	columns := map[string][]float64{}
	for i := range txs {
		raw := rawNumericColumns(&txs[i], &state)
		for name, v := range raw {
			columns[name] = append(columns[name], v)
		}
	}
	for name, values := range columns {
		state.Scalers[name] = fitScaler(values)
	}

	p.state = state
	p.fitted = true
	return nil
}

// Transform converts one raw transaction into the fixed-length feature
// vector. Aggregates are looked up from fitted state, never recomputed,
// keeping inference O(1) and leakage-free.
func (p *Preprocessor) Transform(tx *domain.Transaction) ([]float64, error) {
	if !p.fitted {
		return nil, fmt.Errorf("%w: preprocessor must be fitted before transform", domain.ErrNotFitted)
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", domain.ErrInvalidInput)
	}
	if tx.Amount <= 0 || math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		return nil, fmt.Errorf("%w: amount must be positive, got %v", domain.ErrInvalidInput, tx.Amount)
	}

	raw := rawNumericColumns(tx, &p.state)

	vec := make([]float64, 0, len(featureNames))
	for _, name := range featureNames[:10] {
		vec = append(vec, p.state.Scalers[name].Scale(raw[name]))
	}

	vec = append(vec,
		float64(p.state.Encoders["merchant"].Encode(merchantKey(tx))),
		float64(p.state.Encoders["category"].Encode(tx.MerchantCategory)),
		float64(p.state.Encoders["country"].Encode(tx.MerchantCountry)),
	)

	hour, dow, hasTime := temporal(tx.Timestamp)
	stats := p.state.Cards[tx.CardID]
	vec = append(vec,
		boolFeature(hasTime && dow >= 5),
		boolFeature(hasTime && (hour >= 22 || hour <= 6)),
		boolFeature(tx.Amount == math.Trunc(tx.Amount)),
		boolFeature(p.state.MerchantCounts[merchantKey(tx)] < p.state.RareCutoff),
		boolFeature(tx.Amount > stats.AmountMean+2*stats.AmountStd),
		boolFeature(raw["time_since_last"] < 1),
	)

	return vec, nil
}

// TransformBatch converts a batch, preserving order.
func (p *Preprocessor) TransformBatch(txs []domain.Transaction) ([][]float64, error) {
	out := make([][]float64, 0, len(txs))
	for i := range txs {
		vec, err := p.Transform(&txs[i])
		if err != nil {
			return nil, fmt.Errorf("transform row %d: %w", i, err)
		}
		out = append(out, vec)
	}
	return out, nil
}

// MarshalState serializes the fitted state for persistence.
func (p *Preprocessor) MarshalState() ([]byte, error) {
	if !p.fitted {
		return nil, fmt.Errorf("%w: nothing to serialize", domain.ErrNotFitted)
	}
	return json.Marshal(p.state)
}

// LoadState restores previously fitted state. Transform output after a
// round-trip is bit-identical to the original.
func (p *Preprocessor) LoadState(data []byte) error {
	var state fittedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode preprocessor state: %w", err)
	}
	if state.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: preprocessor schema %q, expected %q",
			domain.ErrInvalidInput, state.SchemaVersion, SchemaVersion)
	}
	p.state = state
	p.fitted = true
	return nil
}

// rawNumericColumns computes the unscaled numeric feature columns for a
// transaction against fitted (or in-progress) state.
func rawNumericColumns(tx *domain.Transaction, state *fittedState) map[string]float64 {
	hour, dow, _ := temporal(tx.Timestamp)
	stats := state.Cards[tx.CardID]

	timeSince := defaultTimeSinceLastHours
	if stats.Count > 0 && !stats.LastSeen.IsZero() && !tx.Timestamp.IsZero() {
		if delta := tx.Timestamp.Sub(stats.LastSeen); delta > 0 {
			timeSince = delta.Hours()
		} else {
			timeSince = 0
		}
	}

	return map[string]float64{
		"amount":             tx.Amount,
		"amount_log":         math.Log1p(tx.Amount),
		"hour":               float64(hour),
		"day_of_week":        float64(dow),
		"amount_mean":        stats.AmountMean,
		"amount_std":         stats.AmountStd,
		"amount_min":         stats.AmountMin,
		"amount_max":         stats.AmountMax,
		"merchant_frequency": float64(state.MerchantCounts[merchantKey(tx)]),
		"time_since_last":    timeSince,
	}
}

// temporal extracts hour and Monday-based weekday. A zero timestamp is
// treated as missing: features degrade to zero and the time-pattern rule
// flags the gap.
func temporal(ts time.Time) (hour, dow int, ok bool) {
	if ts.IsZero() {
		return 0, 0, false
	}
	return ts.Hour(), (int(ts.Weekday()) + 6) % 7, true
}

func computeCardStats(txs []domain.Transaction) CardStats {
	amounts := make([]float64, 0, len(txs))
	merchants := make(map[string]struct{})
	categories := make(map[string]struct{})
	var lastSeen time.Time

	for i := range txs {
		amounts = append(amounts, txs[i].Amount)
		merchants[merchantKey(&txs[i])] = struct{}{}
		categories[txs[i].MerchantCategory] = struct{}{}
		if txs[i].Timestamp.After(lastSeen) {
			lastSeen = txs[i].Timestamp
		}
	}

	mean, std := stat.MeanStdDev(amounts, nil)
	if math.IsNaN(std) {
		std = 0 // single sample
	}

	stats := CardStats{
		AmountMean: mean,
		AmountStd:  std,
		AmountMin:  amounts[0],
		AmountMax:  amounts[0],
		Count:      len(amounts),
		Merchants:  len(merchants),
		Categories: len(categories),
		LastSeen:   lastSeen,
	}
	for _, a := range amounts[1:] {
		stats.AmountMin = math.Min(stats.AmountMin, a)
		stats.AmountMax = math.Max(stats.AmountMax, a)
	}
	return stats
}

func fitScaler(values []float64) RobustScaler {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	iqr := stat.Quantile(0.75, stat.Empirical, sorted, nil) -
		stat.Quantile(0.25, stat.Empirical, sorted, nil)
	return RobustScaler{Median: median, IQR: iqr}
}

// fitEncoder assigns codes in sorted vocabulary order so refits over the
// same corpus produce identical encodings.
func fitEncoder(values []string) LabelEncoder {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[orUnknown(v)] = struct{}{}
	}
	vocab := make([]string, 0, len(seen))
	for v := range seen {
		vocab = append(vocab, v)
	}
	sort.Strings(vocab)

	classes := make(map[string]int, len(vocab))
	for i, v := range vocab {
		classes[v] = i
	}
	return LabelEncoder{Classes: classes}
}

func merchantKey(tx *domain.Transaction) string {
	if tx.MerchantID != "" {
		return tx.MerchantID
	}
	return tx.MerchantName
}

func orUnknown(v string) string {
	if v == "" {
		return unknownClass
	}
	return v
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
