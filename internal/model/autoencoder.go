package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sentinelfraud/sentinel/internal/domain"
)

// Autoencoder is a reconstruction-based anomaly detector: a tanh
// bottleneck encoder with a linear decoder, trained only on legitimate
// transactions. Scoring divides per-sample reconstruction error by a
// calibrated threshold and clamps to [0,1].
type Autoencoder struct {
	InputDim    int `json:"inputDim"`
	EncodingDim int `json:"encodingDim"`

	// Encoder and decoder weights. W1 is EncodingDim x InputDim,
	// W2 is InputDim x EncodingDim.
	W1 [][]float64 `json:"w1"`
	B1 []float64   `json:"b1"`
	W2 [][]float64 `json:"w2"`
	B2 []float64   `json:"b2"`

	// Per-column standardization fitted on the training set.
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`

	// Threshold is the calibrated reconstruction-error cutoff; set by
	// CalibrateThreshold, never a fixed constant.
	Threshold float64 `json:"threshold"`

	// Schema records the feature schema the model was trained against.
	Schema string  `json:"schema"`
	Seed   int64   `json:"seed"`
	LR     float64 `json:"learningRate"`

	fitted bool
}

// NewAutoencoder creates an untrained autoencoder for the given input
// dimensionality.
func NewAutoencoder(inputDim, encodingDim int, schema string) *Autoencoder {
	if encodingDim <= 0 || encodingDim > inputDim {
		encodingDim = max(1, inputDim/2)
	}
	return &Autoencoder{
		InputDim:    inputDim,
		EncodingDim: encodingDim,
		Schema:      schema,
		Seed:        42,
		LR:          0.01,
	}
}

// Name returns the model's registry name.
func (a *Autoencoder) Name() string { return NameAnomaly }

// Fitted reports whether the model has trained weights.
func (a *Autoencoder) Fitted() bool { return a.fitted || a.W1 != nil }

// Fit trains the autoencoder on normal feature vectors with plain SGD
// over mean-squared reconstruction error.
func (a *Autoencoder) Fit(normal [][]float64, epochs int) (*TrainingHistory, error) {
	if len(normal) == 0 {
		return nil, fmt.Errorf("%w: empty training set", domain.ErrInvalidInput)
	}
	if len(normal[0]) != a.InputDim {
		return nil, fmt.Errorf("%w: expected %d features, got %d",
			domain.ErrInvalidInput, a.InputDim, len(normal[0]))
	}
	if epochs <= 0 {
		epochs = 50
	}

	a.fitStandardizer(normal)
	a.initWeights()

	rng := rand.New(rand.NewSource(a.Seed))
	order := rng.Perm(len(normal))
	history := &TrainingHistory{}

	for epoch := 0; epoch < epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var epochLoss float64
		for _, idx := range order {
			x := a.standardize(normal[idx])
			epochLoss += a.step(x)
		}
		history.Loss = append(history.Loss, epochLoss/float64(len(normal)))
	}

	a.fitted = true
	return history, nil
}

// CalibrateThreshold sets the decision threshold as the
// (1-contamination)-quantile of reconstruction error on normal data,
// keeping the false-positive ceiling at the contamination rate across
// retrains regardless of feature-scale drift.
func (a *Autoencoder) CalibrateThreshold(normal [][]float64, contamination float64) error {
	if !a.Fitted() {
		return fmt.Errorf("%w: autoencoder", domain.ErrNotFitted)
	}
	if len(normal) == 0 {
		return fmt.Errorf("%w: empty calibration set", domain.ErrInvalidInput)
	}
	if contamination <= 0 || contamination >= 1 {
		contamination = 0.1
	}

	errs := make([]float64, len(normal))
	for i, vec := range normal {
		e, err := a.ReconstructionError(vec)
		if err != nil {
			return err
		}
		errs[i] = e
	}
	sort.Float64s(errs)

	a.Threshold = stat.Quantile(1-contamination, stat.Empirical, errs, nil)
	if a.Threshold <= 0 {
		a.Threshold = math.SmallestNonzeroFloat64
	}
	return nil
}

// ReconstructionError returns the mean squared reconstruction error for
// one feature vector.
func (a *Autoencoder) ReconstructionError(features []float64) (float64, error) {
	if !a.Fitted() {
		return 0, fmt.Errorf("%w: autoencoder", domain.ErrNotFitted)
	}
	if len(features) != a.InputDim {
		return 0, fmt.Errorf("%w: feature vector length %d, model expects %d",
			domain.ErrInvalidInput, len(features), a.InputDim)
	}

	x := a.standardize(features)
	_, xhat := a.forward(x)

	var sum float64
	for i := range x {
		d := xhat[i] - x[i]
		sum += d * d
	}
	return sum / float64(len(x)), nil
}

// PredictAnomaly scores a batch: per-sample normalized score and the
// over-threshold flag.
func (a *Autoencoder) PredictAnomaly(X [][]float64) (isAnomaly []bool, scores []float64, err error) {
	isAnomaly = make([]bool, len(X))
	scores = make([]float64, len(X))
	for i, vec := range X {
		e, perr := a.ReconstructionError(vec)
		if perr != nil {
			return nil, nil, perr
		}
		isAnomaly[i] = e > a.Threshold
		scores[i] = a.normalize(e)
	}
	return isAnomaly, scores, nil
}

// Predict scores one feature vector as a fraud probability. Confidence
// is fixed for this unsupervised signal.
func (a *Autoencoder) Predict(features []float64) (domain.ModelPrediction, error) {
	e, err := a.ReconstructionError(features)
	if err != nil {
		return domain.ModelPrediction{Model: NameAnomaly}, err
	}
	if a.Threshold == 0 {
		return domain.ModelPrediction{Model: NameAnomaly},
			fmt.Errorf("%w: autoencoder threshold not calibrated", domain.ErrNotFitted)
	}

	return domain.ModelPrediction{
		Model:            NameAnomaly,
		FraudProbability: a.normalize(e),
		ConfidenceScore:  0.8,
		Raw:              []float64{e, a.Threshold},
	}, nil
}

func (a *Autoencoder) normalize(reconstructionError float64) float64 {
	if a.Threshold == 0 {
		return clamp01(reconstructionError)
	}
	return clamp01(reconstructionError / a.Threshold)
}

// step runs one SGD step on a standardized sample and returns its loss.
func (a *Autoencoder) step(x []float64) float64 {
	h, xhat := a.forward(x)
	n := float64(a.InputDim)

	// Output gradient: dL/dxhat for L = mean((xhat-x)^2).
	dOut := make([]float64, a.InputDim)
	var loss float64
	for i := range x {
		d := xhat[i] - x[i]
		loss += d * d
		dOut[i] = 2 * d / n
	}

	// Backprop into the hidden layer through the linear decoder.
	dHidden := make([]float64, a.EncodingDim)
	for j := 0; j < a.EncodingDim; j++ {
		var g float64
		for i := 0; i < a.InputDim; i++ {
			g += a.W2[i][j] * dOut[i]
		}
		dHidden[j] = g * (1 - h[j]*h[j]) // tanh'
	}

	// Decoder update.
	for i := 0; i < a.InputDim; i++ {
		for j := 0; j < a.EncodingDim; j++ {
			a.W2[i][j] -= a.LR * dOut[i] * h[j]
		}
		a.B2[i] -= a.LR * dOut[i]
	}

	// Encoder update.
	for j := 0; j < a.EncodingDim; j++ {
		for i := 0; i < a.InputDim; i++ {
			a.W1[j][i] -= a.LR * dHidden[j] * x[i]
		}
		a.B1[j] -= a.LR * dHidden[j]
	}

	return loss / n
}

func (a *Autoencoder) forward(x []float64) (hidden, reconstruction []float64) {
	hidden = make([]float64, a.EncodingDim)
	for j := 0; j < a.EncodingDim; j++ {
		hidden[j] = math.Tanh(floats.Dot(a.W1[j], x) + a.B1[j])
	}

	reconstruction = make([]float64, a.InputDim)
	for i := 0; i < a.InputDim; i++ {
		reconstruction[i] = floats.Dot(a.W2[i], hidden) + a.B2[i]
	}
	return hidden, reconstruction
}

func (a *Autoencoder) standardize(features []float64) []float64 {
	out := make([]float64, len(features))
	for i, v := range features {
		std := a.Std[i]
		if std == 0 {
			std = 1
		}
		out[i] = (v - a.Mean[i]) / std
	}
	return out
}

func (a *Autoencoder) fitStandardizer(X [][]float64) {
	a.Mean = make([]float64, a.InputDim)
	a.Std = make([]float64, a.InputDim)

	column := make([]float64, len(X))
	for i := 0; i < a.InputDim; i++ {
		for r, row := range X {
			column[r] = row[i]
		}
		mean, std := stat.MeanStdDev(column, nil)
		if math.IsNaN(std) {
			std = 0
		}
		a.Mean[i], a.Std[i] = mean, std
	}
}

// initWeights uses scaled uniform initialization from the fixed seed so
// retrains over identical data reproduce identical weights.
func (a *Autoencoder) initWeights() {
	rng := rand.New(rand.NewSource(a.Seed))
	limitEnc := math.Sqrt(6.0 / float64(a.InputDim+a.EncodingDim))

	a.W1 = make([][]float64, a.EncodingDim)
	a.B1 = make([]float64, a.EncodingDim)
	for j := range a.W1 {
		a.W1[j] = make([]float64, a.InputDim)
		for i := range a.W1[j] {
			a.W1[j][i] = (rng.Float64()*2 - 1) * limitEnc
		}
	}

	a.W2 = make([][]float64, a.InputDim)
	a.B2 = make([]float64, a.InputDim)
	for i := range a.W2 {
		a.W2[i] = make([]float64, a.EncodingDim)
		for j := range a.W2[i] {
			a.W2[i][j] = (rng.Float64()*2 - 1) * limitEnc
		}
	}
}
