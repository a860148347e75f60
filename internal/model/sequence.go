package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/sentinelfraud/sentinel/internal/domain"
)

// SequenceClassifier is a supervised classifier over sliding windows of
// time-ordered feature vectors per card. Each window is flattened to a
// single input; training weights classes inversely to their frequency
// so rare fraud examples are not swamped.
//
// Window construction (padding, truncation, ordering) is the scoring
// engine's responsibility, not the model's.
type SequenceClassifier struct {
	InputDim  int `json:"inputDim"`  // features per timestep
	SeqLen    int `json:"seqLen"`    // window length L
	Weights   []float64 `json:"weights"` // SeqLen*InputDim
	Bias      float64   `json:"bias"`
	Threshold float64   `json:"threshold"` // decision cutoff on probability

	Schema string  `json:"schema"`
	Seed   int64   `json:"seed"`
	LR     float64 `json:"learningRate"`

	fitted bool
}

// NewSequenceClassifier creates an untrained classifier for windows of
// seqLen vectors of inputDim features each.
func NewSequenceClassifier(inputDim, seqLen int, schema string) *SequenceClassifier {
	if seqLen <= 0 {
		seqLen = 10
	}
	return &SequenceClassifier{
		InputDim:  inputDim,
		SeqLen:    seqLen,
		Threshold: 0.5,
		Schema:    schema,
		Seed:      42,
		LR:        0.05,
	}
}

// Name returns the model's registry name.
func (s *SequenceClassifier) Name() string { return NameSequence }

// Fitted reports whether the model has trained weights.
func (s *SequenceClassifier) Fitted() bool { return s.fitted || s.Weights != nil }

// FlatDim returns the flattened window dimensionality.
func (s *SequenceClassifier) FlatDim() int { return s.InputDim * s.SeqLen }

// Fit trains logistic weights over flattened windows with
// inverse-class-frequency sample weighting.
func (s *SequenceClassifier) Fit(windows [][]float64, labels []bool, epochs int) (*TrainingHistory, error) {
	if len(windows) == 0 || len(windows) != len(labels) {
		return nil, fmt.Errorf("%w: %d windows, %d labels", domain.ErrInvalidInput, len(windows), len(labels))
	}
	if len(windows[0]) != s.FlatDim() {
		return nil, fmt.Errorf("%w: window length %d, model expects %d",
			domain.ErrInvalidInput, len(windows[0]), s.FlatDim())
	}
	if epochs <= 0 {
		epochs = 100
	}

	var pos int
	for _, l := range labels {
		if l {
			pos++
		}
	}
	neg := len(labels) - pos
	// Inverse frequency weighting: the rare class counts proportionally
	// more in the gradient.
	posWeight := 1.0
	if pos > 0 {
		posWeight = math.Max(1, float64(neg)/float64(pos))
	}

	rng := rand.New(rand.NewSource(s.Seed))
	s.Weights = make([]float64, s.FlatDim())
	for i := range s.Weights {
		s.Weights[i] = (rng.Float64()*2 - 1) * 0.01
	}
	s.Bias = 0

	order := rng.Perm(len(windows))
	history := &TrainingHistory{}

	for epoch := 0; epoch < epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var epochLoss float64
		for _, idx := range order {
			x := windows[idx]
			y := 0.0
			w := 1.0
			if labels[idx] {
				y = 1.0
				w = posWeight
			}

			p := sigmoid(floats.Dot(s.Weights, x) + s.Bias)
			epochLoss += -w * (y*math.Log(p+1e-12) + (1-y)*math.Log(1-p+1e-12))

			g := w * (p - y)
			for i := range s.Weights {
				s.Weights[i] -= s.LR * g * x[i]
			}
			s.Bias -= s.LR * g
		}
		history.Loss = append(history.Loss, epochLoss/float64(len(windows)))
	}

	s.fitted = true
	return history, nil
}

// PredictWindow scores one flattened window.
func (s *SequenceClassifier) PredictWindow(window []float64) (label bool, probability float64, err error) {
	if !s.Fitted() {
		return false, 0, fmt.Errorf("%w: sequence classifier", domain.ErrNotFitted)
	}
	if len(window) != s.FlatDim() {
		return false, 0, fmt.Errorf("%w: window length %d, model expects %d",
			domain.ErrInvalidInput, len(window), s.FlatDim())
	}

	p := sigmoid(floats.Dot(s.Weights, window) + s.Bias)
	return p > s.Threshold, p, nil
}

// Predict scores one flattened window as a fraud probability.
// Confidence is the distance from the decision boundary.
func (s *SequenceClassifier) Predict(window []float64) (domain.ModelPrediction, error) {
	_, p, err := s.PredictWindow(window)
	if err != nil {
		return domain.ModelPrediction{Model: NameSequence}, err
	}
	return domain.ModelPrediction{
		Model:            NameSequence,
		FraudProbability: p,
		ConfidenceScore:  clamp01(2 * math.Abs(p-0.5)),
		Raw:              []float64{p},
	}, nil
}

// Flatten concatenates a window of feature vectors oldest-first,
// left-padding with zero vectors and truncating to the window length.
// The single-transaction serving path treats the incoming vector as the
// most recent element of its card's rolling window.
func Flatten(window [][]float64, inputDim, seqLen int) []float64 {
	flat := make([]float64, inputDim*seqLen)

	if len(window) > seqLen {
		window = window[len(window)-seqLen:]
	}
	offset := seqLen - len(window)
	for i, vec := range window {
		copy(flat[(offset+i)*inputDim:], vec)
	}
	return flat
}
