// Package model implements the engine's inference models: a
// reconstruction-based anomaly detector and a supervised sequence
// classifier, plus persistence of their trained artifacts.
package model

import "math"

// Model names, a closed set. The engine's model registry is a tagged
// struct over these kinds, not an open-ended map.
const (
	NameAnomaly  = "autoencoder"
	NameSequence = "sequence"
)

// TrainingHistory records per-epoch loss during a fit.
type TrainingHistory struct {
	Loss []float64 `json:"loss"`
}

func sigmoid(z float64) float64 {
	// Split to avoid overflow in exp for large |z|.
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
