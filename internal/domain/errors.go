package domain

import "errors"

// Error taxonomy for the scoring pipeline. Only ErrInvalidInput and
// ErrNotFitted propagate to callers; everything else is contained and
// annotated in the verdict's diagnostic detail.
var (
	// ErrInvalidInput marks malformed transaction fields. Fatal for
	// the affected call.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFitted marks use of an unfitted preprocessor or model.
	// Engine misconfiguration; should fail fast at startup.
	ErrNotFitted = errors.New("not fitted")

	// ErrModelUnavailable marks a model that failed to load or
	// predict. Recovered by excluding that model's vote.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrTimeout marks a model that exceeded the scoring deadline.
	// Treated as ErrModelUnavailable.
	ErrTimeout = errors.New("prediction timed out")

	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("record not found")
)
