package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sentinelfraud/sentinel/internal/domain"
	"github.com/sentinelfraud/sentinel/internal/feature"
)

// Artifact names under which trained state is persisted.
const (
	ArtifactPreprocessor = "preprocessor"
	ArtifactAnomaly      = "autoencoder"
	ArtifactSequence     = "sequence"
)

// Store persists and restores trained model artifacts through the
// repository, keyed by artifact name and version string.
type Store struct {
	repo domain.Repository
}

// NewStore creates an artifact store over the given repository.
func NewStore(repo domain.Repository) *Store {
	return &Store{repo: repo}
}

// Bundle is one coherent trained model set. All members were produced by
// the same training run and share a feature schema.
type Bundle struct {
	Version      string
	Preprocessor *feature.Preprocessor
	Anomaly      *Autoencoder
	Sequence     *SequenceClassifier
}

// Save persists a trained bundle under one version key.
func (s *Store) Save(ctx context.Context, b *Bundle) error {
	if b.Version == "" {
		return fmt.Errorf("%w: bundle version is required", domain.ErrInvalidInput)
	}

	preState, err := b.Preprocessor.MarshalState()
	if err != nil {
		return fmt.Errorf("serialize preprocessor: %w", err)
	}
	if err := s.saveOne(ctx, ArtifactPreprocessor, b.Version, preState); err != nil {
		return err
	}

	if b.Anomaly != nil {
		payload, err := json.Marshal(b.Anomaly)
		if err != nil {
			return fmt.Errorf("serialize autoencoder: %w", err)
		}
		if err := s.saveOne(ctx, ArtifactAnomaly, b.Version, payload); err != nil {
			return err
		}
	}

	if b.Sequence != nil {
		payload, err := json.Marshal(b.Sequence)
		if err != nil {
			return fmt.Errorf("serialize sequence classifier: %w", err)
		}
		if err := s.saveOne(ctx, ArtifactSequence, b.Version, payload); err != nil {
			return err
		}
	}

	return nil
}

// LoadLatest restores the most recently saved bundle. A missing
// preprocessor is fatal; missing models are tolerated and reported as
// nil so the engine degrades to whatever signals remain.
func (s *Store) LoadLatest(ctx context.Context) (*Bundle, error) {
	preArt, err := s.repo.GetLatestArtifact(ctx, ArtifactPreprocessor)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: no trained preprocessor available", domain.ErrNotFitted)
		}
		return nil, fmt.Errorf("load preprocessor artifact: %w", err)
	}

	pre := feature.New()
	if err := pre.LoadState(preArt.Payload); err != nil {
		return nil, fmt.Errorf("restore preprocessor: %w", err)
	}

	bundle := &Bundle{Version: preArt.Version, Preprocessor: pre}

	if art, err := s.repo.GetArtifact(ctx, ArtifactAnomaly, preArt.Version); err == nil {
		var ae Autoencoder
		if err := json.Unmarshal(art.Payload, &ae); err != nil {
			return nil, fmt.Errorf("restore autoencoder: %w", err)
		}
		if ae.InputDim != pre.FeatureCount() {
			return nil, fmt.Errorf("%w: autoencoder expects %d features, preprocessor emits %d",
				domain.ErrInvalidInput, ae.InputDim, pre.FeatureCount())
		}
		bundle.Anomaly = &ae
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load autoencoder artifact: %w", err)
	}

	if art, err := s.repo.GetArtifact(ctx, ArtifactSequence, preArt.Version); err == nil {
		var seq SequenceClassifier
		if err := json.Unmarshal(art.Payload, &seq); err != nil {
			return nil, fmt.Errorf("restore sequence classifier: %w", err)
		}
		if seq.InputDim != pre.FeatureCount() {
			return nil, fmt.Errorf("%w: sequence classifier expects %d features, preprocessor emits %d",
				domain.ErrInvalidInput, seq.InputDim, pre.FeatureCount())
		}
		bundle.Sequence = &seq
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load sequence artifact: %w", err)
	}

	return bundle, nil
}

func (s *Store) saveOne(ctx context.Context, name, version string, payload []byte) error {
	artifact := &domain.ModelArtifact{
		Name:      name,
		Version:   version,
		Kind:      name,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveArtifact(ctx, artifact); err != nil {
		return fmt.Errorf("save %s artifact: %w", name, err)
	}
	return nil
}
