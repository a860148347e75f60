// Package velocity provides card transaction velocity calculation.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinelfraud/sentinel/internal/domain"
)

// Service counts recent transactions per card. It backs the built-in
// velocity rule and the velocity_count variable in custom rules.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// Record bumps the cached counter for a card after a transaction is
// accepted. Counter TTL matches the window so stale activity ages out.
func (s *Service) Record(ctx context.Context, cardID string, windowSecs int) {
	if s.cache == nil || cardID == "" {
		return
	}
	ttl := time.Duration(windowSecs) * time.Second
	// Best effort: a cache failure only degrades the fast path.
	_, _ = s.cache.IncrementCounter(ctx, counterKey(cardID, windowSecs), ttl)
}

// GetTransactionCount returns the number of transactions for a card
// within a time window. This is the VelocityFunc signature expected by
// the rule layer. The cached counter answers first; the repository is
// the fallback when no counter exists.
func (s *Service) GetTransactionCount(ctx context.Context, cardID string, windowSecs int) (int64, error) {
	if cardID == "" {
		return 0, fmt.Errorf("cardID is required")
	}

	if s.cache != nil {
		if count, found, err := s.cache.GetCounter(ctx, counterKey(cardID, windowSecs)); err == nil && found {
			return count, nil
		}
	}

	if s.repo != nil {
		return s.countFromRepo(ctx, cardID, windowSecs)
	}

	return 0, fmt.Errorf("no data source available")
}

// countFromRepo uses the repository to get transactions and count them.
func (s *Service) countFromRepo(ctx context.Context, cardID string, windowSecs int) (int64, error) {
	since := time.Now().Add(-time.Duration(windowSecs) * time.Second)
	txs, err := s.repo.GetTransactionsByCard(ctx, cardID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to get transactions: %w", err)
	}
	return int64(len(txs)), nil
}

func counterKey(cardID string, windowSecs int) string {
	return fmt.Sprintf("velocity:%s:%d", cardID, windowSecs)
}
