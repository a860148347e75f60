// Package worker provides async transaction scoring from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelfraud/sentinel/internal/domain"
	"github.com/sentinelfraud/sentinel/internal/engine"
	"github.com/sentinelfraud/sentinel/internal/velocity"
)

// velocityWindowSecs matches the window used by the built-in velocity rule.
const velocityWindowSecs = 3600

// Worker consumes ingested transactions from the EventBus, scores them
// and publishes verdicts (and alerts for flagged transactions).
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	engine   *engine.Engine
	velocity *velocity.Service

	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount bounds how many transactions are scored concurrently.
	WorkerCount int
}

// NewWorker creates a new async worker. repo and velocity may be nil;
// persistence and velocity tracking are then skipped.
func NewWorker(bus domain.EventBus, repo domain.Repository, eng *engine.Engine, vel *velocity.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		engine:   eng,
		velocity: vel,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the ingest topic. A single subscription avoids
// double-processing on broadcast buses; WorkerCount bounds concurrency.
func (w *Worker) Start(cfg Config) error {
	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}
	w.sem = make(chan struct{}, count)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"worker_count", count,
		"topic", domain.TopicTransactionIngested,
	)

	return nil
}

// handleMessage dispatches a message to the scoring pipeline, bounded
// by the worker semaphore.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer func() {
			<-w.sem
			w.wg.Done()
		}()
		_ = w.processTransaction(ctx, msg)
	}()

	return nil
}

// processTransaction scores a transaction through the full pipeline.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("processing transaction",
		"tx_id", tx.ID,
		"card_id", tx.CardID,
	)

	verdict, err := w.engine.Score(ctx, &tx)
	if err != nil {
		slog.Error("scoring failed",
			"tx_id", tx.ID,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		if err := w.repo.SaveTransaction(ctx, &tx); err != nil {
			slog.Error("failed to save transaction",
				"tx_id", tx.ID,
				"error", err,
			)
		}
		if err := w.repo.SaveVerdict(ctx, verdict); err != nil {
			slog.Error("failed to save verdict",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	// Record the transaction for velocity tracking so later scores see it.
	if w.velocity != nil {
		w.velocity.Record(ctx, tx.CardID, velocityWindowSecs)
	}

	resultPayload, _ := json.Marshal(verdict)
	if err := w.bus.Publish(ctx, domain.TopicVerdict, resultPayload); err != nil {
		slog.Error("failed to publish verdict",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	if verdict.IsFraud {
		if err := w.bus.Publish(ctx, domain.TopicAlert, resultPayload); err != nil {
			slog.Error("failed to publish alert",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	slog.Info("transaction processed",
		"tx_id", tx.ID,
		"is_fraud", verdict.IsFraud,
		"risk_level", verdict.RiskLevel,
		"probability", verdict.FraudProbability,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
