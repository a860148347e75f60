// Sentinel - ensemble fraud scoring for card transactions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sentinelfraud/sentinel/internal/api"
	"github.com/sentinelfraud/sentinel/internal/bus"
	"github.com/sentinelfraud/sentinel/internal/cache"
	"github.com/sentinelfraud/sentinel/internal/config"
	"github.com/sentinelfraud/sentinel/internal/domain"
	"github.com/sentinelfraud/sentinel/internal/engine"
	"github.com/sentinelfraud/sentinel/internal/metrics"
	"github.com/sentinelfraud/sentinel/internal/model"
	"github.com/sentinelfraud/sentinel/internal/repository"
	"github.com/sentinelfraud/sentinel/internal/rules"
	"github.com/sentinelfraud/sentinel/internal/velocity"
	"github.com/sentinelfraud/sentinel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration before logging so the log level applies
	cfg, err := config.Load(os.Getenv("SENTINEL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.Logging))
	slog.SetDefault(logger)

	slog.Info("starting sentinel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"fraud_threshold", cfg.Engine.FraudThreshold,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Velocity service feeds both the built-in velocity rule and the
	// velocity_count CEL variable
	velocitySvc := velocity.NewService(repo, cacheImpl)
	slog.Info("velocity service initialized")

	// Custom rule engine (CEL)
	ruleEngine, err := rules.NewEngine(velocitySvc.GetTransactionCount, 100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer ruleEngine.Close()

	// Load custom rules from database (no hardcoded defaults - configure via API)
	if err := loadRulesFromDatabase(ctx, repo, ruleEngine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.RulesCount())

	// Metrics
	collector := metrics.NewCollector()

	// Scoring engine
	eng := engine.New(engine.Options{
		Config:      cfg.Engine,
		RuleParams:  rules.DefaultBatteryParams(),
		Velocity:    velocitySvc.GetTransactionCount,
		CustomRules: ruleEngine,
		Store:       model.NewStore(repo),
		Collector:   collector,
		Logger:      logger,
	})

	// Load the latest trained models if any exist; the engine degrades
	// to rule-plus-abstention scoring until a model set is available.
	if err := eng.ReloadModels(ctx); err != nil {
		if errors.Is(err, domain.ErrNotFitted) {
			slog.Warn("no trained models found - scoring with rules only until POST /retrain")
		} else {
			slog.Error("failed to load models", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("models loaded", "version", eng.ModelVersion())
	}

	// Async worker
	var asyncWorker *worker.Worker
	if os.Getenv("SENTINEL_ASYNC_WORKER") != "false" {
		asyncWorker = worker.NewWorker(busImpl, repo, eng, velocitySvc)
		if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.Engine.Workers}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// HTTP server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, eng, ruleEngine, collector, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("sentinel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first so in-flight scores finish
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("sentinel shutdown complete")
}

func newLogHandler(cfg domain.LoggingConfig) slog.Handler {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
}

// loadRulesFromDatabase loads custom rules from the database into the engine.
// All rules must be configured via POST /rules API - no hardcoded defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, ruleEngine *rules.Engine) error {
	dbRules, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return ruleEngine.LoadRules(dbRules)
	}

	slog.Info("no custom rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               SENTINEL                    ║")
	fmt.Println("  ║     Ensemble Fraud Scoring Engine         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /detect                    - Score a transaction")
	fmt.Println("    GET  /alerts                    - List fraud alerts")
	fmt.Println("    GET  /alerts/{id}               - Get verdict by ID")
	fmt.Println("    GET  /transactions/{id}         - Get transaction by ID")
	fmt.Println("    POST /feedback                  - Record analyst feedback")
	fmt.Println("    GET  /feedback/transaction/{id} - List feedback for a transaction")
	fmt.Println("    POST /retrain                   - Train models on a labeled corpus")
	fmt.Println("    POST /models/reload             - Load latest persisted models")
	fmt.Println("    GET  /stats                     - Engine performance statistics")
	fmt.Println("    GET  /rules                     - List custom rules")
	fmt.Println("    POST /rules                     - Create a custom rule")
	fmt.Println("    POST /rules/reload              - Hot-reload rules from database")
	fmt.Println("    GET  /metrics                   - Prometheus metrics")
	fmt.Println("    GET  /health                    - Health check")
	fmt.Println()
}
