// RiskForge - Real-time hybrid fraud risk evaluation.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/riskforge/riskforge/internal/api"
	"github.com/riskforge/riskforge/internal/cache"
	"github.com/riskforge/riskforge/internal/decision"
	"github.com/riskforge/riskforge/internal/domain"
	"github.com/riskforge/riskforge/internal/features"
	"github.com/riskforge/riskforge/internal/outcome"
	"github.com/riskforge/riskforge/internal/queue"
	"github.com/riskforge/riskforge/internal/repository"
	"github.com/riskforge/riskforge/internal/rules"
	"github.com/riskforge/riskforge/internal/scorer"
	"github.com/riskforge/riskforge/internal/velocity"
	"github.com/riskforge/riskforge/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("RISKFORGE_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting riskforge",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("RISKFORGE_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"queue", cfg.Queue.Type,
		"model_path", cfg.Scoring.ModelPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Load the model first: without a valid artifact the service must not
	// accept work (fail-closed).
	sc, err := scorer.Load(cfg.Scoring.ModelPath)
	if err != nil {
		slog.Error("failed to load model artifact", "path", cfg.Scoring.ModelPath, "error", err)
		os.Exit(1)
	}
	slog.Info("model loaded", "version", sc.Version(), "features", len(sc.Features()))

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize Queue
	queueImpl, err := queue.New(cfg.Queue)
	if err != nil {
		slog.Error("failed to initialize queue", "error", err)
		os.Exit(1)
	}
	defer queueImpl.Close()
	slog.Info("queue initialized", "type", cfg.Queue.Type)

	// Initialize Velocity Service
	velocitySvc := velocity.NewService(repo, cacheImpl, cfg.Pipeline.VelocityWindow)

	// Initialize Rule Engine
	engine, err := rules.NewEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRules(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize decision combiner
	combiner, err := decision.NewCombiner(cfg.Scoring)
	if err != nil {
		slog.Error("invalid scoring configuration", "error", err)
		os.Exit(1)
	}

	extractor := features.NewExtractor(repo, velocitySvc)
	writer := outcome.NewWriter(repo, cacheImpl, cfg.Pipeline.ViewCacheTTL)

	// Start the evaluation worker
	evalWorker := worker.NewWorker(queueImpl, repo, extractor, engine, sc, combiner, writer, worker.Config{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Backoff:     cfg.Pipeline.RetryBackoff,
	})
	if err := evalWorker.Start(ctx); err != nil {
		slog.Error("failed to start evaluation worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, queueImpl, engine, velocitySvc, Version, cfg.Pipeline.ViewCacheTTL)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("riskforge is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker first so in-flight evaluations finish
	if err := evalWorker.Stop(); err != nil {
		slog.Error("failed to stop evaluation worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("riskforge shutdown complete")
}

// loadRules loads the persisted rule set into the engine, seeding the
// built-in defaults on first start.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	configs, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	if len(configs) == 0 {
		slog.Info("no rules configured, seeding defaults")
		configs = rules.DefaultRules()
		for _, cfg := range configs {
			if err := repo.SaveRuleConfig(ctx, cfg); err != nil {
				return fmt.Errorf("failed to seed rule %s: %w", cfg.ID, err)
			}
		}
	}

	return engine.LoadRules(configs)
}

// applyEnvOverrides lets individual settings be tuned without a full
// config file. Only the knobs that differ across deployments are exposed.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("RISKFORGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RISKFORGE_MODEL_PATH"); v != "" {
		cfg.Scoring.ModelPath = v
	}
	if v := os.Getenv("RISKFORGE_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("RISKFORGE_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("RISKFORGE_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("RISKFORGE_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("RISKFORGE_NATS_URL"); v != "" {
		cfg.Queue.NATSUrl = v
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  RiskForge - hybrid fraud risk evaluation")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions          - Submit a transaction for evaluation")
	fmt.Println("    GET  /transactions/{id}     - Get transaction with risk outcome")
	fmt.Println("    GET  /alerts                - List unresolved alerts")
	fmt.Println("    POST /alerts/{id}/resolve   - Resolve an alert")
	fmt.Println("    GET  /rules                 - List loaded rules")
	fmt.Println("    POST /rules                 - Create or update a rule")
	fmt.Println("    POST /rules/reload          - Hot-reload rules from database")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
