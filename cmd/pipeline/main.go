package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/beliefforge/scout/internal/approval"
	"github.com/beliefforge/scout/internal/cache"
	"github.com/beliefforge/scout/internal/db"
	"github.com/beliefforge/scout/internal/dedup"
	"github.com/beliefforge/scout/internal/generator"
	"github.com/beliefforge/scout/internal/llm"
	"github.com/beliefforge/scout/internal/notify"
	"github.com/beliefforge/scout/internal/pipeline"
	"github.com/beliefforge/scout/internal/publish"
	"github.com/beliefforge/scout/internal/scoring"
	"github.com/beliefforge/scout/internal/signals"
	"github.com/beliefforge/scout/internal/voice"
	"github.com/beliefforge/scout/pkg/config"
	"github.com/beliefforge/scout/pkg/logging"
	"github.com/beliefforge/scout/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Starting Scout Pipeline")

	// Initialize telemetry
	telemetryShutdown, err := telemetry.Init(&cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer telemetryShutdown()

	// Initialize database
	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// Initialize Redis cache (optional)
	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisCache != nil {
		defer redisCache.Close()
	}

	repo := db.NewRepository(database.DB)
	exampleRepo := db.NewExampleRepository(repo)
	ledger := dedup.NewLedger(db.NewEngagementRepository(repo), &cfg.Dedup)
	detector := signals.NewDetector(&cfg.Commercial)
	validator := voice.NewValidator(&cfg.Voice)
	scorer := scoring.NewScorer(&cfg.Scoring)
	llmClient := llm.New(&cfg.LLM)
	gen := generator.New(llmClient, validator, exampleRepo, &cfg.Pipeline, &cfg.Voice)

	svc := approval.NewService(
		db.NewReplyItemRepository(repo),
		ledger,
		exampleRepo,
		notify.New(cfg.Approval.NotifyURL),
		publish.New(cfg.Approval.PublishURL),
		redisCache,
		detector,
		validator,
		&cfg.Approval,
	)

	source := pipeline.NewHTTPSource(cfg.Pipeline.SourceURL)
	p := pipeline.New(source, detector, scorer, gen, ledger, svc, &cfg.Pipeline)

	// Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Pipeline failed", zap.Error(err))
	}

	logger.Info("Pipeline exited")
}
