package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/beliefforge/scout/internal/api"
	"github.com/beliefforge/scout/internal/approval"
	"github.com/beliefforge/scout/internal/cache"
	"github.com/beliefforge/scout/internal/db"
	"github.com/beliefforge/scout/internal/dedup"
	"github.com/beliefforge/scout/internal/llm"
	"github.com/beliefforge/scout/internal/notify"
	"github.com/beliefforge/scout/internal/publish"
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
	logger.Info("Starting Scout Decision API Server")

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
	ledger := dedup.NewLedger(db.NewEngagementRepository(repo), &cfg.Dedup)
	llmClient := llm.New(&cfg.LLM)

	svc := approval.NewService(
		db.NewReplyItemRepository(repo),
		ledger,
		db.NewExampleRepository(repo),
		notify.New(cfg.Approval.NotifyURL),
		publish.New(cfg.Approval.PublishURL),
		redisCache,
		signals.NewDetector(&cfg.Commercial),
		voice.NewValidator(&cfg.Voice),
		&cfg.Approval,
	)

	// Create Gin router
	if cfg.Logging.Level == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	router := api.NewRouter(svc, llmClient, database, redisCache)
	router.SetupRoutes(engine)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
