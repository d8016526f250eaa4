package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/database"
	"github.com/arbfund/poolpilot/internal/exchange"
	"github.com/arbfund/poolpilot/internal/logging"
	"github.com/arbfund/poolpilot/internal/services"
)

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment)

	logger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"dry_run":     cfg.Trading.DryRun,
		"pairs":       len(cfg.Trading.Pairs),
		"exchanges":   len(cfg.Trading.Exchanges),
	}).Info("Starting arbitrage agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Collaborator adapters. Dry runs use the deterministic in-memory fake so
	// the full pipeline can be exercised without a gateway.
	var (
		market   exchange.MarketDataSource
		executor exchange.OrderExecutor
		poolSrc  exchange.PoolStateSource
		textGen  exchange.TextGenerator
	)
	if cfg.Trading.DryRun {
		fake := exchange.NewFake()
		market, executor, poolSrc, textGen = fake, fake, fake, fake
		logger.Warn("Dry run enabled, using in-memory exchange fake")
	} else {
		client := exchange.NewClient(cfg, logger)
		market, executor, poolSrc = client, client, client
	}

	// Optional infrastructure. The agent runs degraded without any of it.
	var redisClient *database.RedisClient
	if cfg.Redis.Enabled {
		redisClient, err = database.NewRedisConnection(cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without cache")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var outcomes services.OutcomeStore
	if cfg.Database.DatabaseURL != "" {
		db, err := database.NewPostgresConnection(ctx, cfg.Database)
		if err != nil {
			logger.WithError(err).Warn("PostgreSQL unavailable, continuing without outcome history")
		} else {
			defer db.Close()
			repo := database.NewOutcomeRepository(db.Pool, logger)
			if err := repo.EnsureSchema(ctx); err != nil {
				logger.WithError(err).Warn("Outcome schema setup failed")
			} else {
				outcomes = repo
			}
		}
	}

	var notifier services.Notifier
	if cfg.Telegram.BotToken != "" {
		tg, err := services.NewTelegramNotifier(cfg, logger)
		if err != nil {
			logger.WithError(err).Warn("Telegram unavailable, continuing without notifications")
		} else {
			notifier = tg
		}
	}

	controller := services.NewController(cfg, services.ControllerDeps{
		Pool:       services.NewPoolContext(cfg, poolSrc, redisClient, logger),
		Market:     market,
		Detector:   services.NewOpportunityDetector(cfg, logger),
		Strategist: services.NewStrategyGenerator(cfg, textGen, outcomes, logger),
		Risk:       services.NewRiskAssessor(cfg, logger),
		Optimizer:  services.NewExecutionOptimizer(cfg, market, executor, logger),
		Reflector:  services.NewReflectionEngine(cfg, outcomes, logger),
		Notifier:   notifier,
		Cache:      redisClient,
	}, logger)

	done := make(chan struct{})
	go func() {
		controller.RunContinuous(ctx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received, finishing current cycle")
	controller.Stop()
	cancel()
	<-done

	logger.Info("Agent stopped")
}
