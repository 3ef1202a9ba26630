package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/riverqueue/river"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/linecraftx/linecraft-bot/internal/analyzer"
	"github.com/linecraftx/linecraft-bot/internal/auth"
	"github.com/linecraftx/linecraft-bot/internal/billing"
	"github.com/linecraftx/linecraft-bot/internal/bot"
	"github.com/linecraftx/linecraft-bot/internal/entitlement"
	"github.com/linecraftx/linecraft-bot/internal/queue"
	"github.com/linecraftx/linecraft-bot/internal/server"
	"github.com/linecraftx/linecraft-bot/internal/storage"
	"github.com/linecraftx/linecraft-bot/internal/tasks"
	"github.com/linecraftx/linecraft-bot/internal/telegram"
	"github.com/linecraftx/linecraft-bot/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One pgx pool backs both the job queue and the storage layer.
	pool, err := pgxpool.New(ctx, cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to create database pool", zap.Error(err))
	}
	defer pool.Close()

	if err := queue.Migrate(ctx, pool); err != nil {
		logger.Fatal("Failed to migrate queue schema", zap.Error(err))
	}

	store, err := storage.NewPostgresStorage(stdlib.OpenDBFromPool(pool))
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	// Analysis capability
	an := analyzer.NewOpenAIAnalyzer(analyzer.Options{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
	}, logger)

	// Telegram client, built once and shared
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal("Failed to create bot API", zap.Error(err))
	}
	tg := telegram.NewBotClient(api)

	// Workers and queue
	exec := tasks.NewExecutor(store, an, tg, logger)
	workers := river.NewWorkers()
	if err := tasks.RegisterWorkers(workers, exec); err != nil {
		logger.Fatal("Failed to register workers", zap.Error(err))
	}
	q, err := queue.New(pool, workers, cfg.Queue.MaxWorkers)
	if err != nil {
		logger.Fatal("Failed to create queue", zap.Error(err))
	}

	// Shared entitlement gate and billing
	gate := entitlement.NewGate(store, entitlement.Limits{
		TokenWindow:      time.Duration(cfg.Quota.TokenWindowDays) * 24 * time.Hour,
		TokenWindowLimit: cfg.Quota.TokenWindowLimit,
	})
	bill := billing.NewService(store, billing.Config{
		SecretKey:         cfg.Billing.StripeSecretKey,
		WebhookSecret:     cfg.Billing.StripeWebhookSecret,
		PriceID:           cfg.Billing.SubscriptionPriceID,
		SubscriptionQuota: cfg.Billing.SubscriptionQuota,
		ReturnBaseURL:     cfg.Server.BaseURL,
	}, logger)
	tokens := auth.NewTokenIssuer(cfg.Server.SecretKey, 15*time.Minute)

	b := bot.New(api, bot.Deps{
		Client:  tg,
		Storage: store,
		Gate:    gate,
		Queue:   q,
		Tokens:  tokens,
		Billing: bill,
		Logger:  logger,
	}, cfg.Quota.FreeMessages, cfg.Server.BaseURL)

	srv := server.New(store, gate, an, bill, tokens, logger)

	if err := q.Start(ctx); err != nil {
		logger.Fatal("Failed to start queue", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Start(gctx) })
	g.Go(func() error { return srv.Run(gctx, cfg.Server.Addr) })
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return q.Stop(stopCtx)
	})

	logger.Info("Started",
		zap.String("addr", cfg.Server.Addr),
		zap.Int("max_workers", cfg.Queue.MaxWorkers))

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Fatal("Shutting down with error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
