package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"

	taskpoolroot "github.com/taskpool/taskpool"
	"github.com/taskpool/taskpool/internal/config"
	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/notify"
	"github.com/taskpool/taskpool/internal/repository"
	"github.com/taskpool/taskpool/internal/repository/postgres"
	"github.com/taskpool/taskpool/internal/service"
	"github.com/taskpool/taskpool/internal/verify"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := repository.NewPool(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Run migrations
	migrationsFS, err := fs.Sub(taskpoolroot.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("failed to load embedded migrations", "error", err)
		os.Exit(1)
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	store := postgres.New(pool)

	// Telegram is optional: without a token the engine runs with log-only
	// notifications and link checks only.
	var tgBot *bot.Bot
	if cfg.BotToken != "" {
		tgBot, err = bot.New(cfg.BotToken)
		if err != nil {
			slog.Error("failed to create telegram client", "error", err)
			os.Exit(1)
		}
	}

	var notifier service.Notifier = notify.NewLog()
	if tgBot != nil {
		notifier = notify.NewTelegram(tgBot, cfg)
	}

	verifier := verify.NewRouter()
	verifier.Register(domain.CheckTypeLink, verify.NewLinkCheck())
	if tgBot != nil {
		verifier.Register(domain.CheckTypeMembership, verify.NewMembershipCheck(tgBot, store))
	}

	// Initialize services
	clock := service.SystemClock
	accounts := service.NewBillingLedger()
	authorizer := service.NewAuthorizer(store, cfg)
	taskService := service.NewTaskService(store, accounts, notifier, authorizer, clock, cfg)
	executionService := service.NewExecutionService(store, taskService, accounts, verifier, notifier, authorizer, clock)
	verifier.SetSink(executionService)

	sweeper := service.NewSweeper(store, taskService, executionService, clock, cfg)

	slog.Info("escrow engine started", "sweep_interval", cfg.SweepInterval, "review_timeout", cfg.ReviewTimeout)
	sweeper.Run(ctx)

	slog.Info("escrow engine stopped gracefully")
}
