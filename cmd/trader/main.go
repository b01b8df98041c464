package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/greyfin/pumptrader/internal/apiserver"
	"github.com/greyfin/pumptrader/internal/config"
	"github.com/greyfin/pumptrader/internal/journal"
	"github.com/greyfin/pumptrader/internal/logging"
	"github.com/greyfin/pumptrader/internal/trader"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadTraderConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, closeLogger, err := logging.New("trader", cfg.Log)
	if err != nil {
		bootstrapLogger.Error("failed to initialize logger", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jrnl, err := journal.Open(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("failed to open trade journal", "err", err)
		os.Exit(1)
	}

	engine, err := trader.New(cfg, jrnl, logger)
	if err != nil {
		logger.Error("failed to initialize trading engine", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := engine.Close(); closeErr != nil {
			logger.Error("failed to close trading engine", "err", closeErr)
		}
	}()

	svc := apiserver.New(cfg, engine, jrnl, logger)
	if err := svc.Run(ctx); err != nil {
		logger.Error("trader exited with error", "err", err)
		os.Exit(1)
	}
}
