package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pressroom/pkg/api"
	"pressroom/pkg/config"
	"pressroom/pkg/ledger"
	"pressroom/pkg/media"
	"pressroom/pkg/settings"
	"pressroom/pkg/telegram"
)

func main() {
	// Load configuration
	cfgPath := "configs/config.yml"
	if v := os.Getenv("PRESSROOM_CONFIG"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		zap.NewExample().Fatal("Failed to load config", zap.Error(err))
	}

	logger, err := zap.NewProduction()
	if err != nil {
		zap.NewExample().Fatal("Failed to create logger", zap.Error(err))
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.MediaDir(), 0o755); err != nil {
		logger.Fatal("Failed to create data directories", zap.Error(err))
	}

	store := settings.NewStore(cfg.SettingsPath())
	book := ledger.New(cfg.MessagesPath(), cfg.MediaDir(), cfg.Data.MaxMessages, logger)

	transcodeTimeout, err := time.ParseDuration(cfg.Media.TranscodeTimeout)
	if err != nil {
		logger.Fatal("Failed to parse transcode timeout", zap.Error(err))
	}

	pipeline := media.NewPipeline(
		media.NewRedactor(cfg.Media.BlurRadius, logger),
		media.ExecRunner{},
		cfg.Media.FFmpegBin,
		transcodeTimeout,
		logger,
	)

	tgClient := telegram.NewClient(store, cfg.SessionPath(), logger)
	auth := telegram.NewAuthenticator(tgClient, store, cfg.SessionPath(), logger)
	dispatcher := telegram.NewDispatcher(tgClient, auth, store, cfg.MediaDir(), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server := api.NewServer(cfg, store, book, pipeline, auth, dispatcher, logger)
	logger.Info("pressroom starting",
		zap.String("address", cfg.Server.Address),
		zap.String("data_dir", filepath.Clean(cfg.Data.Dir)))

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("pressroom stopped")
}
