package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/KudcraftsHQ/mediacache/internal/api"
	"github.com/KudcraftsHQ/mediacache/internal/asset"
	"github.com/KudcraftsHQ/mediacache/internal/config"
	"github.com/KudcraftsHQ/mediacache/internal/ingest"
	"github.com/KudcraftsHQ/mediacache/internal/notify"
	"github.com/KudcraftsHQ/mediacache/internal/pipeline"
	"github.com/KudcraftsHQ/mediacache/internal/resolver"
	"github.com/KudcraftsHQ/mediacache/internal/storage"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	cfg := config.Load()

	if !cfg.HasR2() {
		logger.Fatal().Msg("R2 credentials missing")
	}

	store, err := asset.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open asset store")
	}
	defer store.Close()
	logger.Info().Str("path", cfg.SQLitePath).Msg("asset store ready")

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBootstrap()

	r2, err := storage.NewR2Client(bootstrapCtx, storage.R2Config{
		Endpoint:     cfg.R2Endpoint,
		Region:       cfg.R2Region,
		Bucket:       cfg.R2Bucket,
		AccessKey:    cfg.R2AccessKey,
		SecretKey:    cfg.R2SecretKey,
		PublicDomain: cfg.ImageDomain,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init r2 client")
	}

	var notifier pipeline.Notifier
	if cfg.HasTelegram() {
		tg, err := notify.NewTelegram(cfg.BotToken, cfg.OperatorChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("init telegram notifier")
		}
		notifier = tg
	} else {
		logger.Warn().Msg("BOT_TOKEN/OPERATOR_CHAT_ID missing, operator notifications disabled")
	}

	worker := pipeline.NewWorker(store, r2, pipeline.Options{
		Workers:      cfg.WorkerCount,
		FetchTimeout: cfg.FetchTimeout,
		Notifier:     notifier,
	}, logger)

	gate := ingest.NewGate(store, r2, cfg.PhashThreshold, logger)

	res, err := resolver.New(store, r2, cfg.SignTTL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init resolver")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go worker.Run(ctx)

	server := api.NewServer(worker, gate, res, logger)
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: server.Handler()}
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}
