package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/joho/godotenv"

	"photomotion/internal/generate"
	"photomotion/internal/i18n"
	"photomotion/internal/infra"
	"photomotion/internal/ledger"
	"photomotion/internal/mediascan"
	"photomotion/internal/observability"
	"photomotion/internal/ops"
	"photomotion/internal/phase"
	"photomotion/internal/providers/comfy"
	"photomotion/internal/stats"
	"photomotion/internal/storage"
	"photomotion/internal/telegram"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	statsStore, err := stats.Load(cfg.StatsPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load processing stats")
	}
	registry := phase.NewRegistry()
	metrics := observability.MustNew(nil)

	backend, err := comfy.NewClient(comfy.Options{
		BaseURL:   cfg.ComfyBaseURL,
		Workflow:  cfg.ComfyWorkflow,
		WSBaseURL: cfg.ComfyWSURL,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build comfy client")
	}

	// Ledger backend: Postgres when DATABASE_URL is set, a JSON file otherwise.
	var accounts ledger.Store
	if cfg.DatabaseURL != "" {
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()

		pg := ledger.NewPostgres(dbpool, cfg.InitialGrant, logger)
		if err := pg.Init(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to init ledger schema")
		}
		accounts = pg
	} else {
		fileLedger, err := ledger.OpenFile(cfg.LedgerPath, cfg.InitialGrant, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open ledger file")
		}
		accounts = fileLedger
	}

	svc, err := generate.New(generate.Options{
		Backend:  backend,
		Scanner:  mediascan.New(logger),
		Registry: registry,
		Stats:    statsStore,
		Metrics:  metrics,
		Logger:   logger,
		Timeout:  cfg.RequestTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build generation service")
	}

	var archive telegram.Archiver
	if cfg.ArchiveDir != "" {
		store, err := storage.NewFileStore(cfg.ArchiveDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open video archive")
		}
		archive = store
		logger.Info().Str("dir", store.BasePath()).Msg("video archive enabled")
	}

	handlers, err := telegram.New(telegram.Options{
		Service:   svc,
		Stats:     statsStore,
		Ledger:    accounts,
		Bundle:    i18n.NewBundle(),
		Archive:   archive,
		AdminID:   cfg.AdminID,
		VideoCost: cfg.VideoCost,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build telegram handlers")
	}

	b, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(handlers.Route))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect telegram")
	}

	opsServer := infra.NewHTTPServer(cfg, ops.NewRouter(ops.Options{
		Stats:    statsStore,
		Registry: registry,
		Ledger:   accounts,
		Logger:   logger,
	}))
	go func() {
		logger.Info().Str("addr", cfg.OpsAddr).Msg("ops server listening")
		if err := opsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("ops server failed")
		}
	}()

	logger.Info().Str("env", cfg.AppEnv).Msg("bot polling for updates")
	b.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown ops server")
	}
	logger.Info().Msg("bot stopped")
}
