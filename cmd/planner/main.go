package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"renderstudio/internal/dispatch"
	"renderstudio/internal/events"
	"renderstudio/internal/http/handlers"
	httpapi "renderstudio/internal/http/httpapi"
	"renderstudio/internal/infra"
	"renderstudio/internal/jobs"
	"renderstudio/internal/ledger"
	"renderstudio/internal/planner"
	"renderstudio/internal/presets"
	"renderstudio/internal/safety"
	"renderstudio/internal/storage"
)

const maxRedispatchBackoff = 30 * time.Second

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "planner")
	cfg.LogSummary(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files, err := storage.NewFileStore(cfg.OutputsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("planner: failed to configure outputs root")
	}
	records := jobs.NewRecordStore(files)

	registry, err := presets.Load(cfg.PresetsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("planner: failed to load presets")
	}

	client, err := dispatch.NewClient(dispatch.Options{
		BaseURL: cfg.RendererURL,
		Timeout: cfg.DispatchTimeout(),
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("planner: failed to configure dispatch client")
	}

	hub := events.NewHub(logger)
	go hub.Run(ctx)

	var (
		recorder ledger.Recorder = ledger.Nop{}
		reader   handlers.LedgerReader
	)
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("planner: db connection failed")
		}
		defer pool.Close()
		l := ledger.New(infra.NewSQLRunner(pool, logger))
		if err := l.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("planner: ledger schema failed")
		}
		recorder, reader = l, l
	} else {
		logger.Info().Msg("planner: DATABASE_URL not set, dispatch ledger disabled")
	}

	orch, err := planner.NewOrchestrator(planner.Options{
		Allocator:  jobs.NewAllocator(files),
		Records:    records,
		Dispatcher: client,
		Screen:     safety.NewScreen(nil),
		Presets:    registry,
		Ledger:     recorder,
		Publisher:  hub,
		Retry: planner.RetryPolicy{
			MaxAttempts: cfg.RedispatchAttempts,
			Backoff:     planner.ExponentialBackoff{Initial: cfg.RedispatchBackoff(), Max: maxRedispatchBackoff},
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("planner: failed to build orchestrator")
	}

	api := handlers.NewPlanner(handlers.PlannerDeps{
		Orchestrator: orch,
		Query:        jobs.NewQueryService(records, logger),
		Presets:      registry,
		Ledger:       reader,
		Logger:       logger,
	})
	router := httpapi.NewPlannerRouter(httpapi.PlannerRoutes{
		API:            api,
		Events:         hub,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		SubmitLimit:    cfg.SubmitRateLimit,
	}, logger)

	server := infra.NewHTTPServer(cfg, cfg.PlannerPort, router)
	go func() {
		logger.Info().Str("addr", server.Addr()).Str("outputs", files.BasePath()).Msg("planner: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("planner: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("planner: failed to shutdown server")
	}
	logger.Info().Msg("planner: stopped")
}
