package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"renderstudio/internal/artifacts"
	"renderstudio/internal/events"
	"renderstudio/internal/http/handlers"
	httpapi "renderstudio/internal/http/httpapi"
	"renderstudio/internal/infra"
	"renderstudio/internal/infra/credentials"
	"renderstudio/internal/jobs"
	"renderstudio/internal/ledger"
	"renderstudio/internal/lock"
	"renderstudio/internal/providers/engine"
	"renderstudio/internal/renderer"
	"renderstudio/internal/storage"
)

const (
	engineProbeTimeout  = 10 * time.Second
	engineWatchInterval = 30 * time.Second
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "renderer")
	cfg.LogSummary(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files, err := storage.NewFileStore(cfg.OutputsDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("renderer: failed to configure outputs root")
	}
	records := jobs.NewRecordStore(files)

	var (
		pool     *pgxpool.Pool
		runner   *infra.SQLRunner
		recorder ledger.Recorder = ledger.Nop{}
	)
	if cfg.DatabaseURL != "" {
		pool, err = infra.NewDBPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("renderer: db connection failed")
		}
		defer pool.Close()
		runner = infra.NewSQLRunner(pool, logger)
		l := ledger.New(runner)
		if err := l.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("renderer: ledger schema failed")
		}
		recorder = l
	}

	caps := renderer.RuntimeCapabilities{RealEnabled: cfg.RunRealEngine}
	if cfg.RunRealEngine {
		apiKey := cfg.EngineAPIKey
		if apiKey == "" && runner != nil {
			store := credentials.NewStore(runner)
			if err := store.EnsureSchema(ctx); err != nil {
				logger.Warn().Err(err).Msg("renderer: credentials schema failed")
			} else if apiKey, err = store.EngineAPIKey(ctx, cfg.EngineName); err != nil {
				logger.Warn().Err(err).Msg("renderer: failed to load engine api key from store")
			}
		}
		eng, err := engine.NewHTTPEngine(engine.HTTPOptions{
			Name:       cfg.EngineName,
			BaseURL:    cfg.EngineBaseURL,
			APIKey:     apiKey,
			HTTPClient: &http.Client{Timeout: cfg.EngineTimeout()},
			Logger:     logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("renderer: failed to configure engine")
		}
		probeCtx, cancel := context.WithTimeout(ctx, engineProbeTimeout)
		if err := eng.Probe(probeCtx); err != nil {
			logger.Warn().Err(err).Str("engine", eng.Name()).Msg("renderer: engine not ready, serving skeleton until it is")
		}
		cancel()
		go eng.Watch(ctx, engineWatchInterval)
		caps.Engine = eng
	}

	var locker lock.Locker
	if cfg.RedisAddr != "" {
		redisLocker, err := lock.NewRedisLocker(ctx, lock.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.EngineTimeout() + time.Minute,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("renderer: redis lock unavailable")
		}
		defer redisLocker.Close()
		locker = redisLocker
	}

	var mirror artifacts.Mirror
	if cfg.ArtifactEndpoint != "" {
		s3, err := artifacts.NewS3Mirror(artifacts.S3Config{
			Endpoint:  cfg.ArtifactEndpoint,
			AccessKey: cfg.ArtifactAccessKey,
			SecretKey: cfg.ArtifactSecretKey,
			Bucket:    cfg.ArtifactBucket,
			UseSSL:    cfg.ArtifactUseSSL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("renderer: failed to configure artifact mirror")
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Str("bucket", s3.Bucket()).Msg("renderer: artifact bucket check failed")
		}
		mirror = s3
	}

	hub := events.NewHub(logger)
	go hub.Run(ctx)

	handler, err := renderer.NewHandler(renderer.Options{
		Records:       records,
		Capabilities:  caps,
		EngineTimeout: cfg.EngineTimeout(),
		Locker:        locker,
		Mirror:        mirror,
		Publisher:     hub,
		Ledger:        recorder,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("renderer: failed to build handler")
	}

	router := httpapi.NewRendererRouter(handlers.NewRenderer(handler, logger), hub, logger)
	server := infra.NewHTTPServer(cfg, cfg.RendererPort, router)
	go func() {
		snap := caps.Snapshot()
		logger.Info().
			Str("addr", server.Addr()).
			Str("outputs", files.BasePath()).
			Str("engine", snap.Engine).
			Str("mode", snap.Mode).
			Msg("renderer: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("renderer: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("renderer: failed to shutdown server")
	}
	logger.Info().Msg("renderer: stopped")
}
