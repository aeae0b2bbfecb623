package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/AlphaDataOmega/SurvAI-sub003/internal/config"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/database"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/geo"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/httpserver"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/metrics"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/middleware"
	"github.com/AlphaDataOmega/SurvAI-sub003/internal/storage"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Can't use logger yet, fall back to panic
		panic("failed to load config: " + err.Error())
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting tracking service",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL is optional in development: without it the server runs on
	// in-memory stores and loses state on restart.
	var db *database.PostgresDB
	if pg, err := database.NewPostgresDB(ctx, cfg.Database, logger); err != nil {
		if cfg.IsProduction() {
			logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
		}
		logger.Warn("PostgreSQL unavailable, using in-memory stores", zap.Error(err))
	} else {
		db = pg
		defer db.Close()
	}

	var rdb *database.RedisDB
	if r, err := database.NewRedisDB(ctx, cfg.Redis, logger); err != nil {
		logger.Warn("Redis unavailable, offer metric hints disabled", zap.Error(err))
	} else {
		rdb = r
		defer rdb.Close()
	}

	var sink storage.EventSink
	if cfg.ClickHouse.Enabled {
		if ch, err := storage.NewClickHouseEventSink(cfg.ClickHouse.DSN); err != nil {
			logger.Warn("ClickHouse unavailable, event mirror disabled", zap.Error(err))
		} else {
			sink = ch
			defer ch.Close()
		}
	}

	var geoProvider *geo.Provider
	if cfg.Geo.Enabled {
		if p, err := geo.NewProvider(cfg.Geo.DatabasePath); err != nil {
			logger.Warn("failed to open GeoIP database, geo enrichment disabled", zap.Error(err))
		} else {
			geoProvider = p
			defer geoProvider.Close()
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("survai_tracker")
	}

	deps := &httpserver.Dependencies{
		DB:      db,
		Redis:   rdb,
		Sink:    sink,
		Geo:     geoProvider,
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
	}

	handler := httpserver.NewServer(deps)

	// Middleware chain, outermost first:
	// Recovery -> Logging -> RateLimit -> Auth -> Handler
	recoveryMW := middleware.NewRecoveryMiddleware(logger)
	loggingMW := middleware.NewLoggingMiddleware(logger, m)
	rateLimitMW := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	rateLimitMW.SetMetrics(m)
	authMW := middleware.NewAuthMiddleware(cfg.Auth, logger)

	finalHandler := recoveryMW.Handler(
		loggingMW.Handler(
			rateLimitMW.Handler(
				authMW.Handler(handler),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rateLimitMW.CleanupIPLimiters()
			case <-ctx.Done():
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
