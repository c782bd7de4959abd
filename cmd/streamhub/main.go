package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	shnats "github.com/clipforge/streamhub/internal/adapter/nats"
	shotel "github.com/clipforge/streamhub/internal/adapter/otel"
	"github.com/clipforge/streamhub/internal/adapter/ristretto"
	"github.com/clipforge/streamhub/internal/adapter/sse"
	"github.com/clipforge/streamhub/internal/config"
	"github.com/clipforge/streamhub/internal/logger"
	"github.com/clipforge/streamhub/internal/middleware"
	"github.com/clipforge/streamhub/internal/stream"
)

func main() {
	fallback := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(fallback)

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_connections", cfg.Stream.MaxConnections,
		"nats", cfg.NATS.URL != "",
	)

	ctx := context.Background()

	// --- Infrastructure ---

	// OpenTelemetry (no-op when no endpoint is configured)
	otelShutdown, err := shotel.Setup(ctx, cfg.Otel.Endpoint, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shutdownCtx)
	}()

	// Replay cache
	cache, err := ristretto.New(cfg.Cache.MaxSizeMB<<20, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("replay cache: %w", err)
	}
	defer cache.Close()

	metrics, err := shotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Stream manager ---
	mgr := stream.NewManager(streamConfig(cfg), log,
		stream.WithReplayCache(cache),
		stream.WithMetrics(metrics),
	)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("stream manager: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Stream.StopTimeout)
		defer cancel()
		if err := mgr.Stop(stopCtx); err != nil {
			slog.Warn("stream manager stop", "error", err)
		}
	}()

	// NATS job-event bridge (optional)
	if cfg.NATS.URL != "" {
		bridge, err := shnats.Connect(ctx, cfg.NATS.URL, log)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = bridge.Close() }()

		if err := bridge.Start(ctx, mgr); err != nil {
			return fmt.Errorf("nats consumer: %w", err)
		}
		slog.Info("nats bridge started", "url", cfg.NATS.URL)
	}

	// --- HTTP ---
	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()

	r.Use(middleware.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(chimw.Recoverer)
	r.Use(shotel.HTTPMiddleware("streamhub"))
	r.Use(limiter.Handler)

	handler := &sse.Handler{Manager: mgr, Logger: log}
	handler.Mount(r)

	addr := ":" + cfg.Server.Port

	// No WriteTimeout: /events streams for the connection's lifetime.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// streamConfig maps file/env configuration onto the manager's config.
func streamConfig(cfg *config.Config) stream.Config {
	return stream.Config{
		MaxConnections:            cfg.Stream.MaxConnections,
		MaxPerOrigin:              cfg.Stream.MaxPerOrigin,
		QueueCapacity:             cfg.Stream.QueueCapacity,
		EnqueueTimeout:            cfg.Stream.EnqueueTimeout,
		IdleTimeout:               cfg.Stream.IdleTimeout,
		SweepInterval:             cfg.Stream.SweepInterval,
		StopTimeout:               cfg.Stream.StopTimeout,
		HeartbeatInterval:         cfg.Heartbeat.Interval,
		HeartbeatFailureThreshold: cfg.Heartbeat.FailureThreshold,
		HeartbeatSkipFraction:     cfg.Heartbeat.SkipFraction,
		CompressionThreshold:      cfg.Compression.Threshold,
		CompressionLevel:          cfg.Compression.Level,
		HealthSampleInterval:      cfg.Health.SampleInterval,
		HealthWindowSize:          cfg.Health.WindowSize,
		HealthHistorySize:         cfg.Health.HistorySize,
	}
}
