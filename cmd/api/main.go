package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geoquest/platform/internal/app"
	"github.com/geoquest/platform/internal/auth"
	"github.com/geoquest/platform/internal/engine"
	"github.com/geoquest/platform/internal/guard"
	"github.com/geoquest/platform/internal/infra"
	"github.com/geoquest/platform/internal/repository"
	"github.com/geoquest/platform/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	// Durable store
	var (
		snapshots repository.SnapshotRepository
		db        infra.Pinger
	)
	switch cfg.SnapshotBackend {
	case "postgres":
		if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		pool, err := infra.NewPostgresPool(ctx, cfg.DSN())
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		logger.Info("connected to postgres")
		snapshots = repository.NewPgSnapshotRepository(pool)
		db = pool
	default:
		snapshots = repository.NewFileSnapshotRepository(cfg.SnapshotPath)
		logger.Info("using file snapshots", "path", cfg.SnapshotPath)
	}

	// Restore state
	riders := store.New()
	state, err := repository.LoadState(ctx, snapshots, logger)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}
	riders.Restore(state)
	added, err := riders.SeedChallenges(engineCfg.Challenges)
	if err != nil {
		return fmt.Errorf("seed challenges: %w", err)
	}
	logger.Info("state restored", "riders", riders.Count(), "challenges_seeded", added)

	// Observers, metrics and event export
	hub := infra.NewWSHub(cfg.WSSendBuffer, logger)
	metrics := infra.NewMetrics(hub.ConnectionCount)

	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	exporters := []engine.Exporter{}
	var exporter *infra.EventExporter
	if producer.Enabled() {
		exporter = infra.NewEventExporter(producer, cfg.KafkaTopic, 1024, logger)
		exporter.Start(bgCtx)
		exporters = append(exporters, exporter)
	}

	// Engine
	eng := engine.New(riders, engineCfg, engine.NewDispatcher(hub, exporters...), logger).
		WithMetrics(metrics)

	snapshotter := infra.NewSnapshotter(riders, snapshots, cfg.SnapshotInterval, logger).
		WithObserver(metrics.SnapshotSaved)
	snapshotter.Start(bgCtx)

	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, cfg.RiderTokenExpiry())

	router := app.NewRouter(app.RouterDeps{
		Store:       riders,
		Engine:      eng,
		Hub:         hub,
		JWTMgr:      jwtMgr,
		Limiter:     guard.NewRateLimiter(cfg.WSRateLimit, cfg.WSRateWindow),
		Metrics:     metrics,
		DB:          db,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Logger:      logger,
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	cancelBg()
	snapshotter.Wait()
	if exporter != nil {
		exporter.Wait()
	}

	if err := snapshotter.SaveNow(shutdownCtx); err != nil {
		logger.Error("final snapshot failed", "error", err)
	} else {
		logger.Info("final snapshot saved", "riders", riders.Count())
	}

	if serveErr != nil {
		return serveErr
	}
	logger.Info("server stopped gracefully")
	return nil
}
