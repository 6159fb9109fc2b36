// Command api runs the investigation HTTP API: the orchestration core, its
// REST surface and the websocket push endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fraudlens/investigation-backend/internal/api/rest"
	"github.com/fraudlens/investigation-backend/internal/api/websocket"
	"github.com/fraudlens/investigation-backend/internal/infrastructure/cache"
	"github.com/fraudlens/investigation-backend/internal/infrastructure/config"
	"github.com/fraudlens/investigation-backend/internal/infrastructure/database"
	"github.com/fraudlens/investigation-backend/internal/infrastructure/events"
	"github.com/fraudlens/investigation-backend/internal/infrastructure/repository"
	"github.com/fraudlens/investigation-backend/internal/infrastructure/signals"
	"github.com/fraudlens/investigation-backend/internal/infrastructure/telemetry"
	"github.com/fraudlens/investigation-backend/internal/service/agents"
	"github.com/fraudlens/investigation-backend/internal/service/orchestrator"
)

const poolSampleInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := telemetry.SetupLogger(cfg.LogLevel)
	zlog, err := newZapLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zlog.Sync()

	provider, err := telemetry.Initialize(ctx, &telemetry.Config{
		ServiceName:    "fraudlens-api",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  cfg.Telemetry.ExportTimeout,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	var (
		store repository.Store
		pool  *pgxpool.Pool
	)
	if cfg.Database.URL != "" {
		pool, err = database.NewPool(ctx, &cfg.Database, zlog)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		store = repository.NewPostgresStore(pool, zlog)
	} else {
		logger.Warn("no database configured, using in-memory store")
		store = repository.NewMemoryStore()
	}

	bus := events.NewBus(zlog)

	if cfg.Redis.Enabled {
		snapshots, err := cache.NewSnapshotCache(&cfg.Redis, zlog)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer snapshots.Close()
		bus.AttachSink(snapshots)
	}

	source, err := signals.NewHTTPSource(&cfg.Signals, zlog)
	if err != nil {
		return fmt.Errorf("configure signal source: %w", err)
	}

	orch := orchestrator.NewService(store, agents.NewRegistry(source), bus, zlog, orchestrator.Config{
		MaxConcurrentAgents:   cfg.Orchestrator.MaxConcurrentAgents,
		AgentAcquireTimeout:   cfg.Orchestrator.AgentAcquireTimeout,
		InvestigationTimeout:  cfg.Orchestrator.InvestigationTimeout,
		ProgressFlushInterval: cfg.Orchestrator.ProgressFlushInterval,
		CASMaxRetries:         cfg.Orchestrator.CASMaxRetries,
	})

	hub := websocket.NewHub(bus, zlog)
	defer hub.Close()
	wsHandler := websocket.NewHandler(hub, orch, zlog)

	handler := rest.NewHandler(orch, logger, int(cfg.Polling.Interval.Seconds()))
	srv := rest.NewServer(&cfg.Server, handler, wsHandler, logger, instrumentHandler)

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux(),
	}
	go func() {
		logger.Info("starting metrics server", "address", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	if pool != nil {
		go samplePoolMetrics(pool, poolSampleInterval, ctx.Done())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown failed", "error", err)
	}
	if err := srv.Shutdown(); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", "error", err)
	}

	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler())
	return mux
}

func newZapLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
