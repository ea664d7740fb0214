// Package main is the entry point for the analytics API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/vantage/internal/analytics"
	"github.com/onnwee/vantage/internal/api"
	"github.com/onnwee/vantage/internal/config"
	"github.com/onnwee/vantage/internal/health"
	"github.com/onnwee/vantage/internal/middleware"
	"github.com/onnwee/vantage/internal/retention"
	"github.com/onnwee/vantage/internal/simulator"
	"github.com/onnwee/vantage/internal/stream"
	"github.com/onnwee/vantage/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configFile := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *help {
		fmt.Println("Vantage Analytics API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// Load .env if present; real env vars still win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			slog.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	// Metrics registry with process and Go runtime collectors.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("failed to register http metrics", "error", err)
		os.Exit(1)
	}
	snapshotMetrics := analytics.NewMetrics()
	if err := snapshotMetrics.Register(registry); err != nil {
		logger.Error("failed to register snapshot metrics", "error", err)
		os.Exit(1)
	}
	streamMetrics := stream.NewMetrics()
	if err := streamMetrics.Register(registry); err != nil {
		logger.Error("failed to register stream metrics", "error", err)
		os.Exit(1)
	}
	retentionMetrics := retention.NewMetrics()
	if err := retentionMetrics.Register(registry); err != nil {
		logger.Error("failed to register retention metrics", "error", err)
		os.Exit(1)
	}

	// Tracing.
	tracingProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "vantage-api",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplingRate: cfg.TracingSampling,
		InsecureMode: cfg.IsDevelopment(),
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Event store: Postgres when DATABASE_URL is set, in-memory otherwise.
	var store analytics.Store
	var dbChecker api.HealthChecker
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pgStore := analytics.NewPostgresStore(db, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			cancel()
			logger.Error("failed to ensure database schema", "error", err)
			os.Exit(1)
		}
		cancel()

		store = pgStore
		dbChecker = health.NewDBChecker(db)
		logger.Info("using postgres event store")
	} else {
		store = analytics.NewMemoryStore()
		logger.Info("using in-memory event store")
	}

	aggregator := analytics.NewAggregator(store, analytics.WithMetrics(snapshotMetrics))

	sweeper := retention.NewSweeper(store, logger, retention.Config{
		Horizon: config.RetentionHorizon,
		Metrics: retentionMetrics,
	})

	broadcaster := stream.NewSnapshotBroadcaster(aggregator, logger, stream.BroadcasterConfig{
		Interval: config.SnapshotPushInterval,
		Metrics:  streamMetrics,
	})

	// Background tasks.
	rootCtx, stopTasks := context.WithCancel(context.Background())
	defer stopTasks()

	broadcaster.Start(rootCtx)

	// In development the simulator drives sweeps inline; the standalone
	// loop only runs in production where the simulator is off.
	sweeperRunning := false
	if !cfg.IsDevelopment() {
		sweeper.Start(rootCtx)
		sweeperRunning = true
	}

	var sim *simulator.Simulator
	if cfg.IsDevelopment() {
		simMetrics := simulator.NewMetrics()
		if err := simMetrics.Register(registry); err != nil {
			logger.Error("failed to register simulator metrics", "error", err)
			os.Exit(1)
		}
		sim = simulator.New(store, logger, simulator.Config{
			Interval: config.SimulatorTickInterval,
			Sweep:    sweeper.Sweep,
			Metrics:  simMetrics,
		})
		sim.Start(rootCtx)
		logger.Info("activity simulator enabled", "env", cfg.Env)
	}

	// Handlers and routes.
	streamHandlers := api.NewStreamHandlers(aggregator, logger, api.StreamHandlersConfig{
		Interval: config.SnapshotPushInterval,
		Metrics:  streamMetrics,
	})
	snapshotHandlers := api.NewSnapshotHandlers(aggregator, logger)
	wsHandlers := api.NewWebSocketHandlers(broadcaster, logger)
	healthHandlers := api.NewHealthHandlers(dbChecker)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/sse", streamHandlers.Events)
	mux.HandleFunc("/api/snapshot", snapshotHandlers.Snapshot)
	mux.HandleFunc("/api/ws", wsHandlers.Subscribe)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", api.Index)

	// Logging must stay innermost so handlers can reach its response
	// writer for error-code propagation.
	var handler http.Handler = middleware.Logging(logger)(mux)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	if cfg.TracingEnabled {
		handler = middleware.Tracing("vantage-api")(handler)
	}
	handler = middleware.RequestID(handler)

	server := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Port),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No write timeout: the SSE and WebSocket endpoints hold
		// connections open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Stop background producers before the HTTP listener so no writes
	// race the store teardown.
	if sim != nil {
		sim.Stop()
	}
	broadcaster.Stop()
	if sweeperRunning {
		sweeper.Stop()
	}
	stopTasks()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if err := tracingProvider.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown tracing", "error", err)
	}

	logger.Info("server stopped")
}
