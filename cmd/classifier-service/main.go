// classifier-service is the HTTP API server for asynchronous image
// classification jobs.
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

	"classifier/internal/api"
	"classifier/internal/classify"
	"classifier/internal/config"
	"classifier/internal/health"
	"classifier/internal/job"
	"classifier/internal/notify"
	"classifier/internal/observability"
	"classifier/internal/queue"
	"classifier/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	queueCfg := queue.LoadConfigFromEnv()

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Coordination store and notification bus. Redis backs both in
	// production; the memory backends serve local development.
	kv, bus, err := buildBackends(ctx, svcCfg)
	if err != nil {
		return err
	}
	defer kv.Close()
	defer bus.Close()

	jobStore := job.NewStore(kv, svcCfg.JobTTL)

	// Remote model client
	classifier := classify.NewRemote(svcCfg.ModelURL, svcCfg.ModelTimeout)

	// Worker pool executing attempts
	runner := queue.NewAttemptRunner(jobStore, bus, classifier, metrics,
		queue.WithTimeouts(svcCfg.JobHardTimeout, svcCfg.JobSoftTimeout))
	taskQueue := queue.NewMemory(queueCfg, runner, metrics)

	// Create health checker
	healthChecker := health.NewChecker(kv)

	// Create job service
	jobService := job.NewService(jobStore, bus, taskQueue, metrics,
		job.WithPollInterval(svcCfg.StreamPollInterval))

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		JobService:     jobService,
		Metrics:        metrics,
		HealthChecker:  healthChecker,
		APIKey:         svcCfg.APIKey,
		AllowedOrigins: svcCfg.AllowedOrigins,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:        ":" + svcCfg.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: status streams stay open until the job ends
		// or the client disconnects.
		IdleTimeout: 60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	// Wait for load balancers to stop sending traffic
	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish
	// in-flight requests and close open streams
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Drain the worker queue. Buffered attempts run to
	// completion so their outcomes land in the store before we exit.
	slog.Info("Draining worker queue", "depth", taskQueue.Stats().QueueDepth)
	queueCtx, queueCancel := context.WithTimeout(context.Background(), svcCfg.JobHardTimeout)
	defer queueCancel()
	if err := taskQueue.Close(queueCtx); err != nil {
		slog.Warn("Queue shutdown error", "error", err)
	}

	// Log final queue stats
	stats := taskQueue.Stats()
	slog.Info("Queue stats",
		"enqueued", stats.Enqueued,
		"executed", stats.Executed,
		"rejected", stats.Rejected,
	)

	slog.Info("Shutdown complete")
	return nil
}

// buildBackends selects the coordination store and notification bus for
// the configured backend.
func buildBackends(ctx context.Context, cfg *config.ServiceConfig) (store.KV, notify.Bus, error) {
	switch cfg.StoreBackend {
	case "redis":
		kv, err := store.NewRedis(ctx, store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: config.GetSecretFile(config.GetEnv("REDIS_PASSWORD_FILE", "")),
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		slog.Info("Connected to Redis", "addr", cfg.RedisAddr)
		return kv, notify.NewRedis(kv.Client()), nil

	case "memory":
		slog.Warn("Using in-memory backends - job state is lost on restart")
		return store.NewMemory(), notify.NewMemory(), nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
