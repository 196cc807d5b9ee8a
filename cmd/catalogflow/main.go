// catalogflow consumes catalog messages from queues, validates them against
// per-collection contracts, and persists them idempotently to a document
// store. Failed messages land on per-queue dead-letter queues. A read-only
// HTTP API exposes the stored documents and service health.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	apipkg "github.com/drblury/catalogflow/internal/api"
	brokerpkg "github.com/drblury/catalogflow/internal/broker"
	configpkg "github.com/drblury/catalogflow/internal/config"
	docstorepkg "github.com/drblury/catalogflow/internal/docstore"
	ingestpkg "github.com/drblury/catalogflow/internal/ingest"
	loggingpkg "github.com/drblury/catalogflow/internal/logging"
	schemapkg "github.com/drblury/catalogflow/internal/schema"
)

func main() {
	if err := run(); err != nil {
		slog.Error("service exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := configpkg.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slogger)
	logger := loggingpkg.NewSlogServiceLogger(slogger)
	logger.Info("starting catalogflow", loggingpkg.LogFields{"config": cfg.String()})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := brokerpkg.New(cfg, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Error("closing broker transport", err, nil)
		}
	}()

	store, err := docstorepkg.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect document store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Error("closing document store", err, nil)
		}
	}()

	var metrics *ingestpkg.Metrics
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metrics = ingestpkg.NewMetrics(nil)
		if err := metrics.Register(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		metricsServer = serveMetrics(cfg.MetricsPort, logger)
	}

	registry := schemapkg.Default()
	validator := ingestpkg.NewValidator(registry)
	writer := ingestpkg.NewStorageWriter(store, cfg.StoreWriteTimeout)
	policy := ingestpkg.Policy{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}
	dlq := ingestpkg.NewDeadLetterPublisher(transport.Publisher, cfg.DLQSuffix, logger)

	consumers := make([]*ingestpkg.Consumer, 0, len(cfg.Queues))
	for _, queue := range cfg.Queues {
		consumers = append(consumers, ingestpkg.NewConsumer(queue, validator, writer, policy, dlq, metrics, logger))
	}

	manager, err := ingestpkg.NewManager(transport.Subscriber, consumers, cfg.WatchdogInterval, logger)
	if err != nil {
		return fmt.Errorf("build consumer manager: %w", err)
	}
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start consumers: %w", err)
	}

	apiHandler := apipkg.NewHandler(store, registry, manager, logger)
	apiServer := &http.Server{
		Addr:              cfg.APIAddress,
		Handler:           apiHandler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	apiErrs := make(chan error, 1)
	go func() {
		logger.Info("read API listening", loggingpkg.LogFields{"address": cfg.APIAddress})
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErrs <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
	case err := <-apiErrs:
		logger.Error("read API failed", err, nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("read API shutdown", err, nil)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", err, nil)
		}
	}

	if err := manager.DrainAndStop(cfg.ShutdownTimeout); err != nil {
		logger.Error("consumer drain incomplete", err, nil)
	}

	logger.Info("catalogflow stopped", nil)
	return nil
}

func serveMetrics(port int, logger loggingpkg.ServiceLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", loggingpkg.LogFields{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", err, nil)
		}
	}()
	return srv
}
