package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/powersportsmart/catalog-worker/internal/config"
	"github.com/powersportsmart/catalog-worker/internal/database"
	"github.com/powersportsmart/catalog-worker/internal/logging"
	"github.com/powersportsmart/catalog-worker/internal/marketplace"
	"github.com/powersportsmart/catalog-worker/internal/metrics"
	"github.com/powersportsmart/catalog-worker/internal/repository"
	"github.com/powersportsmart/catalog-worker/internal/server"
	"github.com/powersportsmart/catalog-worker/internal/service"
	"github.com/powersportsmart/catalog-worker/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(db) //nolint:errcheck

	logger.Info("Database connected successfully")

	// Run migrations
	logger.Info("Running database migrations...")
	if err := database.RunMigrations(db); err != nil {
		return err
	}
	logger.Info("Migrations completed successfully")

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Initialize repositories
	productRepo := repository.NewProductRepository(db)
	runRepo := repository.NewSyncRunRepository(db)
	lockRepo := repository.NewSyncLockRepository(db)

	// Initialize marketplace client
	client := marketplace.NewClient(cfg.MarketplaceBaseURL, cfg.MarketplaceClientID, cfg.MarketplaceClientSecret, logger)
	client.SetAuditSink(marketplace.NewZapAuditSink(logger))

	// Initialize sync engine
	resolver := service.NewFieldResolver(client, logger, m)
	processor := service.NewSyncProcessor(
		productRepo, runRepo, lockRepo, client, resolver, logger, m,
		cfg.PageSize, time.Duration(cfg.LockStaleAfter)*time.Minute,
	)

	// Initialize scheduler and HTTP surface
	w := watcher.New(cfg, runRepo, processor, logger)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.New(processor, runRepo, cfg.SyncTriggerSecret, logger, registry).Router(),
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 2)
	go func() {
		errChan <- w.Start(ctx)
	}()
	go func() {
		logger.Infof("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
			return
		}
		errChan <- nil
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("HTTP server shutdown: %v", err)
		}

		select {
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout exceeded")
		case err := <-errChan:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Scheduler error: %v", err)
			}
		}

		logger.Info("Application stopped")
		return nil

	case err := <-errChan:
		cancel()
		return err
	}
}
