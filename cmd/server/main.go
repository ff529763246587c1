package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pricelens/backend/config"
	httpDelivery "github.com/pricelens/backend/internal/delivery/http"
	"github.com/pricelens/backend/internal/infrastructure/cache"
	"github.com/pricelens/backend/internal/infrastructure/feed"
	"github.com/pricelens/backend/internal/infrastructure/logging"
	"github.com/pricelens/backend/internal/infrastructure/storage"
	"github.com/pricelens/backend/internal/scheduler"
	"github.com/pricelens/backend/internal/usecase"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server stopped with error")
	}
	logger.Info("Server stopped")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"environment": cfg.Server.Environment,
		"port":        cfg.Server.Port,
		"driver":      cfg.Database.Driver,
	}).Info("Starting PriceLens Backend v1.0.0")

	// Initialize infrastructure dependencies
	repo, err := storage.Open(ctx, storage.Options{
		Driver:         cfg.Database.Driver,
		DSN:            cfg.Database.DSN,
		MaxConns:       cfg.Database.MaxConns,
		AutoMigrate:    cfg.Database.AutoMigrate,
		SweepBatchSize: cfg.Database.SweepBatchSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	memoryCache := cache.NewMemoryCache(time.Minute)
	defer memoryCache.Close()
	if cfg.Comparison.CacheTTL > 0 {
		logger.WithField("ttl", cfg.Comparison.CacheTTL).Info("Comparison cache enabled")
	}

	// Initialize usecase layer
	ingestionService := usecase.NewIngestionService(repo, logger, usecase.IngestionServiceConfig{
		Workers:            cfg.Ingestion.Workers,
		RefreshOnUnchanged: cfg.Ingestion.RefreshOnUnchanged,
	})
	comparisonService := usecase.NewComparisonService(repo, memoryCache, logger, usecase.ComparisonServiceConfig{
		FreshnessWindow: cfg.Comparison.FreshnessWindow,
		CacheTTL:        cfg.Comparison.CacheTTL,
	})
	catalogService := usecase.NewCatalogService(repo, usecase.CatalogServiceConfig{
		DefaultSearchLimit: cfg.Comparison.SearchLimit,
	})
	retentionService := usecase.NewRetentionService(repo, logger)
	ingestionService.SetInvalidator(comparisonService)
	retentionService.SetInvalidator(comparisonService)

	// Background jobs
	sched := scheduler.New(logger)
	sched.Add(scheduler.RetentionJob(retentionService, cfg.Retention.Days, cfg.Retention.Interval))
	if cfg.Feed.Scraper.Enabled {
		client := feed.NewScraperClient(feed.ScraperClientConfig{
			BaseURL:           cfg.Feed.Scraper.BaseURL,
			RequestsPerSecond: cfg.Feed.Scraper.RequestsPerSecond,
		}, logger)
		sched.Add(scheduler.ScrapeJob(client, ingestionService, cfg.Feed.Scraper.Retailers, cfg.Feed.Scraper.Interval, logger))
		logger.WithFields(logrus.Fields{
			"base_url":  cfg.Feed.Scraper.BaseURL,
			"retailers": cfg.Feed.Scraper.Retailers,
		}).Info("Scraper feed enabled")
	}

	// Create HTTP handler with dependencies
	handler := httpDelivery.NewHandler(catalogService, comparisonService, ingestionService, logger)
	router := httpDelivery.SetupRouter(cfg, handler, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", server.Addr).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})

	if cfg.Feed.Kafka.Enabled {
		kafkaCfg := feed.KafkaConsumerConfig{
			Brokers:      cfg.Feed.Kafka.Brokers,
			Topic:        cfg.Feed.Kafka.Topic,
			GroupID:      cfg.Feed.Kafka.GroupID,
			BatchSize:    cfg.Feed.Kafka.BatchSize,
			BatchTimeout: cfg.Feed.Kafka.BatchTimeout,
		}
		consumer := feed.NewKafkaConsumer(feed.NewKafkaReader(kafkaCfg), ingestionService, logger, kafkaCfg)
		logger.WithFields(logrus.Fields{
			"brokers": kafkaCfg.Brokers,
			"topic":   kafkaCfg.Topic,
		}).Info("Kafka feed enabled")

		g.Go(func() error {
			if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("kafka consumer: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}
