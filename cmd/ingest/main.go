package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pricelens/backend/config"
	"github.com/pricelens/backend/internal/infrastructure/feed"
	"github.com/pricelens/backend/internal/infrastructure/logging"
	"github.com/pricelens/backend/internal/infrastructure/storage"
	"github.com/pricelens/backend/internal/usecase"
	"github.com/sirupsen/logrus"
)

var (
	inputPath = flag.String("input", "", "Observation file (.jsonl, .ndjson, .json or .xlsx)")
	workers   = flag.Int("workers", 0, "Reconciliation workers (0 = configured value)")
)

func main() {
	flag.Parse()
	if *inputPath == "" && flag.NArg() > 0 {
		*inputPath = flag.Arg(0)
	}
	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: ingest -input observations.jsonl")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *workers > 0 {
		cfg.Ingestion.Workers = *workers
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	// the report goes to stdout
	logger.SetOutput(os.Stderr)

	report, err := run(cfg, logger, *inputPath)
	if err != nil {
		logger.WithError(err).Fatal("Ingestion failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.WithError(err).Fatal("Failed to write report")
	}
	if report.HasTransientFailures() {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logrus.Logger, path string) (*usecase.BatchReport, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	raws, err := feed.ReadFile(path)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"file":         path,
		"observations": len(raws),
	}).Info("Observation file loaded")

	repo, err := storage.Open(ctx, storage.Options{
		Driver:         cfg.Database.Driver,
		DSN:            cfg.Database.DSN,
		MaxConns:       cfg.Database.MaxConns,
		AutoMigrate:    cfg.Database.AutoMigrate,
		SweepBatchSize: cfg.Database.SweepBatchSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close()

	service := usecase.NewIngestionService(repo, logger, usecase.IngestionServiceConfig{
		Workers:            cfg.Ingestion.Workers,
		RefreshOnUnchanged: cfg.Ingestion.RefreshOnUnchanged,
	})
	return service.IngestBatch(ctx, raws)
}
