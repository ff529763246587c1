package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pricelens/backend/config"
	"github.com/pricelens/backend/internal/infrastructure/logging"
	"github.com/pricelens/backend/internal/infrastructure/storage"
	"github.com/pricelens/backend/internal/infrastructure/storage/migrations"
	"github.com/sirupsen/logrus"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "usage: migrate [up|down|status|version]\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx := context.Background()
	db, dialect, err := storage.OpenSQL(ctx, storage.Options{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	entry := logger.WithFields(logrus.Fields{
		"driver":  cfg.Database.Driver,
		"command": command,
	})

	switch command {
	case "up":
		entry.Info("Running database migrations...")
		err = migrations.Up(ctx, db, dialect, logger)
	case "down":
		entry.Info("Rolling back the last migration...")
		err = migrations.Down(ctx, db, dialect, logger)
	case "status":
		err = migrations.Status(ctx, db, dialect, logger)
	case "version":
		var version int64
		if version, err = migrations.Version(ctx, db, dialect); err == nil {
			fmt.Fprintln(os.Stdout, version)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		entry.WithError(err).Fatal("Migration failed")
	}

	if command == "up" || command == "down" {
		entry.Info("Migrations completed successfully")
	}
}
