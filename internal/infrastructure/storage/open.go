// Package storage picks and opens the configured product repository.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" for database/sql
	"github.com/pricelens/backend/internal/domain"
	"github.com/pricelens/backend/internal/infrastructure/storage/memory"
	"github.com/pricelens/backend/internal/infrastructure/storage/migrations"
	"github.com/pricelens/backend/internal/infrastructure/storage/postgres"
	"github.com/pricelens/backend/internal/infrastructure/storage/sqlite"
	"github.com/sirupsen/logrus"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and tunes a backend
type Options struct {
	Driver         string
	DSN            string
	MaxConns       int
	AutoMigrate    bool
	SweepBatchSize int
}

// Open returns the repository for opts.Driver. The caller owns Close.
func Open(ctx context.Context, opts Options, logger *logrus.Logger) (domain.ProductRepository, error) {
	logger.WithField("driver", opts.Driver).Info("Opening product storage")

	switch opts.Driver {
	case DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{
			DSN:             opts.DSN,
			AutoMigrate:     opts.AutoMigrate,
			SweepBatchSize:  opts.SweepBatchSize,
			MigrationLogger: logger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:             opts.DSN,
			MaxConns:        opts.MaxConns,
			AutoMigrate:     opts.AutoMigrate,
			SweepBatchSize:  opts.SweepBatchSize,
			MigrationLogger: logger,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

// OpenSQL opens a plain database/sql handle for running migrations by hand.
func OpenSQL(ctx context.Context, opts Options) (*sql.DB, migrations.Dialect, error) {
	var (
		driverName string
		dialect    migrations.Dialect
	)
	switch opts.Driver {
	case DriverSQLite:
		driverName, dialect = "sqlite", migrations.SQLite
	case DriverPostgres:
		driverName, dialect = "pgx", migrations.Postgres
	default:
		return nil, "", fmt.Errorf("driver %q has no migrations", opts.Driver)
	}

	db, err := sql.Open(driverName, opts.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", opts.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", opts.Driver, err)
	}
	return db, dialect, nil
}
