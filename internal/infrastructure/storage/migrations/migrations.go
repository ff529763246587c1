// Package migrations embeds the schema for every supported SQL backend and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

// Dialect selects the migration set and the goose dialect.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// goose keeps dialect and filesystem in package globals
var gooseMu sync.Mutex

func dir(d Dialect) (string, error) {
	switch d {
	case Postgres:
		return "postgres", nil
	case SQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported migration dialect %q", d)
	}
}

func prepare(d Dialect, logger goose.Logger) (string, error) {
	path, err := dir(d)
	if err != nil {
		return "", err
	}
	goose.SetBaseFS(files)
	if logger != nil {
		goose.SetLogger(logger)
	}
	if err := goose.SetDialect(string(d)); err != nil {
		return "", fmt.Errorf("goose dialect: %w", err)
	}
	return path, nil
}

// Up applies every pending migration. logger may be nil; a *logrus.Logger satisfies goose.Logger.
func Up(ctx context.Context, db *sql.DB, d Dialect, logger goose.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	path, err := prepare(d, logger)
	if err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, path); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sql.DB, d Dialect, logger goose.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	path, err := prepare(d, logger)
	if err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db, path); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Status logs the state of every migration through the goose logger.
func Status(ctx context.Context, db *sql.DB, d Dialect, logger goose.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	path, err := prepare(d, logger)
	if err != nil {
		return err
	}
	return goose.StatusContext(ctx, db, path)
}

// Version returns the current schema version.
func Version(ctx context.Context, db *sql.DB, d Dialect) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if _, err := prepare(d, nil); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}
