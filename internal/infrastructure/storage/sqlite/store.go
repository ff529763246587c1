// Package sqlite stores product records in an embedded SQLite database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/pricelens/backend/internal/infrastructure/storage/migrations"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const columns = `id, supermercado, nombre, marca, categoria, presentacion,
	precio_actual, precio_anterior, descuento_porcentaje, url, imagen_url,
	fecha_extraccion, fecha_actualizacion`

// Config holds configuration for the SQLite store
type Config struct {
	DSN            string
	AutoMigrate    bool
	SweepBatchSize int
	// MigrationLogger receives goose output; nil keeps goose's default logger.
	MigrationLogger goose.Logger
}

// Store implements domain.ProductRepository on SQLite.
//
// SQLite allows a single writer, so the store keeps one connection and every unit of
// work is a transaction on it. Per-identity atomicity follows from that.
type Store struct {
	db         *sql.DB
	sweepBatch int
}

// Open opens the database, checks it answers and applies migrations when asked to.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if cfg.AutoMigrate {
		if err := migrations.Up(ctx, db, migrations.SQLite, cfg.MigrationLogger); err != nil {
			db.Close()
			return nil, err
		}
	}

	batch := cfg.SweepBatchSize
	if batch <= 0 {
		batch = 500
	}
	return &Store{db: db, sweepBatch: batch}, nil
}

// DB exposes the handle for migrations.
func (s *Store) DB() *sql.DB { return s.db }

// WithIdentity runs fn inside one transaction; any error rolls it back.
func (s *Store) WithIdentity(ctx context.Context, id domain.Identity, fn func(ctx context.Context, store domain.ProductStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewTransientStorageError("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.NewTransientStorageError("commit", err)
	}
	return nil
}

// DeleteOlderThan deletes in batches of sweepBatch rows, each batch its own statement,
// so a cancelled sweep keeps what it already removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM productos WHERE id IN (
		SELECT id FROM productos WHERE fecha_actualizacion < ? ORDER BY id LIMIT ?)`

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := s.db.ExecContext(ctx, q, toMicros(cutoff), s.sweepBatch)
		if err != nil {
			return total, domain.NewTransientStorageError("delete older than", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, domain.NewTransientStorageError("delete older than", err)
		}
		total += n
		if n < int64(s.sweepBatch) {
			return total, nil
		}
	}
}

// FindMatching matches against the folded name, so case-insensitivity covers all of Unicode.
func (s *Store) FindMatching(ctx context.Context, term domain.SanitizedTerm, since time.Time) ([]domain.ProductRecord, error) {
	q := `SELECT ` + columns + ` FROM productos
		WHERE nombre_plegado LIKE ? ESCAPE '\' AND fecha_actualizacion >= ?
		ORDER BY id`
	return s.query(ctx, "find matching", q, domain.Fold(term.LikePattern()), toMicros(since))
}

func (s *Store) Search(ctx context.Context, term domain.SanitizedTerm, limit int) ([]domain.ProductRecord, error) {
	q := `SELECT ` + columns + ` FROM productos
		WHERE nombre_plegado LIKE ? ESCAPE '\'
		ORDER BY id LIMIT ?`
	return s.query(ctx, "search", q, domain.Fold(term.LikePattern()), limit)
}

func (s *Store) ListDistinct(ctx context.Context, field domain.DistinctField) ([]string, error) {
	column, err := distinctColumn(field)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT `+column+` FROM productos WHERE `+column+` <> '' ORDER BY `+column)
	if err != nil {
		return nil, domain.NewTransientStorageError("list distinct", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, domain.NewTransientStorageError("list distinct", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewTransientStorageError("list distinct", err)
	}
	return out, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*domain.ProductRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM productos WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, domain.NewTransientStorageError("get by id", err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, filter domain.ProductFilter) ([]domain.ProductRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Retailer != "" {
		where = append(where, "supermercado = ?")
		args = append(args, filter.Retailer)
	}
	if filter.Category != "" {
		where = append(where, "categoria = ?")
		args = append(args, filter.Category)
	}

	q := `SELECT ` + columns + ` FROM productos`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY fecha_actualizacion DESC, id DESC LIMIT ? OFFSET ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, filter.Skip)
	return s.query(ctx, "list", q, args...)
}

func (s *Store) CountByRetailer(ctx context.Context) ([]domain.RetailerCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT supermercado, COUNT(*) FROM productos GROUP BY supermercado ORDER BY supermercado`)
	if err != nil {
		return nil, domain.NewTransientStorageError("count by retailer", err)
	}
	defer rows.Close()

	out := []domain.RetailerCount{}
	for rows.Next() {
		var c domain.RetailerCount
		if err := rows.Scan(&c.Retailer, &c.Total); err != nil {
			return nil, domain.NewTransientStorageError("count by retailer", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewTransientStorageError("count by retailer", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return domain.NewTransientStorageError("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, op, q string, args ...any) ([]domain.ProductRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.NewTransientStorageError(op, err)
	}
	defer rows.Close()

	out := []domain.ProductRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, domain.NewTransientStorageError(op, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewTransientStorageError(op, err)
	}
	return out, nil
}

type txStore struct {
	tx *sql.Tx
}

func (t *txStore) FindByIdentity(ctx context.Context, id domain.Identity) (*domain.ProductRecord, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+columns+` FROM productos WHERE supermercado = ? AND nombre = ?`, id.Retailer, id.Name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewTransientStorageError("find by identity", err)
	}
	return rec, nil
}

func (t *txStore) Create(ctx context.Context, rec *domain.ProductRecord) error {
	const q = `INSERT INTO productos (
		supermercado, nombre, nombre_plegado, marca, categoria, presentacion,
		precio_actual, precio_anterior, descuento_porcentaje, url, imagen_url,
		fecha_extraccion, fecha_actualizacion
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := t.tx.ExecContext(ctx, q,
		rec.Retailer, rec.Name, domain.Fold(rec.Name), rec.Brand, rec.Category, rec.Presentation,
		rec.CurrentPrice.String(), nullableDecimal(rec.PreviousPrice), nullableDecimal(rec.DiscountPercentage),
		rec.URL, rec.ImageURL, toMicros(rec.FirstSeen), toMicros(rec.LastUpdated))
	if err != nil {
		return domain.NewTransientStorageError("create", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.NewTransientStorageError("create", err)
	}
	rec.ID = id
	return nil
}

func (t *txStore) Update(ctx context.Context, rec *domain.ProductRecord) error {
	const q = `UPDATE productos SET
		marca = ?, categoria = ?, presentacion = ?,
		precio_actual = ?, precio_anterior = ?, descuento_porcentaje = ?,
		url = ?, imagen_url = ?, fecha_actualizacion = ?
	WHERE id = ?`

	res, err := t.tx.ExecContext(ctx, q,
		rec.Brand, rec.Category, rec.Presentation,
		rec.CurrentPrice.String(), nullableDecimal(rec.PreviousPrice), nullableDecimal(rec.DiscountPercentage),
		rec.URL, rec.ImageURL, toMicros(rec.LastUpdated), rec.ID)
	if err != nil {
		return domain.NewTransientStorageError("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewTransientStorageError("update", err)
	}
	if n == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.ProductRecord, error) {
	var (
		rec                    domain.ProductRecord
		current                string
		previous, discount     sql.NullString
		firstSeen, lastUpdated int64
	)
	err := row.Scan(&rec.ID, &rec.Retailer, &rec.Name, &rec.Brand, &rec.Category, &rec.Presentation,
		&current, &previous, &discount, &rec.URL, &rec.ImageURL, &firstSeen, &lastUpdated)
	if err != nil {
		return nil, err
	}

	if rec.CurrentPrice, err = decimal.NewFromString(current); err != nil {
		return nil, fmt.Errorf("precio_actual: %w", err)
	}
	if rec.PreviousPrice, err = parseNullable(previous); err != nil {
		return nil, fmt.Errorf("precio_anterior: %w", err)
	}
	if rec.DiscountPercentage, err = parseNullable(discount); err != nil {
		return nil, fmt.Errorf("descuento_porcentaje: %w", err)
	}
	rec.FirstSeen = time.UnixMicro(firstSeen).UTC()
	rec.LastUpdated = time.UnixMicro(lastUpdated).UTC()
	return &rec, nil
}

func parseNullable(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func distinctColumn(field domain.DistinctField) (string, error) {
	switch field {
	case domain.FieldRetailer:
		return "supermercado", nil
	case domain.FieldCategory:
		return "categoria", nil
	default:
		return "", fmt.Errorf("%w: unknown field %q", domain.ErrInvalidRequest, field)
	}
}
