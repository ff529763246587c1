// Package postgres stores product records in PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pricelens/backend/internal/domain"
	"github.com/pricelens/backend/internal/infrastructure/storage/migrations"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
)

// prices leave the database as text so they reach decimal.Decimal without a float in between
const columns = `id, supermercado, nombre, marca, categoria, presentacion,
	precio_actual::text, precio_anterior::text, descuento_porcentaje::text, url, imagen_url,
	fecha_extraccion, fecha_actualizacion`

// Config holds configuration for the PostgreSQL store
type Config struct {
	DSN             string
	MaxConns        int
	AutoMigrate     bool
	SweepBatchSize  int
	MigrationLogger goose.Logger
}

// Store implements domain.ProductRepository on PostgreSQL.
//
// WithIdentity takes a transaction-scoped advisory lock on the identity, so units of
// work for the same product queue up while different products proceed in parallel.
// The sweep skips rows a reconciliation holds and never waits on them.
type Store struct {
	pool       *pgxpool.Pool
	sweepBatch int
}

// Open connects the pool, checks it answers and applies migrations when asked to.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if cfg.AutoMigrate {
		db := stdlib.OpenDBFromPool(pool)
		err := migrations.Up(ctx, db, migrations.Postgres, cfg.MigrationLogger)
		db.Close()
		if err != nil {
			pool.Close()
			return nil, err
		}
	}

	batch := cfg.SweepBatchSize
	if batch <= 0 {
		batch = 500
	}
	return &Store{pool: pool, sweepBatch: batch}, nil
}

// Pool exposes the pool for migrations and tests.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) WithIdentity(ctx context.Context, id domain.Identity, fn func(ctx context.Context, store domain.ProductStore) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.NewTransientStorageError("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	// Identity.Key joins with NUL, which text columns reject; hash the parts instead.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`, id.Retailer, id.Name); err != nil {
		return domain.NewTransientStorageError("lock identity", err)
	}

	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.NewTransientStorageError("commit", err)
	}
	return nil
}

// DeleteOlderThan deletes in batches so no single statement holds locks on the whole table.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM productos WHERE id IN (
		SELECT id FROM productos
		WHERE fecha_actualizacion < $1
		ORDER BY id
		LIMIT $2
		FOR UPDATE SKIP LOCKED)`

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		tag, err := s.pool.Exec(ctx, q, cutoff, s.sweepBatch)
		if err != nil {
			return total, domain.NewTransientStorageError("delete older than", err)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < int64(s.sweepBatch) {
			return total, nil
		}
	}
}

func (s *Store) FindMatching(ctx context.Context, term domain.SanitizedTerm, since time.Time) ([]domain.ProductRecord, error) {
	q := `SELECT ` + columns + ` FROM productos
		WHERE nombre ILIKE $1 ESCAPE '\' AND fecha_actualizacion >= $2
		ORDER BY id`
	return s.query(ctx, "find matching", q, term.LikePattern(), since)
}

func (s *Store) Search(ctx context.Context, term domain.SanitizedTerm, limit int) ([]domain.ProductRecord, error) {
	q := `SELECT ` + columns + ` FROM productos
		WHERE nombre ILIKE $1 ESCAPE '\'
		ORDER BY id LIMIT $2`
	return s.query(ctx, "search", q, term.LikePattern(), limit)
}

func (s *Store) ListDistinct(ctx context.Context, field domain.DistinctField) ([]string, error) {
	column, err := distinctColumn(field)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT `+column+` FROM productos WHERE `+column+` <> '' ORDER BY `+column)
	if err != nil {
		return nil, domain.NewTransientStorageError("list distinct", err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, domain.NewTransientStorageError("list distinct", err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*domain.ProductRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+columns+` FROM productos WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
		args = append(args, filter.Retailer)
		where = append(where, fmt.Sprintf("supermercado = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("categoria = $%d", len(args)))
	}

	q := `SELECT ` + columns + ` FROM productos`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}

	// LIMIT NULL is no limit
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	args = append(args, limit, filter.Skip)
	q += fmt.Sprintf(` ORDER BY fecha_actualizacion DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return s.query(ctx, "list", q, args...)
}

func (s *Store) CountByRetailer(ctx context.Context) ([]domain.RetailerCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT supermercado, COUNT(*) FROM productos GROUP BY supermercado ORDER BY supermercado`)
	if err != nil {
		return nil, domain.NewTransientStorageError("count by retailer", err)
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RetailerCount, error) {
		var c domain.RetailerCount
		err := row.Scan(&c.Retailer, &c.Total)
		return c, err
	})
	if err != nil {
		return nil, domain.NewTransientStorageError("count by retailer", err)
	}
	if counts == nil {
		counts = []domain.RetailerCount{}
	}
	return counts, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return domain.NewTransientStorageError("ping", s.pool.Ping(ctx))
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) query(ctx context.Context, op, q string, args ...any) ([]domain.ProductRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
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
	tx pgx.Tx
}

// FindByIdentity locks the row so a concurrent sweep skips it.
func (t *txStore) FindByIdentity(ctx context.Context, id domain.Identity) (*domain.ProductRecord, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+columns+` FROM productos WHERE supermercado = $1 AND nombre = $2 FOR UPDATE`,
		id.Retailer, id.Name)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewTransientStorageError("find by identity", err)
	}
	return rec, nil
}

func (t *txStore) Create(ctx context.Context, rec *domain.ProductRecord) error {
	const q = `INSERT INTO productos (
		supermercado, nombre, marca, categoria, presentacion,
		precio_actual, precio_anterior, descuento_porcentaje, url, imagen_url,
		fecha_extraccion, fecha_actualizacion
	) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, $12)
	RETURNING id`

	err := t.tx.QueryRow(ctx, q,
		rec.Retailer, rec.Name, rec.Brand, rec.Category, rec.Presentation,
		rec.CurrentPrice.String(), nullableDecimal(rec.PreviousPrice), nullableDecimal(rec.DiscountPercentage),
		rec.URL, rec.ImageURL, rec.FirstSeen, rec.LastUpdated,
	).Scan(&rec.ID)
	if err != nil {
		return domain.NewTransientStorageError("create", err)
	}
	return nil
}

func (t *txStore) Update(ctx context.Context, rec *domain.ProductRecord) error {
	const q = `UPDATE productos SET
		marca = $1, categoria = $2, presentacion = $3,
		precio_actual = $4::numeric, precio_anterior = $5::numeric, descuento_porcentaje = $6::numeric,
		url = $7, imagen_url = $8, fecha_actualizacion = $9
	WHERE id = $10`

	tag, err := t.tx.Exec(ctx, q,
		rec.Brand, rec.Category, rec.Presentation,
		rec.CurrentPrice.String(), nullableDecimal(rec.PreviousPrice), nullableDecimal(rec.DiscountPercentage),
		rec.URL, rec.ImageURL, rec.LastUpdated, rec.ID)
	if err != nil {
		return domain.NewTransientStorageError("update", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (*domain.ProductRecord, error) {
	var (
		rec                domain.ProductRecord
		current            string
		previous, discount *string
	)
	err := row.Scan(&rec.ID, &rec.Retailer, &rec.Name, &rec.Brand, &rec.Category, &rec.Presentation,
		&current, &previous, &discount, &rec.URL, &rec.ImageURL, &rec.FirstSeen, &rec.LastUpdated)
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
	rec.FirstSeen = rec.FirstSeen.UTC()
	rec.LastUpdated = rec.LastUpdated.UTC()
	return &rec, nil
}

func parseNullable(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullableDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
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
