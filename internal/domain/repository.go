package domain

import (
	"context"
	"time"
)

// DistinctField names a column that can be listed without duplicates.
type DistinctField string

const (
	FieldRetailer DistinctField = "supermercado"
	FieldCategory DistinctField = "categoria"
)

// ProductStore is the per-identity unit of work handed out by ProductRepository.WithIdentity.
// Writes become visible to readers only after the surrounding call returns nil.
type ProductStore interface {
	// FindByIdentity returns the record for the identity, or nil if there is none.
	FindByIdentity(ctx context.Context, id Identity) (*ProductRecord, error)
	// Create inserts a new record and sets its ID.
	Create(ctx context.Context, record *ProductRecord) error
	// Update overwrites the record with the same ID.
	Update(ctx context.Context, record *ProductRecord) error
}

// ProductRepository is the persistence boundary for product records.
// Implementations must be safe for concurrent use and wrap driver
// failures in TransientStorageError.
type ProductRepository interface {
	// WithIdentity runs fn atomically with respect to every other call for the same identity.
	// If fn returns an error, none of its writes are kept.
	WithIdentity(ctx context.Context, id Identity, fn func(ctx context.Context, store ProductStore) error) error

	// DeleteOlderThan removes records whose last update is before cutoff and returns how many went.
	// Rows deleted before a cancellation stay deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// FindMatching returns records whose name contains term (case-insensitive) and that were
	// updated at or after since, in insertion order.
	FindMatching(ctx context.Context, term SanitizedTerm, since time.Time) ([]ProductRecord, error)

	// Search returns up to limit records whose name contains term (case-insensitive).
	Search(ctx context.Context, term SanitizedTerm, limit int) ([]ProductRecord, error)

	// ListDistinct returns the distinct non-empty values of field, sorted.
	ListDistinct(ctx context.Context, field DistinctField) ([]string, error)

	GetByID(ctx context.Context, id int64) (*ProductRecord, error)
	List(ctx context.Context, filter ProductFilter) ([]ProductRecord, error)
	CountByRetailer(ctx context.Context) ([]RetailerCount, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheRepository defines the interface for caching operations
type CacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
