// Package memory is a process-local product store for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pricelens/backend/internal/domain"
)

var errDuplicateIdentity = errors.New("a record with this identity already exists")

// Store keeps product records in maps guarded by a RWMutex.
// WithIdentity serializes on a per-identity lock; different identities run in parallel.
type Store struct {
	mu         sync.RWMutex
	records    map[int64]*domain.ProductRecord
	byIdentity map[string]int64
	nextID     int64

	locks *keyedMutex
}

// New creates an empty store
func New() *Store {
	return &Store{
		records:    make(map[int64]*domain.ProductRecord),
		byIdentity: make(map[string]int64),
		locks:      newKeyedMutex(),
	}
}

// WithIdentity runs fn with exclusive access to id. Writes are staged and applied
// together only when fn succeeds.
func (s *Store) WithIdentity(ctx context.Context, id domain.Identity, fn func(ctx context.Context, store domain.ProductStore) error) error {
	unlock, err := s.locks.Lock(ctx, id.Key())
	if err != nil {
		return err
	}
	defer unlock()

	tx := &txStore{parent: s, staged: make(map[int64]*domain.ProductRecord)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, recID := range tx.order {
		rec := tx.staged[recID]
		s.records[recID] = rec
		s.byIdentity[rec.Identity().Key()] = recID
	}
	return nil
}

// DeleteOlderThan removes records last updated before cutoff. Each record is deleted
// under its identity lock, so a record in the middle of a reconciliation is never removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.RLock()
	var candidates []domain.Identity
	for _, rec := range s.records {
		if rec.LastUpdated.Before(cutoff) {
			candidates = append(candidates, rec.Identity())
		}
	}
	s.mu.RUnlock()

	var removed int64
	for _, id := range candidates {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		unlock, err := s.locks.Lock(ctx, id.Key())
		if err != nil {
			return removed, err
		}

		s.mu.Lock()
		if recID, ok := s.byIdentity[id.Key()]; ok && s.records[recID].LastUpdated.Before(cutoff) {
			delete(s.records, recID)
			delete(s.byIdentity, id.Key())
			removed++
		}
		s.mu.Unlock()
		unlock()
	}
	return removed, nil
}

// FindMatching returns records whose name contains term and that were updated at or after since.
func (s *Store) FindMatching(ctx context.Context, term domain.SanitizedTerm, since time.Time) ([]domain.ProductRecord, error) {
	return s.collect(func(rec *domain.ProductRecord) bool {
		return !rec.LastUpdated.Before(since) && term.MatchesName(rec.Name)
	}, 0), nil
}

// Search returns up to limit records whose name contains term.
func (s *Store) Search(ctx context.Context, term domain.SanitizedTerm, limit int) ([]domain.ProductRecord, error) {
	return s.collect(func(rec *domain.ProductRecord) bool {
		return term.MatchesName(rec.Name)
	}, limit), nil
}

// ListDistinct returns the sorted distinct non-empty values of field.
func (s *Store) ListDistinct(ctx context.Context, field domain.DistinctField) ([]string, error) {
	var value func(*domain.ProductRecord) string
	switch field {
	case domain.FieldRetailer:
		value = func(rec *domain.ProductRecord) string { return rec.Retailer }
	case domain.FieldCategory:
		value = func(rec *domain.ProductRecord) string { return rec.Category }
	default:
		return nil, fmt.Errorf("%w: unknown field %q", domain.ErrInvalidRequest, field)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, rec := range s.records {
		if v := value(rec); v != "" {
			seen[v] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// GetByID returns the record or domain.ErrProductNotFound.
func (s *Store) GetByID(ctx context.Context, id int64) (*domain.ProductRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return rec.Clone(), nil
}

// List returns records matching filter, most recently updated first.
func (s *Store) List(ctx context.Context, filter domain.ProductFilter) ([]domain.ProductRecord, error) {
	all := s.collect(func(rec *domain.ProductRecord) bool {
		return (filter.Retailer == "" || rec.Retailer == filter.Retailer) &&
			(filter.Category == "" || rec.Category == filter.Category)
	}, 0)

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].LastUpdated.Equal(all[j].LastUpdated) {
			return all[i].LastUpdated.After(all[j].LastUpdated)
		}
		return all[i].ID > all[j].ID
	})

	if filter.Skip >= len(all) {
		return []domain.ProductRecord{}, nil
	}
	all = all[filter.Skip:]
	if filter.Limit > 0 && filter.Limit < len(all) {
		all = all[:filter.Limit]
	}
	return all, nil
}

// CountByRetailer counts records per retailer, sorted by retailer.
func (s *Store) CountByRetailer(ctx context.Context) ([]domain.RetailerCount, error) {
	s.mu.RLock()
	counts := make(map[string]int64)
	for _, rec := range s.records {
		counts[rec.Retailer]++
	}
	s.mu.RUnlock()

	out := make([]domain.RetailerCount, 0, len(counts))
	for r, n := range counts {
		out = append(out, domain.RetailerCount{Retailer: r, Total: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Retailer < out[j].Retailer })
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// collect returns clones of matching records in insertion order, at most limit when limit > 0.
func (s *Store) collect(match func(*domain.ProductRecord) bool, limit int) []domain.ProductRecord {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.records))
	for id, rec := range s.records {
		if match(rec) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.ProductRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.records[id].Clone())
	}
	s.mu.RUnlock()
	return out
}

// txStore stages writes of one WithIdentity call
type txStore struct {
	parent *Store
	staged map[int64]*domain.ProductRecord
	order  []int64
}

func (t *txStore) FindByIdentity(ctx context.Context, id domain.Identity) (*domain.ProductRecord, error) {
	for _, recID := range t.order {
		if rec := t.staged[recID]; rec.Identity() == id {
			return rec.Clone(), nil
		}
	}

	t.parent.mu.RLock()
	defer t.parent.mu.RUnlock()
	recID, ok := t.parent.byIdentity[id.Key()]
	if !ok {
		return nil, nil
	}
	return t.parent.records[recID].Clone(), nil
}

func (t *txStore) Create(ctx context.Context, record *domain.ProductRecord) error {
	t.parent.mu.Lock()
	_, exists := t.parent.byIdentity[record.Identity().Key()]
	if !exists {
		t.parent.nextID++
		record.ID = t.parent.nextID
	}
	t.parent.mu.Unlock()

	if exists {
		return domain.NewTransientStorageError("create", errDuplicateIdentity)
	}
	t.stage(record)
	return nil
}

func (t *txStore) Update(ctx context.Context, record *domain.ProductRecord) error {
	if _, ok := t.staged[record.ID]; !ok {
		t.parent.mu.RLock()
		_, ok = t.parent.records[record.ID]
		t.parent.mu.RUnlock()
		if !ok {
			return domain.ErrProductNotFound
		}
	}
	t.stage(record)
	return nil
}

func (t *txStore) stage(record *domain.ProductRecord) {
	if _, ok := t.staged[record.ID]; !ok {
		t.order = append(t.order, record.ID)
	}
	t.staged[record.ID] = record.Clone()
}
