package usecase

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/sirupsen/logrus"
)

// MockProductRepository is an in-memory domain.ProductRepository with error injection.
// WithIdentity holds one lock per identity and discards writes when fn fails.
type MockProductRepository struct {
	mu      sync.Mutex
	records map[int64]*domain.ProductRecord
	nextID  int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	createErr   error
	updateErr   error
	findErr     error
	matchingErr error
	deleteErr   error
	failFor     map[string]error
	onMatching  func()

	writes       int
	lastSince    time.Time
	lastFilter   domain.ProductFilter
	lastCutoff   time.Time
	matchingHits int
}

func NewMockProductRepository() *MockProductRepository {
	return &MockProductRepository{
		records: make(map[int64]*domain.ProductRecord),
		locks:   make(map[string]*sync.Mutex),
		failFor: make(map[string]error),
	}
}

func (m *MockProductRepository) lockFor(key string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

func (m *MockProductRepository) WithIdentity(ctx context.Context, id domain.Identity, fn func(ctx context.Context, store domain.ProductStore) error) error {
	l := m.lockFor(id.Key())
	l.Lock()
	defer l.Unlock()

	if err, ok := m.failFor[id.Key()]; ok {
		return err
	}

	tx := &mockStore{repo: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range tx.staged {
		if rec.ID == 0 {
			m.nextID++
			rec.ID = m.nextID
		}
		m.records[rec.ID] = rec.Clone()
		m.writes++
	}
	return nil
}

func (m *MockProductRepository) put(rec domain.ProductRecord) *domain.ProductRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.records[rec.ID] = &rec
	return rec.Clone()
}

func (m *MockProductRepository) find(id domain.Identity) *domain.ProductRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.Identity() == id {
			return rec.Clone()
		}
	}
	return nil
}

func (m *MockProductRepository) sorted() []domain.ProductRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ProductRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MockProductRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.lastCutoff = cutoff
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.records {
		if rec.LastUpdated.Before(cutoff) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *MockProductRepository) FindMatching(ctx context.Context, term domain.SanitizedTerm, since time.Time) ([]domain.ProductRecord, error) {
	m.matchingHits++
	m.lastSince = since
	if m.onMatching != nil {
		m.onMatching()
	}
	if m.matchingErr != nil {
		return nil, m.matchingErr
	}
	var out []domain.ProductRecord
	for _, rec := range m.sorted() {
		if term.MatchesName(rec.Name) && !rec.LastUpdated.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MockProductRepository) Search(ctx context.Context, term domain.SanitizedTerm, limit int) ([]domain.ProductRecord, error) {
	var out []domain.ProductRecord
	for _, rec := range m.sorted() {
		if term.MatchesName(rec.Name) && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MockProductRepository) ListDistinct(ctx context.Context, field domain.DistinctField) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, rec := range m.sorted() {
		v := rec.Retailer
		if field == domain.FieldCategory {
			v = rec.Category
		}
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MockProductRepository) GetByID(ctx context.Context, id int64) (*domain.ProductRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return rec.Clone(), nil
}

func (m *MockProductRepository) List(ctx context.Context, filter domain.ProductFilter) ([]domain.ProductRecord, error) {
	m.lastFilter = filter
	return m.sorted(), nil
}

func (m *MockProductRepository) CountByRetailer(ctx context.Context) ([]domain.RetailerCount, error) {
	counts := map[string]int64{}
	for _, rec := range m.sorted() {
		counts[rec.Retailer]++
	}
	var out []domain.RetailerCount
	for r, n := range counts {
		out = append(out, domain.RetailerCount{Retailer: r, Total: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Retailer < out[j].Retailer })
	return out, nil
}

func (m *MockProductRepository) Ping(ctx context.Context) error { return nil }

func (m *MockProductRepository) Close() error { return nil }

type mockStore struct {
	repo   *MockProductRepository
	staged []*domain.ProductRecord
}

func (s *mockStore) FindByIdentity(ctx context.Context, id domain.Identity) (*domain.ProductRecord, error) {
	if s.repo.findErr != nil {
		return nil, s.repo.findErr
	}
	return s.repo.find(id), nil
}

func (s *mockStore) Create(ctx context.Context, rec *domain.ProductRecord) error {
	if s.repo.createErr != nil {
		return s.repo.createErr
	}
	s.staged = append(s.staged, rec)
	return nil
}

func (s *mockStore) Update(ctx context.Context, rec *domain.ProductRecord) error {
	if s.repo.updateErr != nil {
		return s.repo.updateErr
	}
	if rec.ID == 0 {
		return errors.New("update without id")
	}
	s.staged = append(s.staged, rec)
	return nil
}

// MockCacheRepository is a map-backed domain.CacheRepository
type MockCacheRepository struct {
	mu        sync.Mutex
	data      map[string][]byte
	getError  error
	setError  error
	setCalled bool
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{data: make(map[string][]byte)}
}

func (m *MockCacheRepository) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getError != nil {
		return nil, m.getError
	}
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return nil, domain.ErrCacheMiss
}

func (m *MockCacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalled = true
	if m.setError != nil {
		return m.setError
	}
	m.data[key] = value
	return nil
}

func (m *MockCacheRepository) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MockCacheRepository) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
