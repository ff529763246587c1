package usecase

import (
	"context"
	"fmt"

	"github.com/pricelens/backend/internal/domain"
)

// CatalogServiceConfig holds the paging limits of the read API
type CatalogServiceConfig struct {
	DefaultLimit       int
	MaxLimit           int
	DefaultSearchLimit int
	MaxSearchLimit     int
}

// CatalogService serves the read side: listings, lookups, search and statistics.
type CatalogService struct {
	repo   domain.ProductRepository
	config CatalogServiceConfig
}

// NewCatalogService creates a new catalog service
func NewCatalogService(repo domain.ProductRepository, config CatalogServiceConfig) *CatalogService {
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 100
	}
	if config.MaxLimit <= 0 {
		config.MaxLimit = 500
	}
	if config.DefaultSearchLimit <= 0 {
		config.DefaultSearchLimit = 50
	}
	if config.MaxSearchLimit <= 0 {
		config.MaxSearchLimit = 200
	}
	return &CatalogService{repo: repo, config: config}
}

// ListProducts returns records filtered by retailer and category, most recently updated first.
// A zero limit means the default page size.
func (s *CatalogService) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.ProductRecord, error) {
	if filter.Skip < 0 {
		return nil, fmt.Errorf("%w: skip must not be negative", domain.ErrInvalidRequest)
	}
	limit, err := pageLimit(filter.Limit, s.config.DefaultLimit, s.config.MaxLimit)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit
	return s.repo.List(ctx, filter)
}

// GetProduct returns one record by id.
func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*domain.ProductRecord, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: id must be positive", domain.ErrInvalidRequest)
	}
	return s.repo.GetByID(ctx, id)
}

// SearchProducts returns records whose name contains term, case-insensitively.
func (s *CatalogService) SearchProducts(ctx context.Context, term string, limit int) ([]domain.ProductRecord, error) {
	sanitized := domain.SanitizeTerm(term)
	if sanitized == "" {
		return nil, fmt.Errorf("%w: empty search term", domain.ErrInvalidRequest)
	}
	limit, err := pageLimit(limit, s.config.DefaultSearchLimit, s.config.MaxSearchLimit)
	if err != nil {
		return nil, err
	}
	return s.repo.Search(ctx, sanitized, limit)
}

// Retailers lists every retailer with stored records.
func (s *CatalogService) Retailers(ctx context.Context) ([]string, error) {
	return s.repo.ListDistinct(ctx, domain.FieldRetailer)
}

// Categories lists every non-empty category.
func (s *CatalogService) Categories(ctx context.Context) ([]string, error) {
	return s.repo.ListDistinct(ctx, domain.FieldCategory)
}

// Stats counts stored records per retailer.
func (s *CatalogService) Stats(ctx context.Context) (*domain.Stats, error) {
	counts, err := s.repo.CountByRetailer(ctx)
	if err != nil {
		return nil, err
	}
	stats := &domain.Stats{Retailers: counts}
	for _, c := range counts {
		stats.Total += c.Total
	}
	if stats.Retailers == nil {
		stats.Retailers = []domain.RetailerCount{}
	}
	return stats, nil
}

// Health checks that storage answers.
func (s *CatalogService) Health(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func pageLimit(limit, fallback, maxLimit int) (int, error) {
	switch {
	case limit == 0:
		return fallback, nil
	case limit < 0 || limit > maxLimit:
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidRequest, maxLimit)
	default:
		return limit, nil
	}
}
