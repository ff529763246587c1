package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Compare aggregates records into a cross-retailer comparison.
//
// Records whose name does not contain term, or that carry no positive price, are
// ignored. The best retailer is the first record at the minimum price in input order.
// The result is nil when nothing is left to compare.
func Compare(term domain.SanitizedTerm, records []domain.ProductRecord) *domain.ComparisonResult {
	var (
		result *domain.ComparisonResult
		sum    decimal.Decimal
		count  int64
	)

	for i := range records {
		rec := &records[i]
		if !rec.CurrentPrice.IsPositive() || !term.MatchesName(rec.Name) {
			continue
		}

		if result == nil {
			result = &domain.ComparisonResult{
				ProductName:  rec.Name,
				BestPrice:    rec.CurrentPrice,
				BestRetailer: rec.Retailer,
			}
		} else if rec.CurrentPrice.LessThan(result.BestPrice) {
			result.BestPrice = rec.CurrentPrice
			result.BestRetailer = rec.Retailer
		}

		entry := domain.PriceEntry{
			Retailer: rec.Retailer,
			Price:    rec.CurrentPrice,
			URL:      rec.URL,
		}
		if rec.DiscountPercentage != nil {
			d := *rec.DiscountPercentage
			entry.Discount = &d
		}
		result.PricesByStore = append(result.PricesByStore, entry)

		sum = sum.Add(rec.CurrentPrice)
		count++
	}

	if result == nil {
		return nil
	}
	result.AveragePrice = sum.Div(decimal.NewFromInt(count)).Round(2)
	return result
}

// ComparisonServiceConfig holds configuration for the comparison service
type ComparisonServiceConfig struct {
	FreshnessWindow time.Duration
	CacheTTL        time.Duration
}

// ComparisonService answers comparison queries over recently updated records.
type ComparisonService struct {
	repo            domain.ProductRepository
	cache           domain.CacheRepository
	freshnessWindow time.Duration
	cacheTTL        time.Duration
	logger          *logrus.Logger
	now             func() time.Time

	// generation is part of every cache key; bumping it orphans cached results
	generation atomic.Uint64
}

// ResultInvalidator is told when stored records change so derived results are recomputed.
type ResultInvalidator interface {
	Invalidate()
}

// Invalidate drops every cached comparison. Results computed while a write was in
// flight are stored under the previous generation and never served.
func (s *ComparisonService) Invalidate() {
	s.generation.Add(1)
}

// NewComparisonService creates a new comparison service. cache may be nil.
func NewComparisonService(
	repo domain.ProductRepository,
	cache domain.CacheRepository,
	logger *logrus.Logger,
	config ComparisonServiceConfig,
) *ComparisonService {
	window := config.FreshnessWindow
	if window <= 0 {
		window = 24 * time.Hour
	}

	return &ComparisonService{
		repo:            repo,
		cache:           cache,
		freshnessWindow: window,
		cacheTTL:        config.CacheTTL,
		logger:          logger,
		now:             time.Now,
	}
}

// Compare sanitizes term, loads the records updated within the freshness window and
// compares them. It returns domain.ErrNoRecentProducts when nothing matches.
func (s *ComparisonService) Compare(ctx context.Context, term string) (*domain.ComparisonResult, error) {
	sanitized := domain.SanitizeTerm(term)
	if sanitized == "" {
		return nil, domain.ErrInvalidRequest
	}

	cacheKey := fmt.Sprintf("comparison:%d:%s", s.generation.Load(), strings.ToLower(string(sanitized)))
	if cached, err := s.getFromCache(ctx, cacheKey); err == nil {
		return cached, nil
	}

	since := s.now().Add(-s.freshnessWindow)
	records, err := s.repo.FindMatching(ctx, sanitized, since)
	if err != nil {
		return nil, err
	}
	// a cancelled scan returns nothing rather than an aggregate over part of it
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := Compare(sanitized, records)
	if result == nil {
		return nil, domain.ErrNoRecentProducts
	}

	if err := s.setInCache(ctx, cacheKey, result); err != nil {
		s.logger.WithError(err).WithField("term", sanitized.Literal()).Warn("comparison not cached")
	}
	return result, nil
}

func (s *ComparisonService) getFromCache(ctx context.Context, key string) (*domain.ComparisonResult, error) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return nil, domain.ErrCacheMiss
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var result domain.ComparisonResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, errors.Join(domain.ErrCacheMiss, err)
	}
	return &result, nil
}

func (s *ComparisonService) setInCache(ctx context.Context, key string, result *domain.ComparisonResult) error {
	if s.cache == nil || s.cacheTTL <= 0 {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, key, data, s.cacheTTL)
}
