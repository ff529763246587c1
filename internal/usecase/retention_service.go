package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/sirupsen/logrus"
)

// RetentionService purges records that have not been updated within the retention horizon.
type RetentionService struct {
	repo    domain.ProductRepository
	logger  *logrus.Logger
	results ResultInvalidator
}

// NewRetentionService creates a new retention service
func NewRetentionService(repo domain.ProductRepository, logger *logrus.Logger) *RetentionService {
	return &RetentionService{repo: repo, logger: logger}
}

// SetInvalidator registers who is told when a sweep removes records.
func (s *RetentionService) SetInvalidator(inv ResultInvalidator) {
	s.results = inv
}

// Sweep deletes every record last updated before now minus retentionDays and returns
// how many were removed. Deletion is irreversible; on cancellation the count covers
// what was already deleted.
func (s *RetentionService) Sweep(ctx context.Context, now time.Time, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("%w: retention days must be positive, got %d", domain.ErrInvalidRequest, retentionDays)
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	removed, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if removed > 0 && s.results != nil {
		s.results.Invalidate()
	}

	entry := s.logger.WithFields(logrus.Fields{
		"cutoff":  cutoff.Format(time.RFC3339),
		"removed": removed,
	})
	if err != nil {
		entry.WithError(err).Error("retention sweep interrupted")
		return removed, err
	}
	entry.Info("retention sweep finished")
	return removed, nil
}
