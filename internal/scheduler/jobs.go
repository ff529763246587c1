package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pricelens/backend/internal/domain"
	"github.com/pricelens/backend/internal/usecase"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Sweeper removes records older than a retention window.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time, retentionDays int) (int64, error)
}

// Fetcher pulls raw observations for one retailer.
type Fetcher interface {
	FetchObservations(ctx context.Context, retailer string) ([]domain.RawObservation, error)
}

// Ingester reconciles a batch of raw observations.
type Ingester interface {
	IngestBatch(ctx context.Context, raws []domain.RawObservation) (*usecase.BatchReport, error)
}

// RetentionJob sweeps records not updated within retentionDays.
func RetentionJob(sweeper Sweeper, retentionDays int, interval time.Duration) Job {
	return Job{
		Name:     "retention-sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := sweeper.Sweep(ctx, time.Now(), retentionDays)
			return err
		},
	}
}

// maxParallelPulls bounds concurrent scraper requests in one run
const maxParallelPulls = 4

// ScrapeJob pulls every retailer from the scraper service and ingests what it returns.
// Retailers are pulled in parallel; one failing does not stop the others.
func ScrapeJob(fetcher Fetcher, ingester Ingester, retailers []string, interval time.Duration, logger *logrus.Logger) Job {
	return Job{
		Name:       "scrape",
		Interval:   interval,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			return pullAll(ctx, fetcher, ingester, retailers, logger)
		},
	}
}

func pullAll(ctx context.Context, fetcher Fetcher, ingester Ingester, retailers []string, logger *logrus.Logger) error {
	var g errgroup.Group
	g.SetLimit(maxParallelPulls)

	errs := make([]error, len(retailers))
	for i, retailer := range retailers {
		g.Go(func() error {
			errs[i] = pull(ctx, fetcher, ingester, retailer, logger)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func pull(ctx context.Context, fetcher Fetcher, ingester Ingester, retailer string, logger *logrus.Logger) error {
	raws, err := fetcher.FetchObservations(ctx, retailer)
	if err != nil {
		return fmt.Errorf("pull %s: %w", retailer, err)
	}
	if len(raws) == 0 {
		logger.WithField("retailer", retailer).Info("Scraper returned no observations")
		return nil
	}

	report, err := ingester.IngestBatch(ctx, raws)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", retailer, err)
	}
	if report.HasTransientFailures() {
		return fmt.Errorf("ingest %s: %d observations failed: %w", retailer, report.Failed, domain.ErrStorageUnavailable)
	}
	return nil
}
