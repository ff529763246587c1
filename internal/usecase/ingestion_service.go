package usecase

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pricelens/backend/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// IngestionServiceConfig holds configuration for the ingestion service
type IngestionServiceConfig struct {
	Workers            int
	RefreshOnUnchanged bool
}

// IngestResult is the outcome of one reconciled observation.
type IngestResult struct {
	Outcome domain.ReconcileOutcome
	Record  *domain.ProductRecord
}

// BatchFailure describes one observation whose reconciliation could not be persisted.
type BatchFailure struct {
	Retailer string `json:"supermercado"`
	Name     string `json:"nombre"`
	Error    string `json:"error"`
}

// BatchReport counts what happened to every observation of one ingestion run.
type BatchReport struct {
	RunID     string         `json:"run_id"`
	Received  int            `json:"received"`
	Created   int            `json:"created"`
	Updated   int            `json:"updated"`
	Unchanged int            `json:"unchanged"`
	Stale     int            `json:"stale"`
	Discarded int            `json:"discarded"`
	Rejected  int            `json:"rejected"`
	Failed    int            `json:"failed"`
	Failures  []BatchFailure `json:"failures,omitempty"`
}

// HasTransientFailures reports whether any observation should be delivered again.
func (r *BatchReport) HasTransientFailures() bool {
	return r.Failed > 0
}

func (r *BatchReport) recordOutcome(outcome domain.ReconcileOutcome) {
	switch outcome {
	case domain.OutcomeCreated:
		r.Created++
	case domain.OutcomeUpdated:
		r.Updated++
	case domain.OutcomeUnchanged:
		r.Unchanged++
	case domain.OutcomeStale:
		r.Stale++
	}
}

// recordDrop counts an observation that never reached reconciliation.
func (r *BatchReport) recordDrop(err error) {
	if errors.Is(err, domain.ErrUnparseablePrice) {
		r.Discarded++
		return
	}
	r.Rejected++
}

// IngestionService validates observations and reconciles them against stored records.
type IngestionService struct {
	repo       domain.ProductRepository
	reconciler *Reconciler
	workers    int
	logger     *logrus.Logger
	results    ResultInvalidator
}

// NewIngestionService creates a new ingestion service with dependencies
func NewIngestionService(
	repo domain.ProductRepository,
	logger *logrus.Logger,
	config IngestionServiceConfig,
) *IngestionService {
	workers := config.Workers
	if workers <= 0 {
		workers = 4
	}

	return &IngestionService{
		repo:       repo,
		reconciler: NewReconciler(ReconcilerConfig{RefreshOnUnchanged: config.RefreshOnUnchanged}),
		workers:    workers,
		logger:     logger,
	}
}

// Ingest reconciles a single observation. Reading the stored record, deciding and writing
// happen inside one per-identity unit of work, so concurrent calls for the same product
// serialize while different products proceed in parallel.
func (s *IngestionService) Ingest(ctx context.Context, obs *domain.Observation) (*IngestResult, error) {
	if err := ValidateObservation(obs); err != nil {
		return nil, err
	}

	id := obs.Identity()
	var decision Decision
	err := s.repo.WithIdentity(ctx, id, func(ctx context.Context, store domain.ProductStore) error {
		existing, err := store.FindByIdentity(ctx, id)
		if err != nil {
			return err
		}
		decision = s.reconciler.Reconcile(obs, existing)
		if !decision.Write {
			return nil
		}
		if existing == nil {
			return store.Create(ctx, decision.Record)
		}
		return store.Update(ctx, decision.Record)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("reconcile %s: %w", id, ctxErr)
		}
		return nil, domain.NewTransientStorageError("reconcile "+id.String(), err)
	}
	if decision.Write && s.results != nil {
		s.results.Invalidate()
	}

	s.logger.WithFields(logrus.Fields{
		"retailer": id.Retailer,
		"name":     id.Name,
		"outcome":  decision.Outcome.String(),
	}).Debug("observation reconciled")

	return &IngestResult{Outcome: decision.Outcome, Record: decision.Record}, nil
}

// SetInvalidator registers who is told after every stored write.
func (s *IngestionService) SetInvalidator(inv ResultInvalidator) {
	s.results = inv
}

// IngestRaw prepares a feed listing and reconciles it.
func (s *IngestionService) IngestRaw(ctx context.Context, raw domain.RawObservation) (*IngestResult, error) {
	obs, err := PrepareObservation(raw)
	if err != nil {
		return nil, err
	}
	return s.Ingest(ctx, obs)
}

// IngestBatch runs one ingestion over a scrape batch.
//
// Unparseable or invalid listings are dropped and counted. The rest are sorted by
// observation time and sharded by identity over the worker pool, so each product's
// observations are applied in scrape order. A storage failure only fails its own
// observation; the error return is reserved for cancellation.
func (s *IngestionService) IngestBatch(ctx context.Context, raws []domain.RawObservation) (*BatchReport, error) {
	report := &BatchReport{RunID: uuid.NewString(), Received: len(raws)}
	log := s.logger.WithField("run_id", report.RunID)

	prepared := make([]*domain.Observation, 0, len(raws))
	for _, raw := range raws {
		obs, err := PrepareObservation(raw)
		if err != nil {
			report.recordDrop(err)
			log.WithFields(logrus.Fields{
				"retailer": raw.Retailer,
				"name":     raw.Name,
			}).WithError(err).Warn("observation dropped")
			continue
		}
		prepared = append(prepared, obs)
	}

	err := s.reconcileAll(ctx, log, prepared, report)

	log.WithFields(logrus.Fields{
		"received":  report.Received,
		"created":   report.Created,
		"updated":   report.Updated,
		"unchanged": report.Unchanged,
		"stale":     report.Stale,
		"discarded": report.Discarded,
		"rejected":  report.Rejected,
		"failed":    report.Failed,
	}).Info("ingestion run finished")

	return report, err
}

func (s *IngestionService) reconcileAll(
	ctx context.Context,
	log *logrus.Entry,
	observations []*domain.Observation,
	report *BatchReport,
) error {
	sort.SliceStable(observations, func(i, j int) bool {
		return observations[i].ObservedAt.Before(observations[j].ObservedAt)
	})

	shards := make([][]*domain.Observation, s.workers)
	for _, obs := range observations {
		k := shardFor(obs.Identity(), s.workers)
		shards[k] = append(shards[k], obs)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		g.Go(func() error {
			for _, obs := range shard {
				if err := ctx.Err(); err != nil {
					return err
				}
				result, err := s.Ingest(ctx, obs)

				mu.Lock()
				switch {
				case err == nil:
					report.recordOutcome(result.Outcome)
				case errors.Is(err, domain.ErrInvalidObservation):
					report.Rejected++
				default:
					report.Failed++
					report.Failures = append(report.Failures, BatchFailure{
						Retailer: obs.Retailer,
						Name:     obs.Name,
						Error:    err.Error(),
					})
				}
				mu.Unlock()

				if err != nil {
					log.WithFields(logrus.Fields{
						"retailer": obs.Retailer,
						"name":     obs.Name,
					}).WithError(err).Error("observation not persisted")
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// shardFor pins an identity to one worker so its observations stay ordered.
func shardFor(id domain.Identity, workers int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id.Key()))
	return int(h.Sum32() % uint32(workers))
}
