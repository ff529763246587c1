package usecase

import (
	"github.com/pricelens/backend/internal/domain"
)

// ReconcilerConfig holds configuration for the reconciler
type ReconcilerConfig struct {
	// RefreshOnUnchanged moves LastUpdated forward when a product is seen again
	// at the same price, which keeps it out of the retention sweep.
	RefreshOnUnchanged bool
}

// Decision is what the reconciler wants persisted for one observation.
type Decision struct {
	Outcome domain.ReconcileOutcome
	// Record is the state after reconciliation. It never aliases the existing record.
	Record *domain.ProductRecord
	// Write is false when nothing needs to be stored.
	Write bool
}

// Reconciler decides create, update or no-op for an observation against the stored record
// of its identity. It does no I/O; IngestionService runs it inside a per-identity unit of work.
type Reconciler struct {
	refreshOnUnchanged bool
}

// NewReconciler creates a new reconciler
func NewReconciler(config ReconcilerConfig) *Reconciler {
	return &Reconciler{refreshOnUnchanged: config.RefreshOnUnchanged}
}

// Reconcile compares obs with existing, which is nil when the identity has never been seen.
// obs must already be validated.
func (r *Reconciler) Reconcile(obs *domain.Observation, existing *domain.ProductRecord) Decision {
	if existing == nil {
		return Decision{Outcome: domain.OutcomeCreated, Record: newRecord(obs), Write: true}
	}

	// Out-of-order delivery must never regress the stored price
	if obs.ObservedAt.Before(existing.LastUpdated) {
		return Decision{Outcome: domain.OutcomeStale, Record: existing.Clone()}
	}

	if obs.CurrentPrice.Equal(existing.CurrentPrice) {
		record := existing.Clone()
		if r.refreshOnUnchanged && obs.ObservedAt.After(existing.LastUpdated) {
			record.LastUpdated = obs.ObservedAt
			return Decision{Outcome: domain.OutcomeUnchanged, Record: record, Write: true}
		}
		return Decision{Outcome: domain.OutcomeUnchanged, Record: record}
	}

	record := existing.Clone()
	previous := existing.CurrentPrice
	record.PreviousPrice = &previous
	record.CurrentPrice = obs.CurrentPrice
	if obs.DiscountPercentage != nil {
		d := *obs.DiscountPercentage
		record.DiscountPercentage = &d
	} else {
		record.DiscountPercentage = ComputeDiscount(previous, obs.CurrentPrice)
	}
	copyDescriptive(record, obs)
	record.LastUpdated = obs.ObservedAt

	return Decision{Outcome: domain.OutcomeUpdated, Record: record, Write: true}
}

func newRecord(obs *domain.Observation) *domain.ProductRecord {
	id := obs.Identity()
	record := &domain.ProductRecord{
		Retailer:     id.Retailer,
		Name:         id.Name,
		Brand:        obs.Brand,
		Category:     obs.Category,
		Presentation: obs.Presentation,
		CurrentPrice: obs.CurrentPrice,
		URL:          obs.URL,
		ImageURL:     obs.ImageURL,
		FirstSeen:    obs.ObservedAt,
		LastUpdated:  obs.ObservedAt,
	}
	if obs.PreviousPrice != nil {
		p := *obs.PreviousPrice
		record.PreviousPrice = &p
	}
	if obs.DiscountPercentage != nil {
		d := *obs.DiscountPercentage
		record.DiscountPercentage = &d
	}
	return record
}

// copyDescriptive takes descriptive fields from the newer observation, keeping stored
// values where the observation has none.
func copyDescriptive(record *domain.ProductRecord, obs *domain.Observation) {
	if obs.Brand != "" {
		record.Brand = obs.Brand
	}
	if obs.Category != "" {
		record.Category = obs.Category
	}
	if obs.Presentation != "" {
		record.Presentation = obs.Presentation
	}
	if obs.URL != "" {
		record.URL = obs.URL
	}
	if obs.ImageURL != "" {
		record.ImageURL = obs.ImageURL
	}
}
