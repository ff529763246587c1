package usecase

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pricelens/backend/internal/domain"
	"github.com/shopspring/decimal"
)

// Field limits of the product table
const (
	maxRetailerLength = 100
	maxNameLength     = 500
	maxURLLength      = 2000
)

var hundred = decimal.NewFromInt(100)

// observedAtLayouts are the timestamp shapes the scraping adapters emit.
// Layouts without a zone are read as UTC.
var observedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// PrepareObservation turns a feed listing into a validated observation.
//
// It returns a *domain.NormalizationError when the current price text cannot be
// parsed and a *domain.ValidationError when a required field is missing or out of
// range. An unparseable previous price or discount is dropped, not fatal.
func PrepareObservation(raw domain.RawObservation) (*domain.Observation, error) {
	obs := &domain.Observation{
		Retailer:     strings.TrimSpace(raw.Retailer),
		Name:         strings.TrimSpace(raw.Name),
		Brand:        strings.TrimSpace(raw.Brand),
		Category:     strings.TrimSpace(raw.Category),
		Presentation: strings.TrimSpace(raw.Presentation),
		URL:          truncateRunes(strings.TrimSpace(raw.URL), maxURLLength),
		ImageURL:     truncateRunes(strings.TrimSpace(raw.ImageURL), maxURLLength),
	}

	if obs.Name == "" {
		return nil, &domain.ValidationError{Field: "nombre", Reason: "is required"}
	}
	if raw.CurrentPrice.IsEmpty() {
		return nil, &domain.ValidationError{Field: "precio_actual", Reason: "is required"}
	}

	current, err := ParsePriceText("precio_actual", &raw.CurrentPrice)
	if err != nil {
		return nil, err
	}
	obs.CurrentPrice = current

	if !raw.PreviousPrice.IsEmpty() {
		if previous, err := ParsePriceText("precio_anterior", raw.PreviousPrice); err == nil {
			obs.PreviousPrice = &previous
		}
	}
	if !raw.DiscountPercentage.IsEmpty() {
		if discount, err := ParsePriceText("descuento_porcentaje", raw.DiscountPercentage); err == nil {
			obs.DiscountPercentage = &discount
		}
	}

	observedAt, err := parseObservedAt(raw.ObservedAt)
	if err != nil {
		return nil, err
	}
	obs.ObservedAt = observedAt

	if obs.Presentation == "" {
		obs.Presentation, _ = ExtractPresentation(obs.Name)
	}

	if err := ValidateObservation(obs); err != nil {
		return nil, err
	}
	return obs, nil
}

// ValidateObservation checks the invariants of an observation and settles its discount:
// when a previous price is known the discount is always derived from it.
func ValidateObservation(obs *domain.Observation) error {
	if obs == nil {
		return &domain.ValidationError{Field: "observation", Reason: "is nil"}
	}
	obs.Name = strings.TrimSpace(obs.Name)

	switch {
	case strings.TrimSpace(obs.Retailer) == "":
		return &domain.ValidationError{Field: "supermercado", Reason: "is required"}
	case utf8.RuneCountInString(obs.Retailer) > maxRetailerLength:
		return &domain.ValidationError{Field: "supermercado", Reason: "is too long"}
	case obs.Name == "":
		return &domain.ValidationError{Field: "nombre", Reason: "is required"}
	case utf8.RuneCountInString(obs.Name) > maxNameLength:
		return &domain.ValidationError{Field: "nombre", Reason: "is too long"}
	case !obs.CurrentPrice.IsPositive():
		return &domain.ValidationError{Field: "precio_actual", Reason: "must be greater than zero"}
	case obs.PreviousPrice != nil && !obs.PreviousPrice.IsPositive():
		return &domain.ValidationError{Field: "precio_anterior", Reason: "must be greater than zero"}
	case obs.ObservedAt.IsZero():
		return &domain.ValidationError{Field: "fecha_extraccion", Reason: "is required"}
	}

	if obs.PreviousPrice != nil {
		obs.DiscountPercentage = ComputeDiscount(*obs.PreviousPrice, obs.CurrentPrice)
		return nil
	}
	if d := obs.DiscountPercentage; d != nil && (d.IsNegative() || d.GreaterThan(hundred)) {
		return &domain.ValidationError{Field: "descuento_porcentaje", Reason: "must be between 0 and 100"}
	}
	return nil
}

// ComputeDiscount returns (previous-current)/previous*100 rounded to two decimals,
// or nil when the price did not drop.
func ComputeDiscount(previous, current decimal.Decimal) *decimal.Decimal {
	if !previous.IsPositive() || !current.LessThan(previous) {
		return nil
	}
	d := previous.Sub(current).Div(previous).Mul(hundred).Round(2)
	return &d
}

func parseObservedAt(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &domain.ValidationError{Field: "fecha_extraccion", Reason: "is required"}
	}
	for _, layout := range observedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &domain.ValidationError{Field: "fecha_extraccion", Reason: "is not a timestamp"}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
