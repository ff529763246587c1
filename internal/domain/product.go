package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Identity is the deduplication key of a product: retailer plus trimmed name.
// Both parts compare case-sensitively.
type Identity struct {
	Retailer string
	Name     string
}

// NewIdentity builds an identity, trimming surrounding whitespace from the name only.
func NewIdentity(retailer, name string) Identity {
	return Identity{Retailer: retailer, Name: strings.TrimSpace(name)}
}

// Key returns a string form usable as a map or lock key.
func (i Identity) Key() string {
	return i.Retailer + "\x00" + i.Name
}

func (i Identity) String() string {
	return i.Retailer + "/" + i.Name
}

// Observation is one validated price reading for a product at a retailer.
// Optional fields are pointers or empty strings.
type Observation struct {
	Retailer     string
	Name         string
	Brand        string
	Category     string
	Presentation string

	CurrentPrice       decimal.Decimal
	PreviousPrice      *decimal.Decimal
	DiscountPercentage *decimal.Decimal

	URL        string
	ImageURL   string
	ObservedAt time.Time
}

// Identity returns the deduplication key of the observation.
func (o *Observation) Identity() Identity {
	return NewIdentity(o.Retailer, o.Name)
}

// ProductRecord is the stored state of one product at one retailer.
type ProductRecord struct {
	ID       int64  `json:"id"`
	Retailer string `json:"supermercado"`
	Name     string `json:"nombre"`

	Brand        string `json:"marca,omitempty"`
	Category     string `json:"categoria,omitempty"`
	Presentation string `json:"presentacion,omitempty"`

	CurrentPrice       decimal.Decimal  `json:"precio_actual"`
	PreviousPrice      *decimal.Decimal `json:"precio_anterior,omitempty"`
	DiscountPercentage *decimal.Decimal `json:"descuento_porcentaje,omitempty"`

	URL      string `json:"url,omitempty"`
	ImageURL string `json:"imagen_url,omitempty"`

	FirstSeen   time.Time `json:"fecha_extraccion"`
	LastUpdated time.Time `json:"fecha_actualizacion"`
}

// Identity returns the deduplication key of the record.
func (r *ProductRecord) Identity() Identity {
	return NewIdentity(r.Retailer, r.Name)
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (r *ProductRecord) Clone() *ProductRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.PreviousPrice = cloneDecimal(r.PreviousPrice)
	c.DiscountPercentage = cloneDecimal(r.DiscountPercentage)
	return &c
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

// ReconcileOutcome is the result of reconciling one observation.
type ReconcileOutcome int

const (
	OutcomeCreated ReconcileOutcome = iota
	OutcomeUpdated
	OutcomeUnchanged
	// OutcomeStale marks an observation older than the stored record. It is a no-op, not an error.
	OutcomeStale
)

func (o ReconcileOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeStale:
		return "stale"
	default:
		return "unknown"
	}
}

// PriceEntry is one retailer row of a comparison.
type PriceEntry struct {
	Retailer string           `json:"supermercado"`
	Price    decimal.Decimal  `json:"precio"`
	Discount *decimal.Decimal `json:"descuento"`
	URL      string           `json:"url"`
}

// ComparisonResult aggregates recent records matching a search term.
type ComparisonResult struct {
	ProductName   string          `json:"nombre"`
	BestPrice     decimal.Decimal `json:"mejor_precio"`
	BestRetailer  string          `json:"supermercado_mejor_precio"`
	AveragePrice  decimal.Decimal `json:"precio_promedio"`
	PricesByStore []PriceEntry    `json:"precios_por_supermercado"`
}

// ProductFilter narrows product listings. Empty strings mean "any".
type ProductFilter struct {
	Retailer string
	Category string
	Skip     int
	Limit    int
}

// RetailerCount is the number of stored records for one retailer.
type RetailerCount struct {
	Retailer string `json:"nombre"`
	Total    int64  `json:"total"`
}

// Stats summarises the catalog per retailer.
type Stats struct {
	Retailers []RetailerCount `json:"supermercados"`
	Total     int64           `json:"total_productos"`
}
