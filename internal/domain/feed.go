package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RawObservation is one listing as produced by a retailer scraping adapter.
// Prices are kept as text until the normalizer has seen them.
type RawObservation struct {
	Retailer           string     `json:"supermercado"`
	Name               string     `json:"nombre"`
	Brand              string     `json:"marca,omitempty"`
	Category           string     `json:"categoria,omitempty"`
	Presentation       string     `json:"presentacion,omitempty"`
	CurrentPrice       PriceText  `json:"precio_actual"`
	PreviousPrice      *PriceText `json:"precio_anterior,omitempty"`
	DiscountPercentage *PriceText `json:"descuento_porcentaje,omitempty"`
	URL                string     `json:"url,omitempty"`
	ImageURL           string     `json:"imagen_url,omitempty"`
	ObservedAt         string     `json:"fecha_extraccion"`
}

// PriceText holds a price exactly as the feed delivered it.
// Numeric is set when the value arrived as a JSON number, i.e. already canonical.
type PriceText struct {
	Raw     string
	Numeric bool
}

// NewPriceText wraps scraped price text.
func NewPriceText(raw string) *PriceText {
	return &PriceText{Raw: raw}
}

// UnmarshalJSON accepts a JSON string, a JSON number or null.
func (p *PriceText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = PriceText{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PriceText{Raw: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("price must be a string or a number: %w", err)
	}
	*p = PriceText{Raw: n.String(), Numeric: true}
	return nil
}

// MarshalJSON writes numbers back as numbers and text as strings.
func (p PriceText) MarshalJSON() ([]byte, error) {
	if p.Numeric {
		return []byte(p.Raw), nil
	}
	return json.Marshal(p.Raw)
}

// IsEmpty reports whether no price text was delivered.
func (p *PriceText) IsEmpty() bool {
	return p == nil || strings.TrimSpace(p.Raw) == ""
}
