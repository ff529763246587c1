// Package feed reads raw price observations from the places scrapers leave them:
// a Kafka topic, the scraper HTTP service, and JSON-Lines or XLSX files.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pricelens/backend/internal/domain"
)

// DecodeObservations decodes a payload holding one observation object or an array of them.
func DecodeObservations(data []byte) ([]domain.RawObservation, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	if data[0] == '[' {
		var list []domain.RawObservation
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode observation array: %w", err)
		}
		return list, nil
	}

	var one domain.RawObservation
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("decode observation: %w", err)
	}
	return []domain.RawObservation{one}, nil
}

// column identifies which observation field a spreadsheet column feeds
type column int

const (
	colUnknown column = iota
	colRetailer
	colName
	colBrand
	colCategory
	colPresentation
	colCurrentPrice
	colPreviousPrice
	colDiscount
	colURL
	colImageURL
	colObservedAt
)

// Header names as exported by the scrapers, accents and case removed
var headerColumns = map[string]column{
	"supermercado":         colRetailer,
	"tienda":               colRetailer,
	"nombre":               colName,
	"producto":             colName,
	"marca":                colBrand,
	"categoria":            colCategory,
	"presentacion":         colPresentation,
	"formato":              colPresentation,
	"precio_actual":        colCurrentPrice,
	"precio":               colCurrentPrice,
	"precio_anterior":      colPreviousPrice,
	"precio_normal":        colPreviousPrice,
	"descuento_porcentaje": colDiscount,
	"descuento":            colDiscount,
	"url":                  colURL,
	"imagen_url":           colImageURL,
	"imagen":               colImageURL,
	"fecha_extraccion":     colObservedAt,
	"fecha":                colObservedAt,
}

var headerReplacer = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u",
	" ", "_", "-", "_",
)

func columnForHeader(header string) column {
	key := headerReplacer.Replace(strings.ToLower(strings.TrimSpace(header)))
	return headerColumns[key]
}

// cell is one spreadsheet value. Numeric is set for cells stored as numbers.
type cell struct {
	Value   string
	Numeric bool
}

// mapRow builds an observation from one spreadsheet row. Columns with unknown
// headers are ignored; missing trailing cells are empty.
func mapRow(columns []column, cells []cell) domain.RawObservation {
	var obs domain.RawObservation
	for i, col := range columns {
		if i >= len(cells) {
			break
		}
		c := cells[i]
		if strings.TrimSpace(c.Value) == "" {
			continue
		}

		switch col {
		case colRetailer:
			obs.Retailer = c.Value
		case colName:
			obs.Name = c.Value
		case colBrand:
			obs.Brand = c.Value
		case colCategory:
			obs.Category = c.Value
		case colPresentation:
			obs.Presentation = c.Value
		case colCurrentPrice:
			obs.CurrentPrice = priceText(c)
		case colPreviousPrice:
			p := priceText(c)
			obs.PreviousPrice = &p
		case colDiscount:
			p := priceText(c)
			obs.DiscountPercentage = &p
		case colURL:
			obs.URL = c.Value
		case colImageURL:
			obs.ImageURL = c.Value
		case colObservedAt:
			obs.ObservedAt = c.Value
		}
	}
	return obs
}

// numbers stored as numbers are already canonical; only text goes through locale rules
func priceText(c cell) domain.PriceText {
	return domain.PriceText{Raw: strings.TrimSpace(c.Value), Numeric: c.Numeric}
}
