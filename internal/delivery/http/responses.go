package http

import (
	"github.com/pricelens/backend/internal/domain"
	"github.com/pricelens/backend/internal/usecase"
)

// productResponse is a stored record plus its prices as the retailers print them
type productResponse struct {
	domain.ProductRecord
	CurrentPriceText  string `json:"precio_actual_texto"`
	PreviousPriceText string `json:"precio_anterior_texto,omitempty"`
}

func newProductResponse(rec domain.ProductRecord) productResponse {
	resp := productResponse{
		ProductRecord:    rec,
		CurrentPriceText: usecase.FormatPrice(rec.CurrentPrice),
	}
	if rec.PreviousPrice != nil {
		resp.PreviousPriceText = usecase.FormatPrice(*rec.PreviousPrice)
	}
	return resp
}

// newProductResponses never returns nil so empty results encode as []
func newProductResponses(recs []domain.ProductRecord) []productResponse {
	out := make([]productResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newProductResponse(rec))
	}
	return out
}

type comparisonResponse struct {
	*domain.ComparisonResult
	BestPriceText    string `json:"mejor_precio_texto"`
	AveragePriceText string `json:"precio_promedio_texto"`
}

func newComparisonResponse(result *domain.ComparisonResult) comparisonResponse {
	return comparisonResponse{
		ComparisonResult: result,
		BestPriceText:    usecase.FormatPrice(result.BestPrice),
		AveragePriceText: usecase.FormatPrice(result.AveragePrice),
	}
}
