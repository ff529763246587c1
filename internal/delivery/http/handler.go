package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pricelens/backend/internal/domain"
	"github.com/pricelens/backend/internal/infrastructure/feed"
	"github.com/pricelens/backend/internal/usecase"
	"github.com/sirupsen/logrus"
)

// maxPushBytes bounds one POST /observaciones body
const maxPushBytes = 10 << 20

// statusClientClosedRequest is reported when the caller went away before the answer
const statusClientClosedRequest = 499

// Handler holds dependencies for HTTP handlers
type Handler struct {
	catalog    *usecase.CatalogService
	comparison *usecase.ComparisonService
	ingestion  *usecase.IngestionService
	logger     *logrus.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	catalog *usecase.CatalogService,
	comparison *usecase.ComparisonService,
	ingestion *usecase.IngestionService,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		catalog:    catalog,
		comparison: comparison,
		ingestion:  ingestion,
		logger:     logger,
	}
}

// HealthCheck reports whether the API and its storage are up
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, database, code := "healthy", "ok", http.StatusOK
	if err := h.catalog.Health(ctx); err != nil {
		h.logger.WithError(err).Warn("Health check: storage unreachable")
		status, database, code = "unhealthy", "unreachable", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":   status,
		"service":  "pricelens-backend",
		"version":  "1.0.0",
		"database": database,
	})
}

// ListProducts handles GET /productos?supermercado=&categoria=&skip=&limit=
func (h *Handler) ListProducts(c *gin.Context) {
	skip, err := intQuery(c, "skip")
	if err != nil {
		h.respondError(c, err)
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		h.respondError(c, err)
		return
	}

	products, err := h.catalog.ListProducts(c.Request.Context(), domain.ProductFilter{
		Retailer: c.Query("supermercado"),
		Category: c.Query("categoria"),
		Skip:     skip,
		Limit:    limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProductResponses(products))
}

// GetProduct handles GET /productos/:id
func (h *Handler) GetProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: id must be an integer", domain.ErrInvalidRequest))
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProductResponse(*product))
}

// SearchProducts handles GET /productos/buscar/:termino?limit=
func (h *Handler) SearchProducts(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		h.respondError(c, err)
		return
	}

	products, err := h.catalog.SearchProducts(c.Request.Context(), c.Param("termino"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProductResponses(products))
}

// ComparePrices handles GET /comparar/:termino
func (h *Handler) ComparePrices(c *gin.Context) {
	result, err := h.comparison.Compare(c.Request.Context(), c.Param("termino"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newComparisonResponse(result))
}

// ListRetailers handles GET /supermercados
func (h *Handler) ListRetailers(c *gin.Context) {
	retailers, err := h.catalog.Retailers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(retailers))
}

// ListCategories handles GET /categorias
func (h *Handler) ListCategories(c *gin.Context) {
	categories, err := h.catalog.Categories(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(categories))
}

// Statistics handles GET /estadisticas
func (h *Handler) Statistics(c *gin.Context) {
	stats, err := h.catalog.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// PushObservations handles POST /observaciones with one observation or an array.
// The batch report comes back with 200, or 503 when some observations should be sent again.
func (h *Handler) PushObservations(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPushBytes))
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
		return
	}

	raws, err := feed.DecodeObservations(body)
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
		return
	}

	report, err := h.ingestion.IngestBatch(c.Request.Context(), raws)
	if err != nil {
		h.respondError(c, err)
		return
	}

	code := http.StatusOK
	if report.HasTransientFailures() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// respondError maps domain errors onto status codes
func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		code    int
		message string
	)
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		code, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrProductNotFound):
		code, message = http.StatusNotFound, "Producto no encontrado"
	case errors.Is(err, domain.ErrNoRecentProducts):
		code, message = http.StatusNotFound, "No se encontraron productos recientes"
	case errors.Is(err, context.Canceled):
		code, message = statusClientClosedRequest, "Solicitud cancelada"
	case domain.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		code, message = http.StatusServiceUnavailable, "Servicio no disponible temporalmente"
	default:
		code, message = http.StatusInternalServerError, "Error interno"
	}

	if code >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"path":       c.Request.URL.Path,
			"request_id": c.GetString(requestIDKey),
		}).Error("Request failed")
	}
	c.JSON(code, gin.H{"error": message})
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// intQuery reads an optional integer query parameter; absent means 0
func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidRequest, name)
	}
	return n, nil
}
