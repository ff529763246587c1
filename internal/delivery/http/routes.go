package http

import (
	"github.com/gin-gonic/gin"
	"github.com/pricelens/backend/config"
	"github.com/sirupsen/logrus"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler, logger *logrus.Logger) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(RateLimitMiddleware(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst))

	// Health check endpoint
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		productos := v1.Group("/productos")
		{
			productos.GET("", handler.ListProducts)
			productos.GET("/:id", handler.GetProduct)
			productos.GET("/buscar/:termino", handler.SearchProducts)
		}

		v1.GET("/comparar/:termino", handler.ComparePrices)
		v1.GET("/supermercados", handler.ListRetailers)
		v1.GET("/categorias", handler.ListCategories)
		v1.GET("/estadisticas", handler.Statistics)
		v1.POST("/observaciones", handler.PushObservations)
	}

	return router
}
