package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/JustJay7/juvenile-rep-analytics/internal/config"
	"github.com/JustJay7/juvenile-rep-analytics/internal/dataset"
	"github.com/JustJay7/juvenile-rep-analytics/pkg/logger"
)

// SetupRoutes configures all application routes
func SetupRoutes(router *gin.Engine, data *dataset.Manager, db *gorm.DB, logger *logger.Logger, cfg *config.Config) {
	h := NewHandlers(data, db, logger, cfg)

	router.GET("/health", h.HealthCheck)

	api := router.Group("/api")
	{
		api.GET("/health", h.HealthCheck)

		// Overview
		api.GET("/overview", h.Overview)
		api.GET("/overview/filtered", h.FilteredOverview)

		// Findings
		findings := api.Group("/findings")
		findings.GET("/representation-outcomes", h.RepresentationOutcomes)
		findings.GET("/time-series", h.TimeSeries)
		findings.GET("/chi-square", h.ChiSquare)
		findings.GET("/outcome-percentages", h.OutcomePercentages)
		findings.GET("/countries", h.Countries)

		api.GET("/data/basic-stats", h.BasicStats)
		api.GET("/meta/options", h.MetaOptions)

		// Dataset lifecycle
		api.POST("/load-data", h.LoadData)
		api.POST("/force-reload-data", h.ForceReload)
		api.GET("/data-status", h.DataStatus)
		api.GET("/cache/stats", h.CacheStats)
	}
}
