package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/JustJay7/juvenile-rep-analytics/internal/cache"
	"github.com/JustJay7/juvenile-rep-analytics/internal/config"
	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
	"github.com/JustJay7/juvenile-rep-analytics/internal/dataset"
	"github.com/JustJay7/juvenile-rep-analytics/internal/filter"
	"github.com/JustJay7/juvenile-rep-analytics/internal/stats"
	"github.com/JustJay7/juvenile-rep-analytics/pkg/logger"
)

const (
	serviceName    = "juvenile-immigration-api"
	serviceVersion = "1.0.0"

	defaultCountries = 10
)

// Handlers holds all HTTP handlers
type Handlers struct {
	data   *dataset.Manager
	db     *gorm.DB
	logger *logger.Logger
	cfg    *config.Config
	now    func() time.Time
}

// NewHandlers creates a new handlers instance. db is optional and only used
// by the health check.
func NewHandlers(data *dataset.Manager, db *gorm.DB, logger *logger.Logger, cfg *config.Config) *Handlers {
	return &Handlers{
		data:   data,
		db:     db,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// HealthCheck returns the health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status":      "healthy",
		"service":     serviceName,
		"version":     serviceVersion,
		"timestamp":   h.now().Format(time.RFC3339),
		"data_loaded": h.data.IsLoaded(),
	}

	if h.db != nil {
		var count int64
		resp["database"] = h.db.Model(&database.LoadRun{}).Count(&count).Error == nil
	}

	c.JSON(http.StatusOK, resp)
}

// Overview describes the whole case population with a monthly trend
func (h *Handlers) Overview(c *gin.Context) {
	if !h.ensureLoaded(c) {
		return
	}
	c.JSON(http.StatusOK, stats.BuildOverview(h.data.Cases(), h.data.Reps(), h.now()))
}

// FilteredOverview summarises the filtered analysis table
func (h *Handlers) FilteredOverview(c *gin.Context) {
	rows, spec, ok := h.filteredRows(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"filters":  spec,
		"overview": stats.BuildFilteredOverview(rows),
	})
}

// RepresentationOutcomes returns outcome counts per representation status
func (h *Handlers) RepresentationOutcomes(c *gin.Context) {
	rows, spec, ok := h.filteredRows(c)
	if !ok {
		return
	}
	ct := stats.RepresentationOutcome(rows)
	c.JSON(http.StatusOK, gin.H{
		"filters":           spec,
		"total":             ct.Total(),
		"chart":             stats.OutcomeChart(ct),
		"contingency_table": ct.Counts,
		"percentages":       ct.Percentages,
	})
}

// TimeSeries returns the representation rate per quarter (or month with
// ?bucket=month) from the configured start date to now
func (h *Handlers) TimeSeries(c *gin.Context) {
	rows, spec, ok := h.filteredRows(c)
	if !ok {
		return
	}
	window := stats.Window{Start: h.cfg.SeriesStartDate, End: h.now()}
	c.JSON(http.StatusOK, gin.H{
		"filters": spec,
		"series":  stats.RepresentationSeries(rows, stats.ParseBucket(c.Query("bucket")), window),
	})
}

// ChiSquare runs the era and outcome independence tests
func (h *Handlers) ChiSquare(c *gin.Context) {
	rows, _, ok := h.filteredRows(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, stats.ChiSquareAnalysis(rows, h.cfg.SignificanceLevel))
}

// OutcomePercentages returns the row-normalised outcome breakdown
func (h *Handlers) OutcomePercentages(c *gin.Context) {
	rows, spec, ok := h.filteredRows(c)
	if !ok {
		return
	}
	ct := stats.RepresentationOutcome(rows)
	c.JSON(http.StatusOK, gin.H{
		"filters":     spec,
		"chart":       stats.OutcomePercentChart(ct),
		"percentages": ct.Percentages,
	})
}

// Countries ranks nationalities by case volume (?limit=n, default 10)
func (h *Handlers) Countries(c *gin.Context) {
	rows, spec, ok := h.filteredRows(c)
	if !ok {
		return
	}

	limit := defaultCountries
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"filters":   spec,
		"countries": stats.Nationalities(rows, limit),
	})
}

// BasicStats returns the data page cards
func (h *Handlers) BasicStats(c *gin.Context) {
	rows, _, ok := h.filteredRows(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, stats.Basic(rows))
}

// MetaOptions lists the legal filter values
func (h *Handlers) MetaOptions(c *gin.Context) {
	if !h.ensureLoaded(c) {
		return
	}
	c.JSON(http.StatusOK, filter.OptionsFor(h.data.Analysis()))
}

// LoadData triggers a load if the dataset is not loaded yet
func (h *Handlers) LoadData(c *gin.Context) {
	if !h.ensureLoaded(c) {
		return
	}
	counts := h.data.CacheStats().Counts
	c.JSON(http.StatusOK, gin.H{
		"status":            "success",
		"message":           "Data loaded successfully",
		"cases_count":       counts[string(cache.KeyCases)],
		"proceedings_count": counts[string(cache.KeyProceedings)],
		"reps_count":        counts[string(cache.KeyReps)],
		"data_source":       h.data.Status().Source,
	})
}

// ForceReload clears the cache and reloads from the remote file host
func (h *Handlers) ForceReload(c *gin.Context) {
	if err := h.data.ForceReload(detach(c)); err != nil {
		h.fail(c, "Failed to reload data", err)
		return
	}
	counts := h.data.CacheStats().Counts
	c.JSON(http.StatusOK, gin.H{
		"status":            "success",
		"message":           "Data force-reloaded from remote source",
		"cases_count":       counts[string(cache.KeyCases)],
		"proceedings_count": counts[string(cache.KeyProceedings)],
		"reps_count":        counts[string(cache.KeyReps)],
		"analysis_count":    counts[string(cache.KeyAnalysis)],
	})
}

// DataStatus reports what is loaded without triggering a load
func (h *Handlers) DataStatus(c *gin.Context) {
	counts := h.data.CacheStats().Counts

	resp := gin.H{
		"data_loaded":            h.data.IsLoaded(),
		"cases_loaded":           h.data.Has(cache.KeyCases),
		"proceedings_loaded":     h.data.Has(cache.KeyProceedings),
		"reps_loaded":            h.data.Has(cache.KeyReps),
		"lookup_loaded":          h.data.Has(cache.KeyDecisions),
		"lookup_juvenile_loaded": h.data.Has(cache.KeyJuvenileLookup),
		"cases_count":            counts[string(cache.KeyCases)],
		"proceedings_count":      counts[string(cache.KeyProceedings)],
		"reps_count":             counts[string(cache.KeyReps)],
		"load":                   h.data.Status(),
		"downloads":              h.data.Downloads(),
	}

	run, err := h.data.LastRun(c.Request.Context())
	if err != nil {
		h.logger.Warn("Failed to read last load run", "error", err)
	}
	if run != nil {
		resp["last_run"] = run
	}

	c.JSON(http.StatusOK, resp)
}

// CacheStats returns cache statistics
func (h *Handlers) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   h.data.CacheStats(),
	})
}

// filteredRows loads the dataset if needed and applies the request's filters.
// On failure it has already written the error response.
func (h *Handlers) filteredRows(c *gin.Context) ([]database.AnalysisRow, filter.Spec, bool) {
	spec := filter.FromQuery(c.Request.URL.Query())
	if !h.ensureLoaded(c) {
		return nil, spec, false
	}
	return filter.Apply(h.data.Analysis(), spec), spec, true
}

func (h *Handlers) ensureLoaded(c *gin.Context) bool {
	if err := h.data.EnsureLoaded(detach(c)); err != nil {
		h.fail(c, "Failed to load or process data", err)
		return false
	}
	return true
}

func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": msg + ": " + err.Error(),
	})
}

// detach keeps a load running when the client that triggered it goes away
func detach(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}
