// Package dataset owns the loaded dataset for the process: it drives the
// loader and pipeline, fills the cache store and refreshes it on demand or
// on a schedule.
package dataset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JustJay7/juvenile-rep-analytics/internal/cache"
	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
	"github.com/JustJay7/juvenile-rep-analytics/internal/fetcher"
	"github.com/JustJay7/juvenile-rep-analytics/internal/loader"
	"github.com/JustJay7/juvenile-rep-analytics/internal/pipeline"
	"github.com/JustJay7/juvenile-rep-analytics/pkg/logger"
)

// Loader produces raw tables
type Loader interface {
	LoadAll(ctx context.Context) (*database.RawTables, loader.Source, error)
	Reload(ctx context.Context) (*database.RawTables, loader.Source, error)
}

// DownloadTracker reports per-file download state
type DownloadTracker interface {
	Statuses() map[string]fetcher.Status
}

// Status describes the most recent load
type Status struct {
	Loading      bool       `json:"loading"`
	Source       string     `json:"source,omitempty"`
	LoadedAt     *time.Time `json:"loaded_at,omitempty"`
	Duration     string     `json:"duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	AnalysisRows int        `json:"analysis_rows"`
}

// Manager is the explicit dataset context handed to every report handler.
// Concurrent loads are not serialised; the last one to finish wins.
type Manager struct {
	store    *cache.Store
	loader   Loader
	builder  *pipeline.Builder
	snapshot *database.Snapshot
	logger   *logger.Logger

	downloads DownloadTracker

	mu     sync.Mutex
	status Status
	cron   *cron.Cron
}

// NewManager wires a manager. snapshot may be nil.
func NewManager(store *cache.Store, l Loader, builder *pipeline.Builder, snapshot *database.Snapshot, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	if builder == nil {
		builder = pipeline.NewBuilder(log)
	}
	return &Manager{
		store:    store,
		loader:   l,
		builder:  builder,
		snapshot: snapshot,
		logger:   log,
	}
}

// WithDownloads exposes the download state of the remote fetcher
func (m *Manager) WithDownloads(t DownloadTracker) *Manager {
	m.downloads = t
	return m
}

// EnsureLoaded loads the dataset unless it is already in the store
func (m *Manager) EnsureLoaded(ctx context.Context) error {
	if m.store.IsLoaded() && m.store.Has(cache.KeyAnalysis) {
		return nil
	}
	return m.load(ctx, m.loader.LoadAll)
}

// ForceReload clears the store and the snapshot, re-downloads the raw files
// and reloads
func (m *Manager) ForceReload(ctx context.Context) error {
	m.logger.Info("Forcing dataset reload")
	m.store.Clear()
	if m.snapshot != nil {
		if err := m.snapshot.Clear(ctx); err != nil {
			m.logger.Warn("Failed to clear snapshot", "error", err)
		}
	}
	return m.load(ctx, m.loader.Reload)
}

// StartBackgroundLoad runs EnsureLoaded in its own goroutine. The returned
// channel receives the result and is then closed.
func (m *Manager) StartBackgroundLoad(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := m.EnsureLoaded(ctx)
		if err != nil {
			m.logger.Error("Background data load failed", "error", err)
		}
		done <- err
	}()
	return done
}

func (m *Manager) load(ctx context.Context, fetch func(context.Context) (*database.RawTables, loader.Source, error)) error {
	start := time.Now()
	m.setLoading(true)

	raw, source, err := fetch(ctx)
	if err != nil {
		m.finish(Status{Duration: time.Since(start).String(), LastError: err.Error()})
		return fmt.Errorf("failed to load data: %w", err)
	}

	m.store.SetRaw(raw)

	analysis := m.savedAnalysis(ctx, source)
	if analysis == nil {
		var merged []pipeline.MergedCase
		merged, analysis = m.builder.Build(raw)
		m.store.Set(cache.KeyMerged, merged)
		m.saveAnalysis(ctx, analysis)
	}
	m.store.Set(cache.KeyAnalysis, analysis)
	m.store.SetLoaded(true)

	if m.snapshot != nil {
		if err := m.snapshot.MarkAnalysisRows(ctx, len(analysis)); err != nil {
			m.logger.Warn("Failed to update load run", "error", err)
		}
	}

	loadedAt := time.Now()
	m.finish(Status{
		Source:       string(source),
		LoadedAt:     &loadedAt,
		Duration:     time.Since(start).String(),
		AnalysisRows: len(analysis),
	})

	m.logger.Info("Dataset ready",
		"source", source,
		"cases", len(raw.Cases),
		"analysis_rows", len(analysis),
		"duration", time.Since(start).String(),
	)
	return nil
}

// savedAnalysis returns the analysis table stored next to a snapshot load,
// or nil when it has to be rebuilt
func (m *Manager) savedAnalysis(ctx context.Context, source loader.Source) []database.AnalysisRow {
	if m.snapshot == nil || source != loader.SourceSnapshot {
		return nil
	}
	rows, err := m.snapshot.LoadAnalysis(ctx)
	if err != nil {
		m.logger.Warn("Failed to read analysis snapshot, rebuilding", "error", err)
		return nil
	}
	if len(rows) == 0 {
		return nil
	}
	m.logger.Info("Analysis table restored from snapshot", "rows", len(rows))
	return rows
}

func (m *Manager) saveAnalysis(ctx context.Context, analysis []database.AnalysisRow) {
	if m.snapshot == nil {
		return
	}
	if err := m.snapshot.SaveAnalysis(ctx, analysis); err != nil {
		m.logger.Warn("Failed to save analysis snapshot", "error", err)
	}
}

func (m *Manager) setLoading(loading bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Loading = loading
}

func (m *Manager) finish(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

// Status returns the outcome of the most recent load
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsLoaded reports whether a dataset is in the store
func (m *Manager) IsLoaded() bool {
	return m.store.IsLoaded()
}

// Analysis returns the current analysis table. Callers keep the slice for the
// whole request; a reload swaps in a new slice rather than mutating it.
func (m *Manager) Analysis() []database.AnalysisRow {
	return m.store.Analysis()
}

func (m *Manager) Cases() []database.CaseRecord {
	return m.store.Cases()
}

func (m *Manager) Reps() []database.RepAssignment {
	return m.store.Reps()
}

func (m *Manager) CacheStats() cache.Stats {
	return m.store.Stats()
}

// Downloads returns the per-file state of the remote fetcher, empty when
// none is configured
func (m *Manager) Downloads() map[string]fetcher.Status {
	if m.downloads == nil {
		return map[string]fetcher.Status{}
	}
	return m.downloads.Statuses()
}

// Has reports whether a table slot is populated
func (m *Manager) Has(key cache.Key) bool {
	return m.store.Has(key)
}

// LastRun returns the most recent recorded load attempt, if a snapshot is
// configured
func (m *Manager) LastRun(ctx context.Context) (*database.LoadRun, error) {
	if m.snapshot == nil {
		return nil, nil
	}
	return m.snapshot.LastRun(ctx)
}

// StartScheduler reloads the dataset on the given cron schedule. An empty
// schedule disables it.
func (m *Manager) StartScheduler(ctx context.Context, schedule string, timeout time.Duration) error {
	if schedule == "" {
		return nil
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(m.logger))))
	_, err := c.AddFunc(schedule, func() {
		rctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := m.ForceReload(rctx); err != nil {
			m.logger.Error("Scheduled reload failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()

	c.Start()
	m.logger.Info("Refresh scheduler started", "schedule", schedule)
	return nil
}

// StopScheduler stops the scheduler and waits for a running reload
func (m *Manager) StopScheduler() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}
