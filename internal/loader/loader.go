// Package loader produces the raw tables from the first source that can
// supply them: the SQLite snapshot, raw files in the data directory, or the
// remote file host.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
	"github.com/JustJay7/juvenile-rep-analytics/internal/fetcher"
	"github.com/JustJay7/juvenile-rep-analytics/pkg/logger"
)

// Source names where a load came from
type Source string

const (
	SourceSnapshot Source = "snapshot"
	SourceLocal    Source = "local"
	SourceRemote   Source = "remote"
)

// ErrMissingRequiredTable is matched by every *MissingTableError
var ErrMissingRequiredTable = errors.New("required table missing")

// ErrNoSnapshot means no snapshot store is configured
var ErrNoSnapshot = errors.New("no snapshot configured")

// MissingTableError reports a required table with no file to load from
type MissingTableError struct {
	Table string
	Path  string
}

func (e *MissingTableError) Error() string {
	return fmt.Sprintf("required table %s missing: %s not found", e.Table, e.Path)
}

func (e *MissingTableError) Is(target error) bool {
	return target == ErrMissingRequiredTable
}

// Fetcher downloads raw files into a directory
type Fetcher interface {
	FetchAll(ctx context.Context, dir string, files []fetcher.File, force bool) (*fetcher.Report, error)
}

// Strategy is one way of producing the raw tables
type Strategy interface {
	Name() Source
	Load(ctx context.Context) (*database.RawTables, error)
}

// Options configures a Loader. Snapshot and Fetcher are optional.
type Options struct {
	DataDir  string
	Manifest *Manifest
	Snapshot *database.Snapshot
	Fetcher  Fetcher
}

// Loader runs the strategy chain
type Loader struct {
	dir        string
	manifest   *Manifest
	snapshot   *database.Snapshot
	fetcher    Fetcher
	logger     *logger.Logger
	strategies []Strategy
}

func New(opts Options, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.Manifest == nil {
		opts.Manifest = DefaultManifest()
	}

	l := &Loader{
		dir:      opts.DataDir,
		manifest: opts.Manifest,
		snapshot: opts.Snapshot,
		fetcher:  opts.Fetcher,
		logger:   log,
	}

	l.strategies = []Strategy{&snapshotStrategy{l}, &localStrategy{l}}
	if l.fetcher != nil {
		l.strategies = append(l.strategies, &remoteStrategy{loader: l})
	}
	return l
}

// Strategies returns the chain in the order it is tried
func (l *Loader) Strategies() []Strategy {
	return l.strategies
}

// LoadAll returns the tables from the first strategy that succeeds. When
// every strategy fails the last error is returned.
func (l *Loader) LoadAll(ctx context.Context) (*database.RawTables, Source, error) {
	return l.run(ctx, l.strategies)
}

// Reload skips the snapshot and re-downloads every raw file before parsing
func (l *Loader) Reload(ctx context.Context) (*database.RawTables, Source, error) {
	if l.fetcher == nil {
		return l.run(ctx, []Strategy{&localStrategy{l}})
	}
	return l.run(ctx, []Strategy{&remoteStrategy{loader: l, force: true}})
}

func (l *Loader) run(ctx context.Context, strategies []Strategy) (*database.RawTables, Source, error) {
	runID := uuid.New().String()
	start := time.Now()

	var lastErr error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		l.logger.Info("Loading raw tables", "run_id", runID, "source", s.Name())
		raw, err := s.Load(ctx)
		if err != nil {
			l.logger.Warn("Load strategy failed", "run_id", runID, "source", s.Name(), "error", err)
			lastErr = err
			continue
		}

		l.logger.Info("Raw tables loaded",
			"run_id", runID,
			"source", s.Name(),
			"counts", raw.Counts(),
			"duration", time.Since(start).String(),
		)

		if s.Name() != SourceSnapshot {
			l.persist(ctx, raw)
		}
		l.record(ctx, runID, s.Name(), raw, start, nil)
		return raw, s.Name(), nil
	}

	if lastErr == nil {
		lastErr = errors.New("no load strategy configured")
	}
	l.record(ctx, runID, "", nil, start, lastErr)
	return nil, "", fmt.Errorf("failed to load raw tables: %w", lastErr)
}

// ParseDir parses every table in the manifest from the data directory.
// Required tables must exist; optional tables load empty when absent.
func (l *Loader) ParseDir(ctx context.Context) (*database.RawTables, error) {
	for _, src := range l.manifest.Sources {
		if !src.Required {
			continue
		}
		path := filepath.Join(l.dir, src.File)
		if _, err := os.Stat(path); err != nil {
			return nil, &MissingTableError{Table: src.Table, Path: path}
		}
	}

	raw := &database.RawTables{
		Reps:           []database.RepAssignment{},
		History:        []database.HistoryRecord{},
		JuvenileLookup: []database.JuvenileLookup{},
	}
	setters := make([]func(*database.RawTables), len(l.manifest.Sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range l.manifest.Sources {
		i, src := i, src
		path := filepath.Join(l.dir, src.File)

		if _, err := os.Stat(path); err != nil {
			l.logger.Info("Optional table not found, using empty table", "table", src.Table, "file", src.File)
			continue
		}

		g.Go(func() error {
			set, n, err := decoders[src.Table](gctx, path, src)
			if err != nil {
				if src.Required {
					return fmt.Errorf("failed to parse %s: %w", src.Table, err)
				}
				l.logger.Warn("Optional table could not be parsed, using empty table", "table", src.Table, "error", err)
				return nil
			}
			l.logger.Debug("Parsed table", "table", src.Table, "rows", n)
			setters[i] = set
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, set := range setters {
		if set != nil {
			set(raw)
		}
	}
	return raw, nil
}

func (l *Loader) persist(ctx context.Context, raw *database.RawTables) {
	if l.snapshot == nil {
		return
	}
	if err := l.snapshot.SaveRaw(ctx, raw); err != nil {
		l.logger.Warn("Failed to save snapshot", "error", err)
	}
}

func (l *Loader) record(ctx context.Context, runID string, source Source, raw *database.RawTables, start time.Time, loadErr error) {
	if l.snapshot == nil {
		return
	}

	run := &database.LoadRun{
		RunID:     runID,
		Source:    string(source),
		Success:   loadErr == nil,
		StartedAt: start,
		Duration:  time.Since(start).String(),
	}
	if loadErr != nil {
		run.ErrorMessage = loadErr.Error()
	}
	if raw != nil {
		run.Cases = len(raw.Cases)
		run.Proceedings = len(raw.Proceedings)
		run.Reps = len(raw.Reps)
	}

	if err := l.snapshot.RecordRun(ctx, run); err != nil {
		l.logger.Warn("Failed to record load run", "run_id", runID, "error", err)
	}
}

type snapshotStrategy struct{ *Loader }

func (s *snapshotStrategy) Name() Source { return SourceSnapshot }

func (s *snapshotStrategy) Load(ctx context.Context) (*database.RawTables, error) {
	if s.snapshot == nil {
		return nil, ErrNoSnapshot
	}
	return s.snapshot.LoadRaw(ctx)
}

type localStrategy struct{ *Loader }

func (s *localStrategy) Name() Source { return SourceLocal }

func (s *localStrategy) Load(ctx context.Context) (*database.RawTables, error) {
	return s.ParseDir(ctx)
}

type remoteStrategy struct {
	loader *Loader
	force  bool
}

func (s *remoteStrategy) Name() Source { return SourceRemote }

func (s *remoteStrategy) Load(ctx context.Context) (*database.RawTables, error) {
	report, err := s.loader.fetcher.FetchAll(ctx, s.loader.dir, s.loader.manifest.Files(), s.force)
	if err != nil {
		return nil, err
	}
	if report.Usable() {
		return s.loader.ParseDir(ctx)
	}

	downloadErr := fmt.Errorf("no raw files could be downloaded: %v", report.Failed)
	raw, err := s.loader.ParseDir(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", downloadErr, err)
	}
	if s.force {
		return nil, downloadErr
	}
	return raw, nil
}
