package dataset

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JustJay7/juvenile-rep-analytics/internal/cache"
	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
	"github.com/JustJay7/juvenile-rep-analytics/internal/fetcher"
	"github.com/JustJay7/juvenile-rep-analytics/internal/loader"
	"github.com/JustJay7/juvenile-rep-analytics/internal/pipeline"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeLoader struct {
	raw     *database.RawTables
	source  loader.Source
	err     error
	loads   atomic.Int32
	reloads atomic.Int32
}

func (f *fakeLoader) LoadAll(ctx context.Context) (*database.RawTables, loader.Source, error) {
	f.loads.Add(1)
	if f.err != nil {
		return nil, "", f.err
	}
	if f.source != "" {
		return f.raw, f.source, nil
	}
	return f.raw, loader.SourceLocal, nil
}

func (f *fakeLoader) Reload(ctx context.Context) (*database.RawTables, loader.Source, error) {
	f.reloads.Add(1)
	if f.err != nil {
		return nil, "", f.err
	}
	return f.raw, loader.SourceRemote, nil
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func sampleRaw() *database.RawTables {
	return &database.RawTables{
		Cases: []database.CaseRecord{
			{CaseID: 1, Nationality: "GT", LatestHearing: day(2019, 1, 10)},
			{CaseID: 2, Nationality: "HO", LatestHearing: day(2022, 3, 10)},
			{CaseID: 3, Nationality: "ES", LatestHearing: day(2023, 7, 10)},
		},
		Proceedings: []database.ProceedingRecord{
			{CaseID: 1, DecisionCode: "A"},
			{CaseID: 2, DecisionCode: "D"},
			{CaseID: 3, DecisionCode: "D"},
		},
		Reps:      []database.RepAssignment{{CaseID: 1, Level: "COURT"}},
		Decisions: []database.DecisionCode{{Code: "A"}, {Code: "D"}},
	}
}

func newManager(t *testing.T, l Loader, snapshot *database.Snapshot) *Manager {
	t.Helper()

	builder := pipeline.NewBuilder(nil).WithClock(func() time.Time {
		return time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	})
	return NewManager(cache.New(), l, builder, snapshot, nil)
}

func TestEnsureLoadedLoadsOnce(t *testing.T) {
	ctx := context.Background()
	fl := &fakeLoader{raw: sampleRaw()}
	m := newManager(t, fl, nil)

	assert.False(t, m.IsLoaded())
	require.NoError(t, m.EnsureLoaded(ctx))
	require.NoError(t, m.EnsureLoaded(ctx))

	assert.Equal(t, int32(1), fl.loads.Load())
	assert.True(t, m.IsLoaded())
	assert.Len(t, m.Analysis(), 3)
	assert.Len(t, m.Cases(), 3)
	assert.Len(t, m.Reps(), 1)
	assert.True(t, m.Has(cache.KeyMerged))

	status := m.Status()
	assert.False(t, status.Loading)
	assert.Equal(t, string(loader.SourceLocal), status.Source)
	assert.Equal(t, 3, status.AnalysisRows)
	assert.NotNil(t, status.LoadedAt)
	assert.Empty(t, status.LastError)

	stats := m.CacheStats()
	assert.Equal(t, 3, stats.Counts[string(cache.KeyCases)])
	assert.Equal(t, 3, stats.Counts[string(cache.KeyAnalysis)])
}

func TestEnsureLoadedFailure(t *testing.T) {
	boom := errors.New("boom")
	m := newManager(t, &fakeLoader{err: boom}, nil)

	err := m.EnsureLoaded(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, m.IsLoaded())
	assert.Equal(t, "boom", m.Status().LastError)
	assert.Empty(t, m.Analysis())
}

func TestForceReload(t *testing.T) {
	ctx := context.Background()
	fl := &fakeLoader{raw: sampleRaw()}
	m := newManager(t, fl, nil)

	require.NoError(t, m.EnsureLoaded(ctx))

	smaller := sampleRaw()
	smaller.Cases = smaller.Cases[:1]
	fl.raw = smaller

	require.NoError(t, m.ForceReload(ctx))

	assert.Equal(t, int32(1), fl.loads.Load())
	assert.Equal(t, int32(1), fl.reloads.Load())
	assert.Len(t, m.Analysis(), 1)
	assert.Equal(t, string(loader.SourceRemote), m.Status().Source)
}

func TestForceReloadFailureLeavesStoreEmpty(t *testing.T) {
	ctx := context.Background()
	fl := &fakeLoader{raw: sampleRaw()}
	m := newManager(t, fl, nil)
	require.NoError(t, m.EnsureLoaded(ctx))

	fl.err = errors.New("host unreachable")
	require.Error(t, m.ForceReload(ctx))

	assert.False(t, m.IsLoaded())
	assert.Empty(t, m.Analysis())
}

func TestStartBackgroundLoad(t *testing.T) {
	fl := &fakeLoader{raw: sampleRaw()}
	m := newManager(t, fl, nil)

	done := m.StartBackgroundLoad(context.Background())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("background load did not finish")
	}

	_, open := <-done
	assert.False(t, open)
	assert.True(t, m.IsLoaded())
}

func newSnapshot(t *testing.T) *database.Snapshot {
	t.Helper()

	db, err := database.Initialize(filepath.Join(t.TempDir(), "snapshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return database.NewSnapshot(db)
}

func TestLoadSavesAnalysisSnapshot(t *testing.T) {
	ctx := context.Background()
	snap := newSnapshot(t)

	m := newManager(t, &fakeLoader{raw: sampleRaw()}, snap)
	require.NoError(t, m.EnsureLoaded(ctx))

	rows, err := snap.LoadAnalysis(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	run, err := m.LastRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestLastRunWithoutSnapshot(t *testing.T) {
	run, err := newManager(t, &fakeLoader{}, nil).LastRun(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, run)
}

func TestScheduler(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, &fakeLoader{raw: sampleRaw()}, nil)

	assert.NoError(t, m.StartScheduler(ctx, "", time.Minute))
	assert.Error(t, m.StartScheduler(ctx, "not a schedule", time.Minute))

	require.NoError(t, m.StartScheduler(ctx, "@every 1h", time.Minute))
	m.StopScheduler()

	// Stopping twice is harmless.
	m.StopScheduler()
}

func TestSnapshotLoadRestoresAnalysis(t *testing.T) {
	ctx := context.Background()
	snap := newSnapshot(t)

	saved := []database.AnalysisRow{
		{CaseID: 7, HasLegalRep: database.RepHas, BinaryOutcome: database.OutcomeFavorable, PolicyEra: database.EraBiden},
	}
	require.NoError(t, snap.SaveAnalysis(ctx, saved))
	require.NoError(t, snap.RecordRun(ctx, &database.LoadRun{RunID: "r1", Source: "snapshot", Success: true, StartedAt: time.Now()}))

	m := newManager(t, &fakeLoader{raw: sampleRaw(), source: loader.SourceSnapshot}, snap)
	require.NoError(t, m.EnsureLoaded(ctx))

	rows := m.Analysis()
	require.Len(t, rows, 1)
	assert.Equal(t, int64(7), rows[0].CaseID)
	assert.False(t, m.Has(cache.KeyMerged))

	run, err := m.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, 1, run.AnalysisRows)
}

func TestSnapshotLoadRebuildsWithoutSavedAnalysis(t *testing.T) {
	m := newManager(t, &fakeLoader{raw: sampleRaw(), source: loader.SourceSnapshot}, newSnapshot(t))

	require.NoError(t, m.EnsureLoaded(context.Background()))
	assert.Len(t, m.Analysis(), 3)
	assert.True(t, m.Has(cache.KeyMerged))
}

func TestForceReloadClearsSnapshot(t *testing.T) {
	ctx := context.Background()
	snap := newSnapshot(t)
	require.NoError(t, snap.SaveRaw(ctx, sampleRaw()))

	fl := &fakeLoader{raw: sampleRaw(), err: errors.New("host unreachable")}
	m := newManager(t, fl, snap)
	require.Error(t, m.ForceReload(ctx))

	_, err := snap.LoadRaw(ctx)
	assert.ErrorIs(t, err, database.ErrEmptySnapshot)
}

type fakeTracker map[string]fetcher.Status

func (f fakeTracker) Statuses() map[string]fetcher.Status { return f }

func TestDownloads(t *testing.T) {
	m := newManager(t, &fakeLoader{}, nil)
	assert.Empty(t, m.Downloads())

	m.WithDownloads(fakeTracker{"cases.csv.gz": fetcher.StatusFailed})
	assert.Equal(t, map[string]fetcher.Status{"cases.csv.gz": fetcher.StatusFailed}, m.Downloads())
}
