package loader

import (
	"compress/gzip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
	"github.com/JustJay7/juvenile-rep-analytics/internal/fetcher"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	casesCSV = "\ufeffIDNCASE,NAT,LANG,CUSTODY,CASE_TYPE,Sex,C_BIRTHDATE,LATEST_HEARING\n" +
		"1,GT,SP,R,RMV,M,2008-05-01,2019-01-10\n" +
		"2.0,HO,SP,D,RMV,F,05/01/2009,2022-03-10 00:00:00\n" +
		"abc,XX,,,,,,\n"
	proceedingsCSV = "IDNPROCEEDING,IDNCASE,COMP_DATE,DEC_CODE\n" +
		"10,1,2019-02-01,A\n" +
		"11,2,,D\n" +
		",nan,2020-01-01,A\n"
	repsCSV      = "IDNREPSASSIGNED,IDNCASE,STRATTYLEVEL,STRATTYTYPE\n100,1,COURT,ATTY\n"
	decisionsTSV = "strCode\tstrDescription\nA\tRelief granted\nD\tRemoval ordered\n"
)

func writeGzip(path, content string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(content)); err != nil {
		return err
	}
	return gz.Close()
}

// writeFixtures writes the required tables plus representation assignments
func writeFixtures(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, writeFixturesTo(dir))
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in   string
		want *int64
	}{
		{"42", int64Ptr(42)},
		{" 7 ", int64Ptr(7)},
		{"123.0", int64Ptr(123)},
		{"12.5", nil},
		{"", nil},
		{"NaN", nil},
		{"abc", nil},
		{"1e20", nil},
		{"-1e19", nil},
		{"9.2e18", int64Ptr(9200000000000000000)},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseID(tt.in), "input %q", tt.in)
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestParseDate(t *testing.T) {
	want := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)

	for _, in := range []string{"2020-03-15", "2020-03-15 00:00:00", "03/15/2020", "3/15/2020", "15-Mar-2020", "20200315"} {
		got := ParseDate(in)
		if assert.NotNil(t, got, "input %q", in) {
			assert.True(t, want.Equal(*got), "input %q gave %v", in, got)
		}
	}

	for _, in := range []string{"", "NaT", "null", "not a date", "2020-13-45"} {
		assert.Nil(t, ParseDate(in), "input %q", in)
	}
}

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()

	assert.Len(t, m.Sources, 6)

	decisions, ok := m.Lookup(TableDecisions)
	require.True(t, ok)
	assert.Equal(t, '\t', decisions.Comma())
	assert.False(t, decisions.Gzip)
	assert.True(t, decisions.Required)

	reps, ok := m.Lookup(TableReps)
	require.True(t, ok)
	assert.False(t, reps.Required)

	assert.Len(t, m.Files(), 6)
}

func TestParseManifestRejects(t *testing.T) {
	tests := map[string]string{
		"unknown table": `
sources:
  - {table: juvenile_cases, file: a.csv, required: true}
  - {table: proceedings, file: b.csv, required: true}
  - {table: lookup_decisions, file: c.csv, required: true}
  - {table: mystery, file: d.csv}`,
		"missing file": `
sources:
  - {table: juvenile_cases, required: true}`,
		"duplicate": `
sources:
  - {table: juvenile_cases, file: a.csv, required: true}
  - {table: juvenile_cases, file: b.csv, required: true}`,
		"long delimiter": `
sources:
  - {table: juvenile_cases, file: a.csv, delimiter: "::", required: true}`,
		"optional core table": `
sources:
  - {table: juvenile_cases, file: a.csv, required: false}
  - {table: proceedings, file: b.csv, required: true}
  - {table: lookup_decisions, file: c.csv, required: true}`,
		"missing required": `
sources:
  - {table: juvenile_cases, file: a.csv, required: true}`,
		"not yaml": "sources: [",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadManifestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - {table: juvenile_cases, file: cases.csv, required: true}
  - {table: proceedings, file: procs.csv, required: true}
  - {table: lookup_decisions, file: dec.tsv, delimiter: "\t", required: true}
`), 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Len(t, m.Sources, 3)
	assert.Empty(t, m.Files())

	_, err = LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	m, err = LoadManifest("")
	require.NoError(t, err)
	assert.Len(t, m.Sources, 6)
}

func TestLoadAllFromLocalFiles(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, dir)

	raw, source, err := New(Options{DataDir: dir}, nil).LoadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SourceLocal, source)
	require.Len(t, raw.Cases, 2)
	assert.Equal(t, int64(1), raw.Cases[0].CaseID)
	assert.Equal(t, "GT", raw.Cases[0].Nationality)
	assert.Equal(t, int64(2), raw.Cases[1].CaseID)
	require.NotNil(t, raw.Cases[1].BirthDate)
	assert.Equal(t, 2009, raw.Cases[1].BirthDate.Year())

	require.Len(t, raw.Proceedings, 2)
	assert.Nil(t, raw.Proceedings[1].CompletionDate)
	assert.Equal(t, "D", raw.Proceedings[1].DecisionCode)

	require.Len(t, raw.Reps, 1)
	assert.Equal(t, "COURT", raw.Reps[0].Level)

	assert.Equal(t, []database.DecisionCode{
		{Code: "A", Description: "Relief granted"},
		{Code: "D", Description: "Removal ordered"},
	}, raw.Decisions)

	assert.NotNil(t, raw.History)
	assert.Empty(t, raw.History)
	assert.NotNil(t, raw.JuvenileLookup)
}

func TestLoadAllWithoutOptionalTables(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, dir)

	src, _ := DefaultManifest().Lookup(TableReps)
	require.NoError(t, os.Remove(filepath.Join(dir, src.File)))

	raw, _, err := New(Options{DataDir: dir}, nil).LoadAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, raw.Reps)
	assert.Empty(t, raw.Reps)
}

func TestLoadAllMissingRequiredTable(t *testing.T) {
	_, _, err := New(Options{DataDir: t.TempDir()}, nil).LoadAll(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingRequiredTable))

	var missing *MissingTableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, TableCases, missing.Table)
}

func TestLoadAllCorruptRequiredTable(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, dir)

	src, _ := DefaultManifest().Lookup(TableCases)
	require.NoError(t, os.WriteFile(filepath.Join(dir, src.File), []byte("not gzip"), 0644))

	_, _, err := New(Options{DataDir: dir}, nil).LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), TableCases)
}

func newSnapshot(t *testing.T) *database.Snapshot {
	t.Helper()

	db, err := database.Initialize(filepath.Join(t.TempDir(), "snapshot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return database.NewSnapshot(db)
}

func TestLoadAllPrefersSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFixtures(t, dir)
	snap := newSnapshot(t)

	l := New(Options{DataDir: dir, Snapshot: snap}, nil)

	_, source, err := l.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, source)

	// Raw files are gone; the snapshot written by the first load serves.
	require.NoError(t, os.RemoveAll(dir))

	raw, source, err := l.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, SourceSnapshot, source)
	assert.Len(t, raw.Cases, 2)
	assert.Len(t, raw.Reps, 1)

	run, err := snap.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.True(t, run.Success)
	assert.NotEmpty(t, run.RunID)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls []bool
	fail  bool
}

func (f *fakeFetcher) FetchAll(ctx context.Context, dir string, files []fetcher.File, force bool) (*fetcher.Report, error) {
	f.mu.Lock()
	f.calls = append(f.calls, force)
	f.mu.Unlock()

	if f.fail {
		names := make([]string, 0, len(files))
		for _, file := range files {
			names = append(names, file.Name)
		}
		return &fetcher.Report{Failed: names}, nil
	}

	report := &fetcher.Report{}
	for _, file := range files {
		report.Downloaded = append(report.Downloaded, file.Name)
	}
	return report, nil
}

func TestLoadAllFallsBackToRemote(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	ff := &fakeFetcher{}

	l := New(Options{DataDir: dir, Fetcher: writingFetcher{ff}}, nil)

	raw, source, err := l.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, source)
	assert.Len(t, raw.Cases, 2)
	assert.Equal(t, []bool{false}, ff.calls)
}

func TestLoadAllRemoteUnusable(t *testing.T) {
	l := New(Options{DataDir: t.TempDir(), Fetcher: &fakeFetcher{fail: true}}, nil)

	_, _, err := l.LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no raw files could be downloaded")
	assert.ErrorIs(t, err, ErrMissingRequiredTable)

	var missing *MissingTableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, TableCases, missing.Table)
}

func TestReloadFailedDownloadKeepsError(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, dir)

	l := New(Options{DataDir: dir, Fetcher: &fakeFetcher{fail: true}}, nil)

	_, _, err := l.Reload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no raw files could be downloaded")
	assert.NotErrorIs(t, err, ErrMissingRequiredTable)
}

func TestReloadForcesDownload(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, dir)
	ff := &fakeFetcher{}

	l := New(Options{DataDir: dir, Snapshot: newSnapshot(t), Fetcher: ff}, nil)

	_, source, err := l.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, source)
	assert.Equal(t, []bool{true}, ff.calls)
}

func TestReloadWithoutFetcherParsesLocalFiles(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, dir)

	_, source, err := New(Options{DataDir: dir}, nil).Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, source)
}

func TestStrategiesOrder(t *testing.T) {
	names := func(l *Loader) []Source {
		var out []Source
		for _, s := range l.Strategies() {
			out = append(out, s.Name())
		}
		return out
	}

	assert.Equal(t, []Source{SourceSnapshot, SourceLocal}, names(New(Options{}, nil)))
	assert.Equal(t, []Source{SourceSnapshot, SourceLocal, SourceRemote}, names(New(Options{Fetcher: &fakeFetcher{}}, nil)))
}

func TestLoadAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := New(Options{DataDir: t.TempDir()}, nil).LoadAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// writingFetcher drops the fixtures into the directory before reporting
type writingFetcher struct {
	*fakeFetcher
}

func (w writingFetcher) FetchAll(ctx context.Context, dir string, files []fetcher.File, force bool) (*fetcher.Report, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := writeFixturesTo(dir); err != nil {
		return nil, err
	}
	return w.fakeFetcher.FetchAll(ctx, dir, files, force)
}

func writeFixturesTo(dir string) error {
	m := DefaultManifest()
	for table, content := range map[string]string{
		TableCases:       casesCSV,
		TableProceedings: proceedingsCSV,
		TableReps:        repsCSV,
	} {
		src, _ := m.Lookup(table)
		if err := writeGzip(filepath.Join(dir, src.File), content); err != nil {
			return err
		}
	}
	src, _ := m.Lookup(TableDecisions)
	return os.WriteFile(filepath.Join(dir, src.File), []byte(decisionsTSV), 0644)
}
