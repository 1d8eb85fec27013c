package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
)

func TestStoreGetSet(t *testing.T) {
	s := New()

	_, found := s.Get(KeyCases)
	assert.False(t, found)

	s.Set(KeyCases, []database.CaseRecord{{CaseID: 1}})
	value, found := s.Get(KeyCases)
	assert.True(t, found)
	assert.Len(t, value, 1)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.False(t, stats.LastAccess.IsZero())
}

func TestStoreRawRoundTrip(t *testing.T) {
	s := New()
	raw := &database.RawTables{
		Cases:       []database.CaseRecord{{CaseID: 1}, {CaseID: 2}},
		Proceedings: []database.ProceedingRecord{{CaseID: 1}},
		Decisions:   []database.DecisionCode{{Code: "A"}},
	}

	s.SetRaw(raw)

	got := s.Raw()
	assert.Equal(t, raw.Cases, got.Cases)
	assert.Equal(t, raw.Proceedings, got.Proceedings)
	assert.Empty(t, got.Reps)
	assert.NotNil(t, got.History)
	assert.Equal(t, raw.Cases, s.Cases())
	assert.True(t, s.Has(KeyReps))
	assert.False(t, s.Has(KeyAnalysis))
}

func TestStoreStatsCountsEverySlot(t *testing.T) {
	s := New()
	s.SetRaw(&database.RawTables{Cases: []database.CaseRecord{{CaseID: 1}, {CaseID: 2}}})
	s.Set(KeyAnalysis, []database.AnalysisRow{{CaseID: 1}})
	s.SetLoaded(true)

	stats := s.Stats()

	assert.True(t, stats.Loaded)
	assert.Len(t, stats.Counts, len(Keys))
	assert.Equal(t, 2, stats.Counts[string(KeyCases)])
	assert.Equal(t, 1, stats.Counts[string(KeyAnalysis)])
	assert.Equal(t, 0, stats.Counts[string(KeyMerged)])
}

func TestStoreClear(t *testing.T) {
	s := New()
	s.Set(KeyAnalysis, []database.AnalysisRow{{CaseID: 1}})
	s.SetLoaded(true)
	s.Get(KeyAnalysis)

	s.Clear()

	assert.False(t, s.IsLoaded())
	assert.False(t, s.Has(KeyAnalysis))
	assert.Zero(t, s.Stats().Hits)
	assert.NotNil(t, s.Analysis())
	assert.Empty(t, s.Analysis())
}

func TestStoreWrongTypeReadsEmpty(t *testing.T) {
	s := New()
	s.Set(KeyReps, "not a table")

	assert.NotNil(t, s.Reps())
	assert.Empty(t, s.Reps())
	assert.Zero(t, s.Stats().Counts[string(KeyReps)])
}
