package cache

import (
	"reflect"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
)

// Key names one dataset slot in the store
type Key string

const (
	KeyCases          Key = "juvenile_cases"
	KeyHistory        Key = "juvenile_history"
	KeyProceedings    Key = "proceedings"
	KeyReps           Key = "reps_assigned"
	KeyDecisions      Key = "lookup_decisions"
	KeyJuvenileLookup Key = "lookup_juvenile"
	KeyMerged         Key = "merged_data"
	KeyAnalysis       Key = "analysis_filtered"
)

// Keys lists every slot in reporting order
var Keys = []Key{
	KeyCases, KeyHistory, KeyProceedings, KeyReps, KeyDecisions,
	KeyJuvenileLookup, KeyMerged, KeyAnalysis,
}

type Stats struct {
	Counts     map[string]int `json:"counts"`
	Loaded     bool           `json:"data_loaded"`
	Hits       int64          `json:"hits"`
	Misses     int64          `json:"misses"`
	LastAccess time.Time      `json:"last_access"`
}

// Store holds the loaded tables and derived results for the process. Values
// never expire; Clear is the only eviction.
type Store struct {
	items  *cache.Cache
	mu     sync.RWMutex
	loaded bool
	stats  Stats
}

func New() *Store {
	return &Store{
		// A non-positive cleanup interval skips go-cache's janitor goroutine.
		items: cache.New(cache.NoExpiration, 0),
	}
}

func (s *Store) Get(key Key) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.LastAccess = time.Now()

	if value, found := s.items.Get(string(key)); found {
		s.stats.Hits++
		return value, true
	}

	s.stats.Misses++
	return nil, false
}

func (s *Store) Set(key Key, value interface{}) {
	s.items.Set(string(key), value, cache.NoExpiration)
}

func (s *Store) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func (s *Store) SetLoaded(loaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = loaded
}

// Clear empties every slot and marks the store as not loaded
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items.Flush()
	s.loaded = false
	s.stats = Stats{}
}

// Stats reports the row count of every slot; unset slots count as zero
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(Keys))
	for _, key := range Keys {
		value, _ := s.items.Get(string(key))
		counts[string(key)] = rowCount(value)
	}

	return Stats{
		Counts:     counts,
		Loaded:     s.loaded,
		Hits:       s.stats.Hits,
		Misses:     s.stats.Misses,
		LastAccess: s.stats.LastAccess,
	}
}

// Has reports whether a slot has been set, without touching hit counters
func (s *Store) Has(key Key) bool {
	_, found := s.items.Get(string(key))
	return found
}

// SetRaw stores every raw table in its slot
func (s *Store) SetRaw(raw *database.RawTables) {
	s.Set(KeyCases, raw.Cases)
	s.Set(KeyProceedings, raw.Proceedings)
	s.Set(KeyReps, raw.Reps)
	s.Set(KeyDecisions, raw.Decisions)
	s.Set(KeyHistory, raw.History)
	s.Set(KeyJuvenileLookup, raw.JuvenileLookup)
}

// Raw reassembles the raw tables; missing slots come back empty
func (s *Store) Raw() *database.RawTables {
	return &database.RawTables{
		Cases:          getSlice[database.CaseRecord](s, KeyCases),
		Proceedings:    getSlice[database.ProceedingRecord](s, KeyProceedings),
		Reps:           getSlice[database.RepAssignment](s, KeyReps),
		Decisions:      getSlice[database.DecisionCode](s, KeyDecisions),
		History:        getSlice[database.HistoryRecord](s, KeyHistory),
		JuvenileLookup: getSlice[database.JuvenileLookup](s, KeyJuvenileLookup),
	}
}

func (s *Store) Cases() []database.CaseRecord {
	return getSlice[database.CaseRecord](s, KeyCases)
}

func (s *Store) Reps() []database.RepAssignment {
	return getSlice[database.RepAssignment](s, KeyReps)
}

// Analysis returns the analysis table, or an empty one before the first load
func (s *Store) Analysis() []database.AnalysisRow {
	return getSlice[database.AnalysisRow](s, KeyAnalysis)
}

func getSlice[T any](s *Store, key Key) []T {
	value, found := s.Get(key)
	if !found {
		return []T{}
	}
	rows, ok := value.([]T)
	if !ok || rows == nil {
		return []T{}
	}
	return rows
}

func rowCount(value interface{}) int {
	if value == nil {
		return 0
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice {
		return v.Len()
	}
	return 0
}
