// Package filter applies the report filter vocabulary (time period,
// representation status, case type) to the analysis table. It never fails:
// unknown filter values fall back to "all".
package filter

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
	"github.com/JustJay7/juvenile-rep-analytics/internal/pipeline"
)

const All = "all"

const (
	Represented   = "represented"
	Unrepresented = "unrepresented"
)

// TimePeriods lists the accepted time_period values
var TimePeriods = []string{All, "trump1", "biden", "trump2"}

// RepresentationStates lists the accepted representation values
var RepresentationStates = []string{All, Represented, Unrepresented}

var (
	representedValues   = map[string]bool{"has legal representation": true, "yes": true, "y": true, "1": true, "true": true}
	unrepresentedValues = map[string]bool{"no legal representation": true, "no": true, "n": true, "0": true, "false": true}
)

// Spec is one combination of report filters
type Spec struct {
	TimePeriod     string `json:"time_period"`
	Representation string `json:"representation"`
	CaseType       string `json:"case_type"`
}

// Default selects every row
func Default() Spec {
	return Spec{TimePeriod: All, Representation: All, CaseType: All}
}

// FromQuery reads filters from query parameters, accepting snake_case and
// camelCase names
func FromQuery(q url.Values) Spec {
	tp := strings.ToLower(strings.TrimSpace(first(q, "time_period", "timePeriod")))
	rep := strings.ToLower(strings.TrimSpace(first(q, "representation")))
	ct := strings.TrimSpace(first(q, "case_type", "caseType"))
	return Normalize(Spec{TimePeriod: tp, Representation: rep, CaseType: ct})
}

// Normalize coerces unknown or empty values to "all"
func Normalize(s Spec) Spec {
	if !contains(TimePeriods, s.TimePeriod) {
		s.TimePeriod = All
	}
	if !contains(RepresentationStates, s.Representation) {
		s.Representation = All
	}
	if s.CaseType == "" || strings.EqualFold(s.CaseType, All) {
		s.CaseType = All
	}
	return s
}

// IsAll reports whether s selects every row.
func (s Spec) IsAll() bool {
	s = Normalize(s)
	return s.TimePeriod == All && s.Representation == All && s.CaseType == All
}

// Apply returns the rows matching every filter. The input is not modified.
func Apply(rows []database.AnalysisRow, s Spec) []database.AnalysisRow {
	return ApplyAsOf(rows, s, time.Now())
}

// ApplyAsOf is Apply with an explicit current time. Dates after now match no
// time period, the same rule that labels them "other".
func ApplyAsOf(rows []database.AnalysisRow, s Spec, now time.Time) []database.AnalysisRow {
	s = Normalize(s)
	out := make([]database.AnalysisRow, 0, len(rows))
	if len(rows) == 0 {
		return out
	}

	era, byTime := pipeline.EraByKey(s.TimePeriod)
	if byTime && !hasAnyDate(rows) {
		// No date to filter on: the time filter does nothing.
		byTime = false
	}

	caseType := strings.ToLower(s.CaseType)

	for _, row := range rows {
		if byTime {
			date := PickDate(row)
			if date == nil || !era.ContainsAsOf(*date, now) {
				continue
			}
		}
		if s.Representation != All {
			want := database.RepHas
			if s.Representation == Unrepresented {
				want = database.RepNone
			}
			if NormalizeRepresentation(row) != want {
				continue
			}
		}
		if s.CaseType != All && strings.ToLower(strings.TrimSpace(row.CaseType)) != caseType {
			continue
		}
		out = append(out, row)
	}
	return out
}

// PickDate returns the row's first available date, by priority: combined
// hearing date, completion date, latest hearing
func PickDate(row database.AnalysisRow) *time.Time {
	for _, d := range []*time.Time{row.CombinedDate, row.CompletionDate, row.LatestHearing} {
		if d != nil && !d.IsZero() {
			return d
		}
	}
	return nil
}

// NormalizeRepresentation reads the ternary label, falling back to the raw
// representation level when the label is missing
func NormalizeRepresentation(row database.AnalysisRow) string {
	if label := strings.ToLower(strings.TrimSpace(row.HasLegalRep)); label != "" {
		switch {
		case representedValues[label]:
			return database.RepHas
		case unrepresentedValues[label]:
			return database.RepNone
		default:
			return database.RepUnknown
		}
	}

	switch strings.ToUpper(strings.TrimSpace(row.RepresentationLevel)) {
	case "COURT", "BOARD":
		return database.RepHas
	case strings.ToUpper(database.NoRepresentationLevel):
		return database.RepNone
	default:
		return database.RepUnknown
	}
}

// Options lists the legal filter values; case types come from the data
type Options struct {
	TimePeriod     []string `json:"time_period"`
	Representation []string `json:"representation"`
	CaseType       []string `json:"case_type"`
}

func OptionsFor(rows []database.AnalysisRow) Options {
	seen := map[string]bool{}
	var caseTypes []string
	for _, row := range rows {
		ct := strings.TrimSpace(row.CaseType)
		if ct == "" || seen[ct] {
			continue
		}
		seen[ct] = true
		caseTypes = append(caseTypes, ct)
	}
	sort.Strings(caseTypes)

	return Options{
		TimePeriod:     append([]string(nil), TimePeriods...),
		Representation: append([]string(nil), RepresentationStates...),
		CaseType:       append([]string{All}, caseTypes...),
	}
}

func hasAnyDate(rows []database.AnalysisRow) bool {
	for _, row := range rows {
		if PickDate(row) != nil {
			return true
		}
	}
	return false
}

func first(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := q.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
