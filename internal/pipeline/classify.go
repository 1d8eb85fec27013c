package pipeline

import (
	"time"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
)

// Decision code partitions. Codes outside both lists classify as Other.
var (
	FavorableDecisions   = []string{"A", "C", "G", "R", "S", "T"}
	UnfavorableDecisions = []string{"D", "E", "V", "X"}
	OtherDecisions       = []string{"O", "W"}
)

var (
	favorable   = toSet(FavorableDecisions)
	unfavorable = toSet(UnfavorableDecisions)
)

// Era is a named policy period covering [Start, End). A zero Start or End
// leaves that side open.
type Era struct {
	Key   string
	Label string
	Start time.Time
	End   time.Time
}

// Eras drives both the derived policy_era label and the time_period filter
var Eras = []Era{
	{Key: "trump1", Label: database.EraTrumpI, End: day(2021, 1, 1)},
	{Key: "biden", Label: database.EraBiden, Start: day(2021, 1, 1), End: day(2025, 1, 1)},
	{Key: "trump2", Label: database.EraTrumpII, Start: day(2025, 1, 1)},
}

// Contains reports whether t falls inside the era's window
func (e Era) Contains(t time.Time) bool {
	if !e.Start.IsZero() && t.Before(e.Start) {
		return false
	}
	if !e.End.IsZero() && !t.Before(e.End) {
		return false
	}
	return true
}

// ContainsAsOf is Contains for dates up to now; later dates belong to no era
func (e Era) ContainsAsOf(t, now time.Time) bool {
	return !t.After(now) && e.Contains(t)
}

// EraByKey looks up an era by its filter key
func EraByKey(key string) (Era, bool) {
	for _, era := range Eras {
		if era.Key == key {
			return era, true
		}
	}
	return Era{}, false
}

// PolicyEra labels a date. Missing dates and dates after now are "other".
func PolicyEra(date *time.Time, now time.Time) string {
	if date == nil || date.IsZero() {
		return database.EraOther
	}
	for _, era := range Eras {
		if era.ContainsAsOf(*date, now) {
			return era.Label
		}
	}
	return database.EraOther
}

// ClassifyOutcome collapses a decision code into the binary outcome labels
func ClassifyOutcome(code string) string {
	switch {
	case code == "":
		return database.OutcomeUnknown
	case favorable[code]:
		return database.OutcomeFavorable
	case unfavorable[code]:
		return database.OutcomeUnfavorable
	default:
		return database.OutcomeOther
	}
}

// RepresentationLabel maps a raw representation level to the ternary label
func RepresentationLabel(level string) string {
	switch level {
	case database.NoRepresentationLevel:
		return database.RepNone
	case "COURT", "BOARD":
		return database.RepHas
	default:
		return database.RepUnknown
	}
}

// AgeAt returns the age in fractional years (days / 365.25) on the given date
func AgeAt(birth, on *time.Time) *float64 {
	if birth == nil || on == nil {
		return nil
	}
	days := on.Sub(*birth).Hours() / 24
	// Whole days, floored, as a calendar difference would count them.
	whole := float64(int64(days))
	if days < 0 && days != whole {
		whole--
	}
	age := whole / 365.25
	return &age
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
