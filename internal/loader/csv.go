package loader

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/JustJay7/juvenile-rep-analytics/internal/database"
)

const (
	TableCases          = "juvenile_cases"
	TableProceedings    = "proceedings"
	TableReps           = "reps_assigned"
	TableDecisions      = "lookup_decisions"
	TableHistory        = "juvenile_history"
	TableJuvenileLookup = "lookup_juvenile"
)

var requiredTables = []string{TableCases, TableProceedings, TableDecisions}

func isRequired(table string) bool {
	for _, t := range requiredTables {
		if t == table {
			return true
		}
	}
	return false
}

// dateLayouts are tried in order; the first that parses wins
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04",
	"02-Jan-2006",
	"20060102",
}

// nullTokens are cell values treated as missing
var nullTokens = map[string]bool{"": true, "nan": true, "nat": true, "null": true, "none": true, "n/a": true}

// ParseDate parses a date cell with the known layouts. Anything unparseable
// is missing.
func ParseDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	if nullTokens[strings.ToLower(value)] {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// ParseID parses an identifier cell. Integral floats ("123.0") are accepted.
func ParseID(value string) *int64 {
	value = strings.TrimSpace(value)
	if nullTokens[strings.ToLower(value)] {
		return nil
	}
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil
	}
	if f < -(1<<63) || f >= 1<<63 {
		return nil
	}
	n := int64(f)
	return &n
}

// row is one record with its header index
type row struct {
	index  map[string]int
	fields []string
}

func (r row) str(col string) string {
	i, ok := r.index[strings.ToLower(col)]
	if !ok || i >= len(r.fields) {
		return ""
	}
	value := strings.TrimSpace(r.fields[i])
	if nullTokens[strings.ToLower(value)] {
		return ""
	}
	return value
}

func (r row) id(col string) *int64 {
	return ParseID(r.str(col))
}

func (r row) date(col string) *time.Time {
	return ParseDate(r.str(col))
}

// decoder parses one table file and returns a setter that stores the rows
type decoder func(ctx context.Context, path string, src TableSource) (set func(*database.RawTables), n int, err error)

var decoders = map[string]decoder{
	TableCases:          decodeInto(decodeCase, func(raw *database.RawTables, rows []database.CaseRecord) { raw.Cases = rows }),
	TableProceedings:    decodeInto(decodeProceeding, func(raw *database.RawTables, rows []database.ProceedingRecord) { raw.Proceedings = rows }),
	TableReps:           decodeInto(decodeRep, func(raw *database.RawTables, rows []database.RepAssignment) { raw.Reps = rows }),
	TableDecisions:      decodeInto(decodeDecision, func(raw *database.RawTables, rows []database.DecisionCode) { raw.Decisions = rows }),
	TableHistory:        decodeInto(decodeHistory, func(raw *database.RawTables, rows []database.HistoryRecord) { raw.History = rows }),
	TableJuvenileLookup: decodeInto(decodeJuvenileLookup, func(raw *database.RawTables, rows []database.JuvenileLookup) { raw.JuvenileLookup = rows }),
}

func decodeInto[T any](decode func(row) (T, bool), set func(*database.RawTables, []T)) decoder {
	return func(ctx context.Context, path string, src TableSource) (func(*database.RawTables), int, error) {
		rows, err := readTable(ctx, path, src, decode)
		if err != nil {
			return nil, 0, err
		}
		return func(raw *database.RawTables) { set(raw, rows) }, len(rows), nil
	}
}

// readTable streams a delimited file, optionally gzipped, through decode.
// Rows decode rejects are skipped.
func readTable[T any](ctx context.Context, path string, src TableSource, decode func(row) (T, bool)) ([]T, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", src.File, err)
	}
	defer file.Close()

	var reader io.Reader = bufio.NewReaderSize(file, 1<<20)
	if src.Gzip {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", src.File, err)
		}
		defer gz.Close()
		reader = gz
	}

	r := csv.NewReader(reader)
	r.Comma = src.Comma()
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", src.File, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff")
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}

	out := []T{}
	for line := 2; ; line++ {
		if line%50000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s line %d: %w", src.File, line, err)
		}

		if value, ok := decode(row{index: index, fields: fields}); ok {
			out = append(out, value)
		}
	}

	return out, nil
}

func decodeCase(r row) (database.CaseRecord, bool) {
	id := r.id("IDNCASE")
	if id == nil {
		return database.CaseRecord{}, false
	}
	return database.CaseRecord{
		CaseID:        *id,
		Nationality:   r.str("NAT"),
		Language:      r.str("LANG"),
		Custody:       r.str("CUSTODY"),
		CaseType:      r.str("CASE_TYPE"),
		LatestCalType: r.str("LATEST_CAL_TYPE"),
		Sex:           r.str("Sex"),
		BirthDate:     r.date("C_BIRTHDATE"),
		LatestHearing: r.date("LATEST_HEARING"),
		DateOfEntry:   r.date("DATE_OF_ENTRY"),
		DateDetained:  r.date("DATE_DETAINED"),
		DateReleased:  r.date("DATE_RELEASED"),
	}, true
}

func decodeProceeding(r row) (database.ProceedingRecord, bool) {
	caseID := r.id("IDNCASE")
	if caseID == nil {
		return database.ProceedingRecord{}, false
	}
	return database.ProceedingRecord{
		ProceedingID:   r.id("IDNPROCEEDING"),
		CaseID:         *caseID,
		CompletionDate: r.date("COMP_DATE"),
		OSCDate:        r.date("OSC_DATE"),
		InputDate:      r.date("INPUT_DATE"),
		DecisionCode:   r.str("DEC_CODE"),
		Absentia:       r.str("ABSENTIA"),
		Nationality:    r.str("NAT"),
		Language:       r.str("LANG"),
		CaseType:       r.str("CASE_TYPE"),
	}, true
}

func decodeRep(r row) (database.RepAssignment, bool) {
	caseID := r.id("IDNCASE")
	if caseID == nil {
		return database.RepAssignment{}, false
	}
	return database.RepAssignment{
		RepAssignedID: r.id("IDNREPSASSIGNED"),
		CaseID:        *caseID,
		Level:         r.str("STRATTYLEVEL"),
		Type:          r.str("STRATTYTYPE"),
		E28Date:       r.date("E_28_DATE"),
		E27Date:       r.date("E_27_DATE"),
	}, true
}

func decodeDecision(r row) (database.DecisionCode, bool) {
	code := r.str("strCode")
	if code == "" {
		return database.DecisionCode{}, false
	}
	return database.DecisionCode{Code: code, Description: r.str("strDescription")}, true
}

func decodeHistory(r row) (database.HistoryRecord, bool) {
	return database.HistoryRecord{
		HistoryID:    r.id("idnJuvenileHistory"),
		CaseID:       r.id("idnCase"),
		ProceedingID: r.id("idnProceeding"),
		JuvenileCode: r.str("idnJuvenile"),
	}, true
}

func decodeJuvenileLookup(r row) (database.JuvenileLookup, bool) {
	code := r.str("idnJuvenile")
	if code == "" {
		code = r.str("strCode")
	}
	if code == "" {
		return database.JuvenileLookup{}, false
	}
	return database.JuvenileLookup{Code: code, Description: r.str("strDescription")}, true
}
