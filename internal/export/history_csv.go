package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"

	"piperoute-system/internal/domain"
	"piperoute-system/pkg/stress"

	"go.uber.org/zap"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	ErrMixedAnalysisType = errors.New("mixed analysis types in history")
	ErrMalformedRecord   = errors.New("malformed history record")
)

var baseHeaders = []string{
	"Step", "Time", "Analysis Type", "Operating Condition",
	"Pipe ID", "Name", "Stress Level", "Material",
}

// MixedAnalysisTypeWarning marks a record exported with zero-filled
// analysis columns because its type differs from the first record's.
type MixedAnalysisTypeWarning struct {
	Step     int
	Expected stress.AnalysisType
	Got      stress.AnalysisType
}

func (w *MixedAnalysisTypeWarning) Error() string {
	return fmt.Sprintf("record at step %d has analysis type %q, expected %q", w.Step, w.Got, w.Expected)
}

func (w *MixedAnalysisTypeWarning) Unwrap() error { return ErrMixedAnalysisType }

// MalformedRecordWarning marks a record skipped because its pipes field
// was not a sequence.
type MalformedRecordWarning struct {
	Index int
	Step  int
}

func (w *MalformedRecordWarning) Error() string {
	return fmt.Sprintf("record %d (step %d) has no pipe list", w.Index, w.Step)
}

func (w *MalformedRecordWarning) Unwrap() error { return ErrMalformedRecord }

// Headers returns the CSV header row for histories of type t.
func Headers(t stress.AnalysisType) []string {
	headers := append([]string(nil), baseHeaders...)
	for _, c := range stress.Columns(t) {
		headers = append(headers, c.Header)
	}
	return headers
}

type HistoryWriter struct {
	logger *zap.Logger
}

func NewHistoryWriter(logger *zap.Logger) *HistoryWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryWriter{logger: logger}
}

// CSV renders one row per (record, pipe). Column layout follows the first
// record. Per-record problems are returned as warnings and never abort the
// export.
func (h *HistoryWriter) CSV(history []domain.SimulationRecord) (string, []error) {
	schema := stress.Pressure
	if len(history) > 0 {
		schema = history[0].AnalysisType
	}
	columns := stress.Columns(schema)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	var warnings []error

	if err := w.Write(Headers(schema)); err != nil {
		h.logger.Error("Failed to write CSV header", zap.Error(err))
	}

	for i, rec := range history {
		if rec.Pipes == nil {
			warn := &MalformedRecordWarning{Index: i, Step: rec.Step}
			warnings = append(warnings, warn)
			h.logger.Warn("Skipping malformed history record", zap.Error(warn))
			continue
		}

		mixed := rec.AnalysisType != schema
		if mixed {
			warn := &MixedAnalysisTypeWarning{Step: rec.Step, Expected: schema, Got: rec.AnalysisType}
			warnings = append(warnings, warn)
			h.logger.Warn("Zero-filling analysis columns", zap.Error(warn))
		}

		for _, p := range rec.Pipes {
			row := []string{
				strconv.Itoa(rec.Step),
				rec.Timestamp.UTC().Format(timeLayout),
				string(rec.AnalysisType),
				string(rec.OperatingCondition),
				p.ID,
				p.Name,
				FormatPercent(p.Stress),
				string(p.Material),
			}
			for _, c := range columns {
				v := 0.0
				if !mixed {
					v = p.Analysis[c.Key]
				}
				row = append(row, strconv.FormatFloat(v, 'f', 4, 64))
			}
			if err := w.Write(row); err != nil {
				h.logger.Warn("Failed to write CSV row",
					zap.Int("step", rec.Step),
					zap.String("pipe", p.ID),
					zap.Error(err))
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		h.logger.Error("CSV flush failed", zap.Error(err))
	}
	return buf.String(), warnings
}

// FormatPercent renders a stress value as a percentage with two decimals.
func FormatPercent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
}
