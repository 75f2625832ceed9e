package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"piperoute-system/internal/domain"
	"piperoute-system/pkg/stress"

	"github.com/xuri/excelize/v2"
)

const (
	reportSheet  = "Report"
	historySheet = "History"
)

// ReportCSV renders a report as "Section,Content" rows. Each section is
// followed by a blank line and only its first row carries the title.
func ReportCSV(r domain.Report) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"Section", "Content"},
		{"Executive Summary", r.Summary},
		{},
	}
	for _, section := range r.Sections() {
		for i, item := range section.Items {
			title := ""
			if i == 0 {
				title = section.Title
			}
			rows = append(rows, []string{title, item})
		}
		rows = append(rows, []string{})
	}

	for _, row := range rows {
		if len(row) == 0 {
			buf.WriteString("\n")
			continue
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
		w.Flush()
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Workbook builds an Excel file with the report on one sheet and, when
// history is non-empty, the stress time series on a second sheet.
func (h *HistoryWriter) Workbook(r domain.Report, history []domain.SimulationRecord) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return nil, err
	}

	sw, err := f.NewStreamWriter(reportSheet)
	if err != nil {
		return nil, err
	}

	row := 1
	setRow := func(values ...interface{}) error {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		row++
		return sw.SetRow(cell, values)
	}

	if err := setRow("Section", "Content"); err != nil {
		return nil, err
	}
	if err := setRow("Executive Summary", r.Summary); err != nil {
		return nil, err
	}
	for _, section := range r.Sections() {
		for i, item := range section.Items {
			title := ""
			if i == 0 {
				title = section.Title
			}
			if err := setRow(title, item); err != nil {
				return nil, err
			}
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, err
	}

	if len(history) > 0 {
		if err := h.writeHistorySheet(f, history); err != nil {
			return nil, err
		}
	}

	return f.WriteToBuffer()
}

func (h *HistoryWriter) writeHistorySheet(f *excelize.File, history []domain.SimulationRecord) error {
	if _, err := f.NewSheet(historySheet); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(historySheet)
	if err != nil {
		return err
	}

	if err := sw.SetRow("A1", []interface{}{"Step", "Pipe ID", "Name", "Stress", "Tier"}); err != nil {
		return err
	}

	row := 2
	for _, rec := range history {
		for _, p := range rec.Pipes {
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := sw.SetRow(cell, []interface{}{
				rec.Step, p.ID, p.Name, p.Stress, string(stress.Classify(p.Stress)),
			}); err != nil {
				return fmt.Errorf("history row %d: %w", row, err)
			}
			row++
		}
	}
	return sw.Flush()
}
