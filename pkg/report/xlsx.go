// Package report writes an import run summary to an XLSX workbook.
package report

import (
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"

	"github.com/ruslano69/forum-migrator/pkg/importer"
)

// Sheet names
const (
	SummarySheet     = "Summary"
	DiagnosticsSheet = "Diagnostics"
)

var summaryHeader = []string{"phase", "total", "pages", "created", "existing", "skipped", "degraded", "duration_sec", "resumed", "error"}

var diagnosticsHeader = []string{"time", "phase", "kind", "source_id", "severity", "reason"}

// Write - save run stats and diagnostics to filePath.
//
// The Summary sheet has one row per phase plus a run row on top;
// the Diagnostics sheet lists every collected skip, degrade and note.
func Write(run importer.RunStats, filePath string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return errors.Wrap(err, "create summary sheet")
	}
	if _, err := f.NewSheet(DiagnosticsSheet); err != nil {
		return errors.Wrap(err, "create diagnostics sheet")
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// Run row
	runRow := []any{"run " + run.RunID, run.StartedAt.Format(time.RFC3339), run.FinishedAt.Format(time.RFC3339), run.Duration.Seconds(), run.Error}
	if err := f.SetSheetRow(SummarySheet, "A1", &runRow); err != nil {
		return errors.Wrap(err, "write run row")
	}

	if err := writeHeader(f, SummarySheet, 2, summaryHeader, headerStyle); err != nil {
		return err
	}
	for n, p := range run.Phases {
		row := []any{p.Phase, p.Total, p.Pages, p.Created, p.Existing, p.Skipped, p.Degraded, p.Duration.Seconds(), p.Resumed, p.Error}
		if err := f.SetSheetRow(SummarySheet, "A"+strconv.Itoa(n+3), &row); err != nil {
			return errors.Wrapf(err, "write phase %s", p.Phase)
		}
	}

	if err := writeHeader(f, DiagnosticsSheet, 1, diagnosticsHeader, headerStyle); err != nil {
		return err
	}
	for n, d := range run.Diagnostics {
		row := []any{d.Time.Format(time.RFC3339), d.Phase, d.Kind, d.SourceID, string(d.Severity), d.Reason}
		if err := f.SetSheetRow(DiagnosticsSheet, "A"+strconv.Itoa(n+2), &row); err != nil {
			return errors.Wrap(err, "write diagnostic")
		}
	}

	for _, sheet := range []string{SummarySheet, DiagnosticsSheet} {
		last := columnName(len(summaryHeader))
		_ = f.SetColWidth(sheet, "A", last, 15)
	}
	_ = f.SetColWidth(DiagnosticsSheet, "F", "F", 60)

	return f.SaveAs(filePath)
}

func writeHeader(f *excelize.File, sheet string, row int, header []string, style int) error {
	for col, name := range header {
		cell := columnName(col+1) + strconv.Itoa(row)
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return errors.Wrapf(err, "write header %s", cell)
		}
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
	return nil
}

// ReadSummary - read phase rows back from a workbook written by Write
func ReadSummary(filePath string) ([]importer.PhaseStats, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "open report")
	}
	defer f.Close()

	rows, err := f.GetRows(SummarySheet)
	if err != nil {
		return nil, errors.Wrap(err, "read summary")
	}
	if len(rows) < 2 {
		return nil, errors.New("report: summary sheet has no header")
	}

	out := make([]importer.PhaseStats, 0, len(rows)-2)
	for _, r := range rows[2:] {
		if len(r) == 0 {
			continue
		}
		p := importer.PhaseStats{Phase: r[0]}
		p.Total = int(cellInt(r, 1))
		p.Pages = int(cellInt(r, 2))
		p.Created = cellInt(r, 3)
		p.Existing = cellInt(r, 4)
		p.Skipped = cellInt(r, 5)
		p.Degraded = cellInt(r, 6)
		if len(r) > 9 {
			p.Error = r[9]
		}
		out = append(out, p)
	}
	return out, nil
}

func cellInt(row []string, col int) int64 {
	if col >= len(row) {
		return 0
	}
	v, _ := strconv.ParseInt(row[col], 10, 64)
	return v
}

// columnName - convert column index to Excel column name (1 → A, 27 → AA)
func columnName(col int) string {
	name := ""
	for col > 0 {
		col--
		name = string(rune('A'+col%26)) + name
		col /= 26
	}
	return name
}
