package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"chemviz/internal/schema"
)

// Sheet names, in workbook order.
const (
	SheetSummary = "Summary"
	SheetTypes   = "Types"
	SheetRecords = "Records"
)

// WriteWorkbook writes an .xlsx workbook with summary, type distribution and
// every record.
func WriteWorkbook(w io.Writer, in Input) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	for _, name := range []string{SheetTypes, SheetRecords} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("report: new sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("report: style: %w", err)
	}

	if err := writeSummarySheet(f, in, header); err != nil {
		return err
	}
	if err := writeTypesSheet(f, in, header); err != nil {
		return err
	}
	if err := writeRecordsSheet(f, in, header); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("report: write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, startRow int, rows [][]any) error {
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, startRow+i)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("report: %s row %d: %w", sheet, startRow+i, err)
		}
	}
	return nil
}

func boldRow(f *excelize.File, sheet string, row, cols, style int) error {
	from, _ := excelize.CoordinatesToCellName(1, row)
	to, _ := excelize.CoordinatesToCellName(cols, row)
	return f.SetCellStyle(sheet, from, to, style)
}

func writeSummarySheet(f *excelize.File, in Input, header int) error {
	d := in.Dataset
	rows := [][]any{
		{Title},
		{"Dataset", d.Filename},
		{"Uploaded", d.UploadedAt.UTC().Format("2006-01-02 15:04 UTC")},
		{"Generated", generatedAt(in).Format("2006-01-02 15:04 UTC")},
		{"Total Equipment Records", in.Statistics.Count},
		{},
		{"Parameter", "Average", "Minimum", "Maximum", "Std Dev"},
	}
	for _, field := range schema.NumericFields {
		s := in.Statistics.Column(field)
		var std any = "n/a"
		if s.Std != nil {
			std = *s.Std
		}
		rows = append(rows, []any{parameterLabels[field], s.Mean, s.Min, s.Max, std})
	}
	if err := writeRows(f, SheetSummary, 1, rows); err != nil {
		return err
	}
	if err := boldRow(f, SheetSummary, 1, 1, header); err != nil {
		return err
	}
	return boldRow(f, SheetSummary, 7, 5, header)
}

func writeTypesSheet(f *excelize.File, in Input, header int) error {
	rows := [][]any{{"Equipment Type", "Count", "Percentage"}}
	for _, ts := range TypeShares(in.Statistics.TypeDistribution) {
		rows = append(rows, []any{DisplayType(ts.Type), ts.Count, fmt.Sprintf("%.1f%%", ts.Percent)})
	}
	if err := writeRows(f, SheetTypes, 1, rows); err != nil {
		return err
	}
	return boldRow(f, SheetTypes, 1, 3, header)
}

func writeRecordsSheet(f *excelize.File, in Input, header int) error {
	rows := make([][]any, 0, len(in.Records)+1)
	rows = append(rows, []any{"Name", "Type", "Flowrate", "Pressure", "Temperature"})
	for _, r := range in.Records {
		rows = append(rows, []any{r.Name, DisplayType(r.EquipmentType), r.Flowrate, r.Pressure, r.Temperature})
	}
	if err := writeRows(f, SheetRecords, 1, rows); err != nil {
		return err
	}
	return boldRow(f, SheetRecords, 1, 5, header)
}
