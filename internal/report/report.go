// Package report renders a dataset and its statistics as downloadable files.
//
// Two formats are produced: an Excel workbook (WriteWorkbook) and a
// self-contained HTML page with charts (WriteHTML). Both take the same Input
// and neither touches storage.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"chemviz/internal/schema"
	"chemviz/internal/stats"
	"chemviz/internal/storage"
)

// Title heads every report.
const Title = "Chemical Equipment Parameter Analysis Report"

// Formats.
const (
	FormatXLSX = "xlsx"
	FormatHTML = "html"
)

// Input is everything a report shows.
type Input struct {
	Dataset    storage.Dataset
	Statistics stats.Statistics
	Records    []storage.Record
	Generated  time.Time
}

// ContentType returns the MIME type for a format, or "" if unsupported.
func ContentType(format string) string {
	switch format {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return ""
}

// Filename returns equipment_report_<name>_<id>.<ext> where name is the
// upload's filename with spaces and slashes replaced and ".csv" removed.
func Filename(d storage.Dataset, ext string) string {
	safe := strings.NewReplacer(" ", "_", ".csv", "", "/", "_", "\\", "_", `"`, "").Replace(d.Filename)
	return fmt.Sprintf("equipment_report_%s_%d.%s", safe, d.ID, ext)
}

// TypeShare is one row of the type distribution table.
type TypeShare struct {
	Type    string
	Count   int
	Percent float64
}

// TypeShares orders the distribution by count descending, then type name.
func TypeShares(dist map[string]int) []TypeShare {
	total := 0
	for _, n := range dist {
		total += n
	}
	out := make([]TypeShare, 0, len(dist))
	for t, n := range dist {
		pct := 0.0
		if total > 0 {
			pct = float64(n) / float64(total) * 100
		}
		out = append(out, TypeShare{Type: t, Count: n, Percent: pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

var titleCaser = cases.Title(language.English)

// DisplayType title-cases a stored (lower-case) equipment type.
func DisplayType(t string) string {
	return titleCaser.String(t)
}

// parameterLabels are the row labels of the statistics table.
var parameterLabels = map[schema.Field]string{
	schema.Flowrate:    "Flowrate",
	schema.Pressure:    "Pressure",
	schema.Temperature: "Temperature",
}

func generatedAt(in Input) time.Time {
	if in.Generated.IsZero() {
		return time.Now().UTC()
	}
	return in.Generated.UTC()
}
