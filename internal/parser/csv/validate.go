// Package csv parses uploaded equipment CSVs into validated schema.Table values.
//
// Validation is a single in-memory pass over the upload. The checks run in a
// fixed order and any warnings are returned in that same order, because
// clients display them verbatim:
//
//  1. parse (header row required, no row wider than the header)
//  2. at least one data row
//  3. header normalization via schema.Normalize
//  4. all five canonical fields present
//  5. projection to the canonical fields
//  6. drop rows with missing numeric values (warning)
//  7. at least one row left
//  8. numeric coercion, failures become missing
//  9. drop rows that failed coercion (warning)
//  10. at least one row left
//  11. negative flowrate / pressure (warning, temperature is not range checked)
//  12. trim names, trim + lower-case types
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"chemviz/internal/schema"
)

// Warning texts. Downstream UIs render these verbatim.
const (
	WarnDroppedMissing    = "Dropped %d rows with missing numeric values."
	WarnDroppedNonNumeric = "Dropped %d rows with non-numeric values."
	WarnNegativeFlowrate  = "Some flowrate values are negative."
	WarnNegativePressure  = "Some pressure values are negative."
)

// naTokens are the cell values treated as "missing" before numeric coercion.
// They match the defaults of common dataframe CSV readers so files exported
// from spreadsheets and notebooks behave the same way here.
var naTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// rawRow holds the projected, still-textual cells of one data row.
// nil means the cell was absent (short row) or, for numeric cells, an NA token.
type rawRow struct {
	line  int
	cells [5]*string
}

// Validate parses raw CSV text and returns the validated table and the
// warnings collected while cleaning it.
//
// Errors:
//   - Every user-fixable problem is returned as *ValidationError.
//   - No other error types are returned.
func Validate(raw string) (*schema.Table, []string, error) {
	header, rows, err := readAll(raw)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, emptyError()
	}

	colIx, err := mapHeader(header)
	if err != nil {
		return nil, nil, err
	}

	projected := project(rows, colIx)
	var warnings []string

	// Missing numeric values.
	kept := projected[:0]
	for _, r := range projected {
		if hasMissingNumeric(r) {
			continue
		}
		kept = append(kept, r)
	}
	droppedMissing := len(projected) - len(kept)
	if droppedMissing > 0 {
		warnings = append(warnings, fmt.Sprintf(WarnDroppedMissing, droppedMissing))
	}
	if len(kept) == 0 {
		return nil, nil, noRowsError("missing values")
	}

	// Numeric coercion.
	out := make([]schema.Row, 0, len(kept))
	for _, r := range kept {
		row, ok := coerce(r)
		if !ok {
			continue
		}
		out = append(out, row)
	}
	droppedNonNumeric := len(kept) - len(out)
	if droppedNonNumeric > 0 {
		warnings = append(warnings, fmt.Sprintf(WarnDroppedNonNumeric, droppedNonNumeric))
	}
	if len(out) == 0 {
		return nil, nil, noRowsError("non-numeric values")
	}

	var negFlow, negPress bool
	for _, r := range out {
		negFlow = negFlow || r.Flowrate < 0
		negPress = negPress || r.Pressure < 0
	}
	if negFlow {
		warnings = append(warnings, WarnNegativeFlowrate)
	}
	if negPress {
		warnings = append(warnings, WarnNegativePressure)
	}

	return &schema.Table{
		Rows:              out,
		DroppedMissing:    droppedMissing,
		DroppedNonNumeric: droppedNonNumeric,
	}, warnings, nil
}

// record is one data row with the source line it started on.
type record struct {
	line   int
	fields []string
}

// readAll reads the header and every data row. Records wider than the header
// are a parse failure; narrower ones are kept and padded during projection.
func readAll(raw string) ([]string, []record, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil, parseError(fmt.Errorf("no columns to parse from file"))
	}

	cr := csv.NewReader(strings.NewReader(raw))
	cr.FieldsPerRecord = -1

	hdr, err := cr.Read()
	if err != nil {
		return nil, nil, parseError(fmt.Errorf("read header: %w", err))
	}
	if len(hdr) > 0 {
		hdr[0] = strings.TrimPrefix(hdr[0], "\uFEFF")
	}

	var rows []record
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, parseError(err)
		}
		line, _ := cr.FieldPos(0)
		if len(rec) > len(hdr) {
			return nil, nil, parseError(fmt.Errorf(
				"expected %d fields on line %d, saw %d", len(hdr), line, len(rec),
			))
		}
		rows = append(rows, record{line: line, fields: rec})
	}
	return hdr, rows, nil
}

// mapHeader returns, for each canonical field in schema.Fields order, the
// index of the source column carrying it. When several headers normalize to
// the same field, the leftmost one wins.
func mapHeader(header []string) ([5]int, error) {
	var colIx [5]int
	for i := range colIx {
		colIx[i] = -1
	}
	pos := make(map[schema.Field]int, len(schema.Fields))
	for i, f := range schema.Fields {
		pos[f] = i
	}

	for i, h := range header {
		f, ok := schema.Normalize(h)
		if !ok {
			continue
		}
		if colIx[pos[f]] < 0 {
			colIx[pos[f]] = i
		}
	}

	var missing []schema.Field
	for i, f := range schema.Fields {
		if colIx[i] < 0 {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return colIx, missingColumnsError(missing, header)
	}
	return colIx, nil
}

func project(rows []record, colIx [5]int) []rawRow {
	out := make([]rawRow, 0, len(rows))
	for _, rec := range rows {
		r := rawRow{line: rec.line}
		for t, si := range colIx {
			if si >= len(rec.fields) {
				continue
			}
			v := rec.fields[si]
			if _, na := naTokens[v]; na && t >= numericSlots[0] {
				continue
			}
			r.cells[t] = &v
		}
		out = append(out, r)
	}
	return out
}

// numericSlots are the rawRow.cells positions of flowrate, pressure, temperature.
var numericSlots = [3]int{2, 3, 4}

func hasMissingNumeric(r rawRow) bool {
	for _, i := range numericSlots {
		if r.cells[i] == nil {
			return true
		}
	}
	return false
}

func coerce(r rawRow) (schema.Row, bool) {
	var nums [3]float64
	for k, i := range numericSlots {
		f, ok := parseNumber(*r.cells[i])
		if !ok {
			return schema.Row{}, false
		}
		nums[k] = f
	}
	return schema.Row{
		Line:          r.line,
		EquipmentName: strings.TrimSpace(deref(r.cells[0])),
		EquipmentType: strings.ToLower(strings.TrimSpace(deref(r.cells[1]))),
		Flowrate:      nums[0],
		Pressure:      nums[1],
		Temperature:   nums[2],
	}, true
}

// parseNumber accepts anything strconv.ParseFloat does after trimming, except
// NaN and infinities, which would poison the aggregates.
func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
