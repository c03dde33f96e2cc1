// Package probe inspects a CSV sample before it is ingested.
//
// Inspect reports how each header maps to a canonical field, a coarse type
// per column and which required fields are absent. It is best-effort: rows
// with the wrong field count are counted and skipped, never fatal.
package probe

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"chemviz/internal/schema"
)

// DefaultMaxBytes bounds the sample read from the start of a file.
const DefaultMaxBytes = 1 << 20

// distinctCap bounds distinct-value tracking per column.
const distinctCap = 10000

type Options struct {
	// MaxBytes to sample from the start of the input. <= 0 means DefaultMaxBytes.
	MaxBytes int
	// Delimiter (single rune). Zero means ','.
	Delimiter rune
}

// Column describes one source column.
type Column struct {
	Header string
	// Field is the canonical field the header maps to, or "" when unmapped.
	Field schema.Field
	// Shadowed is set when an earlier header already mapped to Field; the
	// validator ignores this column.
	Shadowed bool
	Type     string
	Blank    int
	Distinct int
	Capped   bool
}

type Report struct {
	Columns     []Column
	SampleRows  int
	SkippedRows int
	Truncated   bool
	Missing     []schema.Field
}

// OK reports whether every required field is present.
func (r Report) OK() bool { return len(r.Missing) == 0 }

// Inspect reads up to opt.MaxBytes of r and reports on it.
func Inspect(r io.Reader, opt Options) (Report, error) {
	max := opt.MaxBytes
	if max <= 0 {
		max = DefaultMaxBytes
	}
	delim := opt.Delimiter
	if delim == 0 {
		delim = ','
	}

	buf, err := io.ReadAll(io.LimitReader(r, int64(max)+1))
	if err != nil {
		return Report{}, fmt.Errorf("probe: read: %w", err)
	}
	truncated := len(buf) > max
	if truncated {
		buf = cutToLastNewline(buf[:max])
	}

	headers, rows, skipped, err := readCSVSample(buf, delim)
	if err != nil {
		return Report{}, fmt.Errorf("probe: %w", err)
	}
	if len(headers) == 0 {
		return Report{}, errors.New("probe: no header row")
	}

	rep := Report{
		SampleRows:  len(rows),
		SkippedRows: skipped,
		Truncated:   truncated,
		Columns:     make([]Column, len(headers)),
	}

	types := inferTypes(headers, rows)
	seen := make(map[schema.Field]bool, len(schema.Fields))
	for i, h := range headers {
		c := Column{Header: h, Type: types[i]}
		if f, ok := schema.Normalize(h); ok {
			c.Field = f
			c.Shadowed = seen[f]
			seen[f] = true
		}
		c.Blank, c.Distinct, c.Capped = columnCounts(rows, i)
		rep.Columns[i] = c
	}
	for _, f := range schema.Fields {
		if !seen[f] {
			rep.Missing = append(rep.Missing, f)
		}
	}
	return rep, nil
}

// Render writes the report as an aligned table.
func (r Report) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "sample_rows=%d skipped_rows=%d truncated=%t\n", r.SampleRows, r.SkippedRows, r.Truncated)
	fmt.Fprintln(tw, "HEADER\tFIELD\tTYPE\tBLANK\tDISTINCT")
	for _, c := range r.Columns {
		field := string(c.Field)
		switch {
		case field == "":
			field = "-"
		case c.Shadowed:
			field += " (ignored)"
		}
		distinct := fmt.Sprint(c.Distinct)
		if c.Capped {
			distinct = ">=" + distinct
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", c.Header, field, c.Type, c.Blank, distinct)
	}
	if len(r.Missing) > 0 {
		names := make([]string, len(r.Missing))
		for i, f := range r.Missing {
			names[i] = string(f)
		}
		fmt.Fprintf(tw, "missing: %s\n", strings.Join(names, ", "))
	}
	return tw.Flush()
}

// readCSVSample parses a header and the data rows. Records with the wrong
// field count are skipped and counted.
func readCSVSample(data []byte, delimiter rune) ([]string, [][]string, int, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, 0, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	headers, err := r.Read()
	if err != nil {
		return nil, nil, 0, err
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	var rows [][]string
	skipped := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return headers, rows, skipped, err
		}
		if len(rec) != len(headers) {
			skipped++
			continue
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
	return headers, rows, skipped, nil
}

func cutToLastNewline(b []byte) []byte {
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		return b[:i+1]
	}
	return b
}

func columnCounts(rows [][]string, col int) (blank, distinct int, capped bool) {
	set := make(map[string]struct{})
	for _, r := range rows {
		v := r[col]
		if v == "" {
			blank++
			continue
		}
		if capped {
			continue
		}
		set[v] = struct{}{}
		if len(set) >= distinctCap {
			capped = true
		}
	}
	return blank, len(set), capped
}
