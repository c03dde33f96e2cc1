package probe

import (
	"strconv"
	"strings"
	"time"
)

// Inferred column types.
const (
	TypeInteger   = "integer"
	TypeFloat     = "float"
	TypeBoolean   = "boolean"
	TypeDate      = "date"
	TypeTimestamp = "timestamp"
	TypeText      = "text"
)

// inferTypes picks the most specific type every non-blank value in a column
// satisfies. Columns with no values are text.
func inferTypes(headers []string, rows [][]string) []string {
	out := make([]string, len(headers))
	for col := range headers {
		out[col] = inferColumn(rows, col)
	}
	return out
}

func inferColumn(rows [][]string, col int) string {
	var seen bool
	allInt, allFloat, allBool, allDate, allTS := true, true, true, true, true

	for _, r := range rows {
		if col >= len(r) {
			continue
		}
		v := strings.TrimSpace(r[col])
		if v == "" {
			continue
		}
		seen = true

		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				allFloat = false
			}
		}
		if allBool {
			if _, ok := parseBoolLoose(v); !ok {
				allBool = false
			}
		}
		if allDate {
			if !parsesWithAny(v, dateLayouts) {
				allDate = false
			}
		}
		if allTS {
			if !parsesWithAny(v, tsLayouts) {
				allTS = false
			}
		}
	}

	switch {
	case !seen:
		return TypeText
	case allInt:
		return TypeInteger
	case allBool:
		return TypeBoolean
	case allDate:
		return TypeDate
	case allTS:
		return TypeTimestamp
	case allFloat:
		return TypeFloat
	}
	return TypeText
}

func parseBoolLoose(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "yes", "y":
		return true, true
	case "f", "false", "no", "n":
		return false, true
	}
	return false, false
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
}

var tsLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000Z07:00",
	"02.01.2006 15:04:05",
}

func parsesWithAny(s string, layouts []string) bool {
	for _, lay := range layouts {
		if _, err := time.Parse(lay, s); err == nil {
			return true
		}
	}
	return false
}
