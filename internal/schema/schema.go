// Package schema defines the canonical equipment columns and the header alias
// table used to map arbitrary CSV headers onto them.
//
// The alias table is part of the upload contract: clients render it in help
// text, so entries are only ever added, never renamed.
package schema

import "strings"

// Field is one of the five canonical column names.
type Field string

const (
	EquipmentName Field = "equipment_name"
	EquipmentType Field = "equipment_type"
	Flowrate      Field = "flowrate"
	Pressure      Field = "pressure"
	Temperature   Field = "temperature"
)

// Fields lists the canonical fields in output order.
var Fields = []Field{EquipmentName, EquipmentType, Flowrate, Pressure, Temperature}

// NumericFields lists the fields that must coerce to finite numbers.
var NumericFields = []Field{Flowrate, Pressure, Temperature}

// aliases maps a lower-cased, trimmed header onto its canonical field.
var aliases = map[string]Field{
	"equipment name": EquipmentName,
	"equipment_name": EquipmentName,
	"name":           EquipmentName,
	"equipmentname":  EquipmentName,

	"equipment type": EquipmentType,
	"equipment_type": EquipmentType,
	"type":           EquipmentType,
	"equipmenttype":  EquipmentType,

	"flowrate":  Flowrate,
	"flow_rate": Flowrate,
	"flow rate": Flowrate,
	"flow":      Flowrate,

	"pressure": Pressure,
	"press":    Pressure,

	"temperature": Temperature,
	"temp":        Temperature,
}

// Normalize returns the canonical field a raw header denotes.
//
// Matching is exact after trimming surrounding whitespace and lower-casing.
// There is no fuzzy or partial matching: "flow-rate" and "temperature (c)"
// are not recognized.
func Normalize(header string) (Field, bool) {
	f, ok := aliases[strings.ToLower(strings.TrimSpace(header))]
	return f, ok
}

// Aliases returns the accepted header spellings for a field, sorted as they
// appear in the alias table's documentation order.
func Aliases(f Field) []string {
	var out []string
	for _, a := range aliasOrder {
		if aliases[a] == f {
			out = append(out, a)
		}
	}
	return out
}

var aliasOrder = []string{
	"equipment name", "equipment_name", "name", "equipmentname",
	"equipment type", "equipment_type", "type", "equipmenttype",
	"flowrate", "flow_rate", "flow rate", "flow",
	"pressure", "press",
	"temperature", "temp",
}

// Row is one validated equipment row.
type Row struct {
	// Line is the 1-based physical record number in the source CSV
	// (the header is line 1).
	Line int

	EquipmentName string
	EquipmentType string
	Flowrate      float64
	Pressure      float64
	Temperature   float64
}

// Value returns the numeric value of f. It panics for non-numeric fields.
func (r Row) Value(f Field) float64 {
	switch f {
	case Flowrate:
		return r.Flowrate
	case Pressure:
		return r.Pressure
	case Temperature:
		return r.Temperature
	}
	panic("schema: Value called with non-numeric field " + string(f))
}

// Table is a validated, column-projected set of rows.
type Table struct {
	Rows []Row

	// Rows removed during cleaning, by reason.
	DroppedMissing    int
	DroppedNonNumeric int
}

// Len reports the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}
