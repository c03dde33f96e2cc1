// The table specs live here so every backend builds its DDL from the same
// description without importing each other.
package storage

// Logical column types. Backends translate them into native types.
const (
	TypeText      = "text"
	TypeInteger   = "integer"
	TypeBigint    = "bigint"
	TypeDouble    = "double"
	TypeTimestamp = "timestamp"
)

// Table names.
const (
	DatasetsTable = "datasets"
	RecordsTable  = "equipment_records"
)

type TableSpec struct {
	Name       string
	PrimaryKey *PrimaryKeySpec
	Columns    []ColumnSpec
	Indexes    []IndexSpec
}

type PrimaryKeySpec struct {
	Name string
	Type string // "serial" (auto-generated 64-bit id)
}

type ColumnSpec struct {
	Name     string
	Type     string
	Size     int // max length for text columns where the backend needs one
	Nullable bool

	// References is "<table>(<column>)"; child rows are deleted with the parent.
	References string
}

type IndexSpec struct {
	Name    string
	Columns []string
}

// Tables returns the schema in creation order (parents before children).
func Tables() []TableSpec {
	return []TableSpec{
		{
			Name:       DatasetsTable,
			PrimaryKey: &PrimaryKeySpec{Name: "id", Type: "serial"},
			Columns: []ColumnSpec{
				{Name: "owner_id", Type: TypeText, Size: 150},
				{Name: "filename", Type: TypeText, Size: 255},
				{Name: "uploaded_at", Type: TypeTimestamp},
				{Name: "total_records", Type: TypeInteger},
				{Name: "avg_flowrate", Type: TypeDouble, Nullable: true},
				{Name: "avg_pressure", Type: TypeDouble, Nullable: true},
				{Name: "avg_temperature", Type: TypeDouble, Nullable: true},
			},
			Indexes: []IndexSpec{
				{Name: "ix_datasets_owner_uploaded", Columns: []string{"owner_id", "uploaded_at"}},
			},
		},
		{
			Name:       RecordsTable,
			PrimaryKey: &PrimaryKeySpec{Name: "id", Type: "serial"},
			Columns: []ColumnSpec{
				{Name: "dataset_id", Type: TypeBigint, References: DatasetsTable + "(id)"},
				{Name: "name", Type: TypeText, Size: 255},
				{Name: "equipment_type", Type: TypeText, Size: 100},
				{Name: "flowrate", Type: TypeDouble},
				{Name: "pressure", Type: TypeDouble},
				{Name: "temperature", Type: TypeDouble},
			},
			Indexes: []IndexSpec{
				{Name: "ix_records_dataset_type", Columns: []string{"dataset_id", "equipment_type"}},
			},
		},
	}
}

// DatasetColumns lists the insertable dataset columns in argument order.
var DatasetColumns = []string{
	"owner_id", "filename", "uploaded_at", "total_records",
	"avg_flowrate", "avg_pressure", "avg_temperature",
}

// RecordColumns lists the insertable record columns in argument order.
var RecordColumns = []string{
	"dataset_id", "name", "equipment_type", "flowrate", "pressure", "temperature",
}

// DatasetArgs returns d's values aligned with DatasetColumns.
func DatasetArgs(d *Dataset) []any {
	return []any{
		d.OwnerID, d.Filename, d.UploadedAt, d.TotalRecords,
		nullable(d.AvgFlowrate), nullable(d.AvgPressure), nullable(d.AvgTemperature),
	}
}

// RecordArgs returns r's values aligned with RecordColumns.
func RecordArgs(datasetID int64, r Record) []any {
	return []any{datasetID, r.Name, r.EquipmentType, r.Flowrate, r.Pressure, r.Temperature}
}

func nullable(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
