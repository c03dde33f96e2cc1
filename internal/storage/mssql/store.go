package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"chemviz/internal/storage"
)

// Store implements storage.Store for Microsoft SQL Server.
//
// Notes:
//   - Importing go-mssqldb registers the "sqlserver" database/sql driver.
//   - Records are written with the driver's bulk copy (mssql.CopyIn), which
//     must run on a prepared statement inside the transaction.
//   - Parameters are positional @p1..@pN.
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New opens the pool and validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(16)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases database resources held by this store.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// EnsureSchema creates tables and indexes guarded by OBJECT_ID / sys.indexes
// lookups, so it is idempotent and safe to run on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, t := range storage.Tables() {
		stmts, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		for _, q := range stmts {
			if _, err := s.db.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("mssql: create %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&msTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

const datasetSelectList = `id, owner_id, filename, uploaded_at, total_records,
 avg_flowrate, avg_pressure, avg_temperature`

func (s *Store) GetDataset(ctx context.Context, owner string, id int64) (*storage.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+datasetSelectList+` FROM [datasets] WHERE id = @p1 AND owner_id = @p2`, id, owner)
	d, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) ListDatasets(ctx context.Context, owner string, limit int) ([]storage.Dataset, error) {
	q, args := buildListDatasetsSQL(owner, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.Dataset{}
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) ListRecords(ctx context.Context, datasetID int64) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, dataset_id, name, equipment_type, flowrate, pressure, temperature
 FROM [equipment_records] WHERE dataset_id = @p1 ORDER BY id`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []storage.Record{}
	for rows.Next() {
		var r storage.Record
		if err := rows.Scan(&r.ID, &r.DatasetID, &r.Name, &r.EquipmentType, &r.Flowrate, &r.Pressure, &r.Temperature); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteDataset(ctx context.Context, owner string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM [datasets] WHERE id = @p1 AND owner_id = @p2`, id, owner)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type msTx struct {
	tx *sql.Tx
}

func (t *msTx) InsertDataset(ctx context.Context, d *storage.Dataset) error {
	return t.tx.QueryRowContext(ctx, buildInsertDatasetSQL(), storage.DatasetArgs(d)...).Scan(&d.ID)
}

// InsertRecords bulk copies rows. The final argument-less Exec flushes the
// batch and reports the row count.
func (t *msTx) InsertRecords(ctx context.Context, datasetID int64, records []storage.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	stmt, err := t.tx.PrepareContext(ctx, mssql.CopyIn(storage.RecordsTable, mssql.BulkOptions{}, storage.RecordColumns...))
	if err != nil {
		return 0, fmt.Errorf("mssql: prepare bulk copy: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, storage.RecordArgs(datasetID, r)...); err != nil {
			return 0, err
		}
	}
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *msTx) ListDatasetIDs(ctx context.Context, owner string) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id FROM [datasets] WHERE owner_id = @p1 ORDER BY uploaded_at DESC, id DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *msTx) DeleteDatasets(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	recQ, args := buildDeleteByIDsSQL(storage.RecordsTable, "dataset_id", ids)
	if _, err := t.tx.ExecContext(ctx, recQ, args...); err != nil {
		return 0, err
	}
	dsQ, _ := buildDeleteByIDsSQL(storage.DatasetsTable, "id", ids)
	res, err := t.tx.ExecContext(ctx, dsQ, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(sc rowScanner) (*storage.Dataset, error) {
	var (
		d               storage.Dataset
		flow, press, tp sql.NullFloat64
	)
	if err := sc.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.UploadedAt, &d.TotalRecords, &flow, &press, &tp); err != nil {
		return nil, err
	}
	d.UploadedAt = d.UploadedAt.UTC()
	d.AvgFlowrate = nullFloat(flow)
	d.AvgPressure = nullFloat(press)
	d.AvgTemperature = nullFloat(tp)
	return &d, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return storage.Float64Ptr(v.Float64)
}

func buildInsertDatasetSQL() string {
	ph := make([]string, len(storage.DatasetColumns))
	for i := range ph {
		ph[i] = fmt.Sprintf("@p%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.id VALUES (%s)",
		mssqlIdent(storage.DatasetsTable), joinIdentList(storage.DatasetColumns), strings.Join(ph, ", "))
}

func buildListDatasetsSQL(owner string, limit int) (string, []any) {
	top := ""
	args := []any{owner}
	if limit > 0 {
		top = "TOP (@p2) "
		args = append(args, limit)
	}
	q := `SELECT ` + top + datasetSelectList +
		` FROM [datasets] WHERE owner_id = @p1 ORDER BY uploaded_at DESC, id DESC`
	return q, args
}

func buildDeleteByIDsSQL(table, column string, ids []int64) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = fmt.Sprintf("@p%d", i+1)
		args[i] = id
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		mssqlIdent(table), mssqlIdent(column), strings.Join(ph, ", ")), args
}

// buildCreateSQL returns the guarded CREATE TABLE followed by guarded CREATE INDEX statements.
func buildCreateSQL(t storage.TableSpec) ([]string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("mssql: table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		pkDef, err := mssqlPrimaryKeyDef(*t.PrimaryKey)
		if err != nil {
			return nil, err
		}
		parts = append(parts, pkDef)
	}
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return nil, err
		}
		parts = append(parts, def)
	}

	out := []string{wrapCreateIfMissing(t.Name, strings.Join(parts, ", "))}
	for _, ix := range t.Indexes {
		out = append(out, fmt.Sprintf(
			"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s')) CREATE INDEX %s ON %s (%s);",
			ix.Name, t.Name, mssqlIdent(ix.Name), mssqlIdent(t.Name), joinIdentList(ix.Columns)))
	}
	return out, nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		tableName,
		mssqlIdent(tableName),
		innerDefs,
	)
}

// mssqlPrimaryKeyDef returns a column definition for an identity primary key.
func mssqlPrimaryKeyDef(pk storage.PrimaryKeySpec) (string, error) {
	if strings.TrimSpace(pk.Name) == "" {
		return "", fmt.Errorf("mssql: primary key name is empty")
	}
	switch strings.ToLower(strings.TrimSpace(pk.Type)) {
	case "serial", "bigserial":
		return fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	}
	return "", fmt.Errorf("mssql: unsupported primary key type %q", pk.Type)
}

// mssqlColumnDef builds a SQL Server column definition from storage.ColumnSpec.
//
// Text columns become NVARCHAR(Size) so they can be indexed; NVARCHAR(MAX) cannot.
func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}

	var typ string
	switch c.Type {
	case storage.TypeText:
		if c.Size > 0 {
			typ = fmt.Sprintf("NVARCHAR(%d)", c.Size)
		} else {
			typ = "NVARCHAR(MAX)"
		}
	case storage.TypeInteger:
		typ = "INT"
	case storage.TypeBigint:
		typ = "BIGINT"
	case storage.TypeDouble:
		typ = "FLOAT"
	case storage.TypeTimestamp:
		typ = "DATETIME2"
	default:
		return "", fmt.Errorf("mssql: column %s: unsupported type %q", c.Name, c.Type)
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if c.Nullable {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if strings.TrimSpace(c.References) != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(c.References)
		b.WriteString(" ON DELETE CASCADE")
	}
	return b.String(), nil
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func joinIdentList(columns []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = mssqlIdent(c)
	}
	return strings.Join(out, ", ")
}
