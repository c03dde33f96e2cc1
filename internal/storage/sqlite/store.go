package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chemviz/internal/storage"
)

// Store implements storage.Store for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native timestamp type. uploaded_at is stored as fixed-width
//     UTC text so lexical order equals time order and ORDER BY works.
//   - The pool is pinned to one connection; SQLite serializes writers anyway and
//     PRAGMA foreign_keys is per connection.
type Store struct {
	db *sql.DB
}

// insertChunk caps rows per multi-row INSERT to stay under SQLite's bound
// parameter limit.
const insertChunk = 500

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: empty dsn")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

// EnsureSchema creates tables and indexes. Each statement runs separately;
// the driver does not accept several statements in one Exec.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, t := range storage.Tables() {
		stmts, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		for _, q := range stmts {
			if _, err := s.db.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("create %s: %w", t.Name, err)
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

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

const selectDataset = `SELECT id, owner_id, filename, uploaded_at, total_records,
 avg_flowrate, avg_pressure, avg_temperature FROM datasets`

func (s *Store) GetDataset(ctx context.Context, owner string, id int64) (*storage.Dataset, error) {
	row := s.db.QueryRowContext(ctx, selectDataset+` WHERE id = ? AND owner_id = ?`, id, owner)
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
	q := selectDataset + ` WHERE owner_id = ? ORDER BY uploaded_at DESC, id DESC`
	args := []any{owner}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

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
 FROM equipment_records WHERE dataset_id = ? ORDER BY id`, datasetID)
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
	return s.WithTx(ctx, func(tx storage.Tx) error {
		stx := tx.(*sqliteTx)
		var found int64
		err := stx.tx.QueryRowContext(ctx, `SELECT id FROM datasets WHERE id = ? AND owner_id = ?`, id, owner).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.DeleteDatasets(ctx, []int64{found})
		return err
	})
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) InsertDataset(ctx context.Context, d *storage.Dataset) error {
	args := storage.DatasetArgs(d)
	args[2] = formatSQLiteTime(d.UploadedAt)

	q := fmt.Sprintf(`INSERT INTO datasets (%s) VALUES (%s)`,
		joinIdentList(storage.DatasetColumns), placeholders(len(args)))
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = id
	return nil
}

// InsertRecords performs chunked multi-row inserts.
func (t *sqliteTx) InsertRecords(ctx context.Context, datasetID int64, records []storage.Record) (int64, error) {
	var total int64
	for start := 0; start < len(records); start += insertChunk {
		end := min(start+insertChunk, len(records))
		q, args := buildInsertRecordsSQL(datasetID, records[start:end])
		res, err := t.tx.ExecContext(ctx, q, args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (t *sqliteTx) ListDatasetIDs(ctx context.Context, owner string) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id FROM datasets WHERE owner_id = ? ORDER BY uploaded_at DESC, id DESC`, owner)
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

// DeleteDatasets removes child records explicitly before the parents so the
// result does not depend on foreign key enforcement being on.
func (t *sqliteTx) DeleteDatasets(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ph := placeholders(len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM equipment_records WHERE dataset_id IN (`+ph+`)`, args...); err != nil {
		return 0, err
	}
	res, err := t.tx.ExecContext(ctx, `DELETE FROM datasets WHERE id IN (`+ph+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDataset(sc scanner) (*storage.Dataset, error) {
	var (
		d               storage.Dataset
		uploaded        string
		flow, press, tp sql.NullFloat64
	)
	if err := sc.Scan(&d.ID, &d.OwnerID, &d.Filename, &uploaded, &d.TotalRecords, &flow, &press, &tp); err != nil {
		return nil, err
	}
	ts, err := parseSQLiteTime(uploaded)
	if err != nil {
		return nil, fmt.Errorf("sqlite: dataset %d uploaded_at: %w", d.ID, err)
	}
	d.UploadedAt = ts
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

func buildInsertRecordsSQL(datasetID int64, records []storage.Record) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO equipment_records (")
	b.WriteString(joinIdentList(storage.RecordColumns))
	b.WriteString(") VALUES ")

	row := "(" + placeholders(len(storage.RecordColumns)) + ")"
	args := make([]any, 0, len(records)*len(storage.RecordColumns))
	for i, r := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(row)
		args = append(args, storage.RecordArgs(datasetID, r)...)
	}
	return b.String(), args
}

// buildCreateSQL returns the CREATE TABLE statement followed by one
// CREATE INDEX statement per index.
func buildCreateSQL(t storage.TableSpec) ([]string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("table name is empty")
	}
	base, err := buildCreateTableSQL(t)
	if err != nil {
		return nil, err
	}
	out := []string{base}
	for _, ix := range t.Indexes {
		out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
			sqlIdent(ix.Name), t.Name, joinIdentList(ix.Columns)))
	}
	return out, nil
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	var parts []string

	if t.PrimaryKey != nil {
		// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the rowid and auto-generates values.
		switch strings.ToLower(strings.TrimSpace(t.PrimaryKey.Type)) {
		case "serial", "bigserial":
			parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.PrimaryKey.Name)))
		default:
			return "", fmt.Errorf("%s: unsupported primary key type %q", t.Name, t.PrimaryKey.Type)
		}
	}

	for _, c := range t.Columns {
		typ, err := mapType(c.Type)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", t.Name, c.Name, err)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), typ)
		if !c.Nullable {
			col += " NOT NULL"
		}
		// Enforcement depends on PRAGMA foreign_keys=ON.
		if c.References != "" {
			col += " REFERENCES " + c.References + " ON DELETE CASCADE"
		}
		parts = append(parts, col)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", t.Name, strings.Join(parts, ",\n  ")), nil
}

func mapType(logical string) (string, error) {
	switch logical {
	case storage.TypeText, storage.TypeTimestamp:
		return "TEXT", nil
	case storage.TypeInteger, storage.TypeBigint:
		return "INTEGER", nil
	case storage.TypeDouble:
		return "REAL", nil
	}
	return "", fmt.Errorf("unsupported column type %q", logical)
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = sqlIdent(c)
	}
	return strings.Join(out, ", ")
}

func placeholders(n int) string {
	return strings.TrimRight(strings.Repeat("?,", n), ",")
}

// sqliteTimeLayout is fixed width (always nine fractional digits) so text
// comparison in ORDER BY matches chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if layout == "2006-01-02 15:04:05" {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC(), nil
			}
			continue
		}
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
