package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chemviz/internal/storage"
)

/*
Store implements storage.Store for Postgres.

It provides:
  - COPY-based record inserts
  - Owner-scoped reads and deletes
  - Transactional retention (ListDatasetIDs + DeleteDatasets inside one tx)
*/
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Store and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates tables and indexes idempotently in one transaction.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, t := range storage.Tables() {
		stmts, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		for _, q := range stmts {
			if _, err := tx.Exec(ctx, q); err != nil {
				return fmt.Errorf("create %s: %w", t.Name, err)
			}
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const selectDataset = `SELECT id, owner_id, filename, uploaded_at, total_records,
 avg_flowrate, avg_pressure, avg_temperature FROM datasets`

func (s *Store) GetDataset(ctx context.Context, owner string, id int64) (*storage.Dataset, error) {
	row := s.pool.QueryRow(ctx, selectDataset+` WHERE id = $1 AND owner_id = $2`, id, owner)
	d, err := scanDataset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) ListDatasets(ctx context.Context, owner string, limit int) ([]storage.Dataset, error) {
	q, args := buildListDatasetsSQL(owner, limit)
	rows, err := s.pool.Query(ctx, q, args...)
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
	rows, err := s.pool.Query(ctx, `SELECT id, dataset_id, name, equipment_type, flowrate, pressure, temperature
 FROM equipment_records WHERE dataset_id = $1 ORDER BY id`, datasetID)
	if err != nil {
		return nil, err
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Record, error) {
		var r storage.Record
		err := row.Scan(&r.ID, &r.DatasetID, &r.Name, &r.EquipmentType, &r.Flowrate, &r.Pressure, &r.Temperature)
		return r, err
	})
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []storage.Record{}
	}
	return recs, nil
}

func (s *Store) DeleteDataset(ctx context.Context, owner string, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM datasets WHERE id = $1 AND owner_id = $2`, id, owner)
	if err != nil {
		return err
	}
	// equipment_records rows go with ON DELETE CASCADE.
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertDataset(ctx context.Context, d *storage.Dataset) error {
	return t.tx.QueryRow(ctx, buildInsertDatasetSQL(), storage.DatasetArgs(d)...).Scan(&d.ID)
}

// InsertRecords streams rows with COPY.
func (t *pgTx) InsertRecords(ctx context.Context, datasetID int64, records []storage.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = storage.RecordArgs(datasetID, r)
	}
	return t.tx.CopyFrom(ctx,
		pgx.Identifier{storage.RecordsTable},
		storage.RecordColumns,
		pgx.CopyFromRows(rows),
	)
}

func (t *pgTx) ListDatasetIDs(ctx context.Context, owner string) ([]int64, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id FROM datasets WHERE owner_id = $1 ORDER BY uploaded_at DESC, id DESC`, owner)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *pgTx) DeleteDatasets(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM equipment_records WHERE dataset_id = ANY($1)`, ids); err != nil {
		return 0, err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM datasets WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanDataset(row pgx.Row) (*storage.Dataset, error) {
	var d storage.Dataset
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.UploadedAt, &d.TotalRecords,
		&d.AvgFlowrate, &d.AvgPressure, &d.AvgTemperature); err != nil {
		return nil, err
	}
	d.UploadedAt = d.UploadedAt.UTC()
	return &d, nil
}

func buildInsertDatasetSQL() string {
	ph := make([]string, len(storage.DatasetColumns))
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO datasets (%s) VALUES (%s) RETURNING id",
		joinIdentList(storage.DatasetColumns), strings.Join(ph, ", "))
}

func buildListDatasetsSQL(owner string, limit int) (string, []any) {
	q := selectDataset + ` WHERE owner_id = $1 ORDER BY uploaded_at DESC, id DESC`
	args := []any{owner}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	return q, args
}

// buildCreateSQL returns CREATE TABLE followed by its CREATE INDEX statements.
func buildCreateSQL(t storage.TableSpec) ([]string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("table name is empty")
	}

	var defs []string
	if t.PrimaryKey != nil {
		switch strings.ToLower(strings.TrimSpace(t.PrimaryKey.Type)) {
		case "serial", "bigserial":
			defs = append(defs, fmt.Sprintf("%s BIGSERIAL PRIMARY KEY", pgIdent(t.PrimaryKey.Name)))
		default:
			return nil, fmt.Errorf("%s: unsupported primary key type %q", t.Name, t.PrimaryKey.Type)
		}
	}
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}

	out := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", t.Name, strings.Join(defs, ",\n  "))}
	for _, ix := range t.Indexes {
		out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			pgIdent(ix.Name), t.Name, joinIdentList(ix.Columns)))
	}
	return out, nil
}

func buildColumnDef(c storage.ColumnSpec) (string, error) {
	var typ string
	switch c.Type {
	case storage.TypeText:
		typ = "TEXT"
	case storage.TypeInteger:
		typ = "INTEGER"
	case storage.TypeBigint:
		typ = "BIGINT"
	case storage.TypeDouble:
		typ = "DOUBLE PRECISION"
	case storage.TypeTimestamp:
		typ = "TIMESTAMPTZ"
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}

	def := pgIdent(c.Name) + " " + typ
	if !c.Nullable {
		def += " NOT NULL"
	}
	if c.References != "" {
		def += " REFERENCES " + c.References + " ON DELETE CASCADE"
	}
	return def, nil
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

func joinIdentList(columns []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}
