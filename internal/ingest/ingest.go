// Package ingest turns uploaded CSV text into persisted datasets.
//
// Service.Ingest is the only write path: it validates, computes statistics,
// persists the dataset and its records in one transaction, and enforces the
// per-owner retention bound in that same transaction. Reads recompute
// statistics from stored records instead of trusting the cached averages.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chemviz/internal/logging"
	"chemviz/internal/metrics"
	"chemviz/internal/parser/csv"
	"chemviz/internal/schema"
	"chemviz/internal/stats"
	"chemviz/internal/storage"
)

// DefaultRetentionLimit is the number of datasets each owner keeps.
const DefaultRetentionLimit = 5

// ErrNoOwner is returned when a call is made without an owner identity.
var ErrNoOwner = errors.New("ingest: owner is required")

// checkOwner is the single blank-owner rule for every Service method.
func checkOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return ErrNoOwner
	}
	return nil
}

// Options configures a Service. Values are read once at construction.
type Options struct {
	// RetentionLimit bounds datasets per owner. <= 0 means DefaultRetentionLimit.
	RetentionLimit int

	// Now stamps uploaded_at. Defaults to time.Now; tests pin it.
	Now func() time.Time
}

type Service struct {
	store storage.Store
	opts  Options
	log   *zap.Logger
}

// New returns a Service writing to store. log may be nil.
func New(store storage.Store, opts Options, log *zap.Logger) *Service {
	if opts.RetentionLimit <= 0 {
		opts.RetentionLimit = DefaultRetentionLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, opts: opts, log: logging.Component(log, "ingest")}
}

// RetentionLimit reports the configured bound.
func (s *Service) RetentionLimit() int { return s.opts.RetentionLimit }

// Result is what a successful ingestion returns.
type Result struct {
	Dataset    storage.Dataset  `json:"dataset"`
	Statistics stats.Statistics `json:"summary"`
	Warnings   []string         `json:"warnings"`
	Evicted    []int64          `json:"-"`
}

// Ingest validates raw, persists it for owner and enforces retention.
//
// Errors:
//   - *csv.ValidationError, unchanged, for user-fixable input. Nothing is persisted.
//   - ErrNoOwner when owner is blank.
//   - Wrapped storage errors otherwise; the transaction is rolled back.
func (s *Service) Ingest(ctx context.Context, owner, filename, raw string) (res *Result, err error) {
	start := time.Now()
	defer func() {
		status := metrics.StatusOK
		switch {
		case csv.IsValidationError(err):
			status = metrics.StatusInvalid
		case err != nil:
			status = metrics.StatusError
		}
		metrics.IncCounter(metrics.IngestTotal, 1, metrics.Labels{"status": status})
		metrics.ObserveSince(metrics.IngestDurationSeconds, start, metrics.Labels{"status": status})
	}()

	if err := checkOwner(owner); err != nil {
		return nil, err
	}

	tbl, warnings, err := csv.Validate(raw)
	if err != nil {
		return nil, err
	}
	st := stats.Compute(tbl)

	ds := storage.Dataset{
		OwnerID:        owner,
		Filename:       filename,
		UploadedAt:     s.opts.Now().UTC(),
		TotalRecords:   st.Count,
		AvgFlowrate:    storage.Float64Ptr(st.Flowrate.Mean),
		AvgPressure:    storage.Float64Ptr(st.Pressure.Mean),
		AvgTemperature: storage.Float64Ptr(st.Temperature.Mean),
	}

	var evicted []int64
	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertDataset(ctx, &ds); err != nil {
			return fmt.Errorf("insert dataset: %w", err)
		}
		n, err := tx.InsertRecords(ctx, ds.ID, Records(tbl))
		if err != nil {
			return fmt.Errorf("insert records: %w", err)
		}
		if n != int64(tbl.Len()) {
			return fmt.Errorf("insert records: wrote %d of %d rows", n, tbl.Len())
		}
		evicted, err = EnforceRetention(ctx, tx, owner, s.opts.RetentionLimit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ingest %q: %w", filename, err)
	}

	metrics.IncCounter(metrics.RecordsTotal, float64(tbl.Len()), metrics.Labels{"kind": metrics.KindAccepted})
	metrics.IncCounter(metrics.RecordsTotal, float64(tbl.DroppedMissing), metrics.Labels{"kind": metrics.KindDroppedMissing})
	metrics.IncCounter(metrics.RecordsTotal, float64(tbl.DroppedNonNumeric), metrics.Labels{"kind": metrics.KindDroppedNonNumeric})
	metrics.IncCounter(metrics.DatasetsEvictedTotal, float64(len(evicted)), nil)

	s.log.Info("dataset ingested",
		zap.String("owner", owner),
		zap.String("filename", filename),
		zap.Int64("dataset_id", ds.ID),
		zap.Int("records", st.Count),
		zap.Int("warnings", len(warnings)),
	)
	if len(evicted) > 0 {
		s.log.Info("retention evicted datasets",
			zap.String("owner", owner),
			zap.Int64s("dataset_ids", evicted),
			zap.Int("limit", s.opts.RetentionLimit),
		)
	}

	if warnings == nil {
		warnings = []string{}
	}
	return &Result{Dataset: ds, Statistics: st, Warnings: warnings, Evicted: evicted}, nil
}

// EnforceRetention deletes every dataset of owner beyond the limit newest ones.
//
// The ids to delete are materialized first and then deleted by id membership;
// some engines reject LIMIT/OFFSET subqueries inside DELETE.
//
// Returns the evicted ids, oldest last.
func EnforceRetention(ctx context.Context, tx storage.Tx, owner string, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("retention: limit must be positive, got %d", limit)
	}
	ids, err := tx.ListDatasetIDs(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("retention: list datasets: %w", err)
	}
	if len(ids) <= limit {
		return nil, nil
	}
	evict := append([]int64(nil), ids[limit:]...)
	if _, err := tx.DeleteDatasets(ctx, evict); err != nil {
		return nil, fmt.Errorf("retention: delete datasets: %w", err)
	}
	return evict, nil
}

// Records converts validated rows into storage records (dataset id unset).
func Records(t *schema.Table) []storage.Record {
	out := make([]storage.Record, 0, t.Len())
	if t == nil {
		return out
	}
	for _, r := range t.Rows {
		out = append(out, storage.Record{
			Name:          r.EquipmentName,
			EquipmentType: r.EquipmentType,
			Flowrate:      r.Flowrate,
			Pressure:      r.Pressure,
			Temperature:   r.Temperature,
		})
	}
	return out
}

// Table rebuilds a schema.Table from stored records for re-aggregation.
func Table(records []storage.Record) *schema.Table {
	rows := make([]schema.Row, len(records))
	for i, r := range records {
		rows[i] = schema.Row{
			EquipmentName: r.Name,
			EquipmentType: r.EquipmentType,
			Flowrate:      r.Flowrate,
			Pressure:      r.Pressure,
			Temperature:   r.Temperature,
		}
	}
	return &schema.Table{Rows: rows}
}
