package ingest

import (
	"context"
	"fmt"

	"chemviz/internal/stats"
	"chemviz/internal/storage"
)

// Summary is a dataset with statistics recomputed from its stored records.
type Summary struct {
	Dataset    storage.Dataset  `json:"dataset"`
	Statistics stats.Statistics `json:"summary"`
}

// Detail is a dataset with its records.
type Detail struct {
	Dataset storage.Dataset  `json:"dataset"`
	Records []storage.Record `json:"records"`
}

// Summary reloads a dataset and recomputes its statistics.
// A dataset with no records yields stats.Empty().
//
// Errors:
//   - storage.ErrNotFound (possibly wrapped) if owner has no such dataset.
func (s *Service) Summary(ctx context.Context, owner string, id int64) (*Summary, error) {
	d, err := s.Detail(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return &Summary{Dataset: d.Dataset, Statistics: stats.Compute(Table(d.Records))}, nil
}

// Latest returns the summary of owner's newest dataset, or nil when the owner has none.
func (s *Service) Latest(ctx context.Context, owner string) (*Summary, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	list, err := s.store.ListDatasets(ctx, owner, 1)
	if err != nil {
		return nil, fmt.Errorf("latest dataset: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return s.Summary(ctx, owner, list[0].ID)
}

// Detail returns a dataset and its records in upload order.
func (s *Service) Detail(ctx context.Context, owner string, id int64) (*Detail, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	ds, err := s.store.GetDataset(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("dataset %d: %w", id, err)
	}
	recs, err := s.store.ListRecords(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("dataset %d records: %w", id, err)
	}
	return &Detail{Dataset: *ds, Records: recs}, nil
}

// History lists owner's retained datasets, newest first, at most RetentionLimit.
func (s *Service) History(ctx context.Context, owner string) ([]storage.Dataset, error) {
	if err := checkOwner(owner); err != nil {
		return nil, err
	}
	list, err := s.store.ListDatasets(ctx, owner, s.opts.RetentionLimit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return list, nil
}

// Delete removes one of owner's datasets with its records.
func (s *Service) Delete(ctx context.Context, owner string, id int64) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	if err := s.store.DeleteDataset(ctx, owner, id); err != nil {
		return fmt.Errorf("delete dataset %d: %w", id, err)
	}
	return nil
}
