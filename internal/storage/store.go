package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a dataset does not exist or belongs to another owner.
// Callers cannot distinguish the two cases on purpose.
var ErrNotFound = errors.New("storage: dataset not found")

// Dataset is one persisted CSV upload.
//
// The average fields are nil only when TotalRecords is 0.
type Dataset struct {
	ID             int64     `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Filename       string    `json:"filename"`
	UploadedAt     time.Time `json:"uploaded_at"`
	TotalRecords   int       `json:"total_records"`
	AvgFlowrate    *float64  `json:"avg_flowrate"`
	AvgPressure    *float64  `json:"avg_pressure"`
	AvgTemperature *float64  `json:"avg_temperature"`
}

// Record is one validated equipment row belonging to a Dataset.
type Record struct {
	ID            int64   `json:"id"`
	DatasetID     int64   `json:"dataset_id"`
	Name          string  `json:"equipment_name"`
	EquipmentType string  `json:"equipment_type"`
	Flowrate      float64 `json:"flowrate"`
	Pressure      float64 `json:"pressure"`
	Temperature   float64 `json:"temperature"`
}

// Config is the minimal configuration needed to open a Store.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Store is the backend-agnostic persistence interface for datasets and records.
//
// Every read or delete that takes an owner filters by it; a dataset owned by
// someone else is reported as ErrNotFound.
type Store interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// EnsureSchema creates the tables and indexes described by Tables() if
	// they do not exist. Safe to run on every start.
	EnsureSchema(ctx context.Context) error

	// WithTx runs fn inside one transaction. If fn returns an error the
	// transaction is rolled back and the error is returned unchanged;
	// otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetDataset(ctx context.Context, owner string, id int64) (*Dataset, error)

	// ListDatasets returns the owner's datasets newest first. limit <= 0 means all.
	ListDatasets(ctx context.Context, owner string, limit int) ([]Dataset, error)

	// ListRecords returns a dataset's records in insertion order.
	ListRecords(ctx context.Context, datasetID int64) ([]Record, error)

	// DeleteDataset removes a dataset and its records.
	DeleteDataset(ctx context.Context, owner string, id int64) error
}

// Tx is the set of writes performed during ingestion. All methods run inside
// the transaction opened by Store.WithTx.
type Tx interface {
	// InsertDataset inserts d and sets d.ID.
	InsertDataset(ctx context.Context, d *Dataset) error

	// InsertRecords bulk-inserts records for datasetID, ignoring their
	// DatasetID and ID fields. Returns the number of rows written.
	InsertRecords(ctx context.Context, datasetID int64, records []Record) (int64, error)

	// ListDatasetIDs returns the owner's dataset ids ordered newest first
	// (uploaded_at DESC, id DESC).
	ListDatasetIDs(ctx context.Context, owner string) ([]int64, error)

	// DeleteDatasets removes the given datasets and their records by id
	// membership. Returns the number of datasets removed.
	DeleteDatasets(ctx context.Context, ids []int64) (int64, error)
}

// ---- factories ----

type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered. Registering
//     twice is a programming error and fails fast.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Store using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Float64Ptr returns a pointer to v. Backends use it when mapping nullable columns.
func Float64Ptr(v float64) *float64 { return &v }
