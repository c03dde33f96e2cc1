package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chemviz/internal/storage"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()
	s, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func insert(t *testing.T, s storage.Store, d *storage.Dataset, recs []storage.Record) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx storage.Tx) error {
		if err := tx.InsertDataset(context.Background(), d); err != nil {
			return err
		}
		_, err := tx.InsertRecords(context.Background(), d.ID, recs)
		return err
	})
	require.NoError(t, err)
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 10, 30, 0, 123456789, time.UTC)

	d := &storage.Dataset{
		OwnerID: "alice", Filename: "plant.csv", UploadedAt: at, TotalRecords: 2,
		AvgFlowrate: storage.Float64Ptr(15), AvgPressure: storage.Float64Ptr(100.5), AvgTemperature: storage.Float64Ptr(-3),
	}
	insert(t, s, d, []storage.Record{
		{Name: "P-1", EquipmentType: "pump", Flowrate: 10, Pressure: 100, Temperature: -5},
		{Name: "V-1", EquipmentType: "valve", Flowrate: 20, Pressure: 101, Temperature: -1},
	})
	require.NotZero(t, d.ID)

	got, err := s.GetDataset(ctx, "alice", d.ID)
	require.NoError(t, err)
	assert.Equal(t, *d, *got)

	recs, err := s.ListRecords(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "P-1", recs[0].Name)
	assert.Equal(t, d.ID, recs[1].DatasetID)
	assert.Equal(t, -1.0, recs[1].Temperature)
}

func TestStore_NullAveragesForEmptyDataset(t *testing.T) {
	s := openTestStore(t)
	d := &storage.Dataset{OwnerID: "bob", Filename: "empty.csv", UploadedAt: time.Now()}
	insert(t, s, d, nil)

	got, err := s.GetDataset(context.Background(), "bob", d.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AvgFlowrate)
	assert.Nil(t, got.AvgPressure)
	assert.Nil(t, got.AvgTemperature)
}

func TestStore_OwnerScoping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := &storage.Dataset{OwnerID: "alice", Filename: "a.csv", UploadedAt: time.Now()}
	insert(t, s, d, nil)

	_, err := s.GetDataset(ctx, "mallory", d.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	err = s.DeleteDataset(ctx, "mallory", d.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	list, err := s.ListDatasets(ctx, "mallory", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_ListNewestFirstWithLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		insert(t, s, &storage.Dataset{OwnerID: "u", Filename: "f.csv", UploadedAt: base.Add(time.Duration(i) * time.Minute)}, nil)
	}
	// Same timestamp as the newest: id breaks the tie.
	tie := &storage.Dataset{OwnerID: "u", Filename: "tie.csv", UploadedAt: base.Add(3 * time.Minute)}
	insert(t, s, tie, nil)

	all, err := s.ListDatasets(ctx, "u", 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, tie.ID, all[0].ID)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].UploadedAt.After(all[i-1].UploadedAt))
	}

	top, err := s.ListDatasets(ctx, "u", 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)

	var ids []int64
	require.NoError(t, s.WithTx(ctx, func(tx storage.Tx) error {
		ids, err = tx.ListDatasetIDs(ctx, "u")
		return err
	}))
	require.Len(t, ids, 5)
	assert.Equal(t, all[0].ID, ids[0])
	assert.Equal(t, all[4].ID, ids[4])
}

func TestStore_DeleteRemovesRecords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	d := &storage.Dataset{OwnerID: "u", Filename: "f.csv", UploadedAt: time.Now(), TotalRecords: 1}
	insert(t, s, d, []storage.Record{{Name: "x", EquipmentType: "pump", Flowrate: 1, Pressure: 1, Temperature: 1}})

	require.NoError(t, s.DeleteDataset(ctx, "u", d.ID))

	_, err := s.GetDataset(ctx, "u", d.ID)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	recs, err := s.ListRecords(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx storage.Tx) error {
		d := &storage.Dataset{OwnerID: "u", Filename: "f.csv", UploadedAt: time.Now()}
		if err := tx.InsertDataset(ctx, d); err != nil {
			return err
		}
		return boom
	})
	assert.Same(t, boom, err)

	list, err := s.ListDatasets(ctx, "u", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_InsertRecordsChunks(t *testing.T) {
	s := openTestStore(t)
	n := insertChunk*2 + 7
	recs := make([]storage.Record, n)
	for i := range recs {
		recs[i] = storage.Record{Name: "r", EquipmentType: "pump", Flowrate: float64(i), Pressure: 1, Temperature: 1}
	}

	d := &storage.Dataset{OwnerID: "u", Filename: "big.csv", UploadedAt: time.Now(), TotalRecords: n}
	var written int64
	require.NoError(t, s.WithTx(context.Background(), func(tx storage.Tx) error {
		if err := tx.InsertDataset(context.Background(), d); err != nil {
			return err
		}
		var err error
		written, err = tx.InsertRecords(context.Background(), d.ID, recs)
		return err
	}))
	assert.Equal(t, int64(n), written)

	got, err := s.ListRecords(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, got, n)
	assert.Equal(t, float64(n-1), got[n-1].Flowrate)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestBuildCreateSQL(t *testing.T) {
	t.Parallel()
	stmts, err := buildCreateSQL(storage.Tables()[1])
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	assert.Contains(t, stmts[0], `"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
	assert.Contains(t, stmts[0], `"dataset_id" INTEGER NOT NULL REFERENCES datasets(id) ON DELETE CASCADE`)
	assert.Contains(t, stmts[0], `"flowrate" REAL NOT NULL`)
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE INDEX IF NOT EXISTS"))
	assert.Contains(t, stmts[1], `("dataset_id", "equipment_type")`)

	_, err = buildCreateSQL(storage.TableSpec{})
	assert.Error(t, err)
}
