package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"chemviz/internal/ingest"
	"chemviz/internal/storage"
	_ "chemviz/internal/storage/sqlite"
)

const plantCSV = "Equipment Name,Type,Flowrate,Pressure,Temperature\n" +
	"Pump-1,Pump,120,5.2,110\n" +
	"Pump-2,pump,130,5.4,115\n" +
	"Valve-1,Valve,60,4.1,\n"

func newTestServer(t *testing.T, maxUpload int64) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	st, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "api.db")})
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.EnsureSchema(ctx))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	svc := ingest.New(st, ingest.Options{RetentionLimit: 2, Now: func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}}, nil)

	srv := httptest.NewServer(New(svc, Options{MaxUploadBytes: maxUpload}, nil).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func multipartBody(t *testing.T, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, srv *httptest.Server, method, path, owner string, body io.Reader, ctype string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, body)
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	if ctype != "" {
		req.Header.Set("Content-Type", ctype)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func upload(t *testing.T, srv *httptest.Server, owner, filename, content string) *http.Response {
	t.Helper()
	body, ctype := multipartBody(t, filename, content)
	return do(t, srv, http.MethodPost, "/api/upload/", owner, body, ctype)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthNeedsNoOwner(t *testing.T) {
	srv := newTestServer(t, 0)
	resp := do(t, srv, http.MethodGet, "/api/health/", "", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, ServiceName, body["service"])
}

func TestOwnerRequired(t *testing.T) {
	srv := newTestServer(t, 0)
	for _, path := range []string{"/api/history/", "/api/summary/1/", "/api/dataset/1/", "/api/report/1/"} {
		t.Run(path, func(t *testing.T) {
			resp := do(t, srv, http.MethodGet, path, "", nil, "")
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestOwnerRequired_BlankHeader(t *testing.T) {
	srv := newTestServer(t, 0)
	resp := do(t, srv, http.MethodGet, "/api/history/", "   ", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = upload(t, srv, " \t ", "plant.csv", plantCSV)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpload_HugeFlowrateIsStored(t *testing.T) {
	srv := newTestServer(t, 0)
	const hugeCSV = "Equipment Name,Type,Flowrate,Pressure,Temperature\n" +
		"P-1,pump,1e305,1,1\n" +
		"P-2,pump,2,1,1\n"

	resp := upload(t, srv, "alice", "huge.csv", hugeCSV)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	up := decode[uploadResponse](t, resp)
	assert.InEpsilon(t, 5e304, up.Summary.Flowrate.Mean, 1e-9)

	resp = do(t, srv, http.MethodGet, "/api/history/", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[historyResponse](t, resp).Count)
}

func TestUploadAndQuery(t *testing.T) {
	srv := newTestServer(t, 0)

	resp := upload(t, srv, "alice", "plant.csv", plantCSV)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	up := decode[uploadResponse](t, resp)
	assert.Equal(t, "Upload successful", up.Message)
	assert.Equal(t, 2, up.RecordsProcessed)
	assert.Equal(t, map[string]int{"pump": 2}, up.Summary.TypeDistribution)
	assert.Equal(t, []string{"Dropped 1 rows with missing numeric values."}, up.Warnings)
	id := up.Dataset.ID
	require.NotZero(t, id)

	resp = do(t, srv, http.MethodGet, fmt.Sprintf("/api/summary/%d/", id), "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode[ingest.Summary](t, resp)
	assert.Equal(t, up.Summary.Flowrate, sum.Statistics.Flowrate)
	assert.Equal(t, "plant.csv", sum.Dataset.Filename)

	resp = do(t, srv, http.MethodGet, fmt.Sprintf("/api/dataset/%d/", id), "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	det := decode[ingest.Detail](t, resp)
	require.Len(t, det.Records, 2)
	assert.Equal(t, "Pump-1", det.Records[0].Name)

	resp = do(t, srv, http.MethodGet, "/api/history/", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hist := decode[historyResponse](t, resp)
	assert.Equal(t, 1, hist.Count)

	// Another owner sees nothing.
	resp = do(t, srv, http.MethodGet, fmt.Sprintf("/api/summary/%d/", id), "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, msgNotFound, decode[errorBody](t, resp).Error)

	resp = do(t, srv, http.MethodGet, "/api/history/", "bob", nil, "")
	hist = decode[historyResponse](t, resp)
	assert.Equal(t, 0, hist.Count)
	assert.NotNil(t, hist.Datasets)
}

func TestUploadRejections(t *testing.T) {
	srv := newTestServer(t, 1<<20)

	tests := []struct {
		name     string
		filename string
		content  string
		wantErr  string
		details  string
	}{
		{"not csv", "plant.txt", plantCSV, msgValidation, msgOnlyCSV},
		{"too large", "big.csv", strings.Repeat("x", 1<<20+1), msgValidation, "CSV file must be under 1MB."},
		{"bad encoding", "latin.csv", "Equipment Name,Type\n\xff\xfe,pump\n", "File encoding error. Please upload a UTF-8 encoded CSV.", ""},
		{"missing columns", "cols.csv", "foo,bar,baz\n1,2,3\n", msgCSVValidation, "Missing required columns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := upload(t, srv, "alice", tt.filename, tt.content)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			var body errorBody
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Equal(t, tt.wantErr, body.Error)
			if tt.details != "" {
				assert.Contains(t, string(raw), tt.details)
			}
		})
	}

	resp := do(t, srv, http.MethodGet, "/api/history/", "alice", nil, "")
	assert.Equal(t, 0, decode[historyResponse](t, resp).Count)
}

func TestUploadMissingFile(t *testing.T) {
	srv := newTestServer(t, 0)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "no file here"))
	require.NoError(t, mw.Close())

	resp := do(t, srv, http.MethodPost, "/api/upload/", "alice", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, msgValidation, body["error"])
}

func TestHistoryHonorsRetention(t *testing.T) {
	srv := newTestServer(t, 0)
	var ids []int64
	for i := 0; i < 3; i++ {
		resp := upload(t, srv, "alice", fmt.Sprintf("run%d.csv", i), plantCSV)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		ids = append(ids, decode[uploadResponse](t, resp).Dataset.ID)
	}

	resp := do(t, srv, http.MethodGet, "/api/history/", "alice", nil, "")
	hist := decode[historyResponse](t, resp)
	require.Equal(t, 2, hist.Count)
	assert.Equal(t, ids[2], hist.Datasets[0].ID)
	assert.Equal(t, ids[1], hist.Datasets[1].ID)

	resp = do(t, srv, http.MethodGet, fmt.Sprintf("/api/dataset/%d/", ids[0]), "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteDataset(t *testing.T) {
	srv := newTestServer(t, 0)
	resp := upload(t, srv, "alice", "plant.csv", plantCSV)
	id := decode[uploadResponse](t, resp).Dataset.ID
	path := fmt.Sprintf("/api/dataset/%d/", id)

	resp = do(t, srv, http.MethodDelete, path, "bob", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, path, "alice", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, path, "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvalidDatasetID(t *testing.T) {
	srv := newTestServer(t, 0)
	resp := do(t, srv, http.MethodGet, "/api/summary/abc/", "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReportDownload(t *testing.T) {
	srv := newTestServer(t, 0)
	resp := upload(t, srv, "alice", "plant run.csv", plantCSV)
	id := decode[uploadResponse](t, resp).Dataset.ID

	t.Run("xlsx default", func(t *testing.T) {
		resp := do(t, srv, http.MethodGet, fmt.Sprintf("/api/report/%d/", id), "alice", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
		assert.Contains(t, resp.Header.Get("Content-Disposition"),
			fmt.Sprintf("equipment_report_plant_run_%d.xlsx", id))
		assert.Equal(t, "no-store, no-cache, must-revalidate", resp.Header.Get("Cache-Control"))
		assert.Equal(t, "no-cache", resp.Header.Get("Pragma"))

		f, err := excelize.OpenReader(resp.Body)
		require.NoError(t, err)
		defer f.Close()
		rows, err := f.GetRows("Records")
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})

	t.Run("html", func(t *testing.T) {
		resp := do(t, srv, http.MethodGet, fmt.Sprintf("/api/report/%d/?format=html", id), "alice", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(b), "<title>")
	})

	t.Run("unsupported format", func(t *testing.T) {
		resp := do(t, srv, http.MethodGet, fmt.Sprintf("/api/report/%d/?format=pdf", id), "alice", nil, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("foreign owner", func(t *testing.T) {
		resp := do(t, srv, http.MethodGet, fmt.Sprintf("/api/report/%d/", id), "bob", nil, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
