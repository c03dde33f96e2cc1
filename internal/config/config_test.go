package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "chemviz.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 5, cfg.Ingest.RetentionLimit)
	assert.Equal(t, int64(10*1024*1024), cfg.Ingest.MaxUploadBytes)
	assert.Equal(t, ":8000", cfg.Server.Addr)
}

func TestLoad_FileThenEnv(t *testing.T) {
	p := writeFile(t, `
storage:
  kind: postgres
  dsn: postgres://file
ingest:
  retention_limit: 3
server:
  read_timeout: 2s
logging:
  format: console
`)
	t.Setenv("CHEMVIZ_STORAGE_DSN", "postgres://env")
	t.Setenv("CHEMVIZ_LOG_LEVEL", "DEBUG")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Kind)
	assert.Equal(t, "postgres://env", cfg.Storage.DSN)
	assert.Equal(t, 3, cfg.Ingest.RetentionLimit)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	// Untouched keys keep their defaults.
	assert.Equal(t, int64(10<<20), cfg.Ingest.MaxUploadBytes)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
		path string
	}{
		{name: "missing_file", path: filepath.Join(os.TempDir(), "does-not-exist-chemviz.yaml")},
		{name: "bad_yaml", yaml: "storage: [\n"},
		{name: "unknown_kind", yaml: "storage:\n  kind: oracle\n"},
		{name: "zero_retention", env: map[string]string{"CHEMVIZ_INGEST_RETENTION_LIMIT": "0"}},
		{name: "bad_env_int", env: map[string]string{"CHEMVIZ_INGEST_RETENTION_LIMIT": "five"}},
		{name: "prompush_without_url", env: map[string]string{"CHEMVIZ_METRICS_BACKEND": "prompush"}},
		{name: "bad_log_format", yaml: "logging:\n  format: xml\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := tt.path
			if tt.yaml != "" {
				path = writeFile(t, tt.yaml)
			}
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config:")
		})
	}
}

func TestValidate_ListsEveryFailure(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.Kind = ""
	cfg.Server.Addr = ""
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Storage.Kind")
	assert.Contains(t, err.Error(), "Server.Addr")
}

func TestValidate_PrompushWithURL(t *testing.T) {
	cfg := Defaults()
	cfg.Metrics.Backend = "prompush"
	cfg.Metrics.PushgatewayURL = "http://localhost:9091"
	assert.NoError(t, Validate(cfg))
}
