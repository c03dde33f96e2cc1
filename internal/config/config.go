// Package config loads process configuration for the chemviz binaries.
//
// Precedence, lowest to highest: Defaults(), optional YAML file, .env file
// and process environment (prefix CHEMVIZ_). The result is validated before
// it is returned.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the environment variable prefix, e.g. CHEMVIZ_STORAGE_KIND.
const EnvPrefix = "CHEMVIZ"

type Config struct {
	Storage StorageConfig `yaml:"storage" envconfig:"STORAGE"`
	Ingest  IngestConfig  `yaml:"ingest" envconfig:"INGEST"`
	Metrics MetricsConfig `yaml:"metrics" envconfig:"METRICS"`
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOG"`
}

type StorageConfig struct {
	Kind string `yaml:"kind" envconfig:"KIND" validate:"required,oneof=sqlite postgres mssql"`
	DSN  string `yaml:"dsn" envconfig:"DSN" validate:"required"`
}

type IngestConfig struct {
	// RetentionLimit is how many datasets each owner keeps.
	RetentionLimit int   `yaml:"retention_limit" envconfig:"RETENTION_LIMIT" validate:"min=1"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES" validate:"min=1"`
}

type MetricsConfig struct {
	Backend        string        `yaml:"backend" envconfig:"BACKEND" validate:"oneof=none datadog prompush"`
	JobName        string        `yaml:"job_name" envconfig:"JOB_NAME" validate:"required"`
	PushgatewayURL string        `yaml:"pushgateway_url" envconfig:"PUSHGATEWAY_URL" validate:"required_if=Backend prompush"`
	DatadogTags    string        `yaml:"datadog_tags" envconfig:"DATADOG_TAGS"`
	FlushEvery     time.Duration `yaml:"flush_every" envconfig:"FLUSH_EVERY" validate:"gte=0"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json console"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Kind: "sqlite", DSN: "chemviz.db"},
		Ingest:  IngestConfig{RetentionLimit: 5, MaxUploadBytes: 10 << 20},
		Metrics: MetricsConfig{Backend: "none", JobName: "chemviz", FlushEvery: time.Minute},
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load builds a Config.
//
// When to use:
//   - Call once at startup. path may be empty to skip the YAML file.
//
// Edge cases:
//   - A missing .env file is not an error; a missing YAML file named by path is.
//   - Variables already set in the environment win over .env entries.
//
// Errors:
//   - Returns wrapped read/parse errors and a validation error listing every
//     failing field.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: env: %w", err)
	}

	cfg.Storage.Kind = strings.ToLower(strings.TrimSpace(cfg.Storage.Kind))
	cfg.Metrics.Backend = strings.ToLower(strings.TrimSpace(cfg.Metrics.Backend))
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and reports all failures in one error.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
}
