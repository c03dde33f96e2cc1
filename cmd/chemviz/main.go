// Command chemviz ingests equipment CSV files, serves the JSON API and
// renders reports.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chemviz/internal/config"
	"chemviz/internal/ingest"
	"chemviz/internal/logging"
	"chemviz/internal/metrics"
	"chemviz/internal/metrics/datadog"
	"chemviz/internal/metrics/prompush"
	"chemviz/internal/storage"
	_ "chemviz/internal/storage/all"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	a := &app{}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	a.close()
	if err != nil {
		return 1
	}
	return 0
}

// app holds what the subcommands share. The store is opened on first use so
// commands that never touch it (lint) work without a database.
type app struct {
	cfgPath string
	verbose bool

	cfg     config.Config
	log     *zap.Logger
	store   storage.Store
	svc     *ingest.Service
	closers []func()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "chemviz",
		Short:        "Chemical equipment CSV ingestion and statistics",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "YAML config file (optional)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logs")

	root.AddCommand(
		a.serveCmd(),
		a.ingestCmd(),
		a.historyCmd(),
		a.summaryCmd(),
		a.deleteCmd(),
		a.reportCmd(),
		a.seedCmd(),
		lintCmd(),
		probeCmd(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	a.closers = append(a.closers, func() { _ = log.Sync() })

	a.setupMetrics(ctx)
	return nil
}

// setupMetrics installs the configured backend. A backend that fails to
// initialise is logged and metrics stay disabled.
func (a *app) setupMetrics(ctx context.Context) {
	mc := a.cfg.Metrics
	log := logging.Component(a.log, "metrics")

	switch mc.Backend {
	case "prompush":
		b, err := prompush.NewBackend(mc.JobName, mc.PushgatewayURL)
		if err != nil {
			log.Warn("failed to init pushgateway backend; using nop", zap.Error(err))
			return
		}
		log.Info("metrics enabled", zap.String("backend", mc.Backend),
			zap.String("url", mc.PushgatewayURL), zap.String("job_name", mc.JobName))
		metrics.SetBackend(b)
		a.closers = append(a.closers, func() {
			if err := metrics.Flush(); err != nil {
				log.Warn("metrics flush error", zap.Error(err))
			}
			metrics.SetBackend(nil)
		})

	case "datadog":
		tags := datadog.ParseTagsCSV(mc.DatadogTags)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    mc.JobName,
			Tags:       tags,
			FlushEvery: mc.FlushEvery,
		})
		if err != nil {
			log.Warn("failed to init datadog backend; using nop", zap.Error(err))
			return
		}
		log.Info("metrics enabled", zap.String("backend", mc.Backend),
			zap.String("job_name", mc.JobName), zap.Strings("tags", tags))
		metrics.SetBackend(b)
		a.closers = append(a.closers, func() {
			if err := b.Close(); err != nil {
				log.Warn("datadog close/flush error", zap.Error(err))
			}
			metrics.SetBackend(nil)
		})

	default:
		log.Debug("metrics disabled", zap.String("backend", mc.Backend))
	}
}

// service opens the store, ensures the schema and returns the ingest service.
func (a *app) service(ctx context.Context) (*ingest.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	store, err := storage.New(ctx, storage.Config{Kind: a.cfg.Storage.Kind, DSN: a.cfg.Storage.DSN})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.closers = append(a.closers, store.Close)

	ctxSchema, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctxSchema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	a.store = store
	a.svc = ingest.New(store, ingest.Options{RetentionLimit: a.cfg.Ingest.RetentionLimit}, a.log)
	return a.svc, nil
}

// close runs cleanup in reverse order of registration.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
