package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chemviz/internal/ingest"
	"chemviz/internal/parser/csv"
	"chemviz/internal/report"
	"chemviz/internal/stats"
)

func ownerFlag(cmd *cobra.Command, owner *string, def string) {
	cmd.Flags().StringVar(owner, "owner", def, "dataset owner id")
	if def == "" {
		_ = cmd.MarkFlagRequired("owner")
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid dataset id %q", s)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ingestFile reads, decodes and ingests one CSV file.
func (a *app) ingestFile(cmd *cobra.Command, svc *ingest.Service, owner, path string) (*ingest.Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, err := ingest.DecodeUpload(b)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	res, err := svc.Ingest(cmd.Context(), owner, name, text)
	if err != nil {
		if csv.IsValidationError(err) {
			a.log.Warn("csv validation failed", zap.String("owner", owner), zap.String("filename", name), zap.Error(err))
		} else {
			a.log.Error("ingest failed", zap.String("owner", owner), zap.String("filename", name), zap.Error(err))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

func (a *app) ingestCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "ingest <file.csv>",
		Short: "Validate and store a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.ingestFile(cmd, svc, owner, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dataset %d: %d records from %s\n", res.Dataset.ID, res.Dataset.TotalRecords, res.Dataset.Filename)
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "warning: %s\n", w)
			}
			if len(res.Evicted) > 0 {
				fmt.Fprintf(out, "evicted %d older dataset(s)\n", len(res.Evicted))
			}
			return nil
		},
	}
	ownerFlag(cmd, &owner, "")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the owner's retained datasets, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			list, err := svc.History(cmd.Context(), owner)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILENAME\tUPLOADED\tRECORDS")
			for _, d := range list {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", d.ID, d.Filename, d.UploadedAt.UTC().Format(time.RFC3339), d.TotalRecords)
			}
			return tw.Flush()
		},
	}
	ownerFlag(cmd, &owner, "")
	return cmd
}

func (a *app) summaryCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "summary <id>",
		Short: "Print recomputed statistics for a dataset as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := svc.Summary(cmd.Context(), owner, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), sum)
		},
	}
	ownerFlag(cmd, &owner, "")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a dataset and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Delete(cmd.Context(), owner, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted dataset %d\n", id)
			return nil
		},
	}
	ownerFlag(cmd, &owner, "")
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	var owner, format, out string
	cmd := &cobra.Command{
		Use:   "report <id>",
		Short: "Write an xlsx or html report for a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if report.ContentType(format) == "" {
				return fmt.Errorf("unsupported format %q (want %s or %s)", format, report.FormatXLSX, report.FormatHTML)
			}
			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			d, err := svc.Detail(cmd.Context(), owner, id)
			if err != nil {
				return err
			}
			if out == "" {
				out = report.Filename(d.Dataset, format)
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			in := report.Input{
				Dataset:    d.Dataset,
				Statistics: stats.Compute(ingest.Table(d.Records)),
				Records:    d.Records,
			}
			if format == report.FormatHTML {
				err = report.WriteHTML(f, in)
			} else {
				err = report.WriteWorkbook(f, in)
			}
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	ownerFlag(cmd, &owner, "")
	cmd.Flags().StringVar(&format, "format", report.FormatXLSX, "report format: xlsx or html")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path (default equipment_report_<name>_<id>.<format>)")
	return cmd
}

// seedCmd ingests every *.csv in a directory, skipping filenames the owner
// already has. Files are processed in name order.
func (a *app) seedCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "seed <dir>",
		Short: "Ingest every CSV file in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := filepath.Glob(filepath.Join(args[0], "*.csv"))
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no .csv files in %s", args[0])
			}
			sort.Strings(paths)

			svc, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			existing, err := svc.History(cmd.Context(), owner)
			if err != nil {
				return err
			}
			have := make(map[string]bool, len(existing))
			for _, d := range existing {
				have[d.Filename] = true
			}

			out := cmd.OutOrStdout()
			var failed []string
			for _, p := range paths {
				name := filepath.Base(p)
				if have[name] {
					fmt.Fprintf(out, "skip %s: already loaded\n", name)
					continue
				}
				res, err := a.ingestFile(cmd, svc, owner, p)
				if err != nil {
					fmt.Fprintf(out, "fail %s: %v\n", name, err)
					failed = append(failed, name)
					continue
				}
				have[name] = true
				fmt.Fprintf(out, "load %s: dataset %d, %d records\n", name, res.Dataset.ID, res.Dataset.TotalRecords)
			}
			if len(failed) > 0 {
				return errors.New("seed: failed: " + strings.Join(failed, ", "))
			}
			return nil
		},
	}
	ownerFlag(cmd, &owner, "admin")
	return cmd
}
