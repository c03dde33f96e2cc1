package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Clever/csvlint"
	"github.com/spf13/cobra"

	"chemviz/internal/probe"
)

var (
	errLintFailed   = errors.New("lint: file has structural problems")
	errProbeMissing = errors.New("probe: required columns missing")
)

// lintCmd reports row-level structural problems (field counts, quoting)
// without touching storage or the column rules.
func lintCmd() *cobra.Command {
	var lazyQuotes bool
	cmd := &cobra.Command{
		Use:   "lint <file.csv>",
		Short: "Check a CSV file for structural problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			invalids, halted, err := csvlint.Validate(f, ',', lazyQuotes)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, inv := range invalids {
				fmt.Fprintln(out, inv.Error())
			}
			if halted {
				fmt.Fprintln(out, "stopped early: unable to parse the rest of the file")
			}
			if len(invalids) > 0 || halted {
				return errLintFailed
			}
			fmt.Fprintf(out, "%s: ok\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&lazyQuotes, "lazy-quotes", false, "allow quotes in unquoted fields")
	return cmd
}

// probeCmd prints how a CSV file's headers map to the required fields before
// it is ingested. Exit status is 1 when a required field is missing.
func probeCmd() *cobra.Command {
	var (
		maxBytes  int
		delimiter string
	)
	cmd := &cobra.Command{
		Use:   "probe <file.csv>",
		Short: "Show column mapping and inferred types for a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len([]rune(delimiter)) != 1 {
				return fmt.Errorf("delimiter must be a single character, got %q", delimiter)
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rep, err := probe.Inspect(f, probe.Options{MaxBytes: maxBytes, Delimiter: []rune(delimiter)[0]})
			if err != nil {
				return err
			}
			if err := rep.Render(cmd.OutOrStdout()); err != nil {
				return err
			}
			if !rep.OK() {
				return errProbeMissing
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxBytes, "max-bytes", probe.DefaultMaxBytes, "bytes to sample from the start of the file")
	cmd.Flags().StringVar(&delimiter, "delimiter", ",", "field delimiter")
	return cmd
}
