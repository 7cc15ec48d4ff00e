package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/lehigh-university-libraries/linecrop/internal/history"
	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the history command
func NewHistoryCmd() *cobra.Command {
	var dbPath string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show past batch runs",
		Long: `List recorded batch runs, newest first. With RUN_ID, show every image of
that run and what happened to it.`,
		Example: `  # Last 20 runs
  linecrop history

  # Details of one run
  linecrop history 3f7c2a8e-5b1d-4c8e-9f3a-2d6b7e1a0c4f`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				items, err := store.Items(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(items) == 0 {
					return fmt.Errorf("no items recorded for run %s", args[0])
				}
				if asJSON {
					return encodeJSON(out, items)
				}
				return printItems(out, items)
			}

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return encodeJSON(out, runs)
			}
			return printRuns(out, runs)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", history.DefaultPath(), "Run history database")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func encodeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printRuns(w io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded")
		return err
	}
	for _, r := range runs {
		status := "complete"
		switch {
		case r.Aborted:
			status = "aborted"
		case r.DryRun:
			status = "dry run"
		}
		if _, err := fmt.Fprintf(w, "%s  %s  lines %d,%d  %d/%d ok  %d failed  %s\n    %s -> %s\n",
			r.RunID, r.StartedAt.Local().Format(time.DateTime), r.RankA, r.RankB,
			r.Succeeded, r.Total, r.Failed, status, r.SourceDir, r.OutputDir); err != nil {
			return err
		}
	}
	return nil
}

func printItems(w io.Writer, items []history.ItemRecord) error {
	for _, it := range items {
		line := fmt.Sprintf("[%d] %s: %s", it.Index+1, it.SourcePath, it.Status)
		switch {
		case it.FailureKind != "":
			line += fmt.Sprintf(" (%s: %s)", it.FailureKind, it.FailureMessage)
		case it.Top != nil && it.Bottom != nil:
			line += fmt.Sprintf(" rows %d-%d", *it.Top, *it.Bottom)
			if it.OutputPath != "" {
				line += " -> " + it.OutputPath
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
