package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lehigh-university-libraries/linecrop/internal/batch"
	"github.com/lehigh-university-libraries/linecrop/internal/config"
	"github.com/lehigh-university-libraries/linecrop/internal/detect"
	"github.com/lehigh-university-libraries/linecrop/internal/history"
	"github.com/lehigh-university-libraries/linecrop/internal/report"
	"github.com/lehigh-university-libraries/linecrop/internal/selection"
	"github.com/spf13/cobra"
)

// batchRun is everything executeBatch needs, resolved from flags and config.
type batchRun struct {
	source       string
	output       string
	cfg          config.File
	sel          selection.Selection
	workers      int
	dryRun       bool
	reportFormat report.Format
	reportOut    string
	parquetOut   string
	historyPath  string
	quiet        bool
}

// NewBatchCmd creates the batch command
func NewBatchCmd() *cobra.Command {
	var flags settingsFlags
	var (
		workers      int
		dryRun       bool
		reportFormat string
		reportOut    string
		parquetOut   string
		historyPath  string
		noHistory    bool
		quiet        bool
	)

	cmd := &cobra.Command{
		Use:   "batch SOURCE_DIR OUTPUT_DIR",
		Short: "Crop every image in a folder between the same two line numbers",
		Long: `Crop every supported image in SOURCE_DIR and write the results to OUTPUT_DIR.

Lines are detected again on every image, so the same line numbers select the
same structural lines even when their pixel positions move between images.
An image that cannot be read, has too few lines, or would overwrite another
output is reported and skipped; the rest of the folder is still processed.

Images are processed in natural file-name order (shot2 before shot10).`,
		Example: `  # Crop between lines 2 and 4 of every screenshot
  linecrop batch ./shots ./cropped --lines 2,4

  # Reuse a saved config and see what would happen without writing
  linecrop batch ./shots ./cropped --config clipper.json --dry-run

  # Rename outputs and keep a machine-readable report
  linecrop batch ./shots ./cropped -l 1,3 --pattern 'Screenshot_(\d+)' --replacement 'page_\1' \
    --report-format json --report-out run.json --parquet run.parquet`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			sel, err := requireSelection(cfg)
			if err != nil {
				return err
			}
			format, err := report.ParseFormat(reportFormat)
			if err != nil {
				return err
			}
			if noHistory {
				historyPath = ""
			}

			_, err = executeBatch(cmd.Context(), detect.New(), batchRun{
				source:       args[0],
				output:       args[1],
				cfg:          cfg,
				sel:          sel,
				workers:      workers,
				dryRun:       dryRun,
				reportFormat: format,
				reportOut:    reportOut,
				parquetOut:   parquetOut,
				historyPath:  historyPath,
				quiet:        quiet,
			}, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return err
		},
	}

	flags.register(cmd, true)
	flags.registerNaming(cmd)
	cmd.Flags().IntVarP(&workers, "workers", "w", 1, "Images decoded and detected in parallel (writes stay in order)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Detect and resolve every image but write nothing")
	cmd.Flags().StringVar(&reportFormat, "report-format", string(report.FormatText), "Report format: text, json, csv or yaml")
	cmd.Flags().StringVar(&reportOut, "report-out", "", "Write the report to this file instead of stdout")
	cmd.Flags().StringVar(&parquetOut, "parquet", "", "Also export per-image results to this parquet file")
	cmd.Flags().StringVar(&historyPath, "history", history.DefaultPath(), "Run history database")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record this run in the history database")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print per-image progress")
	return cmd
}

func executeBatch(ctx context.Context, detector batch.Detector, run batchRun, stdout, stderr io.Writer) (*batch.Report, error) {
	opts := batch.Options{
		SourceDir: run.source,
		OutputDir: run.output,
		Params:    run.cfg.Params,
		Selection: run.sel,
		Naming:    run.cfg.Rule,
		Workers:   run.workers,
		DryRun:    run.dryRun,
	}
	if !run.quiet {
		opts.OnEvent = func(ev batch.Event) {
			line := fmt.Sprintf("[%d/%d] %s: %s", ev.Index+1, ev.Total, filepath.Base(ev.Path), ev.Status)
			if ev.Reason != "" {
				line += fmt.Sprintf(" (%s: %s)", ev.Reason, ev.Detail)
			}
			fmt.Fprintln(stderr, line)
		}
	}

	rep, err := batch.New(detector).Run(ctx, opts)
	if err != nil {
		return nil, err
	}

	if err := writeReport(rep, run.reportFormat, run.reportOut, stdout); err != nil {
		return rep, err
	}
	if run.parquetOut != "" {
		if err := report.WriteParquet(run.parquetOut, rep); err != nil {
			return rep, err
		}
		slog.Info("Parquet report saved", "path", run.parquetOut)
	}
	if run.historyPath != "" {
		recordHistory(run.historyPath, rep)
	}

	if rep.Aborted {
		return rep, fmt.Errorf("batch aborted after %d of %d images", len(rep.Items), rep.Total)
	}
	return rep, nil
}

func writeReport(rep *batch.Report, format report.Format, path string, stdout io.Writer) error {
	if path == "" || path == "-" {
		return report.Write(stdout, rep, format)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()
	if err := report.Write(file, rep, format); err != nil {
		return err
	}
	slog.Info("Report saved", "path", path, "format", format)
	return file.Close()
}

// recordHistory never fails the run: the crops are already written.
func recordHistory(path string, rep *batch.Report) {
	store, err := history.Open(path)
	if err != nil {
		slog.Warn("Failed to open history database", "path", path, "err", err)
		return
	}
	defer store.Close()
	// A cancelled run is still worth recording, so do not reuse its context.
	if err := store.Record(context.Background(), rep); err != nil {
		slog.Warn("Failed to record batch history", "run_id", rep.RunID, "err", err)
	}
}
