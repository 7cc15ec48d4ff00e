package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/lehigh-university-libraries/linecrop/internal/cli"
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "linecrop",
		Short: "Batch-crop screenshots between detected horizontal lines",
		Long: `linecrop crops images to the band between two horizontal lines.

Pick the lines once on a reference image by their number (Line 1 is the
topmost detected line), then apply the same numbers to a whole folder. Lines
are detected again on every image, so the crop follows the structure of
each screenshot rather than fixed pixel rows.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	// Add subcommands
	cmd.AddCommand(cli.NewDetectCmd())
	cmd.AddCommand(cli.NewCropCmd())
	cmd.AddCommand(cli.NewBatchCmd())
	cmd.AddCommand(cli.NewConfigCmd())
	cmd.AddCommand(cli.NewHistoryCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}
