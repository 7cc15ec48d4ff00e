package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/lehigh-university-libraries/linecrop/internal/detect"
	"github.com/lehigh-university-libraries/linecrop/internal/lines"
	"github.com/spf13/cobra"
)

// NewDetectCmd creates the detect command, which lists the ranked lines of one image
func NewDetectCmd() *cobra.Command {
	var flags settingsFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "detect IMAGE",
		Short: "List the horizontal lines detected in an image",
		Long: `Detect horizontal lines in IMAGE and print them top to bottom.

The Line number printed for each line is what --lines refers to in the crop
and batch commands. Numbers depend on the detection parameters: change a
parameter and the numbering may change with it.`,
		Example: `  # Show lines with default parameters
  linecrop detect shot1.png

  # Find fainter lines
  linecrop detect shot1.png --canny-low 30 --hough-threshold 60 --min-length-ratio 0.3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}

			img, found, err := detect.New().DetectFile(args[0], cfg.Params)
			if err != nil {
				return err
			}

			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(found)
			}
			b := img.Bounds()
			return printLines(cmd.OutOrStdout(), filepath.Base(args[0]), b.Dx(), b.Dy(), found)
		},
	}

	flags.register(cmd, false)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print lines as JSON")
	return cmd
}

func printLines(w io.Writer, name string, width, height int, found []lines.DetectedLine) error {
	if _, err := fmt.Fprintf(w, "%s (%dx%d): %d lines\n", name, width, height, len(found)); err != nil {
		return err
	}
	for _, l := range found {
		if _, err := fmt.Fprintf(w, "  Line %-3d y=%-6d length=%-6.0f strength=%.2f segments=%d\n",
			l.Rank, l.Row(), l.Length, l.Strength, l.Support); err != nil {
			return err
		}
	}
	return nil
}
