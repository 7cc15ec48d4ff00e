package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/lehigh-university-libraries/linecrop/internal/crop"
	"github.com/lehigh-university-libraries/linecrop/internal/detect"
	"github.com/lehigh-university-libraries/linecrop/internal/images"
	"github.com/spf13/cobra"
)

// NewCropCmd creates the crop command for a single image
func NewCropCmd() *cobra.Command {
	var flags settingsFlags
	var output string

	cmd := &cobra.Command{
		Use:   "crop IMAGE",
		Short: "Crop one image between two detected lines",
		Long: `Crop IMAGE to the band between two of its detected lines.

Without --output the file is written next to IMAGE, named by the config's
naming rule (by default <name>_cropped<ext>).`,
		Example: `  # Keep everything between the 2nd and 4th line
  linecrop crop shot1.png --lines 2,4 -o header.png

  # Use the selection saved in a config file
  linecrop crop shot1.png --config clipper.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			sel, err := requireSelection(cfg)
			if err != nil {
				return err
			}

			src := args[0]
			img, found, err := detect.New().DetectFile(src, cfg.Params)
			if err != nil {
				return err
			}
			b := img.Bounds()
			region, err := crop.Resolve(sel, found, b.Dx(), b.Dy())
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(src), err)
			}

			if output == "" {
				rule := cfg.Rule
				name, err := rule.Apply(filepath.Base(src))
				if err != nil {
					return err
				}
				output = filepath.Join(filepath.Dir(src), images.OutputName(name))
			}
			if samePath(output, src) {
				return fmt.Errorf("refusing to overwrite source image %s", src)
			}
			if err := images.Save(crop.Apply(img, region), output); err != nil {
				return err
			}

			slog.Info("Cropped image", "source", src, "output", output, "selection", sel.String(),
				"top", region.Top, "bottom", region.Bottom)
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (rows %d-%d)\n", src, output, region.Top, region.Bottom)
			return nil
		},
	}

	flags.register(cmd, true)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (defaults to the naming rule next to IMAGE)")
	return cmd
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
