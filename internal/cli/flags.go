// Package cli implements the linecrop subcommands.
package cli

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lehigh-university-libraries/linecrop/internal/config"
	"github.com/lehigh-university-libraries/linecrop/internal/lines"
	"github.com/lehigh-university-libraries/linecrop/internal/selection"
	"github.com/spf13/cobra"
)

// settingsFlags are shared by every command that detects lines. Values
// from the config file apply unless the flag is given explicitly.
type settingsFlags struct {
	configPath     string
	minLengthRatio float64
	cannyLow       int
	cannyHigh      int
	houghThreshold int
	mergeTolerance float64
	maxLineGap     int
	lines          string

	namingPattern     string
	namingReplacement string
}

func (f *settingsFlags) register(cmd *cobra.Command, withLines bool) {
	d := lines.DefaultParams()
	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "Config file (.json, .yaml); defaults to $"+config.EnvFile+" or "+config.DefaultFile)
	fs.Float64Var(&f.minLengthRatio, "min-length-ratio", d.MinLineLengthRatio, "Minimum line length as a fraction of image width")
	fs.IntVar(&f.cannyLow, "canny-low", d.CannyLow, "Lower Canny hysteresis threshold")
	fs.IntVar(&f.cannyHigh, "canny-high", d.CannyHigh, "Upper Canny hysteresis threshold")
	fs.IntVar(&f.houghThreshold, "hough-threshold", d.HoughThreshold, "Hough accumulator threshold")
	fs.Float64Var(&f.mergeTolerance, "merge-tolerance", d.MergeTolerance, "Merge lines whose rows differ by at most this many pixels")
	fs.IntVar(&f.maxLineGap, "max-line-gap", d.MaxLineGap, "Largest gap bridged within one line segment")
	if withLines {
		fs.StringVarP(&f.lines, "lines", "l", "", "Two line numbers to crop between, e.g. 2,4")
	}
}

func (f *settingsFlags) registerNaming(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.namingPattern, "pattern", "", "Regex applied to each file name (without extension)")
	cmd.Flags().StringVar(&f.namingReplacement, "replacement", "", `Replacement for --pattern; \1 or \g<name> refer to groups`)
}

// load resolves the effective configuration: file, then explicit flags.
func (f *settingsFlags) load(cmd *cobra.Command) (config.File, error) {
	var (
		cfg config.File
		err error
	)
	if f.configPath != "" {
		cfg, err = config.Load(f.configPath)
	} else {
		cfg, err = config.LoadOrDefault(config.Path())
	}
	if err != nil {
		return cfg, err
	}
	return f.loadOver(cmd, cfg)
}

// loadOver applies the explicitly set flags on top of cfg. Saved line
// numbers belong to the saved parameters: when a flag changes a parameter
// and --lines is not given, the saved selection is dropped.
func (f *settingsFlags) loadOver(cmd *cobra.Command, cfg config.File) (config.File, error) {
	fs := cmd.Flags()
	saved := cfg.Params
	if fs.Changed("min-length-ratio") {
		cfg.MinLineLengthRatio = f.minLengthRatio
	}
	if fs.Changed("canny-low") {
		cfg.CannyLow = f.cannyLow
	}
	if fs.Changed("canny-high") {
		cfg.CannyHigh = f.cannyHigh
	}
	if fs.Changed("hough-threshold") {
		cfg.HoughThreshold = f.houghThreshold
	}
	if fs.Changed("merge-tolerance") {
		cfg.MergeTolerance = f.mergeTolerance
	}
	if fs.Changed("max-line-gap") {
		cfg.MaxLineGap = f.maxLineGap
	}
	if fs.Lookup("lines") != nil && fs.Changed("lines") {
		sel, err := parseRanks(f.lines)
		if err != nil {
			return cfg, err
		}
		cfg.SetSelection(sel)
	} else if cfg.Params != saved && len(cfg.SelectedLineNumbers) > 0 {
		slog.Warn("Detection parameters differ from the config; ignoring its saved line numbers",
			"saved_lines", cfg.SelectedLineNumbers)
		cfg.SelectedLineNumbers = []int{}
	}
	if fs.Lookup("pattern") != nil && fs.Changed("pattern") {
		cfg.Pattern = f.namingPattern
	}
	if fs.Lookup("replacement") != nil && fs.Changed("replacement") {
		cfg.Replacement = f.namingReplacement
	}

	if err := cfg.Params.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// requireSelection returns the configured rank pair or explains how to supply one.
func requireSelection(cfg config.File) (selection.Selection, error) {
	sel, err := selection.FromRanks(cfg.SelectedLineNumbers)
	if err != nil {
		return sel, fmt.Errorf("a line selection is required (--lines a,b or selected_line_numbers in the config): %w", err)
	}
	return sel, nil
}

func parseRanks(s string) (selection.Selection, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	ranks := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return selection.Selection{}, fmt.Errorf("invalid line number %q", p)
		}
		ranks = append(ranks, n)
	}
	return selection.FromRanks(ranks)
}
