// Package config loads and saves the settings a batch needs: detection
// parameters, the two line numbers and the naming rule. Files are JSON or
// YAML by extension and use flat keys, so configs written by older clipper
// tools load unchanged.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lehigh-university-libraries/linecrop/internal/lines"
	"github.com/lehigh-university-libraries/linecrop/internal/naming"
	"github.com/lehigh-university-libraries/linecrop/internal/selection"
	"gopkg.in/yaml.v3"
)

// EnvFile names the environment variable holding the default config path.
const EnvFile = "LINECROP_CONFIG"

// DefaultFile is used when EnvFile is unset.
const DefaultFile = "linecrop_config.json"

// File is the on-disk configuration. Only line numbers are stored, never
// pixel positions, so one config applies to every image of a batch.
type File struct {
	lines.Params `yaml:",inline"`
	naming.Rule  `yaml:",inline"`

	SelectedLineNumbers []int `json:"selected_line_numbers" yaml:"selected_line_numbers"`
}

// Default returns stock parameters, no selection and the default naming rule.
func Default() File {
	return File{
		Params:              lines.DefaultParams(),
		Rule:                naming.DefaultRule(),
		SelectedLineNumbers: []int{},
	}
}

// Path returns the config file named by EnvFile, or DefaultFile.
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvFile)); p != "" {
		return p
	}
	return DefaultFile
}

// Selection converts the stored line numbers into a selection. Anything
// other than two distinct positive numbers yields the empty selection.
func (f File) Selection() selection.Selection {
	sel, err := selection.FromRanks(f.SelectedLineNumbers)
	if err != nil {
		return selection.Selection{}
	}
	return sel
}

// SetSelection stores sel's ranks in ascending order.
func (f *File) SetSelection(sel selection.Selection) {
	f.SelectedLineNumbers = sel.Ranks()
	if f.SelectedLineNumbers == nil {
		f.SelectedLineNumbers = []int{}
	}
}

// Validate checks the parameters and the naming pattern.
func (f File) Validate() error {
	var errs []error
	if err := f.Params.Validate(); err != nil {
		errs = append(errs, err)
	}
	rule := f.Rule
	if err := rule.Compile(); err != nil {
		errs = append(errs, err)
	}
	if len(f.SelectedLineNumbers) != 0 && f.Selection().Empty() {
		errs = append(errs, fmt.Errorf("selected_line_numbers must hold two distinct line numbers, got %v", f.SelectedLineNumbers))
	}
	return errors.Join(errs...)
}

// Load reads path. Keys absent from the file keep their default values.
func Load(path string) (File, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json", "":
		err = json.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	slog.Debug("Loaded config", "path", path, "selection", cfg.Selection().String())
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default when it
// does not. Other errors are returned.
func LoadOrDefault(path string) (File, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("No config file, using defaults", "path", path)
		return Default(), nil
	}
	return cfg, err
}

// Save writes f to path, choosing the encoding by extension.
func Save(path string, f File) error {
	var (
		data []byte
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(&f)
	case ".json", "":
		data, err = json.MarshalIndent(f, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unsupported config format: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
