package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/linecrop/internal/lines"
	"github.com/lehigh-university-libraries/linecrop/internal/selection"
)

func TestLoadClipperJSON(t *testing.T) {
	// Shape written by the desktop clipper; merge_tolerance and max_line_gap are absent.
	data := `{
  "min_line_length_ratio": 0.3,
  "canny_threshold1": 40,
  "canny_threshold2": 120,
  "hough_threshold": 80,
  "selected_line_numbers": [1, 3],
  "naming_pattern": "Screenshot_(\\d+)",
  "naming_replacement": "page_\\1"
}`
	path := filepath.Join(t.TempDir(), "image_clipper_config.json")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := lines.Params{
		MinLineLengthRatio: 0.3,
		CannyLow:           40,
		CannyHigh:          120,
		HoughThreshold:     80,
		MergeTolerance:     lines.DefaultMergeTolerance,
		MaxLineGap:         lines.DefaultMaxLineGap,
	}
	if cfg.Params != want {
		t.Errorf("Expected %+v, got %+v", want, cfg.Params)
	}
	if sel := cfg.Selection(); sel != (selection.Selection{RankA: 1, RankB: 3}) {
		t.Errorf("Expected lines 1 and 3, got %v", sel)
	}
	if cfg.Pattern != `Screenshot_(\d+)` || cfg.Replacement != `page_\1` {
		t.Errorf("Unexpected naming rule: %q %q", cfg.Pattern, cfg.Replacement)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"cfg.json", "cfg.yaml", "cfg.yml"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.HoughThreshold = 60
			cfg.MergeTolerance = 4.5
			cfg.SetSelection(selection.Selection{RankA: 4, RankB: 2})
			cfg.Replacement = `\1_trim`

			path := filepath.Join(t.TempDir(), "sub", name)
			if err := Save(path, cfg); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			if got.Params != cfg.Params {
				t.Errorf("Expected params %+v, got %+v", cfg.Params, got.Params)
			}
			if !reflect.DeepEqual(got.SelectedLineNumbers, []int{2, 4}) {
				t.Errorf("Expected ranks stored ascending, got %v", got.SelectedLineNumbers)
			}
			if got.Pattern != cfg.Pattern || got.Replacement != cfg.Replacement {
				t.Errorf("Expected naming rule to survive, got %q %q", got.Pattern, got.Replacement)
			}
		})
	}
}

func TestSaveUsesFlatKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := Save(path, Default()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved config: %v", err)
	}
	for _, key := range []string{`"canny_threshold1"`, `"selected_line_numbers": []`, `"naming_pattern"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("Expected %s in saved config:\n%s", key, data)
		}
	}
	if strings.Contains(string(data), `"Params"`) || strings.Contains(string(data), `"Rule"`) {
		t.Errorf("Expected embedded structs to be flattened:\n%s", data)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*File)
		wantErr bool
	}{
		{"defaults", func(*File) {}, false},
		{"negative canny", func(f *File) { f.CannyLow = -1 }, true},
		{"bad pattern", func(f *File) { f.Pattern = "(" }, true},
		{"one line", func(f *File) { f.SelectedLineNumbers = []int{2} }, true},
		{"same line twice", func(f *File) { f.SelectedLineNumbers = []int{2, 2} }, true},
		{"two lines", func(f *File) { f.SelectedLineNumbers = []int{3, 1} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateInvalidParamsIsMatchable(t *testing.T) {
	cfg := Default()
	cfg.MinLineLengthRatio = 2
	if err := cfg.Validate(); !errors.Is(err, lines.ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams, got %v", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got %v", err)
	}
	if cfg.Params != lines.DefaultParams() || !cfg.Selection().Empty() {
		t.Errorf("Expected default config, got %+v", cfg)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadOrDefault(bad); err == nil {
		t.Error("Expected parse error, got nil")
	}
}

func TestUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.toml")
	if err := Save(path, Default()); err == nil {
		t.Error("Expected error saving .toml, got nil")
	}
	if err := os.WriteFile(path, []byte("x = 1"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error loading .toml, got nil")
	}
}

func TestPath(t *testing.T) {
	t.Setenv(EnvFile, "")
	if got := Path(); got != DefaultFile {
		t.Errorf("Expected %s, got %s", DefaultFile, got)
	}
	t.Setenv(EnvFile, "/etc/linecrop.yaml")
	if got := Path(); got != "/etc/linecrop.yaml" {
		t.Errorf("Expected env path, got %s", got)
	}
}
