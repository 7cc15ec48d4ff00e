// Package report renders batch reports for people and for other tools.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/linecrop/internal/batch"
	"gopkg.in/yaml.v3"
)

// Format names a rendering of a batch report.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

// Formats lists the supported formats in help-text order.
var Formats = []Format{FormatText, FormatJSON, FormatCSV, FormatYAML}

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

// Write renders rep to w in the given format.
func Write(w io.Writer, rep *batch.Report, format Format) error {
	switch format {
	case FormatText:
		return writeText(w, rep)
	case FormatJSON:
		return writeJSON(w, rep)
	case FormatCSV:
		return writeCSV(w, rep)
	case FormatYAML:
		return writeYAML(w, rep)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeText(w io.Writer, rep *batch.Report) error {
	var b strings.Builder
	b.WriteString("========================================\n")
	b.WriteString("Batch Crop Report\n")
	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Run:       %s\n", rep.RunID)
	fmt.Fprintf(&b, "Source:    %s\n", rep.SourceDir)
	fmt.Fprintf(&b, "Output:    %s\n", rep.OutputDir)
	fmt.Fprintf(&b, "Selection: %s\n", rep.Selection)
	if rep.DryRun {
		b.WriteString("Mode:      dry run (nothing written)\n")
	}
	if !rep.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Duration:  %s\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	}
	b.WriteString("\n")

	succeeded, failed := rep.Succeeded(), rep.Failed()
	fmt.Fprintf(&b, "Processed: %d of %d\n", len(rep.Items), rep.Total)
	fmt.Fprintf(&b, "Succeeded: %d\n", len(succeeded))
	fmt.Fprintf(&b, "Failed:    %d\n", len(failed))
	if rep.Aborted {
		b.WriteString("Aborted before all items were processed\n")
	}

	counts := rep.Counts()
	var kinds []string
	for k := range counts {
		if k != "" {
			kinds = append(kinds, string(k))
		}
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "  %s: %d\n", k, counts[batch.FailureKind(k)])
	}

	b.WriteString("\nDetailed Results:\n")
	b.WriteString("========================================\n")
	for _, it := range rep.Items {
		fmt.Fprintf(&b, "[%d] %s\n", it.Index+1, it.SourcePath)
		if it.Failure != nil {
			fmt.Fprintf(&b, "  ❌ %s: %s\n", it.Failure.Kind, it.Failure.Message)
			continue
		}
		if it.Region != nil {
			fmt.Fprintf(&b, "  Rows %d-%d (%d px) from %d lines\n", it.Region.Top, it.Region.Bottom, it.Region.Height(), len(it.Lines))
		}
		if it.OutputPath != "" {
			fmt.Fprintf(&b, "  ✅ %s\n", it.OutputPath)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeJSON(w io.Writer, rep *batch.Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rep)
}

func writeYAML(w io.Writer, rep *batch.Report) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(rep); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return encoder.Close()
}

var csvHeader = []string{"Index", "Source", "Output", "Status", "Lines", "Top", "Bottom", "Failure", "Requested Rank", "Available Lines", "Message"}

func writeCSV(w io.Writer, rep *batch.Report) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, it := range rep.Items {
		row := []string{
			strconv.Itoa(it.Index),
			it.SourcePath,
			it.OutputPath,
			string(it.Status),
			strconv.Itoa(len(it.Lines)),
		}
		if it.Region != nil {
			row = append(row, strconv.Itoa(it.Region.Top), strconv.Itoa(it.Region.Bottom))
		} else {
			row = append(row, "", "")
		}
		if f := it.Failure; f != nil {
			row = append(row, string(f.Kind), intOrBlank(f.RequestedRank), intOrBlank(f.AvailableCount), f.Message)
		} else {
			row = append(row, "", "", "", "")
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func intOrBlank(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
