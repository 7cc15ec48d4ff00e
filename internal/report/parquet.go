package report

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lehigh-university-libraries/linecrop/internal/batch"
	"github.com/parquet-go/parquet-go"
)

// Row is one batch item flattened for columnar export.
type Row struct {
	RunID          string `json:"run_id" parquet:"run_id"`
	Index          int    `json:"index" parquet:"index"`
	SourcePath     string `json:"source_path" parquet:"source_path"`
	OutputPath     string `json:"output_path" parquet:"output_path"`
	Status         string `json:"status" parquet:"status"`
	RankA          int    `json:"rank_a" parquet:"rank_a"`
	RankB          int    `json:"rank_b" parquet:"rank_b"`
	LineCount      int    `json:"line_count" parquet:"line_count"`
	LineRows       []int  `json:"line_rows" parquet:"line_rows,list"`
	Top            int    `json:"top" parquet:"top"`
	Bottom         int    `json:"bottom" parquet:"bottom"`
	FailureKind    string `json:"failure_kind" parquet:"failure_kind"`
	FailureMessage string `json:"failure_message" parquet:"failure_message"`
	RequestedRank  int    `json:"requested_rank" parquet:"requested_rank"`
	AvailableCount int    `json:"available_count" parquet:"available_count"`
	StartedAtUnix  int64  `json:"started_at_unix" parquet:"started_at_unix"`
}

// Rows flattens every item of rep.
func Rows(rep *batch.Report) []Row {
	rows := make([]Row, 0, len(rep.Items))
	for _, it := range rep.Items {
		row := Row{
			RunID:         rep.RunID,
			Index:         it.Index,
			SourcePath:    it.SourcePath,
			OutputPath:    it.OutputPath,
			Status:        string(it.Status),
			RankA:         rep.Selection.RankA,
			RankB:         rep.Selection.RankB,
			LineCount:     len(it.Lines),
			StartedAtUnix: rep.StartedAt.Unix(),
		}
		for _, l := range it.Lines {
			row.LineRows = append(row.LineRows, l.Row())
		}
		if it.Region != nil {
			row.Top, row.Bottom = it.Region.Top, it.Region.Bottom
		}
		if f := it.Failure; f != nil {
			row.FailureKind = string(f.Kind)
			row.FailureMessage = f.Message
			row.RequestedRank = f.RequestedRank
			row.AvailableCount = f.AvailableCount
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteParquet exports rep as a parquet file at path.
func WriteParquet(path string, rep *batch.Report) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer file.Close()

	rows := Rows(rep)
	writer := parquet.NewGenericWriter[Row](file)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}

	slog.Debug("Wrote parquet report", "path", path, "rows", len(rows))
	return file.Close()
}

// ReadParquet loads rows previously written by WriteParquet.
func ReadParquet(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	rows := make([]Row, 0, pf.NumRows())
	for {
		// Fresh buffer per batch: decoded list columns may reuse element memory.
		buf := make([]Row, 128)
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}

	slog.Debug("Read parquet report", "path", path, "rows", len(rows))
	return rows, nil
}
