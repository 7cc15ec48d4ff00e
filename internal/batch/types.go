package batch

import (
	"errors"
	"time"

	"github.com/lehigh-university-libraries/linecrop/internal/crop"
	"github.com/lehigh-university-libraries/linecrop/internal/lines"
	"github.com/lehigh-university-libraries/linecrop/internal/selection"
)

// ErrOutputCollision means two items of one run map to the same output
// file, or an output would replace its own source.
var ErrOutputCollision = errors.New("output file already written in this run")

// Status is the state of one item in the per-item pipeline.
type Status string

const (
	StatusPending  Status = "pending"
	StatusDetected Status = "detected"
	StatusResolved Status = "resolved"
	StatusWritten  Status = "written"
	StatusFailed   Status = "failed"
)

// FailureKind classifies why an item failed.
type FailureKind string

const (
	FailureImageRead       FailureKind = "image_read"
	FailureDetect          FailureKind = "detect"
	FailureRankOutOfRange  FailureKind = "rank_out_of_range"
	FailureDegenerate      FailureKind = "degenerate_region"
	FailureOutputCollision FailureKind = "output_collision"
	FailureWrite           FailureKind = "write"
)

// Failure is the tagged failure side of an item's result.
type Failure struct {
	Kind    FailureKind `json:"kind" yaml:"kind"`
	Message string      `json:"message" yaml:"message"`

	// Set for FailureRankOutOfRange.
	RequestedRank  int `json:"requested_rank,omitempty" yaml:"requested_rank,omitempty"`
	AvailableCount int `json:"available_count,omitempty" yaml:"available_count,omitempty"`

	err error
}

func (f *Failure) Error() string { return string(f.Kind) + ": " + f.Message }

// Unwrap exposes the underlying error when the failure was produced in this process.
func (f *Failure) Unwrap() error { return f.err }

// Item is one file's trip through detect → resolve → write.
type Item struct {
	Index      int                  `json:"index" yaml:"index"`
	SourcePath string               `json:"source_path" yaml:"source_path"`
	OutputPath string               `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	Status     Status               `json:"status" yaml:"status"`
	Lines      []lines.DetectedLine `json:"lines,omitempty" yaml:"lines,omitempty"`
	Region     *crop.Region         `json:"region,omitempty" yaml:"region,omitempty"`
	Failure    *Failure             `json:"failure,omitempty" yaml:"failure,omitempty"`
}

// Succeeded reports whether the item reached its final successful state.
func (it Item) Succeeded() bool {
	return it.Status == StatusWritten || it.Status == StatusResolved
}

// Report aggregates every attempted item in listing order.
type Report struct {
	RunID      string              `json:"run_id" yaml:"run_id"`
	SourceDir  string              `json:"source_dir" yaml:"source_dir"`
	OutputDir  string              `json:"output_dir" yaml:"output_dir"`
	Params     lines.Params        `json:"params" yaml:"params"`
	Selection  selection.Selection `json:"selection" yaml:"selection"`
	DryRun     bool                `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	StartedAt  time.Time           `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time           `json:"finished_at" yaml:"finished_at"`
	Total      int                 `json:"total" yaml:"total"`
	Aborted    bool                `json:"aborted" yaml:"aborted"`
	Items      []Item              `json:"items" yaml:"items"`
}

// Success pairs a source file with the file written for it.
type Success struct {
	SourcePath string
	OutputPath string
}

// Failed pairs a source file with why it was skipped.
type Failed struct {
	SourcePath string
	Reason     *Failure
}

// Succeeded lists the items that completed, in order.
func (r *Report) Succeeded() []Success {
	var out []Success
	for _, it := range r.Items {
		if it.Succeeded() {
			out = append(out, Success{SourcePath: it.SourcePath, OutputPath: it.OutputPath})
		}
	}
	return out
}

// Failed lists the items that failed, in order.
func (r *Report) Failed() []Failed {
	var out []Failed
	for _, it := range r.Items {
		if it.Status == StatusFailed {
			out = append(out, Failed{SourcePath: it.SourcePath, Reason: it.Failure})
		}
	}
	return out
}

// Counts tallies items by failure kind; successes are under "".
func (r *Report) Counts() map[FailureKind]int {
	counts := make(map[FailureKind]int)
	for _, it := range r.Items {
		if it.Failure != nil {
			counts[it.Failure.Kind]++
		} else {
			counts[""]++
		}
	}
	return counts
}

// Event is emitted once per item when it reaches a final state.
type Event struct {
	Index  int         `json:"index"`
	Total  int         `json:"total"`
	Path   string      `json:"path"`
	Status Status      `json:"status"`
	Reason FailureKind `json:"reason,omitempty"`
	Detail string      `json:"detail,omitempty"`
}
