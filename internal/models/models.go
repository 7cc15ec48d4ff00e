package models

import (
	"time"

	"github.com/lehigh-university-libraries/linecrop/internal/crop"
	"github.com/lehigh-university-libraries/linecrop/internal/lines"
	"github.com/lehigh-university-libraries/linecrop/internal/naming"
	"github.com/lehigh-university-libraries/linecrop/internal/selection"
)

// CropSession is the API view of an interactive cropping session
type CropSession struct {
	ID        string               `json:"id"`
	Filename  string               `json:"filename"`
	Width     int                  `json:"width"`
	Height    int                  `json:"height"`
	Params    lines.Params         `json:"params"`
	Lines     []lines.DetectedLine `json:"lines"`
	Selection selection.Selection  `json:"selection"`
	Label     string               `json:"label"`
	Region    *crop.Region         `json:"region,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// SelectRequest picks a line by rank or by clicked row; exactly one is set
type SelectRequest struct {
	Rank *int     `json:"rank,omitempty"`
	Y    *float64 `json:"y,omitempty"`
}

// ParamsResponse reports whether a parameter update invalidated the selection
type ParamsResponse struct {
	Changed          bool        `json:"changed"`
	SelectionCleared bool        `json:"selection_cleared"`
	Session          CropSession `json:"session"`
}

// CropResponse describes the reference crop without the pixels
type CropResponse struct {
	Region    crop.Region         `json:"region"`
	Selection selection.Selection `json:"selection"`
	Width     int                 `json:"width"`
	Height    int                 `json:"height"`
}

// BatchRequest replays a session's selection over a folder on the server
type BatchRequest struct {
	Source  string       `json:"source"`
	Output  string       `json:"output"`
	Workers int          `json:"workers,omitempty"`
	DryRun  bool         `json:"dry_run,omitempty"`
	Naming  *naming.Rule `json:"naming,omitempty"`
}
