// Package session keeps the state of one interactive cropping session: the
// detection parameters, the lines detected on the reference image and the
// user's rank selection.
package session

import (
	"errors"
	"image"
	"log/slog"

	"github.com/lehigh-university-libraries/linecrop/internal/crop"
	"github.com/lehigh-university-libraries/linecrop/internal/lines"
	"github.com/lehigh-university-libraries/linecrop/internal/selection"
)

// ErrNoReference is returned when an operation needs a reference image.
var ErrNoReference = errors.New("no reference image detected")

// LineDetector finds ranked lines in an image.
type LineDetector interface {
	Detect(img image.Image, p lines.Params) ([]lines.DetectedLine, error)
}

// Snapshot is the immutable input of a batch run.
type Snapshot struct {
	Params    lines.Params
	Selection selection.Selection
}

// Session is not safe for concurrent use; callers serialise access.
type Session struct {
	detector  LineDetector
	params    lines.Params
	reference image.Image
	found     []lines.DetectedLine
	selector  selection.Selector
}

// New starts a session with validated parameters.
func New(detector LineDetector, p lines.Params) (*Session, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Session{detector: detector, params: p}, nil
}

// Params returns the current detection parameters.
func (s *Session) Params() lines.Params { return s.params }

// Lines returns the reference image's detected lines.
func (s *Session) Lines() []lines.DetectedLine {
	return append([]lines.DetectedLine(nil), s.found...)
}

// Selection returns the current rank selection.
func (s *Session) Selection() selection.Selection { return s.selector.Current() }

// Reference returns the reference image, or nil.
func (s *Session) Reference() image.Image { return s.reference }

// SetParams replaces the detection parameters. Any change clears the
// selection, since ranks only mean something relative to the detection
// that produced them, and re-runs detection on the reference image.
func (s *Session) SetParams(p lines.Params) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	if p == s.params {
		return false, nil
	}
	s.params = p
	s.selector.Clear()
	slog.Debug("Detection parameters changed, selection cleared")
	if s.reference != nil {
		return true, s.redetect()
	}
	return true, nil
}

// Load sets the reference image and detects its lines. The selection is
// kept: it is a rank pair, re-resolved against the new lines.
func (s *Session) Load(img image.Image) ([]lines.DetectedLine, error) {
	s.reference = img
	if err := s.redetect(); err != nil {
		return nil, err
	}
	return s.Lines(), nil
}

func (s *Session) redetect() error {
	found, err := s.detector.Detect(s.reference, s.params)
	if err != nil {
		s.found = nil
		return err
	}
	s.found = found
	return nil
}

// Restore applies a persisted parameter set and rank pair together, the
// way a saved configuration is loaded.
func (s *Session) Restore(p lines.Params, sel selection.Selection) error {
	if _, err := s.SetParams(p); err != nil {
		return err
	}
	s.selector.Set(sel)
	return nil
}

// Select picks a line by rank. With a reference image loaded the rank must
// exist in its detection.
func (s *Session) Select(rank int) (selection.Selection, error) {
	if s.reference != nil && rank > len(s.found) {
		return s.Selection(), &crop.RankOutOfRangeError{RequestedRank: rank, AvailableCount: len(s.found)}
	}
	return s.selector.Select(rank)
}

// SelectNearest picks the reference line closest to row y.
func (s *Session) SelectNearest(y float64) (selection.Selection, error) {
	if s.reference == nil {
		return s.Selection(), ErrNoReference
	}
	return s.selector.SelectNearest(s.found, y)
}

// ClearSelection drops the selection.
func (s *Session) ClearSelection() { s.selector.Clear() }

// Resolve computes the crop region of the reference image.
func (s *Session) Resolve() (crop.Region, error) {
	if s.reference == nil {
		return crop.Region{}, ErrNoReference
	}
	b := s.reference.Bounds()
	return crop.Resolve(s.Selection(), s.found, b.Dx(), b.Dy())
}

// Preview returns the cropped reference image.
func (s *Session) Preview() (image.Image, crop.Region, error) {
	region, err := s.Resolve()
	if err != nil {
		return nil, crop.Region{}, err
	}
	return crop.Apply(s.reference, region), region, nil
}

// Snapshot copies the parameters and selection for a batch run.
func (s *Session) Snapshot() (Snapshot, error) {
	sel := s.Selection()
	if !sel.Complete() {
		return Snapshot{}, crop.ErrIncompleteSelection
	}
	return Snapshot{Params: s.params, Selection: sel}, nil
}
