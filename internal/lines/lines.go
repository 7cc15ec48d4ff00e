// Package lines holds the detection parameters and the detected-line model
// shared by the detector, the selector and the crop resolver.
//
// A DetectedLine is identified by its Rank: its 1-based position in
// top-to-bottom order within one detection run. Ranks are only meaningful
// relative to the Params and image that produced them.
package lines

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Defaults match the values the clipper has always shipped with.
const (
	DefaultMinLineLengthRatio = 0.5
	DefaultCannyLow           = 50
	DefaultCannyHigh          = 150
	DefaultHoughThreshold     = 100
	DefaultMergeTolerance     = 10
	DefaultMaxLineGap         = 10

	// MaxCannyThreshold bounds the hysteresis thresholds for 8-bit gradients.
	MaxCannyThreshold = 1000

	// HorizontalAngle is the maximum deviation, in degrees, from the x axis
	// for a segment to count as horizontal.
	HorizontalAngle = 5.0
)

// Params configures one detection run. It is compared by value: any field
// change invalidates a selection made against the previous run.
type Params struct {
	MinLineLengthRatio float64 `json:"min_line_length_ratio" yaml:"min_line_length_ratio"`
	CannyLow           int     `json:"canny_threshold1" yaml:"canny_threshold1"`
	CannyHigh          int     `json:"canny_threshold2" yaml:"canny_threshold2"`
	HoughThreshold     int     `json:"hough_threshold" yaml:"hough_threshold"`
	MergeTolerance     float64 `json:"merge_tolerance" yaml:"merge_tolerance"`
	MaxLineGap         int     `json:"max_line_gap" yaml:"max_line_gap"`
}

// DefaultParams returns the stock detection parameters.
func DefaultParams() Params {
	return Params{
		MinLineLengthRatio: DefaultMinLineLengthRatio,
		CannyLow:           DefaultCannyLow,
		CannyHigh:          DefaultCannyHigh,
		HoughThreshold:     DefaultHoughThreshold,
		MergeTolerance:     DefaultMergeTolerance,
		MaxLineGap:         DefaultMaxLineGap,
	}
}

// MinLineLength is the minimum pixel length for an image of the given width.
func (p Params) MinLineLength(width int) int {
	return int(float64(width) * p.MinLineLengthRatio)
}

// ValidationError reports every out-of-domain parameter at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid detection parameters: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid detection parameters: %d problems: %v", len(e.Problems), e.Problems)
}

// ErrInvalidParams is matched by every *ValidationError.
var ErrInvalidParams = errors.New("invalid detection parameters")

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidParams }

// Validate checks every field against its domain. Values are never clamped.
func (p Params) Validate() error {
	var problems []string
	if math.IsNaN(p.MinLineLengthRatio) || p.MinLineLengthRatio < 0 || p.MinLineLengthRatio > 1 {
		problems = append(problems, fmt.Sprintf("min_line_length_ratio must be in [0,1], got %v", p.MinLineLengthRatio))
	}
	if p.CannyLow < 0 || p.CannyLow > MaxCannyThreshold {
		problems = append(problems, fmt.Sprintf("canny_threshold1 must be in [0,%d], got %d", MaxCannyThreshold, p.CannyLow))
	}
	if p.CannyHigh < 0 || p.CannyHigh > MaxCannyThreshold {
		problems = append(problems, fmt.Sprintf("canny_threshold2 must be in [0,%d], got %d", MaxCannyThreshold, p.CannyHigh))
	}
	if p.CannyLow > p.CannyHigh {
		problems = append(problems, fmt.Sprintf("canny_threshold1 (%d) must not exceed canny_threshold2 (%d)", p.CannyLow, p.CannyHigh))
	}
	if p.HoughThreshold < 1 {
		problems = append(problems, fmt.Sprintf("hough_threshold must be at least 1, got %d", p.HoughThreshold))
	}
	if math.IsNaN(p.MergeTolerance) || p.MergeTolerance < 0 {
		problems = append(problems, fmt.Sprintf("merge_tolerance must be non-negative, got %v", p.MergeTolerance))
	}
	if p.MaxLineGap < 0 {
		problems = append(problems, fmt.Sprintf("max_line_gap must be non-negative, got %d", p.MaxLineGap))
	}
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// Segment is one raw line-transform output in pixel coordinates.
type Segment struct {
	X1, Y1, X2, Y2 int
}

// Length returns the Euclidean length of the segment.
func (s Segment) Length() float64 {
	return math.Hypot(float64(s.X2-s.X1), float64(s.Y2-s.Y1))
}

// Horizontal reports whether the segment lies within HorizontalAngle of the x axis.
func (s Segment) Horizontal() bool {
	angle := math.Abs(math.Atan2(float64(s.Y2-s.Y1), float64(s.X2-s.X1)) * 180 / math.Pi)
	return angle < HorizontalAngle || angle > 180-HorizontalAngle
}

// MidY is the mean row of the two endpoints.
func (s Segment) MidY() float64 {
	return float64(s.Y1+s.Y2) / 2
}

// DetectedLine is one horizontal line after merging, ranked top to bottom.
type DetectedLine struct {
	Rank     int     `json:"rank" yaml:"rank"`
	Y        float64 `json:"y" yaml:"y"`
	Length   float64 `json:"length" yaml:"length"`
	Strength float64 `json:"strength" yaml:"strength"`
	Support  int     `json:"support" yaml:"support"`
}

// Row returns Y rounded to the nearest pixel row.
func (l DetectedLine) Row() int {
	return int(math.Round(l.Y))
}

type candidate struct {
	y      float64
	length float64
}

// Normalize turns raw segments into the ranked line list for an image of
// the given width. Segments that are not horizontal or shorter than the
// minimum length are dropped. The rest are stably sorted by Y, so equal
// rows keep detection-output order, then merged: a group starts at a
// candidate and absorbs every following candidate whose Y lies within
// MergeTolerance of the group's first Y. A merged line takes the mean Y of
// its group and the longest length.
func Normalize(segments []Segment, width int, p Params) []DetectedLine {
	minLen := float64(p.MinLineLength(width))

	cands := make([]candidate, 0, len(segments))
	for _, s := range segments {
		if !s.Horizontal() {
			continue
		}
		l := s.Length()
		if l < minLen {
			continue
		}
		cands = append(cands, candidate{y: s.MidY(), length: l})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].y < cands[j].y })

	var out []DetectedLine
	for i := 0; i < len(cands); {
		anchor := cands[i].y
		sumY, longest := 0.0, 0.0
		j := i
		for ; j < len(cands) && cands[j].y-anchor <= p.MergeTolerance; j++ {
			sumY += cands[j].y
			longest = math.Max(longest, cands[j].length)
		}
		n := j - i
		line := DetectedLine{
			Rank:    len(out) + 1,
			Y:       sumY / float64(n),
			Length:  longest,
			Support: n,
		}
		if width > 0 {
			line.Strength = longest / float64(width)
		}
		out = append(out, line)
		i = j
	}
	return out
}

// Monotonic reports whether Y is non-decreasing in rank order and ranks
// run 1..n without gaps.
func Monotonic(ls []DetectedLine) bool {
	for i, l := range ls {
		if l.Rank != i+1 {
			return false
		}
		if i > 0 && l.Y < ls[i-1].Y {
			return false
		}
	}
	return true
}

// Nearest returns the rank of the line closest to y, or 0 when no line lies
// within tolerance. Ties go to the lower rank.
func Nearest(ls []DetectedLine, y, tolerance float64) int {
	best, bestDist := 0, math.Inf(1)
	for _, l := range ls {
		d := math.Abs(l.Y - y)
		if d < bestDist {
			best, bestDist = l.Rank, d
		}
	}
	if best == 0 || bestDist > tolerance {
		return 0
	}
	return best
}
