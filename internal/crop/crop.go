// Package crop resolves a rank selection against one image's detected lines
// and cuts the resulting band out of the image.
//
// The unit of selection is rank, not position. A header that moves down
// between screenshots still crops correctly as long as the order of lines
// is stable; an image where detection finds an extra or missing line above
// the selected ranks is cropped at the wrong structural line rather than
// rejected.
package crop

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/lehigh-university-libraries/linecrop/internal/lines"
	"github.com/lehigh-university-libraries/linecrop/internal/selection"
)

var (
	// ErrIncompleteSelection means fewer than two distinct ranks are selected.
	ErrIncompleteSelection = errors.New("two distinct lines must be selected")

	// ErrDegenerateRegion means both selected lines resolve to the same row.
	ErrDegenerateRegion = errors.New("selected lines resolve to the same row")
)

// RankOutOfRangeError means the image has fewer detected lines than the
// selection requires.
type RankOutOfRangeError struct {
	RequestedRank  int
	AvailableCount int
}

func (e *RankOutOfRangeError) Error() string {
	return fmt.Sprintf("line %d requested but only %d lines detected", e.RequestedRank, e.AvailableCount)
}

// Region is a full-width horizontal band: rows [Top, Bottom), columns [Left, Right).
type Region struct {
	Top    int `json:"top" yaml:"top"`
	Bottom int `json:"bottom" yaml:"bottom"`
	Left   int `json:"left" yaml:"left"`
	Right  int `json:"right" yaml:"right"`
}

// Height returns the number of rows in the region.
func (r Region) Height() int { return r.Bottom - r.Top }

// Rect returns the region as a rectangle anchored at the image's origin.
func (r Region) Rect(origin image.Point) image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom).Add(origin)
}

// Resolve maps the selected ranks onto found and returns the band between
// the two lines for an image of the given size.
func Resolve(sel selection.Selection, found []lines.DetectedLine, width, height int) (Region, error) {
	if !sel.Complete() {
		return Region{}, ErrIncompleteSelection
	}
	upper, lower := sel.Ordered()
	if lower > len(found) {
		return Region{}, &RankOutOfRangeError{RequestedRank: lower, AvailableCount: len(found)}
	}

	top := clamp(found[upper-1].Row(), 0, height)
	bottom := clamp(found[lower-1].Row(), 0, height)
	if top > bottom {
		top, bottom = bottom, top
	}
	if top == bottom {
		return Region{}, fmt.Errorf("%w: y=%d", ErrDegenerateRegion, top)
	}
	return Region{Top: top, Bottom: bottom, Left: 0, Right: width}, nil
}

// Apply cuts region out of img.
func Apply(img image.Image, region Region) image.Image {
	return imaging.Crop(img, region.Rect(img.Bounds().Min))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
