// Package selection tracks which two detected lines, by rank, bound the
// crop region. A selection never caches pixel coordinates: ranks are
// re-resolved against every image's own detection output.
package selection

import (
	"errors"
	"fmt"

	"github.com/lehigh-university-libraries/linecrop/internal/lines"
)

// ErrInvalidRank is returned for ranks below 1.
var ErrInvalidRank = errors.New("rank must be at least 1")

// ErrNoLineNearby is returned when a click is not close to any detected line.
var ErrNoLineNearby = errors.New("no detected line near the selected position")

// ClickTolerance is how far, in image pixels, a click may land from a line
// and still select it.
const ClickTolerance = 20.0

// Selection is an unordered pair of distinct ranks. The zero value is empty.
type Selection struct {
	RankA int `json:"rank_a" yaml:"rank_a"`
	RankB int `json:"rank_b" yaml:"rank_b"`
}

// FromRanks builds a complete selection from a stored rank pair.
func FromRanks(ranks []int) (Selection, error) {
	if len(ranks) != 2 {
		return Selection{}, fmt.Errorf("exactly 2 line numbers are required, got %d", len(ranks))
	}
	if ranks[0] < 1 || ranks[1] < 1 {
		return Selection{}, fmt.Errorf("%w: %v", ErrInvalidRank, ranks)
	}
	if ranks[0] == ranks[1] {
		return Selection{}, fmt.Errorf("line numbers must differ, got %d twice", ranks[0])
	}
	return Selection{RankA: ranks[0], RankB: ranks[1]}, nil
}

// Complete reports whether two distinct ranks are held.
func (s Selection) Complete() bool {
	return s.RankA >= 1 && s.RankB >= 1 && s.RankA != s.RankB
}

// Empty reports whether no rank is held.
func (s Selection) Empty() bool {
	return s.RankA == 0 && s.RankB == 0
}

// Ordered returns the ranks smallest first.
func (s Selection) Ordered() (int, int) {
	if s.RankA <= s.RankB {
		return s.RankA, s.RankB
	}
	return s.RankB, s.RankA
}

// Ranks returns the held ranks sorted ascending, for persistence.
func (s Selection) Ranks() []int {
	if !s.Complete() {
		return nil
	}
	a, b := s.Ordered()
	return []int{a, b}
}

func (s Selection) String() string {
	if !s.Complete() {
		return "none"
	}
	a, b := s.Ordered()
	return fmt.Sprintf("Line %d and Line %d", a, b)
}

// Selector accumulates rank picks with ring-buffer-of-two semantics: a
// third distinct pick evicts the earliest one.
type Selector struct {
	held []int
}

// Select records rank and returns the current selection. Picking a rank
// that is already held changes nothing.
func (s *Selector) Select(rank int) (Selection, error) {
	if rank < 1 {
		return s.Current(), fmt.Errorf("%w: got %d", ErrInvalidRank, rank)
	}
	for _, r := range s.held {
		if r == rank {
			return s.Current(), nil
		}
	}
	if len(s.held) == 2 {
		s.held = s.held[1:]
	}
	s.held = append(s.held, rank)
	return s.Current(), nil
}

// SelectNearest selects the rank of the detected line closest to y.
func (s *Selector) SelectNearest(found []lines.DetectedLine, y float64) (Selection, error) {
	rank := lines.Nearest(found, y, ClickTolerance)
	if rank == 0 {
		return s.Current(), fmt.Errorf("%w: y=%.0f", ErrNoLineNearby, y)
	}
	return s.Select(rank)
}

// Set replaces the held ranks with a complete selection.
func (s *Selector) Set(sel Selection) {
	if !sel.Complete() {
		s.Clear()
		return
	}
	s.held = []int{sel.RankA, sel.RankB}
}

// Clear drops every held rank.
func (s *Selector) Clear() {
	s.held = nil
}

// Held returns the ranks in pick order.
func (s *Selector) Held() []int {
	return append([]int(nil), s.held...)
}

// Current returns the selection; it is complete only once two ranks are held.
func (s *Selector) Current() Selection {
	var sel Selection
	if len(s.held) > 0 {
		sel.RankA = s.held[0]
	}
	if len(s.held) > 1 {
		sel.RankB = s.held[1]
	}
	return sel
}
