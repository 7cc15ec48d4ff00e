package detect

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/lehigh-university-libraries/linecrop/internal/images"
	"github.com/lehigh-university-libraries/linecrop/internal/lines"
)

// screenshot draws dark two-pixel rules across a white canvas.
func screenshot(width, height int, rows ...int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	for _, y := range rows {
		rule := image.Rect(0, y, width, y+2)
		draw.Draw(img, rule, &image.Uniform{color.Black}, image.Point{}, draw.Src)
	}
	return img
}

func TestDetectFindsRules(t *testing.T) {
	img := screenshot(300, 220, 40, 100, 160)

	found, err := New().Detect(img, lines.DefaultParams())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("Expected 3 lines, got %d: %+v", len(found), found)
	}

	want := []float64{40, 100, 160}
	for i, l := range found {
		if math.Abs(l.Y-want[i]) > 3 {
			t.Errorf("Rank %d: expected y near %v, got %v", l.Rank, want[i], l.Y)
		}
	}
	if !lines.Monotonic(found) {
		t.Errorf("Expected monotonic ranks, got %+v", found)
	}
}

func TestDetectIsIdempotent(t *testing.T) {
	img := screenshot(300, 220, 20, 90, 91, 180)
	d := New()

	first, err := d.Detect(img, lines.DefaultParams())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	second, err := d.Detect(img, lines.DefaultParams())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical detections:\n%+v\n%+v", first, second)
	}
}

func TestDetectShortRulesFiltered(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 300, 100))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, 50, 60, 52), &image.Uniform{color.Black}, image.Point{}, draw.Src)

	found, err := New().Detect(img, lines.DefaultParams())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("Expected short rule to be ignored, got %+v", found)
	}
}

func TestDetectRejectsInvalidParams(t *testing.T) {
	p := lines.DefaultParams()
	p.HoughThreshold = 0

	_, err := New().Detect(screenshot(50, 50), p)
	if !errors.Is(err, lines.ErrInvalidParams) {
		t.Errorf("Expected ErrInvalidParams, got %v", err)
	}
}

func TestDetectFileReadError(t *testing.T) {
	_, _, err := New().DetectFile(filepath.Join(t.TempDir(), "missing.png"), lines.DefaultParams())
	var rerr *images.ReadError
	if !errors.As(err, &rerr) {
		t.Errorf("Expected *images.ReadError, got %v", err)
	}
}
