package batch

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"testing"

	"github.com/lehigh-university-libraries/linecrop/internal/crop"
	"github.com/lehigh-university-libraries/linecrop/internal/images"
	"github.com/lehigh-university-libraries/linecrop/internal/lines"
	"github.com/lehigh-university-libraries/linecrop/internal/naming"
	"github.com/lehigh-university-libraries/linecrop/internal/selection"
)

// rowDetector reports every fully black row as a line.
type rowDetector struct{}

func (rowDetector) Detect(img image.Image, p lines.Params) ([]lines.DetectedLine, error) {
	b := img.Bounds()
	var out []lines.DetectedLine
	for y := b.Min.Y; y < b.Max.Y; y++ {
		r, g, bl, _ := img.At(b.Min.X, y).RGBA()
		if r == 0 && g == 0 && bl == 0 {
			out = append(out, lines.DetectedLine{Rank: len(out) + 1, Y: float64(y - b.Min.Y), Length: float64(b.Dx())})
		}
	}
	return out, nil
}

type panicDetector struct{}

func (panicDetector) Detect(image.Image, lines.Params) ([]lines.DetectedLine, error) {
	panic("opencv exploded")
}

func writeShot(t *testing.T, dir, name string, height int, rows ...int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	for _, y := range rows {
		draw.Draw(img, image.Rect(0, y, 40, y+1), &image.Uniform{color.Black}, image.Point{}, draw.Src)
	}
	if err := images.Save(img, filepath.Join(dir, name)); err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
}

func baseOptions(src, out string) Options {
	return Options{
		SourceDir: src,
		OutputDir: out,
		Params:    lines.DefaultParams(),
		Selection: selection.Selection{RankA: 2, RankB: 4},
		Naming:    naming.DefaultRule(),
	}
}

func TestRunIsolatesCorruptItem(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeShot(t, src, "shot1.png", 400, 10, 50, 120, 300, 310)
	writeShot(t, src, "shot2.png", 400, 20, 90, 160, 340, 350)
	if err := os.WriteFile(filepath.Join(src, "shot3.png"), []byte("garbage"), 0644); err != nil {
		t.Fatalf("Failed to create corrupt file: %v", err)
	}
	writeShot(t, src, "shot4.png", 400, 5, 45, 115, 295)

	report, err := New(rowDetector{}).Run(context.Background(), baseOptions(src, out))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(report.Items) != 4 || report.Total != 4 {
		t.Fatalf("Expected 4 items, got %d (total %d)", len(report.Items), report.Total)
	}
	if report.Aborted {
		t.Error("Expected completed run")
	}
	if len(report.Succeeded()) != 3 {
		t.Errorf("Expected 3 successes, got %d", len(report.Succeeded()))
	}
	failed := report.Failed()
	if len(failed) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(failed))
	}
	if filepath.Base(failed[0].SourcePath) != "shot3.png" || failed[0].Reason.Kind != FailureImageRead {
		t.Errorf("Expected image_read failure for shot3.png, got %s %+v", failed[0].SourcePath, failed[0].Reason)
	}
	var rerr *images.ReadError
	if !errors.As(failed[0].Reason, &rerr) {
		t.Errorf("Expected failure to wrap *images.ReadError")
	}

	first := report.Items[0]
	if first.Region == nil || first.Region.Top != 50 || first.Region.Bottom != 300 {
		t.Errorf("Expected shot1 region 50-300, got %+v", first.Region)
	}
	second := report.Items[1]
	if second.Region == nil || second.Region.Top != 90 || second.Region.Bottom != 340 {
		t.Errorf("Expected shifted shot2 region 90-340, got %+v", second.Region)
	}

	w, h, err := images.Dimensions(filepath.Join(out, "shot1_cropped.png"))
	if err != nil {
		t.Fatalf("Expected cropped output: %v", err)
	}
	if w != 40 || h != 250 {
		t.Errorf("Expected 40x250 output, got %dx%d", w, h)
	}
}

func TestRunRankOutOfRange(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeShot(t, src, "a.png", 400, 10, 50, 120, 300, 310)
	writeShot(t, src, "b.png", 400, 10, 50, 120)

	report, err := New(rowDetector{}).Run(context.Background(), baseOptions(src, out))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	b := report.Items[1]
	if b.Status != StatusFailed || b.Failure.Kind != FailureRankOutOfRange {
		t.Fatalf("Expected rank_out_of_range, got %+v", b)
	}
	if b.Failure.RequestedRank != 4 || b.Failure.AvailableCount != 3 {
		t.Errorf("Expected {4 3}, got {%d %d}", b.Failure.RequestedRank, b.Failure.AvailableCount)
	}
	if len(b.Lines) != 3 {
		t.Errorf("Expected detected lines kept on the item, got %d", len(b.Lines))
	}
	if _, err := os.Stat(filepath.Join(out, "b_cropped.png")); !os.IsNotExist(err) {
		t.Errorf("Expected no output for failed item, got %v", err)
	}
}

func TestRunOutputCollision(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeShot(t, src, "x1.png", 100, 10, 20, 30, 40)
	writeShot(t, src, "x2.png", 100, 11, 21, 31, 41)

	opts := baseOptions(src, out)
	opts.Naming = naming.Rule{Pattern: `x\d`, Replacement: `same`}

	report, err := New(rowDetector{}).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Items[0].Status != StatusWritten {
		t.Errorf("Expected first item written, got %+v", report.Items[0])
	}
	second := report.Items[1]
	if second.Failure == nil || second.Failure.Kind != FailureOutputCollision {
		t.Fatalf("Expected output_collision, got %+v", second)
	}
	if !errors.Is(second.Failure, ErrOutputCollision) {
		t.Error("Expected failure to match ErrOutputCollision")
	}

	// The first writer's file must be intact.
	_, h, err := images.Dimensions(filepath.Join(out, "same.png"))
	if err != nil || h != 20 {
		t.Errorf("Expected first crop (20 rows) preserved, got h=%d err=%v", h, err)
	}
}

func TestRunRefusesToOverwriteSource(t *testing.T) {
	dir := t.TempDir()
	writeShot(t, dir, "y.png", 100, 10, 20, 30, 40)

	opts := baseOptions(dir, dir)
	opts.Naming = naming.Rule{Pattern: `(.+)`, Replacement: `\1`}

	report, err := New(rowDetector{}).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Items[0].Failure == nil || report.Items[0].Failure.Kind != FailureOutputCollision {
		t.Fatalf("Expected output_collision, got %+v", report.Items[0])
	}
	_, h, _ := images.Dimensions(filepath.Join(dir, "y.png"))
	if h != 100 {
		t.Errorf("Expected source untouched, got height %d", h)
	}
}

func TestRunNeverOverwritesAnotherSource(t *testing.T) {
	dir := t.TempDir()
	writeShot(t, dir, "a.png", 100, 10, 20, 30, 40, 50)
	writeShot(t, dir, "a_cropped.png", 100, 12, 22, 32, 42, 52)

	report, err := New(rowDetector{}).Run(context.Background(), baseOptions(dir, dir))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	first := report.Items[0]
	if first.Failure == nil || first.Failure.Kind != FailureOutputCollision {
		t.Fatalf("Expected a.png to collide with the a_cropped.png source, got %+v", first)
	}
	second := report.Items[1]
	if second.Status != StatusWritten || len(second.Lines) != 5 {
		t.Errorf("Expected a_cropped.png processed from its original 5 lines, got %+v", second)
	}
	if _, h, err := images.Dimensions(filepath.Join(dir, "a_cropped.png")); err != nil || h != 100 {
		t.Errorf("Expected a_cropped.png untouched, got h=%d err=%v", h, err)
	}
	if _, h, err := images.Dimensions(filepath.Join(dir, "a_cropped_cropped.png")); err != nil || h != 20 {
		t.Errorf("Expected a_cropped_cropped.png with 20 rows, got h=%d err=%v", h, err)
	}
}

func TestRunOutputCollisionIgnoresCase(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeShot(t, src, "Shot.png", 100, 10, 20, 30, 40)
	writeShot(t, src, "shot.png", 100, 11, 21, 31, 41)

	report, err := New(rowDetector{}).Run(context.Background(), baseOptions(src, out))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Items) < 2 {
		t.Skip("source filesystem is case-insensitive")
	}
	if report.Items[0].Status != StatusWritten {
		t.Errorf("Expected first item written, got %+v", report.Items[0])
	}
	if f := report.Items[1].Failure; f == nil || f.Kind != FailureOutputCollision {
		t.Errorf("Expected names differing only in case to collide, got %+v", report.Items[1])
	}
}

func TestRunDegenerateRegion(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeShot(t, src, "d.png", 100, 10, 20)

	opts := baseOptions(src, out)
	opts.Selection = selection.Selection{RankA: 1, RankB: 2}

	report, err := New(degenerateDetector{}).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Items[0].Failure == nil || report.Items[0].Failure.Kind != FailureDegenerate {
		t.Errorf("Expected degenerate_region, got %+v", report.Items[0])
	}
}

type degenerateDetector struct{}

func (degenerateDetector) Detect(image.Image, lines.Params) ([]lines.DetectedLine, error) {
	return []lines.DetectedLine{{Rank: 1, Y: 30.2}, {Rank: 2, Y: 29.8}}, nil
}

func TestRunDetectorPanicIsIsolated(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeShot(t, src, "p.png", 100, 10, 20, 30, 40)

	report, err := New(panicDetector{}).Run(context.Background(), baseOptions(src, out))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Items[0].Failure == nil || report.Items[0].Failure.Kind != FailureDetect {
		t.Errorf("Expected detect failure, got %+v", report.Items[0])
	}
}

func TestRunDecoderPanicIsIsolated(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeShot(t, src, "p1.png", 100, 10, 20, 30, 40)
	writeShot(t, src, "p2.png", 100, 10, 20, 30, 40)
	writeShot(t, src, "p3.png", 100, 10, 20, 30, 40)

	r := New(rowDetector{})
	r.open = func(path string) (image.Image, error) {
		if filepath.Base(path) == "p2.png" {
			panic("decoder exploded")
		}
		return images.Open(path)
	}

	opts := baseOptions(src, out)
	opts.Workers = 2
	report, err := r.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(report.Items))
	}
	if f := report.Items[1].Failure; f == nil || f.Kind != FailureImageRead {
		t.Errorf("Expected image_read failure for p2.png, got %+v", report.Items[1])
	}
	if report.Items[0].Status != StatusWritten || report.Items[2].Status != StatusWritten {
		t.Errorf("Expected neighbours written, got %s and %s", report.Items[0].Status, report.Items[2].Status)
	}
}

func TestRunOrderAndEvents(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	writeShot(t, src, "shot10.png", 100, 10, 20, 30, 40)
	writeShot(t, src, "shot2.png", 100, 10, 20, 30, 40)
	writeShot(t, src, "shot1.png", 100, 10, 20)
	if err := os.WriteFile(filepath.Join(src, "notes.txt"), []byte("skip me"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(src, "nested.png"), 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	var events []Event
	opts := baseOptions(src, out)
	opts.OnEvent = func(ev Event) { events = append(events, ev) }

	report, err := New(rowDetector{}).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"shot1.png", "shot2.png", "shot10.png"}
	if len(report.Items) != len(want) || len(events) != len(want) {
		t.Fatalf("Expected %d items and events, got %d and %d", len(want), len(report.Items), len(events))
	}
	for i, name := range want {
		if filepath.Base(report.Items[i].SourcePath) != name {
			t.Errorf("Item %d: expected %s, got %s", i, name, report.Items[i].SourcePath)
		}
		if filepath.Base(events[i].Path) != name || events[i].Index != i || events[i].Total != 3 {
			t.Errorf("Event %d: unexpected %+v", i, events[i])
		}
	}
	if events[0].Status != StatusFailed || events[0].Reason != FailureRankOutOfRange {
		t.Errorf("Expected first event to carry the failure, got %+v", events[0])
	}
	if events[1].Status != StatusWritten {
		t.Errorf("Expected second event written, got %+v", events[1])
	}
}

func TestRunCancellation(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	for _, name := range []string{"a1.png", "a2.png", "a3.png"} {
		writeShot(t, src, name, 100, 10, 20, 30, 40)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := baseOptions(src, out)
	opts.OnEvent = func(Event) { cancel() }

	report, err := New(rowDetector{}).Run(ctx, opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !report.Aborted {
		t.Error("Expected report marked aborted")
	}
	if len(report.Items) != 1 || report.Total != 3 {
		t.Errorf("Expected 1 of 3 items, got %d of %d", len(report.Items), report.Total)
	}
}

func TestRunWorkersMatchSequential(t *testing.T) {
	src := t.TempDir()
	writeShot(t, src, "m1.png", 200, 10, 50, 120, 150)
	writeShot(t, src, "m2.png", 200, 10, 50)
	if err := os.WriteFile(filepath.Join(src, "m3.png"), []byte("bad"), 0644); err != nil {
		t.Fatalf("Failed to create corrupt file: %v", err)
	}
	writeShot(t, src, "m4.png", 200, 30, 60, 90, 180)
	writeShot(t, src, "m5.png", 200, 1, 2, 3, 4)

	rule := naming.Rule{Pattern: `m[45]`, Replacement: `late`}

	seqOpts := baseOptions(src, t.TempDir())
	seqOpts.Naming = rule
	seq, err := New(rowDetector{}).Run(context.Background(), seqOpts)
	if err != nil {
		t.Fatalf("Sequential run failed: %v", err)
	}

	parOpts := baseOptions(src, t.TempDir())
	parOpts.Naming = rule
	parOpts.Workers = 4
	par, err := New(rowDetector{}).Run(context.Background(), parOpts)
	if err != nil {
		t.Fatalf("Parallel run failed: %v", err)
	}

	if len(seq.Items) != len(par.Items) {
		t.Fatalf("Expected same item count, got %d and %d", len(seq.Items), len(par.Items))
	}
	for i := range seq.Items {
		s, p := seq.Items[i], par.Items[i]
		if s.SourcePath != p.SourcePath || s.Status != p.Status {
			t.Errorf("Item %d differs: %s/%s vs %s/%s", i, s.SourcePath, s.Status, p.SourcePath, p.Status)
		}
		if (s.Failure == nil) != (p.Failure == nil) || (s.Failure != nil && s.Failure.Kind != p.Failure.Kind) {
			t.Errorf("Item %d failure differs: %+v vs %+v", i, s.Failure, p.Failure)
		}
	}
	if par.Items[4].Failure == nil || par.Items[4].Failure.Kind != FailureOutputCollision {
		t.Errorf("Expected the later of two same-named items to collide, got %+v", par.Items[4])
	}
}

func TestRunDryRun(t *testing.T) {
	src := t.TempDir()
	out := filepath.Join(t.TempDir(), "never-created")
	writeShot(t, src, "d1.png", 100, 10, 20, 30, 40)

	opts := baseOptions(src, out)
	opts.DryRun = true
	report, err := New(rowDetector{}).Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Items[0].Status != StatusResolved {
		t.Errorf("Expected resolved status, got %s", report.Items[0].Status)
	}
	if report.Items[0].OutputPath != filepath.Join(out, "d1_cropped.png") {
		t.Errorf("Expected planned output path, got %s", report.Items[0].OutputPath)
	}
	if len(report.Succeeded()) != 1 {
		t.Errorf("Expected dry-run success, got %d", len(report.Succeeded()))
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("Expected nothing written, got %v", err)
	}
}

func TestRunWebpSourceWrittenAsPNG(t *testing.T) {
	src, out := t.TempDir(), t.TempDir()
	// Save as PNG bytes under a name the encoder cannot produce; decoding sniffs the content.
	writeShot(t, src, "w.png", 100, 10, 20, 30, 40)
	if err := os.Rename(filepath.Join(src, "w.png"), filepath.Join(src, "w.webp")); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	report, err := New(rowDetector{}).Run(context.Background(), baseOptions(src, out))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := filepath.Base(report.Items[0].OutputPath); got != "w_cropped.png" {
		t.Errorf("Expected w_cropped.png, got %s (%+v)", got, report.Items[0])
	}
}

func TestRunBatchFatalErrors(t *testing.T) {
	src := t.TempDir()
	writeShot(t, src, "f.png", 100, 10, 20, 30, 40)

	t.Run("missing source", func(t *testing.T) {
		_, err := New(rowDetector{}).Run(context.Background(), baseOptions(filepath.Join(src, "nope"), t.TempDir()))
		if !errors.Is(err, ErrSourceUnreadable) {
			t.Errorf("Expected ErrSourceUnreadable, got %v", err)
		}
	})

	t.Run("output is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, nil, 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
		_, err := New(rowDetector{}).Run(context.Background(), baseOptions(src, file))
		if !errors.Is(err, ErrOutputUnwritable) {
			t.Errorf("Expected ErrOutputUnwritable, got %v", err)
		}
	})

	t.Run("invalid params", func(t *testing.T) {
		opts := baseOptions(src, t.TempDir())
		opts.Params.CannyLow = -1
		if _, err := New(rowDetector{}).Run(context.Background(), opts); !errors.Is(err, lines.ErrInvalidParams) {
			t.Errorf("Expected ErrInvalidParams, got %v", err)
		}
	})

	t.Run("incomplete selection", func(t *testing.T) {
		opts := baseOptions(src, t.TempDir())
		opts.Selection = selection.Selection{RankA: 1}
		if _, err := New(rowDetector{}).Run(context.Background(), opts); !errors.Is(err, crop.ErrIncompleteSelection) {
			t.Errorf("Expected ErrIncompleteSelection, got %v", err)
		}
	})

	t.Run("invalid naming pattern", func(t *testing.T) {
		opts := baseOptions(src, t.TempDir())
		opts.Naming = naming.Rule{Pattern: `[`}
		if _, err := New(rowDetector{}).Run(context.Background(), opts); err == nil {
			t.Error("Expected error for invalid naming pattern, got nil")
		}
	})
}
