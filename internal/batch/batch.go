// Package batch replays one rank selection across a folder of images.
//
// Each file is decoded, re-detected with the run's parameters and resolved
// against its own lines, so absolute line positions may differ from the
// reference image. Per-item failures are recorded and never abort the run;
// only an unreadable source folder or an unwritable output folder does.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/linecrop/internal/crop"
	"github.com/lehigh-university-libraries/linecrop/internal/images"
	"github.com/lehigh-university-libraries/linecrop/internal/lines"
	"github.com/lehigh-university-libraries/linecrop/internal/naming"
	"github.com/lehigh-university-libraries/linecrop/internal/selection"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSourceUnreadable aborts a run whose source folder cannot be listed.
	ErrSourceUnreadable = errors.New("source folder unreadable")

	// ErrOutputUnwritable aborts a run whose output folder cannot be written.
	ErrOutputUnwritable = errors.New("output folder unwritable")
)

// Detector finds ranked lines in a decoded image.
type Detector interface {
	Detect(img image.Image, p lines.Params) ([]lines.DetectedLine, error)
}

// Options describes one batch run. Params and Selection are copied when
// the run starts.
type Options struct {
	SourceDir string
	OutputDir string
	Params    lines.Params
	Selection selection.Selection
	Naming    naming.Rule

	// Less orders the folder listing; nil means natural order.
	Less func(a, b string) bool

	// Workers > 1 runs decode, detection and resolution of several items
	// at once. Writes still happen one at a time in listing order, so the
	// report is identical to a sequential run. Cropped images are held in
	// memory until their turn to be written.
	Workers int

	// DryRun stops every item after resolution; nothing is written.
	DryRun bool

	// OnEvent, when set, receives one event per item in listing order.
	OnEvent func(Event)
}

// Reconciler runs batches. The zero value is not usable; call New.
type Reconciler struct {
	detector Detector
	open     func(path string) (image.Image, error)
	save     func(img image.Image, path string) error
	now      func() time.Time
}

// New returns a Reconciler backed by detector.
func New(detector Detector) *Reconciler {
	return &Reconciler{
		detector: detector,
		open:     images.Open,
		save:     images.Save,
		now:      time.Now,
	}
}

// staged is an item after the parallelisable part of its pipeline.
type staged struct {
	item    Item
	name    string
	cropped image.Image
}

// Run processes every supported image in opts.SourceDir. The returned
// report is non-nil whenever err is nil; a cancelled context yields a
// report marked Aborted holding only the items completed so far.
func (r *Reconciler) Run(ctx context.Context, opts Options) (*Report, error) {
	params, sel, rule := opts.Params, opts.Selection, opts.Naming
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !sel.Complete() {
		return nil, crop.ErrIncompleteSelection
	}
	if err := rule.Compile(); err != nil {
		return nil, err
	}

	files, err := List(opts.SourceDir, opts.Less)
	if err != nil {
		return nil, err
	}
	if !opts.DryRun {
		if err := prepareOutput(opts.OutputDir); err != nil {
			return nil, err
		}
	}

	report := &Report{
		RunID:     uuid.NewString(),
		SourceDir: opts.SourceDir,
		OutputDir: opts.OutputDir,
		Params:    params,
		Selection: sel,
		DryRun:    opts.DryRun,
		StartedAt: r.now(),
		Total:     len(files),
		Items:     make([]Item, 0, len(files)),
	}
	slog.Info("Starting batch", "run_id", report.RunID, "source", opts.SourceDir, "output", opts.OutputDir,
		"files", len(files), "selection", sel.String(), "workers", opts.Workers)

	stages := make([]*staged, len(files))
	if opts.Workers > 1 {
		r.stageParallel(ctx, files, stages, params, sel, &rule, opts.Workers)
	}

	// Every listed source is off limits as an output, not just the item's
	// own, so a later item is never read back after being overwritten.
	sources := make(map[string]string, len(files))
	for _, path := range files {
		sources[pathKey(path)] = path
	}
	written := make(map[string]string)
	for i, path := range files {
		if ctx.Err() != nil {
			report.Aborted = true
			break
		}
		st := stages[i]
		if st == nil {
			if opts.Workers > 1 {
				// Never started: cancellation reached the worker pool first.
				report.Aborted = true
				break
			}
			st = r.stage(i, path, params, sel, &rule)
		}
		r.finish(st, opts, sources, written)
		stages[i] = nil

		report.Items = append(report.Items, st.item)
		emit(opts.OnEvent, st.item, len(files))
	}

	report.FinishedAt = r.now()
	if report.Aborted {
		slog.Warn("Batch aborted", "run_id", report.RunID, "completed", len(report.Items), "total", len(files))
	} else {
		slog.Info("Batch complete", "run_id", report.RunID,
			"succeeded", len(report.Succeeded()), "failed", len(report.Failed()))
	}
	return report, nil
}

func (r *Reconciler) stageParallel(ctx context.Context, files []string, stages []*staged, params lines.Params, sel selection.Selection, rule *naming.Rule, workers int) {
	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			stages[i] = r.stage(i, path, params, sel, rule)
			return nil
		})
	}
	_ = g.Wait()
}

// stage runs decode → detect → resolve → crop for one file. It touches no
// shared state, so it may run on any goroutine. A panic anywhere in the
// pipeline fails only this item.
func (r *Reconciler) stage(index int, path string, params lines.Params, sel selection.Selection, rule *naming.Rule) (st *staged) {
	st = &staged{item: Item{Index: index, SourcePath: path, Status: StatusPending}}
	slog.Debug("Processing item", "path", path, "index", index)

	kind := FailureImageRead
	defer func() {
		if p := recover(); p != nil {
			st.fail(kind, fmt.Errorf("processing panicked: %v", p))
		}
	}()

	name, err := rule.Apply(filepath.Base(path))
	if err != nil {
		st.fail(FailureWrite, err)
		return st
	}
	st.name = images.OutputName(name)

	img, err := r.open(path)
	if err != nil {
		st.fail(FailureImageRead, err)
		return st
	}

	kind = FailureDetect
	found, err := r.detector.Detect(img, params)
	if err != nil {
		st.fail(FailureDetect, err)
		return st
	}
	st.item.Lines = found
	st.item.Status = StatusDetected

	b := img.Bounds()
	region, err := crop.Resolve(sel, found, b.Dx(), b.Dy())
	if err != nil {
		st.failResolve(err)
		return st
	}
	st.item.Region = &region
	st.item.Status = StatusResolved
	st.cropped = crop.Apply(img, region)
	return st
}

// finish claims the output name and writes the crop. It runs in listing
// order so collisions are decided the same way regardless of Workers.
func (r *Reconciler) finish(st *staged, opts Options, sources, written map[string]string) {
	if st.item.Status == StatusFailed {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			st.fail(FailureWrite, fmt.Errorf("writing panicked: %v", p))
		}
	}()

	out := filepath.Join(opts.OutputDir, st.name)
	key := pathKey(out)
	if src, ok := sources[key]; ok {
		if src == st.item.SourcePath {
			st.fail(FailureOutputCollision, fmt.Errorf("%w: %s would replace its source", ErrOutputCollision, out))
		} else {
			st.fail(FailureOutputCollision, fmt.Errorf("%w: %s would replace source %s", ErrOutputCollision, out, filepath.Base(src)))
		}
		return
	}
	if owner, ok := written[key]; ok {
		st.fail(FailureOutputCollision, fmt.Errorf("%w: %s (from %s)", ErrOutputCollision, out, filepath.Base(owner)))
		return
	}

	if !opts.DryRun {
		if err := r.save(st.cropped, out); err != nil {
			st.fail(FailureWrite, err)
			return
		}
		st.item.Status = StatusWritten
	}
	written[key] = st.item.SourcePath
	st.item.OutputPath = out
	st.cropped = nil
}

func (st *staged) fail(kind FailureKind, err error) {
	st.item.Status = StatusFailed
	st.item.Failure = &Failure{Kind: kind, Message: err.Error(), err: err}
	st.cropped = nil
	slog.Warn("Skipping item", "path", st.item.SourcePath, "reason", kind, "err", err)
}

func (st *staged) failResolve(err error) {
	var rerr *crop.RankOutOfRangeError
	switch {
	case errors.As(err, &rerr):
		st.fail(FailureRankOutOfRange, err)
		st.item.Failure.RequestedRank = rerr.RequestedRank
		st.item.Failure.AvailableCount = rerr.AvailableCount
	case errors.Is(err, crop.ErrDegenerateRegion):
		st.fail(FailureDegenerate, err)
	default:
		st.fail(FailureDetect, err)
	}
}

func emit(fn func(Event), it Item, total int) {
	if fn == nil {
		return
	}
	ev := Event{Index: it.Index, Total: total, Path: it.SourcePath, Status: it.Status}
	if it.Failure != nil {
		ev.Reason = it.Failure.Kind
		ev.Detail = it.Failure.Message
	}
	fn(ev)
}

// List returns the supported image files directly inside dir, ordered by
// less or, when less is nil, naturally by file name.
func List(dir string, less func(a, b string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	if less == nil {
		less = naming.NaturalLess
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !images.IsSupported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.SliceStable(names, func(i, j int) bool { return less(names[i], names[j]) })

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

func prepareOutput(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: no output folder given", ErrOutputUnwritable)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %w", ErrOutputUnwritable, err)
	}
	probe, err := os.CreateTemp(dir, ".linecrop-probe-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutputUnwritable, err)
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		slog.Warn("Failed to remove write probe", "path", name, "err", err)
	}
	return nil
}

// pathKey identifies a file for collision checks. Keys are case-folded so
// names that differ only in case collide on every filesystem, including
// case-insensitive ones where they would be the same file.
func pathKey(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return strings.ToLower(filepath.Clean(p))
}
