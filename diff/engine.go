// Package diff compares two screenshots pixel by pixel.
//
// The overlap of both rasters is split into row bands. Each band is diffed
// independently, on a worker Pool or sequentially in-process; both paths
// run the same kernel over the same bands and merge in band order, so their
// results are bit-identical. The merge, connected-component pass and
// verdict run single-threaded after every band has finished.
package diff

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"time"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/idgen"
)

// ErrDecode wraps raster decode failures.
var ErrDecode = errors.New("diff: decode failed")

// ErrTooLarge is returned for rasters whose declared size exceeds the
// engine limits. It is detected from the image header, before decoding.
var ErrTooLarge = errors.New("diff: raster too large")

// Default raster limits. 16384 is the largest texture Chromium screenshots.
const (
	DefaultMaxWidth  = 16384
	DefaultMaxHeight = 16384
	DefaultMaxPixels = 1 << 25
)

// Config configures an Engine.
type Config struct {
	Defaults Options
	// Workers sets both the pool size and the band count. Zero means
	// GOMAXPROCS.
	Workers int
	// Raster limits per screenshot. Zero means the Default* constants.
	MaxWidth  int
	MaxHeight int
	MaxPixels int
}

// Engine compares screenshots. It is safe for concurrent use.
type Engine struct {
	defaults Options
	workers  int
	limits   limits
	exec     Executor
	owned    *Pool
	ids      idgen.Generator
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithExecutor replaces the worker pool. Sequential() forces the
// single-threaded path.
func WithExecutor(x Executor) Option {
	return func(e *Engine) { e.exec = x }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator overrides diff id generation.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(e *Engine) { e.ids = gen }
}

// WithClock replaces the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// New creates an engine. Without WithExecutor it owns a Pool of
// cfg.Workers goroutines, released by Close. New panics on invalid default
// options.
func New(cfg Config, opts ...Option) *Engine {
	if err := cfg.Defaults.check(); err != nil {
		panic("diff: " + err.Error())
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	e := &Engine{
		defaults: cfg.Defaults,
		workers:  cfg.Workers,
		limits:   newLimits(cfg),
		ids:      idgen.Diff,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.exec == nil {
		if e.workers > 1 {
			e.owned = NewPool(e.workers)
			e.exec = e.owned
		} else {
			e.exec = Sequential()
		}
	}
	return e
}

// Defaults returns a copy of the default options.
func (e *Engine) Defaults() Options {
	o := e.defaults
	o.IgnoreRegions = append([]Rect(nil), o.IgnoreRegions...)
	return o
}

// Close releases the engine-owned pool. Later comparisons run
// sequentially.
func (e *Engine) Close() {
	if e.owned != nil {
		e.owned.Close()
	}
}

// Compare diffs comparison against baseline. A nil opts uses the engine
// defaults.
func (e *Engine) Compare(baseline, comparison *artifact.Screenshot, opts *Options) artifact.DiffResult {
	o, aerr := e.resolve(opts)
	if aerr != nil {
		return artifact.DiffFailed(aerr)
	}
	if baseline == nil || comparison == nil {
		return artifact.DiffFailed(artifact.NewError(artifact.CodeProcessing, "baseline and comparison are required"))
	}
	base, aerr := e.decode("baseline", baseline)
	if aerr != nil {
		return artifact.DiffFailed(aerr)
	}
	return e.compareDecoded(baseline, base, comparison, o)
}

func (e *Engine) resolve(opts *Options) (Options, *artifact.Error) {
	o := e.defaults
	if opts != nil {
		o = *opts
	}
	if err := o.check(); err != nil {
		return o, artifact.NewError(artifact.CodeInvalidOptions, "%s", err.Error())
	}
	return o, nil
}

type limits struct{ w, h, pixels int }

func newLimits(cfg Config) limits {
	l := limits{w: cfg.MaxWidth, h: cfg.MaxHeight, pixels: cfg.MaxPixels}
	if l.w <= 0 {
		l.w = DefaultMaxWidth
	}
	if l.h <= 0 {
		l.h = DefaultMaxHeight
	}
	if l.pixels <= 0 {
		l.pixels = DefaultMaxPixels
	}
	return l
}

func (l limits) check(d artifact.Dimensions) error {
	if d.Width > l.w || d.Height > l.h {
		return fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrTooLarge, d.Width, d.Height, l.w, l.h)
	}
	if d.Width*d.Height > l.pixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, d.Width, d.Height, l.pixels)
	}
	return nil
}

// decode reads the raster header, enforces the size limits and only then
// decodes the pixels.
func (e *Engine) decode(which string, s *artifact.Screenshot) (*image.NRGBA, *artifact.Error) {
	_, raw, err := artifact.DecodeDataURL(s.RasterData)
	if err != nil {
		return nil, decodeError(which, s.ID, err)
	}
	dims, err := artifact.DecodeConfig(raw)
	if err != nil {
		return nil, decodeError(which, s.ID, err)
	}
	if err := e.limits.check(dims); err != nil {
		return nil, artifact.NewError(artifact.CodeDecodeFailed, "%s: %v", which, err).
			WithDetail("screenshot", which).
			WithDetail("id", s.ID)
	}
	img, _, err := artifact.DecodeImage(raw)
	if err != nil {
		return nil, decodeError(which, s.ID, err)
	}
	return artifact.ToNRGBA(img), nil
}

func decodeError(which, id string, err error) *artifact.Error {
	return artifact.NewError(artifact.CodeDecodeFailed, "%s: %v", which, fmt.Errorf("%w: %w", ErrDecode, err)).
		WithDetail("screenshot", which).
		WithDetail("id", id)
}

// compareDecoded runs the comparison with an already decoded, read-only
// baseline raster.
func (e *Engine) compareDecoded(baseline *artifact.Screenshot, base *image.NRGBA, comparison *artifact.Screenshot, o Options) artifact.DiffResult {
	start := time.Now()
	cmp, aerr := e.decode("comparison", comparison)
	if aerr != nil {
		return artifact.DiffFailed(aerr)
	}

	bw, bh := base.Rect.Dx(), base.Rect.Dy()
	cw, ch := cmp.Rect.Dx(), cmp.Rect.Dy()
	w, h := min(bw, cw), min(bh, ch)
	if w == 0 || h == 0 {
		return artifact.DiffFailed(artifact.NewError(artifact.CodeProcessing,
			"rasters do not overlap (%dx%d vs %dx%d)", bw, bh, cw, ch))
	}

	f := &frame{base: base, cmp: cmp, w: w, h: h, opts: o}
	bounds := image.Rect(0, 0, w, h)
	for _, r := range o.IgnoreRegions {
		if ir := r.rectangle().Intersect(bounds); !ir.Empty() {
			f.ignore = append(f.ignore, ir)
		}
	}

	chunks := planChunks(h, e.workers)
	results, err := e.exec.Execute(f, chunks)
	if errors.Is(err, ErrPoolClosed) {
		e.logger.Debug("diff: pool closed, running sequentially")
		results, err = Sequential().Execute(f, chunks)
	}
	if err != nil {
		return artifact.DiffFailed(artifact.NewError(artifact.CodeProcessing, "%v", err))
	}

	m := mergeChunks(w, h, chunks, results)
	regions := findRegions(m, w, h, o)

	total := w * h
	metrics := artifact.DiffMetrics{
		TotalPixels:       total,
		ChangedPixels:     m.changed,
		PercentageChanged: float64(m.changed) / float64(total) * 100,
		MaxColorDelta:     m.maxDelta,
		SSIM:              1,
	}
	if m.changed > 0 {
		metrics.MeanColorDelta = float64(m.sumDelta) / float64(m.changed)
	}
	switch {
	case m.ssimBlocks > 0:
		metrics.SSIM = m.ssimSum / float64(m.ssimBlocks)
	case m.changed > 0:
		metrics.SSIM = 1 - float64(m.changed)/float64(total)
	}

	status := artifact.StatusPassed
	if metrics.PercentageChanged > o.Threshold {
		status = artifact.StatusFailed
	}
	if bw != cw || bh != ch {
		metrics.SizeMismatch = true
		regions = append(regions, mismatchRegions(bw, bh, cw, ch)...)
		if status == artifact.StatusPassed {
			status = artifact.StatusWarning
		}
	}
	metrics.Regions = len(regions)
	if regions == nil {
		regions = []artifact.DiffRegion{}
	}

	vd := &artifact.VisualDiff{
		ID:           e.ids(),
		BaselineID:   baseline.ID,
		ComparisonID: comparison.ID,
		Timestamp:    e.now().UTC(),
		Status:       status,
		Differences:  regions,
		Metrics:      metrics,
		Threshold:    o.Threshold,
	}
	if o.DiffImage {
		img, err := artifact.EncodePNG(renderDiff(f, m))
		if err != nil {
			return artifact.DiffFailed(artifact.NewError(artifact.CodeProcessing, "%v", err))
		}
		vd.DiffImage = img
	}

	e.logger.Debug("diff: compared",
		"baseline", baseline.ID,
		"comparison", comparison.ID,
		"status", status,
		"changed", m.changed,
		"regions", len(regions),
		"chunks", len(chunks),
		"duration_ms", time.Since(start).Milliseconds())
	return artifact.DiffOK(vd)
}
