// Package suite runs visual regression checks: it captures a page, compares
// it with the approved baseline from the archive and reports the outcome to
// the configured sinks.
//
//	s, _ := suite.New(suite.Config{Capture: ce, Diff: de, Store: st, Sink: router})
//	report, err := s.Check(ctx, suite.CheckRequest{CaptureRequest: req})
//
// Operational failures (capture or comparison) are carried in the report
// envelope. Go errors returned by this package are infrastructure failures:
// archive I/O, unknown ids.
package suite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/visreg/archive"
	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/audit"
	"github.com/hazyhaar/visreg/capture"
	"github.com/hazyhaar/visreg/diff"
	"github.com/hazyhaar/visreg/guard"
	"github.com/hazyhaar/visreg/sink"
)

// ErrInvalid marks a request the suite cannot act on.
var ErrInvalid = errors.New("suite: invalid request")

// Config wires the suite components. Capture, Diff and Store are required.
type Config struct {
	Capture *capture.Engine
	Diff    *diff.Engine
	Store   *archive.Store
	Sink    sink.Sink // nil = discard
	Logger  *slog.Logger

	// Guard screens targets and names arriving over HTTP and MCP.
	// nil accepts everything.
	Guard *guard.Guard
	// Audit records HTTP and MCP calls. nil disables auditing.
	Audit *audit.SQLiteLogger
}

// Suite ties capture, comparison, archive and delivery together.
type Suite struct {
	capture *capture.Engine
	diff    *diff.Engine
	store   *archive.Store
	sink    sink.Sink
	logger  *slog.Logger
	guard   *guard.Guard
	audit   *audit.SQLiteLogger
}

// New validates cfg and returns a Suite.
func New(cfg Config) (*Suite, error) {
	if cfg.Capture == nil || cfg.Diff == nil || cfg.Store == nil {
		return nil, fmt.Errorf("suite: capture, diff and store are required")
	}
	if cfg.Sink == nil {
		cfg.Sink = sink.NewRouter(cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Suite{
		capture: cfg.Capture,
		diff:    cfg.Diff,
		store:   cfg.Store,
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		guard:   cfg.Guard,
		audit:   cfg.Audit,
	}, nil
}

// CheckRequest is a capture request checked against its baseline.
type CheckRequest struct {
	artifact.CaptureRequest
	DiffOptions *diff.Options `json:"diff_options,omitempty"`
}

// Report is the outcome of one check.
type Report struct {
	Name         string               `json:"name"`
	ViewportKey  string               `json:"viewport_key,omitempty"`
	Status       artifact.Status      `json:"status"`
	ScreenshotID string               `json:"screenshot_id,omitempty"`
	BaselineID   string               `json:"baseline_id,omitempty"`
	Diff         *artifact.VisualDiff `json:"diff,omitempty"`
	Digest       string               `json:"digest,omitempty"`
	Error        *artifact.Error      `json:"error,omitempty"`
}

// Capture captures req, archives the screenshot and emits it to the sinks.
// A screenshot identical to an archived one for the same name and viewport
// takes the archived id.
func (s *Suite) Capture(ctx context.Context, req artifact.CaptureRequest) (artifact.CaptureResult, error) {
	res := s.capture.Capture(ctx, req)
	if !res.Success {
		return res, nil
	}
	if err := s.archive(ctx, res.Screenshot); err != nil {
		return res, err
	}
	return res, nil
}

// Responsive captures base once per viewport and archives each success.
func (s *Suite) Responsive(ctx context.Context, base artifact.CaptureRequest, viewports []artifact.Viewport) ([]artifact.CaptureResult, error) {
	results := s.capture.CaptureResponsiveRequest(ctx, base, viewports)
	for _, res := range results {
		if !res.Success {
			continue
		}
		if base.Name != "" {
			res.Screenshot.Name = base.Name
		}
		if err := s.archive(ctx, res.Screenshot); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (s *Suite) archive(ctx context.Context, shot *artifact.Screenshot) error {
	id, created, err := s.store.PutScreenshot(ctx, shot)
	if err != nil {
		return err
	}
	if !created {
		s.logger.Debug("suite: screenshot unchanged", "name", shot.Name, "id", id, "dropped", shot.ID)
		shot.ID = id
	}
	if err := s.sink.SendScreenshot(ctx, shot); err != nil {
		s.logger.Warn("suite: screenshot delivery failed", "id", shot.ID, "error", err)
	}
	return nil
}

// Check captures req and compares it with the baseline for its name and
// viewport. Without a baseline the capture becomes the baseline and the
// report is pending.
func (s *Suite) Check(ctx context.Context, req CheckRequest) (*Report, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required to track a baseline", ErrInvalid)
	}
	res := s.capture.Capture(ctx, req.CaptureRequest)
	return s.settle(ctx, req.Name, res, req.DiffOptions)
}

// CheckResponsive runs Check once per viewport. Reports follow viewport
// order.
func (s *Suite) CheckResponsive(ctx context.Context, req CheckRequest, viewports []artifact.Viewport) ([]*Report, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required to track a baseline", ErrInvalid)
	}
	results := s.capture.CaptureResponsiveRequest(ctx, req.CaptureRequest, viewports)
	reports := make([]*Report, len(results))
	for i, res := range results {
		r, err := s.settle(ctx, req.Name, res, req.DiffOptions)
		if err != nil {
			return nil, err
		}
		if r.ViewportKey == "" {
			r.ViewportKey = viewports[i].Key()
		}
		reports[i] = r
	}
	return reports, nil
}

func (s *Suite) settle(ctx context.Context, name string, res artifact.CaptureResult, opts *diff.Options) (*Report, error) {
	rep := &Report{Name: name}
	if !res.Success {
		rep.Status = artifact.StatusError
		rep.Error = res.Error
		s.logger.Warn("suite: capture failed", "name", name, "code", res.Error.Code, "error", res.Error.Message)
		return rep, nil
	}
	shot := res.Screenshot
	shot.Name = name
	rep.ViewportKey = shot.Viewport.Key()
	if err := s.archive(ctx, shot); err != nil {
		return nil, err
	}
	rep.ScreenshotID = shot.ID

	base, err := s.store.Baseline(ctx, name, rep.ViewportKey)
	if errors.Is(err, archive.ErrNotFound) {
		if err := s.store.SetBaseline(ctx, shot.ID); err != nil {
			return nil, err
		}
		rep.Status = artifact.StatusPending
		rep.BaselineID = shot.ID
		s.logger.Info("suite: baseline recorded", "name", name, "viewport", rep.ViewportKey, "id", shot.ID)
		return rep, nil
	}
	if err != nil {
		return nil, err
	}
	rep.BaselineID = base.ID

	dr := s.diff.Compare(base, shot, opts)
	if !dr.Success {
		rep.Status = artifact.StatusError
		rep.Error = dr.Error
		return rep, nil
	}
	digest, err := s.record(ctx, dr.Diff)
	if err != nil {
		return nil, err
	}
	rep.Status = dr.Diff.Status
	rep.Diff = dr.Diff
	rep.Digest = digest
	s.logger.Info("suite: checked", "name", name, "viewport", rep.ViewportKey,
		"status", rep.Status, "changed_pct", dr.Diff.Metrics.PercentageChanged)
	return rep, nil
}

// record archives a diff report and emits it to the sinks.
func (s *Suite) record(ctx context.Context, d *artifact.VisualDiff) (string, error) {
	digest, err := sink.Digest(d)
	if err != nil {
		return "", err
	}
	if err := s.store.PutDiff(ctx, d, digest); err != nil {
		return "", err
	}
	if err := s.sink.SendDiff(ctx, d); err != nil {
		s.logger.Warn("suite: diff delivery failed", "id", d.ID, "error", err)
	}
	return digest, nil
}

// CompareRequest names screenshots by archive id, or carries them inline.
// Each comparison is diffed against the one baseline.
type CompareRequest struct {
	BaselineID    string                 `json:"baseline_id,omitempty"`
	ComparisonIDs []string               `json:"comparison_ids,omitempty"`
	Baseline      *artifact.Screenshot   `json:"baseline,omitempty"`
	Comparisons   []*artifact.Screenshot `json:"comparisons,omitempty"`
	Options       *diff.Options          `json:"options,omitempty"`
}

// Compare diffs the requested screenshots and archives every successful
// report.
func (s *Suite) Compare(ctx context.Context, req CompareRequest) ([]artifact.DiffResult, error) {
	base := req.Baseline
	if base == nil {
		if req.BaselineID == "" {
			return nil, fmt.Errorf("%w: baseline or baseline_id required", ErrInvalid)
		}
		b, err := s.store.GetScreenshot(ctx, req.BaselineID)
		if err != nil {
			return nil, fmt.Errorf("suite: baseline %s: %w", req.BaselineID, err)
		}
		base = b
	}
	comparisons := append([]*artifact.Screenshot(nil), req.Comparisons...)
	for _, id := range req.ComparisonIDs {
		c, err := s.store.GetScreenshot(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("suite: comparison %s: %w", id, err)
		}
		comparisons = append(comparisons, c)
	}
	if len(comparisons) == 0 {
		return nil, fmt.Errorf("%w: at least one comparison required", ErrInvalid)
	}

	results := s.diff.BatchCompare(ctx, base, comparisons, req.Options)
	for _, r := range results {
		if !r.Success {
			continue
		}
		if _, err := s.record(ctx, r.Diff); err != nil {
			return results, err
		}
	}
	return results, nil
}

// Approve promotes an archived screenshot to baseline for its name and
// viewport. A non-empty name must match the screenshot's.
func (s *Suite) Approve(ctx context.Context, name, screenshotID string) error {
	if name != "" {
		shot, err := s.store.GetScreenshot(ctx, screenshotID)
		if err != nil {
			return fmt.Errorf("suite: approve %s: %w", screenshotID, err)
		}
		if shot.Name != name {
			return fmt.Errorf("%w: screenshot %s belongs to %q, not %q", ErrInvalid, screenshotID, shot.Name, name)
		}
	}
	if err := s.store.SetBaseline(ctx, screenshotID); err != nil {
		return fmt.Errorf("suite: approve %s: %w", screenshotID, err)
	}
	s.logger.Info("suite: baseline approved", "name", name, "id", screenshotID)
	return nil
}

// Screenshot loads an archived screenshot.
func (s *Suite) Screenshot(ctx context.Context, id string) (*artifact.Screenshot, error) {
	return s.store.GetScreenshot(ctx, id)
}

// Diff loads an archived diff report.
func (s *Suite) Diff(ctx context.Context, id string) (*artifact.VisualDiff, error) {
	return s.store.GetDiff(ctx, id)
}

// History lists archived screenshots for name, newest first.
func (s *Suite) History(ctx context.Context, name string, limit int) ([]*archive.ScreenshotInfo, error) {
	return s.store.ListScreenshots(ctx, name, limit)
}

// Diffs lists reports against a baseline, newest first.
func (s *Suite) Diffs(ctx context.Context, baselineID string, limit int) ([]*archive.DiffInfo, error) {
	return s.store.ListDiffs(ctx, baselineID, limit)
}

// Available reports whether a browser controller is configured.
func (s *Suite) Available() bool { return s.capture.IsAvailable() }
