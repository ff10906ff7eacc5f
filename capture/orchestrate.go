package capture

import (
	"context"
	"math"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/visreg/artifact"
)

// TagResponsive and TagAnimation mark orchestrated captures.
const (
	TagResponsive = "responsive"
	TagAnimation  = "animation"
)

// CaptureResponsive captures url once per viewport.
func (e *Engine) CaptureResponsive(ctx context.Context, url string, viewports []artifact.Viewport) []artifact.CaptureResult {
	return e.CaptureResponsiveRequest(ctx, artifact.CaptureRequest{URL: url}, viewports)
}

// CaptureResponsiveRequest fans base out across viewports. Each capture is
// named "{width}x{height}" and tagged "responsive". Failures are isolated:
// results match viewports in length and order whatever the completion order.
func (e *Engine) CaptureResponsiveRequest(ctx context.Context, base artifact.CaptureRequest, viewports []artifact.Viewport) []artifact.CaptureResult {
	results := make([]artifact.CaptureResult, len(viewports))
	g := new(errgroup.Group)
	g.SetLimit(e.Config().Concurrency)
	for i, vp := range viewports {
		req := base
		req.Viewport = &vp
		req.Name = vp.Key()
		req.Tags = append(append([]string(nil), base.Tags...), TagResponsive)
		g.Go(func() error {
			results[i] = e.Capture(ctx, req)
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	e.logger.Info("capture: responsive done", "url", base.URL, "viewports", len(viewports), "failed", failed)
	return results
}

// FrameCount is round(duration / 1s * fps).
func FrameCount(duration time.Duration, fps float64) int {
	if duration <= 0 || fps <= 0 {
		return 0
	}
	return int(math.Round(duration.Seconds() * fps))
}

// CaptureAnimationFrames samples url at fps over duration. Frame n is taken
// n/fps after the page settles, tagged "animation" and "frame-{n}". The
// frame offset is not a request option: it has no upper bound and each
// attempt's timeout is extended by it. Failed frames are dropped; if the
// first frame fails to navigate, or is rejected by validation, the result
// is empty.
func (e *Engine) CaptureAnimationFrames(ctx context.Context, url, selector string, duration time.Duration, fps float64) []*artifact.Screenshot {
	n := FrameCount(duration, fps)
	interval := time.Duration(float64(time.Second) / fps)
	cfg := e.Config()
	frames := make([]*artifact.Screenshot, 0, n)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		req := artifact.CaptureRequest{
			URL:      url,
			Selector: selector,
			Name:     "frame-" + strconv.Itoa(i),
			Tags:     []string{TagAnimation, "frame-" + strconv.Itoa(i)},
			Options:  &artifact.CaptureOptions{DisableAnimations: new(bool)},
		}
		res := e.capture(ctx, cfg, cfg.Retry, req, time.Duration(i)*interval)
		if res.Success {
			frames = append(frames, res.Screenshot)
			continue
		}
		if i == 0 && (isInputError(res.Error.Code) || StepOf(res.Error) == "navigate") {
			e.logger.Warn("capture: animation aborted", "url", url, "code", res.Error.Code, "error", res.Error.Message)
			return []*artifact.Screenshot{}
		}
		e.logger.Warn("capture: frame dropped", "url", url, "frame", i, "code", res.Error.Code)
	}
	return frames
}

func isInputError(c artifact.Code) bool {
	switch c {
	case artifact.CodeInvalidURL, artifact.CodeInvalidSelector, artifact.CodeInvalidViewport, artifact.CodeInvalidOptions:
		return true
	}
	return false
}
