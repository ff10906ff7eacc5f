package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/capture"
)

// Tab is one capture session: a page with stealth and resource blocking
// applied. It implements capture.Controller.
type Tab struct {
	Page    *rod.Page
	manager *Manager
	router  *rod.HijackRouter
}

// OpenTab creates a new page on the manager's browser, starting Chrome
// if needed.
func OpenTab(ctx context.Context, mgr *Manager) (*Tab, error) {
	b, err := mgr.Start(ctx)
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if mgr.cfg.Stealth >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: page, manager: mgr}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.router = applyResourceBlocking(page, mgr.cfg.ResourceBlocking)
	}
	return t, nil
}

// Navigate loads url and waits for the load event. A load that does not
// settle within the manager's navigate timeout is logged, not fatal.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := t.Page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	loadCtx, cancel := context.WithTimeout(ctx, t.manager.cfg.NavigateTimeout)
	defer cancel()
	if err := t.Page.Context(loadCtx).WaitLoad(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("browser: wait load %s: %w", url, err)
		}
		t.manager.cfg.Logger.Warn("browser: wait load timeout", "url", url, "error", err)
	}
	return nil
}

// Resize emulates the viewport's device metrics.
func (t *Tab) Resize(ctx context.Context, vp artifact.Viewport) error {
	err := t.Page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: vp.DeviceScaleFactor,
		Mobile:            vp.IsMobile,
	})
	if err != nil {
		return fmt.Errorf("browser: resize %s: %w", vp.Key(), err)
	}
	return nil
}

// Screenshot captures the element matching req.Selector, or the page.
func (t *Tab) Screenshot(ctx context.Context, req capture.ShotRequest) ([]byte, error) {
	format := screenshotFormat(req.Format)
	page := t.Page.Context(ctx)
	if req.Selector != "" {
		el, err := page.Element(req.Selector)
		if err != nil {
			return nil, fmt.Errorf("browser: element %q not found: %w", req.Selector, err)
		}
		raw, err := el.Screenshot(format, req.Quality)
		if err != nil {
			return nil, fmt.Errorf("browser: element screenshot: %w", err)
		}
		return raw, nil
	}
	raw, err := page.Screenshot(req.FullPage, &proto.PageCaptureScreenshot{
		Format:  format,
		Quality: qualityPtr(req.Format, req.Quality),
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return raw, nil
}

// Evaluate runs a JS function and returns its JSON result.
func (t *Tab) Evaluate(ctx context.Context, script string) (json.RawMessage, error) {
	res, err := t.Page.Context(ctx).Eval(script)
	if err != nil {
		return nil, fmt.Errorf("browser: eval: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("browser: eval result: %w", err)
	}
	return raw, nil
}

// WaitFor blocks until the delay has elapsed, then until the selector is
// present, then until the script returns truthy.
func (t *Tab) WaitFor(ctx context.Context, cond capture.WaitCondition) error {
	if cond.Delay > 0 {
		timer := time.NewTimer(cond.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	page := t.Page.Context(ctx)
	if cond.Selector != "" {
		if _, err := page.Element(cond.Selector); err != nil {
			return fmt.Errorf("browser: wait for %q: %w", cond.Selector, err)
		}
	}
	if cond.Script != "" {
		if err := page.Wait(rod.Eval(cond.Script)); err != nil {
			return fmt.Errorf("browser: wait for script: %w", err)
		}
	}
	return nil
}

// Click left-clicks the first element matching selector.
func (t *Tab) Click(ctx context.Context, selector string) error {
	el, err := t.Page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: click %q not found: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %q: %w", selector, err)
	}
	return nil
}

// Hover moves the pointer over the first element matching selector.
func (t *Tab) Hover(ctx context.Context, selector string) error {
	el, err := t.Page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: hover %q not found: %w", selector, err)
	}
	if err := el.Hover(); err != nil {
		return fmt.Errorf("browser: hover %q: %w", selector, err)
	}
	return nil
}

// Install provisions the managed Chromium.
func (t *Tab) Install(ctx context.Context) error {
	return Install(ctx)
}

// Close closes the page.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

func screenshotFormat(f artifact.Format) proto.PageCaptureScreenshotFormat {
	switch f {
	case artifact.FormatJPEG:
		return proto.PageCaptureScreenshotFormatJpeg
	case artifact.FormatWebP:
		return proto.PageCaptureScreenshotFormatWebp
	}
	return proto.PageCaptureScreenshotFormatPng
}

// qualityPtr is nil for lossless formats and unset quality.
func qualityPtr(f artifact.Format, q int) *int {
	if f == artifact.FormatPNG || f == "" || q <= 0 {
		return nil
	}
	return &q
}
