package sink

import (
	"context"

	"github.com/hazyhaar/visreg/artifact"
)

// DiffFunc is called for each diff report.
type DiffFunc func(ctx context.Context, d *artifact.VisualDiff) error

// ScreenshotFunc is called for each screenshot.
type ScreenshotFunc func(ctx context.Context, s *artifact.Screenshot) error

// Callback delivers reports as in-process function calls, with no
// serialisation.
type Callback struct {
	onDiff       DiffFunc
	onScreenshot ScreenshotFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onDiff DiffFunc, onScreenshot ScreenshotFunc) *Callback {
	return &Callback{onDiff: onDiff, onScreenshot: onScreenshot}
}

func (c *Callback) SendDiff(ctx context.Context, d *artifact.VisualDiff) error {
	if c.onDiff != nil {
		return c.onDiff(ctx, d)
	}
	return nil
}

func (c *Callback) SendScreenshot(ctx context.Context, s *artifact.Screenshot) error {
	if c.onScreenshot != nil {
		return c.onScreenshot(ctx, s)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
