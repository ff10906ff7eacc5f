// Package sink delivers capture and diff reports to output backends.
package sink

import (
	"context"

	"github.com/hazyhaar/visreg/artifact"
)

// Sink is the output interface. Implementations deliver reports to
// different backends (stdout, webhook, in-process callback).
type Sink interface {
	SendDiff(ctx context.Context, d *artifact.VisualDiff) error
	SendScreenshot(ctx context.Context, s *artifact.Screenshot) error
	Close() error
}

type envelope struct {
	Type   string `json:"type"`
	Digest string `json:"digest,omitempty"`
	Data   any    `json:"data"`
}

// withoutRaster returns a shallow copy of s with RasterData cleared.
// Sinks carry the report, not the pixels.
func withoutRaster(s *artifact.Screenshot) artifact.Screenshot {
	c := *s
	c.RasterData = ""
	return c
}

func withoutImage(d *artifact.VisualDiff) artifact.VisualDiff {
	c := *d
	c.DiffImage = ""
	return c
}
