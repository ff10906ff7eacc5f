package diff

import (
	"fmt"
	"image"
)

// Rect is a caller-supplied area excluded from comparison.
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (r Rect) rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Options tune one comparison. Callers normally start from
// Engine.Defaults() and override fields, since zero values are meaningful
// (Threshold 0 fails on any change).
type Options struct {
	// Threshold is the maximum percentage of changed pixels that still
	// passes. The boundary is inclusive.
	Threshold float64 `json:"threshold" yaml:"threshold"`
	// PixelThreshold is the per-pixel noise floor: a pixel changes when
	// its delta (0-255) exceeds it.
	PixelThreshold     int    `json:"pixel_threshold" yaml:"pixel_threshold"`
	IgnoreRegions      []Rect `json:"ignore_regions,omitempty" yaml:"ignore_regions"`
	IgnoreAntialiasing bool   `json:"ignore_antialiasing" yaml:"ignore_antialiasing"`
	// AntialiasingEdge is the minimum local luminance contrast for an
	// isolated changed pixel to be treated as an anti-aliased edge.
	AntialiasingEdge int  `json:"antialiasing_edge" yaml:"antialiasing_edge"`
	IgnoreColors     bool `json:"ignore_colors" yaml:"ignore_colors"`
	// SeverityMedium and SeverityHigh are the region mean-delta cutoffs.
	SeverityMedium float64 `json:"severity_medium" yaml:"severity_medium"`
	SeverityHigh   float64 `json:"severity_high" yaml:"severity_high"`
	// DiffImage requests a highlighted visualization raster.
	DiffImage bool `json:"diff_image" yaml:"diff_image"`
}

// DefaultOptions returns the comparison defaults.
func DefaultOptions() Options {
	return Options{
		Threshold:        0.2,
		PixelThreshold:   0,
		AntialiasingEdge: 16,
		SeverityMedium:   64,
		SeverityHigh:     128,
		DiffImage:        true,
	}
}

func (o Options) check() error {
	switch {
	case o.Threshold < 0 || o.Threshold > 100:
		return fmt.Errorf("threshold must be within [0, 100], got %v", o.Threshold)
	case o.PixelThreshold < 0 || o.PixelThreshold > 255:
		return fmt.Errorf("pixel threshold must be within [0, 255], got %d", o.PixelThreshold)
	case o.AntialiasingEdge < 0 || o.AntialiasingEdge > 255:
		return fmt.Errorf("antialiasing edge must be within [0, 255], got %d", o.AntialiasingEdge)
	case o.SeverityMedium < 0 || o.SeverityHigh < o.SeverityMedium:
		return fmt.Errorf("severity cutoffs must satisfy 0 <= medium <= high, got %v/%v", o.SeverityMedium, o.SeverityHigh)
	}
	for i, r := range o.IgnoreRegions {
		if r.Width <= 0 || r.Height <= 0 {
			return fmt.Errorf("ignore region %d has non-positive size %dx%d", i, r.Width, r.Height)
		}
	}
	return nil
}
