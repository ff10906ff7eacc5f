// Package artifact defines the value objects exchanged by the capture and
// diff engines. They are the public contract: callers build CaptureRequests,
// receive Screenshots and VisualDiffs, and never see engine internals.
//
// Every type here is a plain value. Screenshots and VisualDiffs are created
// by their engine and are not mutated afterwards.
package artifact

import (
	"strconv"
	"time"
)

// Engine names a browser engine.
type Engine string

const (
	EngineChromium Engine = "chromium"
	EngineChrome   Engine = "chrome"
	EngineFirefox  Engine = "firefox"
	EngineWebKit   Engine = "webkit"
)

// Valid reports whether e is a known engine name.
func (e Engine) Valid() bool {
	switch e {
	case EngineChromium, EngineChrome, EngineFirefox, EngineWebKit:
		return true
	}
	return false
}

// Viewport is the emulated device surface.
type Viewport struct {
	Width             int     `json:"width" yaml:"width"`
	Height            int     `json:"height" yaml:"height"`
	DeviceScaleFactor float64 `json:"device_scale_factor,omitempty" yaml:"device_scale_factor"`
	IsMobile          bool    `json:"is_mobile,omitempty" yaml:"is_mobile"`
}

// Key is the "{width}x{height}" label used for responsive captures and
// baseline lookups.
func (v Viewport) Key() string {
	return strconv.Itoa(v.Width) + "x" + strconv.Itoa(v.Height)
}

// Format is the raster encoding of a screenshot.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// ActionType is an interaction performed before the screenshot.
type ActionType string

const (
	ActionClick ActionType = "click"
	ActionHover ActionType = "hover"
)

// Action is a pre-capture interaction on a selector.
type Action struct {
	Type     ActionType `json:"type" validate:"required,oneof=click hover"`
	Selector string     `json:"selector" validate:"required"`
}

// CaptureOptions toggles individual steps of the capture sequence. Nil
// pointer fields fall back to engine defaults.
type CaptureOptions struct {
	FullPage          bool     `json:"full_page,omitempty"`
	HideScrollbars    *bool    `json:"hide_scrollbars,omitempty"`
	DisableAnimations *bool    `json:"disable_animations,omitempty"`
	WaitForFonts      bool     `json:"wait_for_fonts,omitempty"`
	WaitForImages     bool     `json:"wait_for_images,omitempty"`
	DelayMs           int      `json:"delay_ms,omitempty" validate:"min=0,max=60000"`
	Quality           int      `json:"quality,omitempty" validate:"min=0,max=100"`
	Format            Format   `json:"format,omitempty" validate:"omitempty,oneof=png jpeg webp"`
	Actions           []Action `json:"actions,omitempty" validate:"dive"`
}

// Delay is the settle time before the screenshot.
func (o *CaptureOptions) Delay() time.Duration {
	if o == nil {
		return 0
	}
	return time.Duration(o.DelayMs) * time.Millisecond
}

// CaptureRequest asks the capture engine for one screenshot.
type CaptureRequest struct {
	URL           string          `json:"url"`
	Selector      string          `json:"selector,omitempty"`
	Viewport      *Viewport       `json:"viewport,omitempty"`
	BrowserEngine Engine          `json:"browser_engine,omitempty"`
	Options       *CaptureOptions `json:"options,omitempty"`
	Name          string          `json:"name"`
	Tags          []string        `json:"tags,omitempty"`
}

// Metadata describes how a screenshot was produced.
type Metadata struct {
	UserAgent   string     `json:"user_agent"`
	PixelRatio  float64    `json:"pixel_ratio"`
	ColorDepth  int        `json:"color_depth"`
	FileSize    int        `json:"file_size"`
	Dimensions  Dimensions `json:"dimensions"`
	ContentHash string     `json:"content_hash"`
}

// Dimensions are the pixel size of a decoded raster.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Screenshot is an immutable capture artifact. RasterData is a data URL
// ("data:image/png;base64,...").
type Screenshot struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	Selector      string    `json:"selector,omitempty"`
	Viewport      Viewport  `json:"viewport"`
	BrowserEngine Engine    `json:"browser_engine"`
	Timestamp     time.Time `json:"timestamp"`
	RasterData    string    `json:"raster_data"`
	Metadata      Metadata  `json:"metadata"`
	Tags          []string  `json:"tags,omitempty"`
}

// HasTag reports whether tag is attached to the screenshot.
func (s *Screenshot) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Status is the verdict of a comparison.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
	StatusError   Status = "error"
	StatusWarning Status = "warning"
)

// Severity ranks a region by its mean pixel delta.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ChangeType says whether a region appeared, disappeared or changed.
type ChangeType string

const (
	ChangeAddition     ChangeType = "addition"
	ChangeDeletion     ChangeType = "deletion"
	ChangeModification ChangeType = "modification"
)

// DiffRegion is the bounding box of a connected set of changed pixels.
type DiffRegion struct {
	X         int        `json:"x"`
	Y         int        `json:"y"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	Pixels    int        `json:"pixels"`
	MeanDelta float64    `json:"mean_delta"`
	Severity  Severity   `json:"severity"`
	Type      ChangeType `json:"type"`
}

// DiffMetrics are the pixel-level measurements of a comparison.
type DiffMetrics struct {
	TotalPixels       int     `json:"total_pixels"`
	ChangedPixels     int     `json:"changed_pixels"`
	PercentageChanged float64 `json:"percentage_changed"`
	MeanColorDelta    float64 `json:"mean_color_delta"`
	MaxColorDelta     int     `json:"max_color_delta"`
	Regions           int     `json:"regions"`
	SSIM              float64 `json:"ssim"`
	SizeMismatch      bool    `json:"size_mismatch,omitempty"`
}

// VisualDiff is the report produced by the diff engine. DiffImage, when
// present, is a PNG data URL highlighting changed pixels.
type VisualDiff struct {
	ID           string       `json:"id"`
	BaselineID   string       `json:"baseline_id"`
	ComparisonID string       `json:"comparison_id"`
	Timestamp    time.Time    `json:"timestamp"`
	Status       Status       `json:"status"`
	Differences  []DiffRegion `json:"differences"`
	Metrics      DiffMetrics  `json:"metrics"`
	Threshold    float64      `json:"threshold"`
	DiffImage    string       `json:"diff_image,omitempty"`
}

// CaptureResult is the envelope returned by every capture operation.
// Exactly one of Screenshot and Error is set.
type CaptureResult struct {
	Success    bool        `json:"success"`
	Screenshot *Screenshot `json:"screenshot,omitempty"`
	Error      *Error      `json:"error,omitempty"`
}

// DiffResult is the envelope returned by every diff operation.
// Exactly one of Diff and Error is set.
type DiffResult struct {
	Success bool        `json:"success"`
	Diff    *VisualDiff `json:"diff,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// CaptureOK wraps a screenshot in a successful envelope.
func CaptureOK(s *Screenshot) CaptureResult {
	return CaptureResult{Success: true, Screenshot: s}
}

// CaptureFailed wraps an error in a failed envelope.
func CaptureFailed(err *Error) CaptureResult {
	return CaptureResult{Success: false, Error: err}
}

// DiffOK wraps a report in a successful envelope.
func DiffOK(d *VisualDiff) DiffResult {
	return DiffResult{Success: true, Diff: d}
}

// DiffFailed wraps an error in a failed envelope.
func DiffFailed(err *Error) DiffResult {
	return DiffResult{Success: false, Error: err}
}
