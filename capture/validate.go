package capture

import (
	"errors"
	"html"
	"math"
	"net/url"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/visreg/artifact"
)

const maxSelectorLen = 1024

var (
	errSelectorEmpty  = errors.New("selector is empty")
	errSelectorLong   = errors.New("selector is too long")
	errSelectorMarkup = errors.New("selector contains markup")
)

var unsafeSelectorTokens = []string{
	"javascript:", "vbscript:", "data:", "expression(", "url(", "@import",
	"<", "{", "}", ";", "`", "\\3c", "\\u003c",
}

var strict = bluemonday.StrictPolicy()

// CheckSelector rejects selectors carrying markup or script-like tokens.
func CheckSelector(sel string) error {
	if strings.TrimSpace(sel) == "" {
		return errSelectorEmpty
	}
	if len(sel) > maxSelectorLen {
		return errSelectorLong
	}
	for _, r := range sel {
		if unicode.IsControl(r) {
			return errors.New("selector contains control characters")
		}
	}
	if html.UnescapeString(strict.Sanitize(sel)) != sel {
		return errSelectorMarkup
	}
	lower := strings.ToLower(sel)
	for _, tok := range unsafeSelectorTokens {
		if strings.Contains(lower, tok) {
			return errors.New("selector contains disallowed token " + `"` + tok + `"`)
		}
	}
	return nil
}

// validateRequest checks req against cfg in a fixed order: url, viewport,
// selectors, options. It performs no I/O.
func validateRequest(v *validator.Validate, cfg Config, req artifact.CaptureRequest) *artifact.Error {
	if aerr := checkURL(v, req.URL); aerr != nil {
		return aerr
	}
	if req.Viewport != nil {
		if aerr := checkViewport(*req.Viewport, cfg.MaxWidth, cfg.MaxHeight); aerr != nil {
			return aerr
		}
	}
	if req.Selector != "" {
		if err := CheckSelector(req.Selector); err != nil {
			return artifact.NewError(artifact.CodeInvalidSelector, "%s", err.Error()).
				WithDetail("selector", req.Selector)
		}
	}
	if req.Options != nil {
		for i, a := range req.Options.Actions {
			if err := CheckSelector(a.Selector); err != nil {
				return artifact.NewError(artifact.CodeInvalidSelector, "action %d: %s", i, err.Error()).
					WithDetail("selector", a.Selector)
			}
		}
		if err := v.Struct(req.Options); err != nil {
			return artifact.NewError(artifact.CodeInvalidOptions, "%s", err.Error())
		}
	}
	if req.BrowserEngine != "" && !req.BrowserEngine.Valid() {
		return artifact.NewError(artifact.CodeInvalidOptions, "unknown browser engine %q", req.BrowserEngine)
	}
	return nil
}

func checkURL(v *validator.Validate, raw string) *artifact.Error {
	if err := v.Var(raw, "required,url"); err != nil {
		return artifact.NewError(artifact.CodeInvalidURL, "invalid url %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return artifact.NewError(artifact.CodeInvalidURL, "invalid url %q: %v", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return artifact.NewError(artifact.CodeInvalidURL, "url %q has no host", raw)
		}
	case "file":
	default:
		return artifact.NewError(artifact.CodeInvalidURL, "unsupported url scheme %q", u.Scheme)
	}
	return nil
}

func checkViewport(vp artifact.Viewport, maxW, maxH int) *artifact.Error {
	switch {
	case vp.Width <= 0:
		return artifact.NewError(artifact.CodeInvalidViewport, "viewport width must be positive, got %d", vp.Width).
			WithDetail("width", vp.Width)
	case vp.Height <= 0:
		return artifact.NewError(artifact.CodeInvalidViewport, "viewport height must be positive, got %d", vp.Height).
			WithDetail("height", vp.Height)
	case vp.Width > maxW:
		return artifact.NewError(artifact.CodeInvalidViewport, "viewport width %d exceeds maximum %d", vp.Width, maxW).
			WithDetail("width", vp.Width)
	case vp.Height > maxH:
		return artifact.NewError(artifact.CodeInvalidViewport, "viewport height %d exceeds maximum %d", vp.Height, maxH).
			WithDetail("height", vp.Height)
	case vp.DeviceScaleFactor < 0 || math.IsNaN(vp.DeviceScaleFactor) || math.IsInf(vp.DeviceScaleFactor, 0):
		return artifact.NewError(artifact.CodeInvalidViewport, "device scale factor must be positive, got %v", vp.DeviceScaleFactor)
	}
	return nil
}
