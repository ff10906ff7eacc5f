package capture

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/hazyhaar/visreg/artifact"
)

// stepError tags a runtime failure with the sequence step that produced it.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

func stepErr(step string, err error) error {
	return &stepError{step: step, err: err}
}

// StepOf returns the sequence step recorded on a capture error ("navigate",
// "resize", "screenshot", ...), or "".
func StepOf(aerr *artifact.Error) string {
	if aerr == nil {
		return ""
	}
	s, _ := aerr.Details["step"].(string)
	return s
}

const (
	scrollbarCSS = `::-webkit-scrollbar{display:none!important}html,body{scrollbar-width:none!important}`
	animationCSS = `*,*::before,*::after{animation-duration:0s!important;animation-delay:0s!important;` +
		`transition-duration:0s!important;transition-delay:0s!important;caret-color:transparent!important}`

	fontsReadyScript  = `() => document.fonts ? document.fonts.ready.then(() => true) : true`
	imagesReadyScript = `() => Promise.all(Array.from(document.images).filter(i => !i.complete).map(i => new Promise(r => { i.onload = i.onerror = r; }))).then(() => true)`
	metadataScript    = `() => ({userAgent: navigator.userAgent, pixelRatio: window.devicePixelRatio, colorDepth: screen.colorDepth})`
)

func injectStyleScript(css string) string {
	q, _ := json.Marshal(css)
	return `() => { const s = document.createElement('style'); s.setAttribute('data-visreg', ''); s.textContent = ` +
		string(q) + `; document.head.appendChild(s); return true; }`
}

func probeScript(selector string) string {
	q, _ := json.Marshal(selector)
	return `() => document.querySelector(` + string(q) + `) !== null`
}

// run executes navigate → resize → styles → selector probe → delay →
// readiness → actions → screenshot, then assembles the artifact.
func (e *Engine) run(ctx context.Context, ctl Controller, cfg Config, engine artifact.Engine, req artifact.CaptureRequest, offset time.Duration) (*artifact.Screenshot, error) {
	vp := cfg.DefaultViewport
	if req.Viewport != nil {
		vp = *req.Viewport
	}
	if vp.DeviceScaleFactor == 0 {
		vp.DeviceScaleFactor = 1
	}
	opts := req.Options
	if opts == nil {
		opts = &artifact.CaptureOptions{}
	}

	if err := ctl.Navigate(ctx, req.URL); err != nil {
		return nil, stepErr("navigate", err)
	}
	if err := ctl.Resize(ctx, vp); err != nil {
		return nil, stepErr("resize", err)
	}

	css := ""
	if boolOr(opts.HideScrollbars, cfg.HideScrollbars) {
		css += scrollbarCSS
	}
	if boolOr(opts.DisableAnimations, cfg.DisableAnimations) {
		css += animationCSS
	}
	if css != "" {
		if _, err := ctl.Evaluate(ctx, injectStyleScript(css)); err != nil {
			return nil, stepErr("style", err)
		}
	}

	if req.Selector != "" {
		raw, err := ctl.Evaluate(ctx, probeScript(req.Selector))
		if err != nil {
			return nil, stepErr("probe", err)
		}
		var found bool
		if err := json.Unmarshal(raw, &found); err != nil || !found {
			return nil, artifact.NewError(artifact.CodeElementNotFound, "no element matches selector %q", req.Selector).
				WithDetail("step", "probe").
				WithDetail("selector", req.Selector)
		}
	}

	if d := opts.Delay() + offset; d > 0 {
		if err := ctl.WaitFor(ctx, WaitCondition{Delay: d}); err != nil {
			return nil, stepErr("delay", err)
		}
	}
	if opts.WaitForFonts {
		if _, err := ctl.Evaluate(ctx, fontsReadyScript); err != nil {
			return nil, stepErr("fonts", err)
		}
	}
	if opts.WaitForImages {
		if _, err := ctl.Evaluate(ctx, imagesReadyScript); err != nil {
			return nil, stepErr("images", err)
		}
	}

	for _, a := range opts.Actions {
		var err error
		switch a.Type {
		case artifact.ActionClick:
			err = ctl.Click(ctx, a.Selector)
		case artifact.ActionHover:
			err = ctl.Hover(ctx, a.Selector)
		}
		if err != nil {
			return nil, stepErr(string(a.Type), err)
		}
	}

	format := opts.Format
	if format == "" {
		format = cfg.Format
	}
	raw, err := ctl.Screenshot(ctx, ShotRequest{
		Selector: req.Selector,
		FullPage: opts.FullPage,
		Format:   format,
		Quality:  opts.Quality,
	})
	if err != nil {
		return nil, stepErr("screenshot", err)
	}
	if len(raw) == 0 {
		return nil, artifact.NewError(artifact.CodeCaptureFailed, "screenshot returned no data").
			WithDetail("step", "screenshot")
	}
	dims, err := artifact.DecodeConfig(raw)
	if err != nil {
		return nil, artifact.NewError(artifact.CodeDecodeFailed, "screenshot raster: %v", err).
			WithDetail("step", "screenshot")
	}

	meta := e.metadata(ctx, ctl, vp)
	meta.FileSize = len(raw)
	meta.Dimensions = dims
	meta.ContentHash = ContentHash(raw)

	name := req.Name
	if name == "" {
		name = vp.Key()
	}
	return &artifact.Screenshot{
		ID:            e.ids(),
		Name:          name,
		URL:           req.URL,
		Selector:      req.Selector,
		Viewport:      vp,
		BrowserEngine: engine,
		Timestamp:     e.now().UTC(),
		RasterData:    artifact.EncodeDataURL(format, raw),
		Metadata:      meta,
		Tags:          append([]string(nil), req.Tags...),
	}, nil
}

// metadata reads page-level facts. Failure is not fatal: the viewport
// values stand in.
func (e *Engine) metadata(ctx context.Context, ctl Controller, vp artifact.Viewport) artifact.Metadata {
	meta := artifact.Metadata{PixelRatio: vp.DeviceScaleFactor, ColorDepth: 24}
	raw, err := ctl.Evaluate(ctx, metadataScript)
	if err != nil {
		e.logger.Debug("capture: metadata unavailable", "error", err)
		return meta
	}
	var m struct {
		UserAgent  string  `json:"userAgent"`
		PixelRatio float64 `json:"pixelRatio"`
		ColorDepth int     `json:"colorDepth"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return meta
	}
	meta.UserAgent = m.UserAgent
	if m.PixelRatio > 0 {
		meta.PixelRatio = m.PixelRatio
	}
	if m.ColorDepth > 0 {
		meta.ColorDepth = m.ColorDepth
	}
	return meta
}

// ContentHash is the hex BLAKE2b-256 digest of raster bytes.
func ContentHash(raw []byte) string {
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

