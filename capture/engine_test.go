package capture

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/idgen"
)

func TestCapture_Sequence(t *testing.T) {
	ctl := newFake(t)
	e := New(ctl, DefaultConfig(), WithIDGenerator(idgen.Sequence("shot")))
	res := e.Capture(context.Background(), artifact.CaptureRequest{
		URL:      "https://example.com",
		Selector: "#hero",
		Name:     "home",
		Tags:     []string{"smoke"},
		Options: &artifact.CaptureOptions{
			DelayMs:       250,
			WaitForFonts:  true,
			WaitForImages: true,
			Actions:       []artifact.Action{{Type: artifact.ActionHover, Selector: "#menu"}},
		},
	})
	if !res.Success {
		t.Fatalf("capture failed: %+v", res.Error)
	}
	want := []string{"navigate", "resize", "style", "probe", "wait", "fonts", "images", "hover", "screenshot", "metadata"}
	if got := ctl.sequence(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sequence = %v, want %v", got, want)
	}

	s := res.Screenshot
	if s.ID != "shot-1" || s.Name != "home" || s.Selector != "#hero" {
		t.Errorf("unexpected identity: %+v", s)
	}
	if s.Viewport.Width != 1920 || s.Viewport.Height != 1080 {
		t.Errorf("default viewport not applied: %+v", s.Viewport)
	}
	if s.BrowserEngine != artifact.EngineChromium {
		t.Errorf("engine = %s", s.BrowserEngine)
	}
	if s.Metadata.Dimensions != (artifact.Dimensions{Width: 4, Height: 3}) {
		t.Errorf("dimensions = %+v", s.Metadata.Dimensions)
	}
	if s.Metadata.FileSize != len(ctl.png) || s.Metadata.ContentHash != ContentHash(ctl.png) {
		t.Errorf("metadata = %+v", s.Metadata)
	}
	if s.Metadata.UserAgent != "fake/1.0" || s.Metadata.PixelRatio != 2 || s.Metadata.ColorDepth != 30 {
		t.Errorf("page metadata = %+v", s.Metadata)
	}
	mime, raw, err := artifact.DecodeDataURL(s.RasterData)
	if err != nil || mime != "image/png" || len(raw) != len(ctl.png) {
		t.Errorf("raster data: mime=%q len=%d err=%v", mime, len(raw), err)
	}
	if !s.HasTag("smoke") {
		t.Error("tags not carried")
	}
}

func TestCapture_StepsToggledOff(t *testing.T) {
	ctl := newFake(t)
	off := false
	e := newTestEngine(ctl, nil, nil)
	res := e.Capture(context.Background(), artifact.CaptureRequest{
		URL:     "https://example.com",
		Options: &artifact.CaptureOptions{HideScrollbars: &off, DisableAnimations: &off},
	})
	if !res.Success {
		t.Fatalf("capture failed: %+v", res.Error)
	}
	want := []string{"navigate", "resize", "screenshot", "metadata"}
	if got := ctl.sequence(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sequence = %v, want %v", got, want)
	}
}

func TestCapture_ElementNotFound(t *testing.T) {
	ctl := newFake(t)
	ctl.probe = false
	e := newTestEngine(ctl, nil, func(c *Config) { c.Retry.MaxRetries = 0 })
	res := e.Capture(context.Background(), artifact.CaptureRequest{URL: "https://example.com", Selector: ".missing"})
	if res.Success || res.Error.Code != artifact.CodeElementNotFound {
		t.Fatalf("got %+v", res)
	}
	if ctl.count("screenshot") != 0 {
		t.Error("screenshot taken despite missing element")
	}
}

// WHAT: N deterministic failures with maxRetries=M.
// WHY: Succeeds iff N <= M and the sequence runs min(N,M)+1 times.
func TestCapture_RetryBound(t *testing.T) {
	for _, tc := range []struct{ n, m int }{
		{0, 0}, {1, 0}, {1, 1}, {2, 3}, {3, 3}, {4, 3}, {5, 2},
	} {
		ctl := newFake(t)
		ctl.failN("navigate", tc.n, errors.New("net::ERR_CONNECTION_RESET"))
		rs := &recordingSleep{}
		e := newTestEngine(ctl, rs, func(c *Config) { c.Retry.MaxRetries = tc.m })

		res := e.Capture(context.Background(), artifact.CaptureRequest{URL: "https://example.com"})
		wantOK := tc.n <= tc.m
		if res.Success != wantOK {
			t.Errorf("n=%d m=%d: success = %v, want %v", tc.n, tc.m, res.Success, wantOK)
		}
		if got, want := ctl.count("navigate"), min(tc.n, tc.m)+1; got != want {
			t.Errorf("n=%d m=%d: navigate calls = %d, want %d", tc.n, tc.m, got, want)
		}
		if !wantOK {
			if res.Error.Code != artifact.CodeNetwork {
				t.Errorf("n=%d m=%d: code = %s", tc.n, tc.m, res.Error.Code)
			}
			if res.Error.Details["attempts"] != tc.m+1 {
				t.Errorf("attempts detail = %v", res.Error.Details["attempts"])
			}
		}
	}
}

// WHAT: Recorded inter-attempt delays follow retryDelay * multiplier^attempt.
func TestCapture_BackoffGrowth(t *testing.T) {
	ctl := newFake(t)
	ctl.failN("screenshot", 10, errors.New("browser crashed"))
	rs := &recordingSleep{}
	e := newTestEngine(ctl, rs, func(c *Config) {
		c.Retry = RetryPolicy{MaxRetries: 4, RetryDelay: 50 * time.Millisecond, BackoffMultiplier: 3}
	})
	res := e.Capture(context.Background(), artifact.CaptureRequest{URL: "https://example.com"})
	if res.Success || res.Error.Code != artifact.CodeBrowser {
		t.Fatalf("got %+v", res)
	}
	want := []time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 450 * time.Millisecond, 1350 * time.Millisecond}
	if !reflect.DeepEqual(rs.delays, want) {
		t.Fatalf("delays = %v, want %v", rs.delays, want)
	}
	for i := 1; i < len(rs.delays); i++ {
		if rs.delays[i] < rs.delays[i-1] {
			t.Errorf("delays decrease at %d: %v", i, rs.delays)
		}
	}
}

func TestCapture_PolicyOverride(t *testing.T) {
	ctl := newFake(t)
	ctl.failN("navigate", 2, errors.New("timeout"))
	e := newTestEngine(ctl, nil, func(c *Config) { c.Retry.MaxRetries = 0 })

	res := e.CaptureWithPolicy(context.Background(), artifact.CaptureRequest{URL: "https://example.com"},
		RetryPolicy{MaxRetries: 2, RetryDelay: time.Millisecond, BackoffMultiplier: 1})
	if !res.Success {
		t.Fatalf("override should allow 2 retries: %+v", res.Error)
	}
	if e.Config().Retry.MaxRetries != 0 {
		t.Error("override leaked into engine config")
	}
}

func TestCapture_AttemptTimeout(t *testing.T) {
	ctl := &blockingController{fakeController: newFake(t)}
	e := newTestEngine(ctl, nil, func(c *Config) {
		c.AttemptTimeout = 20 * time.Millisecond
		c.Retry.MaxRetries = 1
	})
	res := e.Capture(context.Background(), artifact.CaptureRequest{URL: "https://example.com"})
	if res.Success || res.Error.Code != artifact.CodeTimeout {
		t.Fatalf("got %+v", res)
	}
	if ctl.count("navigate") != 2 {
		t.Errorf("timeout should count against the retry budget, navigate calls = %d", ctl.count("navigate"))
	}
}

// blockingController hangs in Navigate until ctx is done.
type blockingController struct {
	*fakeController
}

func (b *blockingController) Navigate(ctx context.Context, url string) error {
	b.record("navigate")
	<-ctx.Done()
	return ctx.Err()
}

// WHAT: The first screenshot is a truncated PNG, the next ones are valid.
// WHY: A raster the controller could not produce correctly is a runtime
// failure and is retried like any other.
func TestCapture_RetriesUndecodableRaster(t *testing.T) {
	ctl := newFake(t)
	ctl.pngQueue = [][]byte{[]byte("\x89PNG\r\n\x1a\ntruncated")}
	e := newTestEngine(ctl, nil, nil)
	res := e.Capture(context.Background(), artifact.CaptureRequest{URL: "https://example.com"})
	if !res.Success {
		t.Fatalf("got %+v", res.Error)
	}
	if ctl.count("screenshot") != 2 {
		t.Errorf("screenshot calls = %d, want 2", ctl.count("screenshot"))
	}
}

// WHAT: A controller that never returns a decodable raster.
// WHY: Retries stay bounded at maxRetries+1 attempts.
func TestCapture_UndecodableRasterExhaustsRetries(t *testing.T) {
	ctl := newFake(t)
	ctl.png = []byte("not an image")
	e := newTestEngine(ctl, nil, nil)
	res := e.Capture(context.Background(), artifact.CaptureRequest{URL: "https://example.com"})
	if res.Success || res.Error.Code != artifact.CodeDecodeFailed {
		t.Fatalf("got %+v", res)
	}
	if ctl.count("screenshot") != 4 {
		t.Errorf("screenshot calls = %d, want 4", ctl.count("screenshot"))
	}
}

func TestEngine_Unavailable(t *testing.T) {
	e := New(nil, DefaultConfig())
	if e.IsAvailable() {
		t.Fatal("engine without controller reports available")
	}
	res := e.Capture(context.Background(), artifact.CaptureRequest{URL: "https://example.com"})
	if res.Success || res.Error.Code != artifact.CodeBrowser {
		t.Fatalf("got %+v", res)
	}
}

func TestEngine_UnsupportedEngine(t *testing.T) {
	ctl := &chromiumOnly{fakeController: newFake(t)}
	e := newTestEngine(ctl, nil, nil)
	res := e.Capture(context.Background(), artifact.CaptureRequest{URL: "https://example.com", BrowserEngine: artifact.EngineFirefox})
	if res.Success || res.Error.Code != artifact.CodeBrowser {
		t.Fatalf("got %+v", res)
	}
	if len(ctl.sequence()) != 0 {
		t.Error("controller driven for unsupported engine")
	}
}

type chromiumOnly struct {
	*fakeController
}

func (c *chromiumOnly) Supports(e artifact.Engine) bool {
	return e == artifact.EngineChromium || e == artifact.EngineChrome
}

func TestCapture_SessionPerAttempt(t *testing.T) {
	inner := newFake(t)
	inner.failN("navigate", 1, errors.New("target closed"))
	ctl := &sessionController{fakeController: inner}
	e := newTestEngine(ctl, nil, nil)
	res := e.Capture(context.Background(), artifact.CaptureRequest{URL: "https://example.com"})
	if !res.Success {
		t.Fatalf("capture failed: %+v", res.Error)
	}
	if ctl.opened != 2 || inner.closed != 2 {
		t.Errorf("sessions opened=%d closed=%d, want 2/2", ctl.opened, inner.closed)
	}
}

type sessionController struct {
	*fakeController
	opened int
}

func (s *sessionController) NewSession(ctx context.Context) (Controller, error) {
	s.opened++
	return s.fakeController, nil
}

func TestEngine_ConfigurationPanics(t *testing.T) {
	e := New(newFake(t), DefaultConfig())
	mustPanic(t, "negative retries", func() { e.ConfigureRetry(RetryPolicy{MaxRetries: -1, BackoffMultiplier: 1}) })
	mustPanic(t, "multiplier", func() { e.ConfigureRetry(RetryPolicy{MaxRetries: 1, BackoffMultiplier: 0.5}) })
	mustPanic(t, "engine", func() { e.SetBrowserEngine("netscape") })
	mustPanic(t, "viewport", func() { e.SetDefaultViewport(artifact.Viewport{Width: 0, Height: 10}) })

	e.SetBrowserEngine(artifact.EngineChrome)
	e.SetDefaultViewport(artifact.Viewport{Width: 375, Height: 812, IsMobile: true})
	e.ConfigureRetry(RetryPolicy{MaxRetries: 0, RetryDelay: 0, BackoffMultiplier: 1})
	cfg := e.Config()
	if cfg.BrowserEngine != artifact.EngineChrome || cfg.DefaultViewport.Width != 375 || cfg.DefaultViewport.DeviceScaleFactor != 1 {
		t.Errorf("config = %+v", cfg)
	}
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{RetryDelay: time.Second, BackoffMultiplier: 2}
	for attempt, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		if got := p.Backoff(attempt); got != want {
			t.Errorf("Backoff(%d) = %s, want %s", attempt, got, want)
		}
	}
}
