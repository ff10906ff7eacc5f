package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/visreg/artifact"
)

// fakeController records every primitive call and fails according to a
// per-method script of errors.
type fakeController struct {
	mu        sync.Mutex
	calls     []string
	fail      map[string][]error
	failURL   map[string]error
	png       []byte
	pngQueue  [][]byte
	probe     bool
	closed    int
	viewport  artifact.Viewport
	failWidth int
	waits     []time.Duration

	// sleepy makes WaitFor block for the requested delay.
	sleepy bool
}

func newFake(t *testing.T) *fakeController {
	t.Helper()
	return &fakeController{
		fail:    make(map[string][]error),
		failURL: make(map[string]error),
		png:     testPNG(t, 4, 3),
		probe:   true,
	}
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 40), G: uint8(y * 40), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// failN scripts the next n calls of method to fail with err.
func (f *fakeController) failN(method string, n int, err error) {
	for i := 0; i < n; i++ {
		f.fail[method] = append(f.fail[method], err)
	}
}

func (f *fakeController) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if q := f.fail[method]; len(q) > 0 {
		f.fail[method] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeController) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeController) sequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) Navigate(ctx context.Context, url string) error {
	if err := f.record("navigate"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failURL[url]
}

func (f *fakeController) Resize(ctx context.Context, vp artifact.Viewport) error {
	f.mu.Lock()
	f.viewport = vp
	failing := f.failWidth != 0 && vp.Width == f.failWidth
	f.mu.Unlock()
	if err := f.record("resize"); err != nil {
		return err
	}
	if failing {
		return errors.New("browser crashed while resizing")
	}
	return nil
}

func (f *fakeController) Screenshot(ctx context.Context, req ShotRequest) ([]byte, error) {
	if err := f.record("screenshot"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pngQueue) > 0 {
		raw := f.pngQueue[0]
		f.pngQueue = f.pngQueue[1:]
		return raw, nil
	}
	return f.png, nil
}

func (f *fakeController) Evaluate(ctx context.Context, script string) (json.RawMessage, error) {
	switch {
	case strings.Contains(script, "querySelector"):
		if err := f.record("probe"); err != nil {
			return nil, err
		}
		if f.probe {
			return json.RawMessage("true"), nil
		}
		return json.RawMessage("false"), nil
	case strings.Contains(script, "navigator.userAgent"):
		if err := f.record("metadata"); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"userAgent":"fake/1.0","pixelRatio":2,"colorDepth":30}`), nil
	case strings.Contains(script, "fonts"):
		return json.RawMessage("true"), f.record("fonts")
	case strings.Contains(script, "document.images"):
		return json.RawMessage("true"), f.record("images")
	}
	return json.RawMessage("true"), f.record("style")
}

func (f *fakeController) WaitFor(ctx context.Context, cond WaitCondition) error {
	f.mu.Lock()
	f.waits = append(f.waits, cond.Delay)
	sleeps := f.sleepy
	f.mu.Unlock()
	if err := f.record("wait"); err != nil {
		return err
	}
	if sleeps {
		return sleepCtx(ctx, cond.Delay)
	}
	return nil
}

func (f *fakeController) Click(ctx context.Context, selector string) error {
	return f.record("click")
}

func (f *fakeController) Hover(ctx context.Context, selector string) error {
	return f.record("hover")
}

func (f *fakeController) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Install(ctx context.Context) error {
	return f.record("install")
}

// recordingSleep captures backoff delays without waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestEngine(ctl Controller, rs *recordingSleep, mutate func(*Config)) *Engine {
	cfg := DefaultConfig()
	cfg.Retry = RetryPolicy{MaxRetries: 3, RetryDelay: 100 * time.Millisecond, BackoffMultiplier: 2}
	if mutate != nil {
		mutate(&cfg)
	}
	if rs == nil {
		rs = &recordingSleep{}
	}
	return New(ctl, cfg, WithSleep(rs.sleep))
}
