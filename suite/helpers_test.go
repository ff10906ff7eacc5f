package suite

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/visreg/archive"
	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/capture"
	"github.com/hazyhaar/visreg/dbopen"
	"github.com/hazyhaar/visreg/diff"
	"github.com/hazyhaar/visreg/sink"
)

// stubController renders whatever image the test sets.
type stubController struct {
	mu   sync.Mutex
	img  image.Image
	fail error
}

func (c *stubController) set(img image.Image) {
	c.mu.Lock()
	c.img = img
	c.mu.Unlock()
}

func (c *stubController) Navigate(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail
}

func (c *stubController) Resize(context.Context, artifact.Viewport) error { return nil }

func (c *stubController) Screenshot(ctx context.Context, req capture.ShotRequest) ([]byte, error) {
	c.mu.Lock()
	img := c.img
	c.mu.Unlock()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *stubController) Evaluate(ctx context.Context, script string) (json.RawMessage, error) {
	if strings.Contains(script, "navigator.userAgent") {
		return json.RawMessage(`{"userAgent":"stub","pixelRatio":1,"colorDepth":24}`), nil
	}
	return json.RawMessage("true"), nil
}

func (c *stubController) WaitFor(context.Context, capture.WaitCondition) error { return nil }
func (c *stubController) Click(context.Context, string) error                  { return nil }
func (c *stubController) Hover(context.Context, string) error                  { return nil }
func (c *stubController) Close() error                                         { return nil }
func (c *stubController) Install(context.Context) error                        { return nil }

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func withBox(img *image.NRGBA, r image.Rectangle, c color.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

var (
	white = color.NRGBA{255, 255, 255, 255}
	red   = color.NRGBA{220, 20, 20, 255}
)

type fixture struct {
	suite *Suite
	ctl   *stubController
	store *archive.Store

	mu    sync.Mutex
	diffs []*artifact.VisualDiff
	shots []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if _, err := db.Exec(archive.Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	f := &fixture{
		ctl:   &stubController{img: solid(32, 32, white)},
		store: &archive.Store{DB: db},
	}

	cc := capture.DefaultConfig()
	cc.Retry = capture.RetryPolicy{MaxRetries: 0, RetryDelay: 0, BackoffMultiplier: 1}
	cc.DefaultViewport = artifact.Viewport{Width: 32, Height: 32, DeviceScaleFactor: 1}
	ce := capture.New(f.ctl, cc, capture.WithSleep(func(context.Context, time.Duration) error { return nil }))

	de := diff.New(diff.Config{Defaults: diff.DefaultOptions(), Workers: 2})
	t.Cleanup(de.Close)

	cb := sink.NewCallback(
		func(_ context.Context, d *artifact.VisualDiff) error {
			f.mu.Lock()
			f.diffs = append(f.diffs, d)
			f.mu.Unlock()
			return nil
		},
		func(_ context.Context, s *artifact.Screenshot) error {
			f.mu.Lock()
			f.shots = append(f.shots, s.ID)
			f.mu.Unlock()
			return nil
		},
	)

	s, err := New(Config{Capture: ce, Diff: de, Store: f.store, Sink: cb})
	if err != nil {
		t.Fatalf("new suite: %v", err)
	}
	f.suite = s
	return f
}

func checkReq(name string) CheckRequest {
	return CheckRequest{CaptureRequest: artifact.CaptureRequest{URL: "https://example.com/", Name: name}}
}
