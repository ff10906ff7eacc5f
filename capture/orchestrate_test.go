package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/visreg/artifact"
)

// WHAT: Three viewports, the second forced to fail.
// WHY: Failures are isolated and results keep input order.
func TestCaptureResponsive_Isolation(t *testing.T) {
	ctl := newFake(t)
	ctl.failWidth = 768
	e := newTestEngine(ctl, nil, func(c *Config) { c.Retry.MaxRetries = 1 })

	vps := []artifact.Viewport{
		{Width: 375, Height: 667},
		{Width: 768, Height: 1024},
		{Width: 1440, Height: 900},
	}
	results := e.CaptureResponsive(context.Background(), "https://example.com", vps)
	if len(results) != 3 {
		t.Fatalf("len = %d, want 3", len(results))
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Fatalf("success = %v %v %v, want true false true", results[0].Success, results[1].Success, results[2].Success)
	}
	if results[1].Error.Code != artifact.CodeBrowser {
		t.Errorf("code = %s", results[1].Error.Code)
	}
	for i, idx := range []int{0, 2} {
		s := results[idx].Screenshot
		if s.Name != vps[idx].Key() {
			t.Errorf("result %d name = %q, want %q", i, s.Name, vps[idx].Key())
		}
		if s.Viewport.Width != vps[idx].Width || !s.HasTag(TagResponsive) {
			t.Errorf("result %d = %+v", idx, s)
		}
	}
}

func TestCaptureResponsive_Empty(t *testing.T) {
	e := newTestEngine(newFake(t), nil, nil)
	if got := e.CaptureResponsive(context.Background(), "https://example.com", nil); len(got) != 0 {
		t.Fatalf("got %d results", len(got))
	}
}

func TestFrameCount(t *testing.T) {
	cases := []struct {
		d    time.Duration
		fps  float64
		want int
	}{
		{time.Second, 10, 10},
		{1500 * time.Millisecond, 4, 6},
		{250 * time.Millisecond, 10, 3}, // 2.5 rounds half away from zero
		{0, 30, 0},
		{time.Second, 0, 0},
	}
	for _, tc := range cases {
		if got := FrameCount(tc.d, tc.fps); got != tc.want {
			t.Errorf("FrameCount(%s, %v) = %d, want %d", tc.d, tc.fps, got, tc.want)
		}
	}
}

func TestCaptureAnimationFrames(t *testing.T) {
	ctl := newFake(t)
	e := newTestEngine(ctl, nil, nil)
	frames := e.CaptureAnimationFrames(context.Background(), "https://example.com", ".spinner", 500*time.Millisecond, 8)
	if len(frames) != 4 {
		t.Fatalf("frames = %d, want 4", len(frames))
	}
	for i, f := range frames {
		if !f.HasTag(TagAnimation) || !f.HasTag("frame-"+string(rune('0'+i))) {
			t.Errorf("frame %d tags = %v", i, f.Tags)
		}
	}
	// frame 0 waits nothing; frames 1..3 wait their offset.
	if got := ctl.count("wait"); got != 3 {
		t.Errorf("wait calls = %d, want 3", got)
	}
}

func TestCaptureAnimationFrames_DropsFailedFrames(t *testing.T) {
	ctl := newFake(t)
	ctl.fail["screenshot"] = []error{nil, errors.New("browser crashed")}
	e := newTestEngine(ctl, nil, func(c *Config) { c.Retry.MaxRetries = 0 })
	frames := e.CaptureAnimationFrames(context.Background(), "https://example.com", "", time.Second, 3)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if !frames[1].HasTag("frame-2") {
		t.Errorf("second kept frame tags = %v", frames[1].Tags)
	}
}

func TestCaptureAnimationFrames_NavigationFailure(t *testing.T) {
	ctl := newFake(t)
	ctl.failURL["https://down.example.com"] = errors.New("net::ERR_NAME_NOT_RESOLVED")
	e := newTestEngine(ctl, nil, func(c *Config) { c.Retry.MaxRetries = 0 })
	frames := e.CaptureAnimationFrames(context.Background(), "https://down.example.com", "", time.Second, 5)
	if frames == nil || len(frames) != 0 {
		t.Fatalf("frames = %v, want empty", frames)
	}
	if ctl.count("navigate") != 1 {
		t.Errorf("navigate calls = %d, want 1", ctl.count("navigate"))
	}
}

// WHAT: A 90 s animation at 1 fps yields all 90 frames.
// WHY: Frame offsets past the 60 s request-delay cap are still valid frames.
func TestCaptureAnimationFrames_LongAnimation(t *testing.T) {
	ctl := newFake(t)
	e := newTestEngine(ctl, nil, nil)
	frames := e.CaptureAnimationFrames(context.Background(), "https://example.com", "", 90*time.Second, 1)
	if len(frames) != 90 {
		t.Fatalf("frames = %d, want 90", len(frames))
	}
	ctl.mu.Lock()
	last := ctl.waits[len(ctl.waits)-1]
	ctl.mu.Unlock()
	if last != 89*time.Second {
		t.Errorf("last frame waited %s, want 89s", last)
	}
}

// WHAT: Frame offsets longer than the attempt timeout, on a controller that
// really waits.
// WHY: The offset extends the attempt budget instead of timing it out.
func TestCaptureAnimationFrames_OffsetBeyondAttemptTimeout(t *testing.T) {
	ctl := newFake(t)
	ctl.sleepy = true
	e := newTestEngine(ctl, nil, func(c *Config) {
		c.AttemptTimeout = 40 * time.Millisecond
		c.Retry.MaxRetries = 0
	})
	frames := e.CaptureAnimationFrames(context.Background(), "https://example.com", "", 200*time.Millisecond, 20)
	if len(frames) != 4 {
		t.Fatalf("frames = %d, want 4", len(frames))
	}
	if got := ctl.count("navigate"); got != 4 {
		t.Errorf("navigate calls = %d, want one per frame", got)
	}
}
