package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-rod/rod/lib/launcher"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/capture"
)

// Controller drives Chromium-family browsers through a Manager. Each
// capture session gets its own Tab; direct primitive calls share one lazily
// opened default tab.
type Controller struct {
	mgr *Manager

	mu  sync.Mutex
	tab *Tab
}

var (
	_ capture.Controller   = (*Controller)(nil)
	_ capture.Sessioner    = (*Controller)(nil)
	_ capture.EngineProber = (*Controller)(nil)
	_ capture.Controller   = (*Tab)(nil)
)

// NewController wraps mgr. The default tab is dropped whenever the manager
// recycles Chrome.
func NewController(mgr *Manager) *Controller {
	c := &Controller{mgr: mgr}
	mgr.OnRecycle(func() {
		c.mu.Lock()
		c.tab = nil
		c.mu.Unlock()
	})
	return c
}

// Manager returns the underlying browser manager.
func (c *Controller) Manager() *Manager { return c.mgr }

// NewSession opens a fresh tab.
func (c *Controller) NewSession(ctx context.Context) (capture.Controller, error) {
	return OpenTab(ctx, c.mgr)
}

// Supports reports whether engine is driven over the DevTools protocol.
func (c *Controller) Supports(engine artifact.Engine) bool {
	return engine == artifact.EngineChromium || engine == artifact.EngineChrome
}

func (c *Controller) defaultTab(ctx context.Context) (*Tab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tab != nil {
		return c.tab, nil
	}
	t, err := OpenTab(ctx, c.mgr)
	if err != nil {
		return nil, err
	}
	c.tab = t
	return t, nil
}

func (c *Controller) Navigate(ctx context.Context, url string) error {
	t, err := c.defaultTab(ctx)
	if err != nil {
		return err
	}
	return t.Navigate(ctx, url)
}

func (c *Controller) Resize(ctx context.Context, vp artifact.Viewport) error {
	t, err := c.defaultTab(ctx)
	if err != nil {
		return err
	}
	return t.Resize(ctx, vp)
}

func (c *Controller) Screenshot(ctx context.Context, req capture.ShotRequest) ([]byte, error) {
	t, err := c.defaultTab(ctx)
	if err != nil {
		return nil, err
	}
	return t.Screenshot(ctx, req)
}

func (c *Controller) Evaluate(ctx context.Context, script string) (json.RawMessage, error) {
	t, err := c.defaultTab(ctx)
	if err != nil {
		return nil, err
	}
	return t.Evaluate(ctx, script)
}

func (c *Controller) WaitFor(ctx context.Context, cond capture.WaitCondition) error {
	t, err := c.defaultTab(ctx)
	if err != nil {
		return err
	}
	return t.WaitFor(ctx, cond)
}

func (c *Controller) Click(ctx context.Context, selector string) error {
	t, err := c.defaultTab(ctx)
	if err != nil {
		return err
	}
	return t.Click(ctx, selector)
}

func (c *Controller) Hover(ctx context.Context, selector string) error {
	t, err := c.defaultTab(ctx)
	if err != nil {
		return err
	}
	return t.Hover(ctx, selector)
}

// Install provisions the managed Chromium.
func (c *Controller) Install(ctx context.Context) error {
	return Install(ctx)
}

// Close closes the default tab. The manager, and so Chrome, stays up.
func (c *Controller) Close() error {
	c.mu.Lock()
	t := c.tab
	c.tab = nil
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Close()
}

// Install downloads rod's pinned Chromium build if it is not cached.
func Install(ctx context.Context) error {
	type result struct {
		path string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		path, err := launcher.NewBrowser().Get()
		done <- result{path, err}
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("browser: install: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("browser: install: %w", r.err)
		}
		return nil
	}
}

// InstalledPath returns the managed Chromium path without downloading.
func InstalledPath() (string, bool) {
	b := launcher.NewBrowser()
	if err := b.Validate(); err != nil {
		return "", false
	}
	return b.BinPath(), true
}
