// Package capture drives a browser Controller to produce Screenshot
// artifacts. Requests are validated before any I/O; runtime failures are
// classified and the whole navigate-to-screenshot sequence is retried with
// exponential backoff.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/idgen"
)

// RetryPolicy bounds how a failed capture sequence is restarted.
type RetryPolicy struct {
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay" json:"retry_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
}

// Backoff returns the wait before the retry following attempt (0-based):
// RetryDelay * BackoffMultiplier^attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return time.Duration(float64(p.RetryDelay) * math.Pow(p.BackoffMultiplier, float64(attempt)))
}

func (p RetryPolicy) check() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("max retries must be >= 0, got %d", p.MaxRetries)
	case p.RetryDelay < 0:
		return fmt.Errorf("retry delay must be >= 0, got %s", p.RetryDelay)
	case p.BackoffMultiplier < 1 || math.IsNaN(p.BackoffMultiplier) || math.IsInf(p.BackoffMultiplier, 0):
		return fmt.Errorf("backoff multiplier must be >= 1, got %v", p.BackoffMultiplier)
	}
	return nil
}

// Config is the engine-level configuration read on every call.
type Config struct {
	DefaultViewport   artifact.Viewport
	MaxWidth          int
	MaxHeight         int
	BrowserEngine     artifact.Engine
	Retry             RetryPolicy
	AttemptTimeout    time.Duration
	HideScrollbars    bool
	DisableAnimations bool
	Format            artifact.Format
	// Concurrency bounds the responsive fan-out. Zero means GOMAXPROCS.
	Concurrency int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DefaultViewport:   artifact.Viewport{Width: 1920, Height: 1080, DeviceScaleFactor: 1},
		MaxWidth:          4096,
		MaxHeight:         4096,
		BrowserEngine:     artifact.EngineChromium,
		Retry:             RetryPolicy{MaxRetries: 3, RetryDelay: time.Second, BackoffMultiplier: 2},
		AttemptTimeout:    30 * time.Second,
		HideScrollbars:    true,
		DisableAnimations: true,
		Format:            artifact.FormatPNG,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.DefaultViewport.Width == 0 && c.DefaultViewport.Height == 0 {
		c.DefaultViewport = d.DefaultViewport
	}
	if c.DefaultViewport.DeviceScaleFactor == 0 {
		c.DefaultViewport.DeviceScaleFactor = 1
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = d.MaxWidth
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = d.MaxHeight
	}
	if c.BrowserEngine == "" {
		c.BrowserEngine = d.BrowserEngine
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = d.Retry.BackoffMultiplier
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.GOMAXPROCS(0)
	}
}

// Engine produces screenshots through a Controller. It is safe for
// concurrent use; configuration setters take effect on the next call and
// never alter an in-flight retry loop.
type Engine struct {
	ctl      Controller
	validate *validator.Validate
	ids      idgen.Generator
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	logger   *slog.Logger

	mu  sync.RWMutex
	cfg Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator overrides screenshot id generation.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(e *Engine) { e.ids = gen }
}

// WithSleep replaces the inter-attempt wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

// WithClock replaces the timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) { e.now = fn }
}

// New creates an engine over ctl. ctl may be nil: the engine then reports
// IsAvailable() == false and every capture fails with BROWSER_ERROR.
// New panics if cfg carries an invalid retry policy.
func New(ctl Controller, cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	if err := cfg.Retry.check(); err != nil {
		panic("capture: " + err.Error())
	}
	e := &Engine{
		ctl:      ctl,
		validate: validator.New(),
		ids:      idgen.Screenshot,
		sleep:    sleepCtx,
		now:      time.Now,
		logger:   slog.Default(),
		cfg:      cfg,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// IsAvailable reports whether a Controller is registered.
func (e *Engine) IsAvailable() bool {
	return e.ctl != nil
}

// Controller returns the registered controller, or nil.
func (e *Engine) Controller() Controller {
	return e.ctl
}

// Config returns a snapshot of the current configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetBrowserEngine sets the default engine. It panics on unknown names.
func (e *Engine) SetBrowserEngine(engine artifact.Engine) {
	if !engine.Valid() {
		panic(fmt.Sprintf("capture: unknown browser engine %q", engine))
	}
	e.mu.Lock()
	e.cfg.BrowserEngine = engine
	e.mu.Unlock()
}

// SetDefaultViewport sets the viewport used when a request carries none.
// It panics on dimensions that would fail request validation.
func (e *Engine) SetDefaultViewport(vp artifact.Viewport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if aerr := checkViewport(vp, e.cfg.MaxWidth, e.cfg.MaxHeight); aerr != nil {
		panic("capture: " + aerr.Message)
	}
	if vp.DeviceScaleFactor == 0 {
		vp.DeviceScaleFactor = 1
	}
	e.cfg.DefaultViewport = vp
}

// ConfigureRetry replaces the engine retry policy. It panics on negative
// counts or delays and on multipliers below 1.
func (e *Engine) ConfigureRetry(p RetryPolicy) {
	if err := p.check(); err != nil {
		panic("capture: " + err.Error())
	}
	e.mu.Lock()
	e.cfg.Retry = p
	e.mu.Unlock()
}

// Capture validates req and runs the capture sequence under the engine
// retry policy.
func (e *Engine) Capture(ctx context.Context, req artifact.CaptureRequest) artifact.CaptureResult {
	cfg := e.Config()
	return e.capture(ctx, cfg, cfg.Retry, req, 0)
}

// CaptureWithPolicy is Capture with a retry policy override for this call
// only. It panics on an invalid policy.
func (e *Engine) CaptureWithPolicy(ctx context.Context, req artifact.CaptureRequest, p RetryPolicy) artifact.CaptureResult {
	if err := p.check(); err != nil {
		panic("capture: " + err.Error())
	}
	return e.capture(ctx, e.Config(), p, req, 0)
}

// capture runs the retry loop. offset is an extra settle wait added to the
// request delay by the animation orchestrator; it is not subject to option
// validation and extends the attempt timeout by its own length.
func (e *Engine) capture(ctx context.Context, cfg Config, policy RetryPolicy, req artifact.CaptureRequest, offset time.Duration) artifact.CaptureResult {
	if aerr := validateRequest(e.validate, cfg, req); aerr != nil {
		e.logger.Debug("capture: rejected request", "url", req.URL, "code", aerr.Code, "error", aerr.Message)
		return artifact.CaptureFailed(aerr)
	}
	if e.ctl == nil {
		return artifact.CaptureFailed(Classify(ErrUnavailable))
	}
	engine := req.BrowserEngine
	if engine == "" {
		engine = cfg.BrowserEngine
	}
	if p, ok := e.ctl.(EngineProber); ok && !p.Supports(engine) {
		return artifact.CaptureFailed(artifact.NewError(artifact.CodeBrowser,
			"browser engine %q is not supported by the controller", engine))
	}

	var last *artifact.Error
	attempt := 0
	for ; ; attempt++ {
		shot, err := e.attempt(ctx, cfg, engine, req, offset)
		if err == nil {
			if attempt > 0 {
				e.logger.Info("capture: succeeded after retry", "url", req.URL, "attempts", attempt+1)
			}
			return artifact.CaptureOK(shot)
		}
		last = Classify(err)
		if !last.Code.Retryable() || attempt >= policy.MaxRetries || ctx.Err() != nil {
			break
		}
		wait := policy.Backoff(attempt)
		e.logger.Warn("capture: retrying",
			"url", req.URL,
			"attempt", attempt+1,
			"max_retries", policy.MaxRetries,
			"backoff_ms", wait.Milliseconds(),
			"code", last.Code,
			"error", last.Message)
		if err := e.sleep(ctx, wait); err != nil {
			break
		}
	}
	e.logger.Warn("capture: failed", "url", req.URL, "attempts", attempt+1, "code", last.Code, "error", last.Message)
	return artifact.CaptureFailed(last.WithDetail("attempts", attempt+1))
}

// attempt runs one full sequence under the per-attempt timeout, in its own
// session when the controller supports sessions.
func (e *Engine) attempt(ctx context.Context, cfg Config, engine artifact.Engine, req artifact.CaptureRequest, offset time.Duration) (*artifact.Screenshot, error) {
	actx := ctx
	budget := cfg.AttemptTimeout
	if budget > 0 {
		budget += offset
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	ctl := e.ctl
	if s, ok := e.ctl.(Sessioner); ok {
		sess, err := s.NewSession(actx)
		if err != nil {
			return nil, stepErr("session", err)
		}
		defer sess.Close()
		ctl = sess
	}

	shot, err := e.run(actx, ctl, cfg, engine, req, offset)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return nil, artifact.NewError(artifact.CodeTimeout, "capture attempt exceeded %s", budget).
			WithDetail("url", req.URL)
	}
	return shot, err
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
