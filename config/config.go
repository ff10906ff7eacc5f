// Package config handles visreg configuration from a YAML file with .env
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/browser"
	"github.com/hazyhaar/visreg/capture"
	"github.com/hazyhaar/visreg/diff"
)

// Environment variables that override the file.
const (
	EnvRemoteURL  = "VISREG_REMOTE_URL"
	EnvDBPath     = "VISREG_DB_PATH"
	EnvListen     = "VISREG_LISTEN"
	EnvWebhookURL = "VISREG_WEBHOOK_URL"
)

// Config is the top-level visreg configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Capture CaptureConfig `yaml:"capture"`
	Diff    DiffConfig    `yaml:"diff"`
	Archive ArchiveConfig `yaml:"archive"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string          `yaml:"remote"`
	Bin              string          `yaml:"bin"`
	SystemChrome     bool            `yaml:"system_chrome"`
	Engine           artifact.Engine `yaml:"engine"`
	Stealth          string          `yaml:"stealth"` // plain | headless | headful
	ResourceBlocking []string        `yaml:"resource_blocking"`
	MemoryLimit      int64           `yaml:"memory_limit"`
	RecycleInterval  time.Duration   `yaml:"recycle_interval"`
	XvfbDisplay      string          `yaml:"xvfb_display"`
}

// CaptureConfig mirrors capture.Config.
type CaptureConfig struct {
	DefaultViewport   artifact.Viewport `yaml:"default_viewport"`
	MaxWidth          int               `yaml:"max_width"`
	MaxHeight         int               `yaml:"max_height"`
	AttemptTimeout    time.Duration     `yaml:"attempt_timeout"`
	Retry             RetryConfig       `yaml:"retry"`
	Concurrency       int               `yaml:"concurrency"`
	HideScrollbars    bool              `yaml:"hide_scrollbars"`
	DisableAnimations bool              `yaml:"disable_animations"`
	Format            artifact.Format   `yaml:"format"`
}

// RetryConfig is the capture retry policy.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// DiffConfig holds the default comparison options and the worker count.
type DiffConfig struct {
	Threshold          float64     `yaml:"threshold"`
	PixelThreshold     int         `yaml:"pixel_threshold"`
	AntialiasingEdge   int         `yaml:"antialiasing_edge"`
	IgnoreAntialiasing bool        `yaml:"ignore_antialiasing"`
	IgnoreColors       bool        `yaml:"ignore_colors"`
	Severity           SeverityCut `yaml:"severity"`
	Workers            int         `yaml:"workers"`
	DiffImage          bool        `yaml:"diff_image"`
	MaxWidth           int         `yaml:"max_width"` // 0 = diff.DefaultMaxWidth
	MaxHeight          int         `yaml:"max_height"`
	MaxPixels          int         `yaml:"max_pixels"`
}

// SeverityCut are the region mean-delta cutoffs.
type SeverityCut struct {
	Medium float64 `yaml:"medium"`
	High   float64 `yaml:"high"`
}

// ArchiveConfig locates the SQLite archive.
type ArchiveConfig struct {
	DBPath    string        `yaml:"db_path"`
	Retention time.Duration `yaml:"retention"` // 0 = keep forever
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type    string `yaml:"type"` // stdout | webhook
	URL     string `yaml:"url"`  // for webhook
	Retries int    `yaml:"retries"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Listen       string `yaml:"listen"`
	MaxBody      int64  `yaml:"max_body"`
	AllowPrivate bool   `yaml:"allow_private"` // capture private and loopback targets
	Audit        bool   `yaml:"audit"`         // record calls in the archive's audit_log
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cc := capture.DefaultConfig()
	do := diff.DefaultOptions()
	cfg := &Config{
		Browser: BrowserConfig{Engine: artifact.EngineChromium, Stealth: "headless"},
		Capture: CaptureConfig{
			DefaultViewport: cc.DefaultViewport,
			MaxWidth:        cc.MaxWidth,
			MaxHeight:       cc.MaxHeight,
			AttemptTimeout:  cc.AttemptTimeout,
			Retry: RetryConfig{
				MaxRetries:        cc.Retry.MaxRetries,
				RetryDelay:        cc.Retry.RetryDelay,
				BackoffMultiplier: cc.Retry.BackoffMultiplier,
			},
			HideScrollbars:    cc.HideScrollbars,
			DisableAnimations: cc.DisableAnimations,
			Format:            cc.Format,
		},
		Diff: DiffConfig{
			Threshold:          do.Threshold,
			PixelThreshold:     do.PixelThreshold,
			AntialiasingEdge:   do.AntialiasingEdge,
			IgnoreAntialiasing: do.IgnoreAntialiasing,
			IgnoreColors:       do.IgnoreColors,
			Severity:           SeverityCut{Medium: do.SeverityMedium, High: do.SeverityHigh},
			DiffImage:          do.DiffImage,
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML configuration file over the defaults, then applies
// environment overrides. An empty path skips the file. envFiles are loaded
// into the process environment first; missing ones are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := loadEnv(envFiles); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func loadEnv(files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		// godotenv.Load never overwrites variables already set.
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: env %s: %w", f, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRemoteURL); v != "" {
		c.Browser.Remote = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Archive.DBPath = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv(EnvWebhookURL); v != "" {
		replaced := false
		for i := range c.Sinks {
			if c.Sinks[i].Type == "webhook" {
				c.Sinks[i].URL = v
				replaced = true
			}
		}
		if !replaced {
			c.Sinks = append(c.Sinks, SinkConfig{Type: "webhook", URL: v})
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Browser.Engine == "" {
		c.Browser.Engine = artifact.EngineChromium
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Capture.Format == "" {
		c.Capture.Format = artifact.FormatPNG
	}
	if c.Archive.DBPath == "" {
		c.Archive.DBPath = "visreg.db"
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = ":8090"
	}
	if c.HTTP.MaxBody <= 0 {
		c.HTTP.MaxBody = 32 << 20
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	for i := range c.Sinks {
		c.Sinks[i].Type = strings.ToLower(strings.TrimSpace(c.Sinks[i].Type))
		if c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

// Validate checks values the engines would otherwise reject with a panic.
func (c *Config) Validate() error {
	if !c.Browser.Engine.Valid() {
		return fmt.Errorf("config: browser.engine %q: use chromium, chrome, firefox or webkit", c.Browser.Engine)
	}
	switch strings.ToLower(c.Browser.Stealth) {
	case "plain", "none", "off", "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth %q: use plain, headless or headful", c.Browser.Stealth)
	}
	r := c.Capture.Retry
	if r.MaxRetries < 0 || r.RetryDelay < 0 || r.BackoffMultiplier < 1 {
		return fmt.Errorf("config: capture.retry: max_retries >= 0, retry_delay >= 0 and backoff_multiplier >= 1 required")
	}
	if vp := c.Capture.DefaultViewport; vp.Width <= 0 || vp.Height <= 0 {
		return fmt.Errorf("config: capture.default_viewport must be positive, got %dx%d", vp.Width, vp.Height)
	}
	if c.Diff.Threshold < 0 || c.Diff.Threshold > 100 {
		return fmt.Errorf("config: diff.threshold must be within [0, 100], got %v", c.Diff.Threshold)
	}
	if c.Diff.Severity.Medium > c.Diff.Severity.High {
		return fmt.Errorf("config: diff.severity.medium (%v) above high (%v)", c.Diff.Severity.Medium, c.Diff.Severity.High)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: url is required for webhook", i)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unsupported type %q (use stdout or webhook)", i, s.Type)
		}
	}
	return nil
}

// CaptureEngine converts the capture section.
func (c *Config) CaptureEngine() capture.Config {
	cc := c.Capture
	return capture.Config{
		DefaultViewport: cc.DefaultViewport,
		MaxWidth:        cc.MaxWidth,
		MaxHeight:       cc.MaxHeight,
		BrowserEngine:   c.Browser.Engine,
		Retry: capture.RetryPolicy{
			MaxRetries:        cc.Retry.MaxRetries,
			RetryDelay:        cc.Retry.RetryDelay,
			BackoffMultiplier: cc.Retry.BackoffMultiplier,
		},
		AttemptTimeout:    cc.AttemptTimeout,
		HideScrollbars:    cc.HideScrollbars,
		DisableAnimations: cc.DisableAnimations,
		Format:            cc.Format,
		Concurrency:       cc.Concurrency,
	}
}

// DiffEngine converts the diff section.
func (c *Config) DiffEngine() diff.Config {
	d := c.Diff
	return diff.Config{
		Defaults: diff.Options{
			Threshold:          d.Threshold,
			PixelThreshold:     d.PixelThreshold,
			IgnoreAntialiasing: d.IgnoreAntialiasing,
			AntialiasingEdge:   d.AntialiasingEdge,
			IgnoreColors:       d.IgnoreColors,
			SeverityMedium:     d.Severity.Medium,
			SeverityHigh:       d.Severity.High,
			DiffImage:          d.DiffImage,
		},
		Workers:   d.Workers,
		MaxWidth:  d.MaxWidth,
		MaxHeight: d.MaxHeight,
		MaxPixels: d.MaxPixels,
	}
}

// BrowserManager converts the browser section.
func (c *Config) BrowserManager(logger *slog.Logger) browser.Config {
	b := c.Browser
	return browser.Config{
		RemoteURL:        b.Remote,
		Bin:              b.Bin,
		SystemChrome:     b.SystemChrome,
		MemoryLimit:      b.MemoryLimit,
		RecycleInterval:  b.RecycleInterval,
		ResourceBlocking: b.ResourceBlocking,
		Stealth:          browser.ParseStealth(b.Stealth),
		XvfbDisplay:      b.XvfbDisplay,
		ScreenWidth:      c.Capture.MaxWidth,
		ScreenHeight:     c.Capture.MaxHeight,
		NavigateTimeout:  c.Capture.AttemptTimeout,
		Logger:           logger,
	}
}
