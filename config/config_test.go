package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/browser"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	cc := cfg.CaptureEngine()
	if cc.DefaultViewport.Width != 1920 || cc.DefaultViewport.Height != 1080 {
		t.Errorf("viewport = %+v", cc.DefaultViewport)
	}
	if cc.Retry.MaxRetries != 3 || cc.Retry.RetryDelay != time.Second || cc.Retry.BackoffMultiplier != 2 {
		t.Errorf("retry = %+v", cc.Retry)
	}
	d := cfg.DiffEngine().Defaults
	if d.Threshold != 0.2 || d.SeverityMedium != 64 || d.SeverityHigh != 128 {
		t.Errorf("diff defaults = %+v", d)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].Type != "stdout" {
		t.Errorf("sinks = %+v", cfg.Sinks)
	}
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeFile(t, "visreg.yaml", `
browser:
  stealth: headful
  recycle_interval: 2h
capture:
  default_viewport: {width: 1280, height: 720, device_scale_factor: 2}
  retry:
    max_retries: 0
    retry_delay: 250ms
    backoff_multiplier: 1.5
diff:
  threshold: 1.5
  workers: 4
  max_pixels: 1000000
sinks:
  - type: Webhook
    url: http://example.test/hook
http:
  listen: 127.0.0.1:9000
  allow_private: true
  audit: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Capture.Retry.MaxRetries != 0 {
		t.Errorf("explicit zero retries must survive defaults, got %d", cfg.Capture.Retry.MaxRetries)
	}
	if cfg.Capture.Retry.RetryDelay != 250*time.Millisecond {
		t.Errorf("retry delay = %v", cfg.Capture.Retry.RetryDelay)
	}
	if cfg.Capture.MaxWidth != 4096 {
		t.Errorf("unset max_width should keep default, got %d", cfg.Capture.MaxWidth)
	}
	if de := cfg.DiffEngine(); de.MaxPixels != 1000000 || de.MaxWidth != 0 {
		t.Errorf("diff limits = %+v", de)
	}
	if cfg.DiffEngine().Workers != 4 || cfg.Diff.Threshold != 1.5 {
		t.Errorf("diff = %+v", cfg.Diff)
	}
	if cfg.Sinks[0].Type != "webhook" || cfg.Sinks[0].Retries != 3 {
		t.Errorf("sink = %+v", cfg.Sinks[0])
	}
	bc := cfg.BrowserManager(nil)
	if bc.Stealth != browser.LevelHeadful || bc.RecycleInterval != 2*time.Hour {
		t.Errorf("browser = %+v", bc)
	}
	if cfg.HTTP.Listen != "127.0.0.1:9000" {
		t.Errorf("listen = %q", cfg.HTTP.Listen)
	}
	if !cfg.HTTP.AllowPrivate || !cfg.HTTP.Audit {
		t.Errorf("http flags = %+v", cfg.HTTP)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	// WHAT: .env values override the file; process env wins over .env.
	// WHY: deployments inject secrets and endpoints without editing YAML.
	env := writeFile(t, ".env", "VISREG_DB_PATH=/tmp/from-dotenv.db\nVISREG_WEBHOOK_URL=http://hook.test/\n")
	t.Setenv(EnvListen, ":7777")
	t.Setenv(EnvDBPath, "")
	os.Unsetenv(EnvDBPath)
	t.Setenv(EnvWebhookURL, "")
	os.Unsetenv(EnvWebhookURL)

	cfg, err := Load("", env, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Listen != ":7777" {
		t.Errorf("listen = %q", cfg.HTTP.Listen)
	}
	if cfg.Archive.DBPath != "/tmp/from-dotenv.db" {
		t.Errorf("db path = %q", cfg.Archive.DBPath)
	}
	var hook bool
	for _, s := range cfg.Sinks {
		if s.Type == "webhook" && s.URL == "http://hook.test/" {
			hook = true
		}
	}
	if !hook {
		t.Errorf("webhook sink not added: %+v", cfg.Sinks)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"engine":     "browser: {engine: netscape}",
		"stealth":    "browser: {stealth: invisible}",
		"multiplier": "capture: {retry: {backoff_multiplier: 0.5}}",
		"threshold":  "diff: {threshold: 150}",
		"sink":       "sinks: [{type: nats}]",
		"webhook":    "sinks: [{type: webhook}]",
		"yaml":       "capture: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeFile(t, "c.yaml", body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestBuildSinks(t *testing.T) {
	cfg := Default()
	cfg.Sinks = append(cfg.Sinks, SinkConfig{Type: "webhook", URL: "http://127.0.0.1:1/", Retries: 1})
	var buf bytes.Buffer
	r := cfg.BuildSinks(&buf, nil)
	if r.Len() != 2 {
		t.Fatalf("sinks = %d, want 2", r.Len())
	}
	shot := &artifact.Screenshot{ID: "shot-1", Name: "home"}
	r2 := Default().BuildSinks(&buf, nil)
	if err := r2.SendScreenshot(t.Context(), shot); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"shot-1"`) {
		t.Errorf("stdout sink output = %q", buf.String())
	}
}
