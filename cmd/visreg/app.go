package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hazyhaar/visreg/archive"
	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/audit"
	"github.com/hazyhaar/visreg/browser"
	"github.com/hazyhaar/visreg/capture"
	"github.com/hazyhaar/visreg/diff"
	"github.com/hazyhaar/visreg/guard"
	"github.com/hazyhaar/visreg/sink"
	"github.com/hazyhaar/visreg/suite"
)

// app holds the components a command needs. Fields stay nil when the
// command does not ask for them.
type app struct {
	mgr     *browser.Manager
	capture *capture.Engine
	diff    *diff.Engine
	store   *archive.Store
	sinks   *sink.Router
	audit   *audit.SQLiteLogger
	suite   *suite.Suite
}

type needs struct {
	browser bool
	store   bool
	// remote marks the HTTP and MCP servers: requests are screened by
	// the guard and audited when configured.
	remote  bool
	// sinkOut receives stdout-type sink output. Default os.Stderr, keeping
	// stdout for the command's own result (or the MCP stdio stream).
	sinkOut io.Writer
}

func openApp(n needs) (*app, error) {
	a := &app{diff: diff.New(cfg.DiffEngine(), diff.WithLogger(logger))}

	var ctl capture.Controller
	if n.browser {
		a.mgr = browser.NewManager(cfg.BrowserManager(logger))
		ctl = browser.NewController(a.mgr)
	}
	a.capture = capture.New(ctl, cfg.CaptureEngine(), capture.WithLogger(logger))

	if n.store {
		st, err := archive.Open(cfg.Archive.DBPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = st
		out := n.sinkOut
		if out == nil {
			out = os.Stderr
		}
		a.sinks = cfg.BuildSinks(out, logger)
		sc := suite.Config{
			Capture: a.capture,
			Diff:    a.diff,
			Store:   a.store,
			Sink:    a.sinks,
			Logger:  logger,
		}
		if n.remote {
			sc.Guard = guard.New(guard.WithAllowPrivate(cfg.HTTP.AllowPrivate))
			if cfg.HTTP.Audit {
				a.audit = audit.NewSQLiteLogger(st.DB, audit.WithLogger(logger))
				if err := a.audit.Init(); err != nil {
					a.Close()
					return nil, err
				}
				sc.Audit = a.audit
			}
		}
		s, err := suite.New(sc)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.suite = s
	}
	return a, nil
}

func (a *app) Close() {
	if a.sinks != nil {
		a.sinks.Close()
	}
	if a.audit != nil {
		a.audit.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.mgr != nil {
		a.mgr.Close()
	}
	a.diff.Close()
}

// parseViewports reads "WxH[@dsf]" items separated by commas.
func parseViewports(s string) ([]artifact.Viewport, error) {
	var out []artifact.Viewport
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		dsf := 1.0
		if at := strings.IndexByte(item, '@'); at >= 0 {
			f, err := strconv.ParseFloat(item[at+1:], 64)
			if err != nil {
				return nil, fmt.Errorf("viewport %q: scale: %w", item, err)
			}
			dsf, item = f, item[:at]
		}
		w, h, ok := strings.Cut(strings.ToLower(item), "x")
		if !ok {
			return nil, fmt.Errorf("viewport %q: want WIDTHxHEIGHT", item)
		}
		wi, err := strconv.Atoi(w)
		if err != nil {
			return nil, fmt.Errorf("viewport %q: width: %w", item, err)
		}
		hi, err := strconv.Atoi(h)
		if err != nil {
			return nil, fmt.Errorf("viewport %q: height: %w", item, err)
		}
		out = append(out, artifact.Viewport{Width: wi, Height: hi, DeviceScaleFactor: dsf})
	}
	if len(out) == 0 {
		return nil, errors.New("no viewports given")
	}
	return out, nil
}

// writeRaster writes the decoded raster of a data URL to path.
func writeRaster(path, dataURL string) error {
	_, raw, err := artifact.DecodeDataURL(dataURL)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.WriteFile(path, raw, 0o644)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
