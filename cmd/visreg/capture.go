package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/visreg/artifact"
)

var captureFlags struct {
	url, name, selector, format, out string
	width, height, delayMs, quality  int
	dsf                              float64
	fullPage, fonts, images, store   bool
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture a page or element",
	Long: `Capture one screenshot. With --out the raster is written to a file and
omitted from the printed result. With --store the screenshot is archived and
sent to the configured sinks.`,
	RunE: runCapture,
}

var responsiveFlags struct {
	url, name, viewports, outDir string
	fullPage, store              bool
}

var responsiveCmd = &cobra.Command{
	Use:   "responsive",
	Short: "Capture a page at several viewports",
	RunE:  runResponsive,
}

var animateFlags struct {
	url, selector, outDir string
	duration              time.Duration
	fps                   float64
}

var animateCmd = &cobra.Command{
	Use:   "animate",
	Short: "Sample animation frames at a fixed rate",
	RunE:  runAnimate,
}

func init() {
	f := captureCmd.Flags()
	f.StringVar(&captureFlags.url, "url", "", "page URL (required)")
	f.StringVar(&captureFlags.name, "name", "", "screenshot name (default WIDTHxHEIGHT)")
	f.StringVar(&captureFlags.selector, "selector", "", "capture only the element matching this CSS selector")
	f.IntVar(&captureFlags.width, "width", 0, "viewport width (default from config)")
	f.IntVar(&captureFlags.height, "height", 0, "viewport height (default from config)")
	f.Float64Var(&captureFlags.dsf, "scale", 1, "device scale factor")
	f.BoolVar(&captureFlags.fullPage, "full-page", false, "capture the full scrollable page")
	f.BoolVar(&captureFlags.fonts, "wait-fonts", true, "wait for web fonts")
	f.BoolVar(&captureFlags.images, "wait-images", true, "wait for images")
	f.IntVar(&captureFlags.delayMs, "delay", 0, "extra delay before capture, in milliseconds")
	f.StringVar(&captureFlags.format, "format", "", "png, jpeg or webp (default from config)")
	f.IntVar(&captureFlags.quality, "quality", 0, "jpeg/webp quality 0-100")
	f.StringVar(&captureFlags.out, "out", "", "write the raster to this file")
	f.BoolVar(&captureFlags.store, "store", false, "archive the screenshot")
	_ = captureCmd.MarkFlagRequired("url")

	f = responsiveCmd.Flags()
	f.StringVar(&responsiveFlags.url, "url", "", "page URL (required)")
	f.StringVar(&responsiveFlags.name, "name", "", "archive name (with --store)")
	f.StringVar(&responsiveFlags.viewports, "viewports", "375x667,768x1024,1920x1080", "comma separated WIDTHxHEIGHT[@scale]")
	f.BoolVar(&responsiveFlags.fullPage, "full-page", false, "capture the full scrollable page")
	f.StringVar(&responsiveFlags.outDir, "out-dir", "", "write one raster per viewport into this directory")
	f.BoolVar(&responsiveFlags.store, "store", false, "archive the screenshots")
	_ = responsiveCmd.MarkFlagRequired("url")

	f = animateCmd.Flags()
	f.StringVar(&animateFlags.url, "url", "", "page URL (required)")
	f.StringVar(&animateFlags.selector, "selector", "", "animated element")
	f.DurationVar(&animateFlags.duration, "duration", time.Second, "sampling window")
	f.Float64Var(&animateFlags.fps, "fps", 10, "frames per second")
	f.StringVar(&animateFlags.outDir, "out-dir", "", "write frames into this directory")
	_ = animateCmd.MarkFlagRequired("url")
}

func runCapture(cmd *cobra.Command, _ []string) error {
	fl := captureFlags
	a, err := openApp(needs{browser: true, store: fl.store})
	if err != nil {
		return err
	}
	defer a.Close()

	req := artifact.CaptureRequest{
		URL:      fl.url,
		Name:     fl.name,
		Selector: fl.selector,
		Options: &artifact.CaptureOptions{
			FullPage:      fl.fullPage,
			WaitForFonts:  fl.fonts,
			WaitForImages: fl.images,
			DelayMs:       fl.delayMs,
			Format:        artifact.Format(fl.format),
			Quality:       fl.quality,
		},
	}
	if fl.width > 0 || fl.height > 0 {
		req.Viewport = &artifact.Viewport{Width: fl.width, Height: fl.height, DeviceScaleFactor: fl.dsf}
	}

	var res artifact.CaptureResult
	if fl.store {
		res, err = a.suite.Capture(cmd.Context(), req)
		if err != nil {
			return err
		}
	} else {
		res = a.capture.Capture(cmd.Context(), req)
	}
	if res.Success && fl.out != "" {
		if err := writeRaster(fl.out, res.Screenshot.RasterData); err != nil {
			return err
		}
		res.Screenshot.RasterData = ""
	}
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("capture: %s: %s", res.Error.Code, res.Error.Message)
	}
	return nil
}

func runResponsive(cmd *cobra.Command, _ []string) error {
	fl := responsiveFlags
	vps, err := parseViewports(fl.viewports)
	if err != nil {
		return err
	}
	a, err := openApp(needs{browser: true, store: fl.store})
	if err != nil {
		return err
	}
	defer a.Close()

	base := artifact.CaptureRequest{
		URL:     fl.url,
		Name:    fl.name,
		Options: &artifact.CaptureOptions{FullPage: fl.fullPage, WaitForFonts: true, WaitForImages: true},
	}
	var results []artifact.CaptureResult
	if fl.store {
		results, err = a.suite.Responsive(cmd.Context(), base, vps)
		if err != nil {
			return err
		}
	} else {
		results = a.capture.CaptureResponsiveRequest(cmd.Context(), base, vps)
	}

	if fl.outDir != "" {
		for i, r := range results {
			if !r.Success {
				continue
			}
			path := filepath.Join(fl.outDir, vps[i].Key()+"."+formatExt(r.Screenshot.RasterData))
			if err := writeRaster(path, r.Screenshot.RasterData); err != nil {
				return err
			}
			r.Screenshot.RasterData = ""
		}
	}
	return printJSON(results)
}

func runAnimate(cmd *cobra.Command, _ []string) error {
	fl := animateFlags
	a, err := openApp(needs{browser: true})
	if err != nil {
		return err
	}
	defer a.Close()

	frames := a.capture.CaptureAnimationFrames(cmd.Context(), fl.url, fl.selector, fl.duration, fl.fps)
	if fl.outDir != "" {
		for i, f := range frames {
			path := filepath.Join(fl.outDir, fmt.Sprintf("frame-%03d.%s", i, formatExt(f.RasterData)))
			if err := writeRaster(path, f.RasterData); err != nil {
				return err
			}
			f.RasterData = ""
		}
	}
	logger.Info("visreg: animation sampled", "requested", fl.duration.String(), "fps", fl.fps, "frames", len(frames))
	return printJSON(frames)
}

// formatExt returns the file extension for a data URL's MIME type.
func formatExt(dataURL string) string {
	switch {
	case strings.HasPrefix(dataURL, "data:"+artifact.FormatJPEG.MIMEType()):
		return "jpg"
	case strings.HasPrefix(dataURL, "data:"+artifact.FormatWebP.MIMEType()):
		return "webp"
	}
	return "png"
}
