package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/visreg/artifact"
	"github.com/hazyhaar/visreg/capture"
	"github.com/hazyhaar/visreg/diff"
)

var compareFlags struct {
	threshold      float64
	pixelThreshold int
	ignoreAA       bool
	ignoreColors   bool
	ignore         string
	diffOut        string
}

var compareCmd = &cobra.Command{
	Use:   "compare BASELINE COMPARISON [COMPARISON...]",
	Short: "Compare image files against a baseline",
	Long: `Compare one or more PNG, JPEG or WebP files against a baseline image and
print the diff results. Exits with status 2 when a comparison fails.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCompare,
}

func init() {
	f := compareCmd.Flags()
	f.Float64Var(&compareFlags.threshold, "threshold", 0, "max percentage of changed pixels that passes (default from config)")
	f.IntVar(&compareFlags.pixelThreshold, "pixel-threshold", 0, "per-pixel noise floor, 0-255")
	f.BoolVar(&compareFlags.ignoreAA, "ignore-aa", false, "ignore isolated anti-aliased edge pixels")
	f.BoolVar(&compareFlags.ignoreColors, "ignore-colors", false, "compare luminance only")
	f.StringVar(&compareFlags.ignore, "ignore", "", "regions to skip: x,y,w,h;x,y,w,h")
	f.StringVar(&compareFlags.diffOut, "diff-out", "", "write the diff visualization PNG (single comparison only)")
}

func runCompare(cmd *cobra.Command, args []string) error {
	fl := compareFlags
	if fl.diffOut != "" && len(args) != 2 {
		return fmt.Errorf("--diff-out requires exactly one comparison")
	}

	a, err := openApp(needs{})
	if err != nil {
		return err
	}
	defer a.Close()

	opts := a.diff.Defaults()
	flags := cmd.Flags()
	if flags.Changed("threshold") {
		opts.Threshold = fl.threshold
	}
	if flags.Changed("pixel-threshold") {
		opts.PixelThreshold = fl.pixelThreshold
	}
	if flags.Changed("ignore-aa") {
		opts.IgnoreAntialiasing = fl.ignoreAA
	}
	if flags.Changed("ignore-colors") {
		opts.IgnoreColors = fl.ignoreColors
	}
	if fl.ignore != "" {
		rects, err := parseRects(fl.ignore)
		if err != nil {
			return err
		}
		opts.IgnoreRegions = rects
	}
	opts.DiffImage = fl.diffOut != ""

	shots := make([]*artifact.Screenshot, len(args))
	for i, path := range args {
		s, err := loadImage(path)
		if err != nil {
			return err
		}
		shots[i] = s
	}

	results := a.diff.BatchCompare(cmd.Context(), shots[0], shots[1:], &opts)
	if fl.diffOut != "" && results[0].Success {
		if err := writeRaster(fl.diffOut, results[0].Diff.DiffImage); err != nil {
			return err
		}
		results[0].Diff.DiffImage = ""
	}

	var out any = results
	if len(results) == 1 {
		out = results[0]
	}
	if err := printJSON(out); err != nil {
		return err
	}
	for _, r := range results {
		if !r.Success || r.Diff.Status == artifact.StatusFailed {
			return errRegression
		}
	}
	return nil
}

// loadImage wraps an image file as a Screenshot named after the file.
func loadImage(path string) (*artifact.Screenshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, format, err := artifact.DecodeImage(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	dims := artifact.Dimensions{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)
	return &artifact.Screenshot{
		ID:         name,
		Name:       strings.TrimSuffix(name, filepath.Ext(name)),
		URL:        "file://" + path,
		Viewport:   artifact.Viewport{Width: dims.Width, Height: dims.Height, DeviceScaleFactor: 1},
		Timestamp:  fi.ModTime().UTC(),
		RasterData: artifact.EncodeDataURL(format, raw),
		Metadata: artifact.Metadata{
			PixelRatio:  1,
			FileSize:    len(raw),
			Dimensions:  dims,
			ContentHash: capture.ContentHash(raw),
		},
	}, nil
}

// parseRects reads "x,y,w,h" items separated by semicolons.
func parseRects(s string) ([]diff.Rect, error) {
	var out []diff.Rect
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ",")
		if len(parts) != 4 {
			return nil, fmt.Errorf("region %q: want x,y,w,h", item)
		}
		var v [4]int
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("region %q: %w", item, err)
			}
			v[i] = n
		}
		out = append(out, diff.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]})
	}
	return out, nil
}
