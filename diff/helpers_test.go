package diff

import (
	"image"
	"image/color"
	"testing"

	"github.com/hazyhaar/visreg/artifact"
)

// gradient builds a deterministic opaque test raster.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 3), G: uint8(y * 5), B: uint8((x + y) % 97), A: 255})
		}
	}
	return img
}

func clone(img *image.NRGBA) *image.NRGBA {
	out := image.NewNRGBA(img.Rect)
	copy(out.Pix, img.Pix)
	return out
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

func shot(t *testing.T, id string, img image.Image) *artifact.Screenshot {
	t.Helper()
	data, err := artifact.EncodePNG(img)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &artifact.Screenshot{ID: id, Name: id, RasterData: data}
}

func newEngine(t *testing.T, workers int, opts ...Option) *Engine {
	t.Helper()
	e := New(Config{Defaults: DefaultOptions(), Workers: workers}, opts...)
	t.Cleanup(e.Close)
	return e
}

func mustDiff(t *testing.T, res artifact.DiffResult) *artifact.VisualDiff {
	t.Helper()
	if !res.Success {
		t.Fatalf("compare failed: %+v", res.Error)
	}
	return res.Diff
}
