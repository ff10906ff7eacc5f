package diff

import (
	"image"
)

// Pixel kinds recorded in the change mask.
const (
	kindNone uint8 = iota
	kindModified
	kindAdded
	kindDeleted
)

// blockSize is the SSIM window edge. Chunk heights are multiples of it so
// that no window straddles two chunks.
const blockSize = 8

const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// frame is the immutable input shared by every chunk of one comparison.
type frame struct {
	base, cmp *image.NRGBA
	w, h      int
	opts      Options
	ignore    []image.Rectangle
}

// chunk is a half-open row band [y0, y1) of the overlap.
type chunk struct {
	y0, y1 int
}

// chunkResult is the private accumulator of one chunk. kind and delta hold
// one byte per pixel of the band, row-major.
type chunkResult struct {
	changed    int
	sumDelta   int64
	maxDelta   int
	ssimSum    float64
	ssimBlocks int
	kind       []uint8
	delta      []uint8
}

// planChunks splits h rows into bands of ceil(h/workers) rounded up to a
// multiple of blockSize.
func planChunks(h, workers int) []chunk {
	if h <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	size := (h + workers - 1) / workers
	size = (size + blockSize - 1) / blockSize * blockSize
	chunks := make([]chunk, 0, (h+size-1)/size)
	for y := 0; y < h; y += size {
		chunks = append(chunks, chunk{y0: y, y1: min(y+size, h)})
	}
	return chunks
}

func luma(r, g, b uint8) int {
	return (299*int(r) + 587*int(g) + 114*int(b)) / 1000
}

// lumaAt is alpha-weighted luminance at (x, y).
func lumaAt(img *image.NRGBA, x, y int) int {
	i := img.PixOffset(x, y)
	p := img.Pix[i : i+4 : i+4]
	return luma(p[0], p[1], p[2]) * int(p[3]) / 255
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func (f *frame) ignored(x, y int) bool {
	for _, r := range f.ignore {
		if x >= r.Min.X && x < r.Max.X && y >= r.Min.Y && y < r.Max.Y {
			return true
		}
	}
	return false
}

// pixelDelta is the max absolute RGBA channel delta, or the luminance delta
// when colors are ignored.
func (f *frame) pixelDelta(x, y int) int {
	if f.opts.IgnoreColors {
		return absInt(lumaAt(f.base, x, y) - lumaAt(f.cmp, x, y))
	}
	i := f.base.PixOffset(x, y)
	j := f.cmp.PixOffset(x, y)
	a := f.base.Pix[i : i+4 : i+4]
	b := f.cmp.Pix[j : j+4 : j+4]
	d := 0
	for c := 0; c < 4; c++ {
		d = max(d, absInt(int(a[c])-int(b[c])))
	}
	return d
}

// rawChanged reports a delta above the noise floor outside ignore regions.
func (f *frame) rawChanged(x, y int) (int, bool) {
	if f.ignored(x, y) {
		return 0, false
	}
	d := f.pixelDelta(x, y)
	return d, d > f.opts.PixelThreshold
}

// antialiased reports whether the changed pixel at (x, y) has no changed
// neighbour and its neighbours straddle a high-contrast edge in either
// image. Neighbours
// are read from the shared input, so the answer does not depend on chunk
// boundaries.
func (f *frame) antialiased(x, y int) bool {
	x0, x1 := max(x-1, 0), min(x+1, f.w-1)
	y0, y1 := max(y-1, 0), min(y+1, f.h-1)
	for ny := y0; ny <= y1; ny++ {
		for nx := x0; nx <= x1; nx++ {
			if nx == x && ny == y {
				continue
			}
			if _, ok := f.rawChanged(nx, ny); ok {
				return false
			}
		}
	}
	return contrast(f.base, x, y, x0, y0, x1, y1) >= f.opts.AntialiasingEdge ||
		contrast(f.cmp, x, y, x0, y0, x1, y1) >= f.opts.AntialiasingEdge
}

// contrast is the luminance range of the neighbours of (cx, cy).
func contrast(img *image.NRGBA, cx, cy, x0, y0, x1, y1 int) int {
	lo, hi := 255, 0
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if x == cx && y == cy {
				continue
			}
			l := lumaAt(img, x, y)
			lo = min(lo, l)
			hi = max(hi, l)
		}
	}
	return hi - lo
}

func (f *frame) kindAt(x, y int) uint8 {
	ba := f.base.Pix[f.base.PixOffset(x, y)+3]
	ca := f.cmp.Pix[f.cmp.PixOffset(x, y)+3]
	switch {
	case ba == 0 && ca != 0:
		return kindAdded
	case ba != 0 && ca == 0:
		return kindDeleted
	}
	return kindModified
}

// diffChunk computes the accumulator of one band. It reads only the shared
// immutable frame and writes only its own result.
func diffChunk(f *frame, c chunk) chunkResult {
	n := (c.y1 - c.y0) * f.w
	res := chunkResult{
		kind:  make([]uint8, n),
		delta: make([]uint8, n),
	}
	for y := c.y0; y < c.y1; y++ {
		row := (y - c.y0) * f.w
		for x := 0; x < f.w; x++ {
			d, ok := f.rawChanged(x, y)
			if !ok {
				continue
			}
			if f.opts.IgnoreAntialiasing && f.antialiased(x, y) {
				continue
			}
			res.kind[row+x] = f.kindAt(x, y)
			res.delta[row+x] = uint8(d)
			res.changed++
			res.sumDelta += int64(d)
			res.maxDelta = max(res.maxDelta, d)
		}
	}
	for by := c.y0; by+blockSize <= c.y1; by += blockSize {
		for bx := 0; bx+blockSize <= f.w; bx += blockSize {
			res.ssimSum += f.blockSSIM(bx, by)
			res.ssimBlocks++
		}
	}
	return res
}

// blockSSIM is the structural similarity of one blockSize window over
// luminance. Ignored pixels contribute the baseline value to both sides.
func (f *frame) blockSSIM(bx, by int) float64 {
	const n = blockSize * blockSize
	var sa, sb, saa, sbb, sab float64
	for y := by; y < by+blockSize; y++ {
		for x := bx; x < bx+blockSize; x++ {
			a := float64(lumaAt(f.base, x, y))
			b := a
			if !f.ignored(x, y) {
				b = float64(lumaAt(f.cmp, x, y))
			}
			sa += a
			sb += b
			saa += a * a
			sbb += b * b
			sab += a * b
		}
	}
	ma, mb := sa/n, sb/n
	va := saa/n - ma*ma
	vb := sbb/n - mb*mb
	cov := sab/n - ma*mb
	return ((2*ma*mb + ssimC1) * (2*cov + ssimC2)) /
		((ma*ma + mb*mb + ssimC1) * (va + vb + ssimC2))
}
