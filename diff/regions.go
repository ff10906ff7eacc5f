package diff

import (
	"github.com/hazyhaar/visreg/artifact"
)

// mergeChunks folds chunk accumulators, in chunk order, into full-frame
// masks and global sums.
type merged struct {
	changed    int
	sumDelta   int64
	maxDelta   int
	ssimSum    float64
	ssimBlocks int
	kind       []uint8
	delta      []uint8
}

func mergeChunks(w, h int, chunks []chunk, results []chunkResult) merged {
	m := merged{
		kind:  make([]uint8, w*h),
		delta: make([]uint8, w*h),
	}
	for i, r := range results {
		off := chunks[i].y0 * w
		copy(m.kind[off:], r.kind)
		copy(m.delta[off:], r.delta)
		m.changed += r.changed
		m.sumDelta += r.sumDelta
		m.maxDelta = max(m.maxDelta, r.maxDelta)
		m.ssimSum += r.ssimSum
		m.ssimBlocks += r.ssimBlocks
	}
	return m
}

// findRegions labels 8-connected components of the change mask in raster
// order and returns one bounding region per component.
func findRegions(m merged, w, h int, opts Options) []artifact.DiffRegion {
	seen := make([]bool, w*h)
	var regions []artifact.DiffRegion
	var stack []int
	for start := range m.kind {
		if m.kind[start] == kindNone || seen[start] {
			continue
		}
		minX, minY := w, h
		maxX, maxY := -1, -1
		var pixels, added, deleted int
		var sum int64

		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
			pixels++
			sum += int64(m.delta[i])
			switch m.kind[i] {
			case kindAdded:
				added++
			case kindDeleted:
				deleted++
			}
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w || (dx == 0 && dy == 0) {
						continue
					}
					j := ny*w + nx
					if m.kind[j] != kindNone && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}

		mean := float64(sum) / float64(pixels)
		regions = append(regions, artifact.DiffRegion{
			X:         minX,
			Y:         minY,
			Width:     maxX - minX + 1,
			Height:    maxY - minY + 1,
			Pixels:    pixels,
			MeanDelta: mean,
			Severity:  severityOf(mean, opts),
			Type:      changeType(pixels, added, deleted),
		})
	}
	return regions
}

// severityOf is monotonic in the region mean delta.
func severityOf(mean float64, opts Options) artifact.Severity {
	switch {
	case mean >= opts.SeverityHigh:
		return artifact.SeverityHigh
	case mean >= opts.SeverityMedium:
		return artifact.SeverityMedium
	}
	return artifact.SeverityLow
}

func changeType(pixels, added, deleted int) artifact.ChangeType {
	switch {
	case added*2 > pixels:
		return artifact.ChangeAddition
	case deleted*2 > pixels:
		return artifact.ChangeDeletion
	}
	return artifact.ChangeModification
}

// mismatchRegions reports the areas covered by only one image. The strip
// to the right of the overlap takes the corner.
func mismatchRegions(bw, bh, cw, ch int) []artifact.DiffRegion {
	w, h := min(bw, cw), min(bh, ch)
	var out []artifact.DiffRegion
	strip := func(x, y, sw, sh int, t artifact.ChangeType) {
		if sw <= 0 || sh <= 0 {
			return
		}
		out = append(out, artifact.DiffRegion{
			X: x, Y: y, Width: sw, Height: sh,
			Pixels:    sw * sh,
			MeanDelta: 255,
			Severity:  artifact.SeverityHigh,
			Type:      t,
		})
	}
	switch {
	case cw > bw:
		strip(w, 0, cw-w, ch, artifact.ChangeAddition)
	case bw > cw:
		strip(w, 0, bw-w, bh, artifact.ChangeDeletion)
	}
	switch {
	case ch > bh:
		strip(0, h, w, ch-h, artifact.ChangeAddition)
	case bh > ch:
		strip(0, h, w, bh-h, artifact.ChangeDeletion)
	}
	return out
}
