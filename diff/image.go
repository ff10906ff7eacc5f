package diff

import (
	"image"
)

// renderDiff draws the overlap as a faded greyscale of the comparison.
// Modified pixels are red, added green, deleted blue.
func renderDiff(f *frame, m merged) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, f.w, f.h))
	for y := 0; y < f.h; y++ {
		for x := 0; x < f.w; x++ {
			i := y*f.w + x
			o := out.PixOffset(x, y)
			p := out.Pix[o : o+4 : o+4]
			switch m.kind[i] {
			case kindModified:
				p[0], p[1], p[2] = 255, 0, 0
			case kindAdded:
				p[0], p[1], p[2] = 0, 170, 0
			case kindDeleted:
				p[0], p[1], p[2] = 0, 0, 255
			default:
				v := uint8(255 - (255-lumaAt(f.cmp, x, y))/4)
				p[0], p[1], p[2] = v, v, v
			}
			p[3] = 255
		}
	}
	return out
}
