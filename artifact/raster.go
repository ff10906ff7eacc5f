package artifact

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/webp"
)

// ErrNotDataURL is returned when raster data is not a base64 data URL.
var ErrNotDataURL = errors.New("artifact: raster is not a base64 data URL")

// MIMEType returns the media type for a raster format.
func (f Format) MIMEType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// EncodeDataURL wraps raw encoded image bytes in a data URL.
func EncodeDataURL(f Format, raw []byte) string {
	return "data:" + f.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

// DecodeDataURL splits a data URL into its media type and raw bytes.
func DecodeDataURL(dataURL string) (mime string, raw []byte, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	mime, enc, _ := strings.Cut(meta, ";")
	if enc != "base64" {
		return "", nil, ErrNotDataURL
	}
	raw, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("artifact: base64: %w", err)
	}
	return mime, raw, nil
}

// DecodeImage decodes PNG, JPEG or WebP bytes. The format is sniffed from
// the content, not trusted from the media type.
func DecodeImage(raw []byte) (image.Image, Format, error) {
	switch {
	case bytes.HasPrefix(raw, []byte("\x89PNG\r\n\x1a\n")):
		img, err := png.Decode(bytes.NewReader(raw))
		return img, FormatPNG, err
	case bytes.HasPrefix(raw, []byte{0xFF, 0xD8}):
		img, err := jpeg.Decode(bytes.NewReader(raw))
		return img, FormatJPEG, err
	case len(raw) >= 12 && string(raw[0:4]) == "RIFF" && string(raw[8:12]) == "WEBP":
		img, err := webp.Decode(bytes.NewReader(raw))
		return img, FormatWebP, err
	}
	return nil, "", fmt.Errorf("artifact: unrecognised image format")
}

// DecodeConfig reads only the dimensions of encoded image bytes.
func DecodeConfig(raw []byte) (Dimensions, error) {
	var (
		cfg image.Config
		err error
	)
	r := bytes.NewReader(raw)
	switch {
	case bytes.HasPrefix(raw, []byte("\x89PNG\r\n\x1a\n")):
		cfg, err = png.DecodeConfig(r)
	case bytes.HasPrefix(raw, []byte{0xFF, 0xD8}):
		cfg, err = jpeg.DecodeConfig(r)
	case len(raw) >= 12 && string(raw[0:4]) == "RIFF" && string(raw[8:12]) == "WEBP":
		cfg, err = webp.DecodeConfig(r)
	default:
		err = fmt.Errorf("artifact: unrecognised image format")
	}
	if err != nil {
		return Dimensions{}, err
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

// ToNRGBA converts any image to a non-premultiplied RGBA buffer whose
// bounds start at (0, 0).
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return n
	}
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// DecodeRaster decodes a screenshot's data URL into an NRGBA buffer.
func (s *Screenshot) DecodeRaster() (*image.NRGBA, error) {
	_, raw, err := DecodeDataURL(s.RasterData)
	if err != nil {
		return nil, err
	}
	img, _, err := DecodeImage(raw)
	if err != nil {
		return nil, err
	}
	return ToNRGBA(img), nil
}

// EncodePNG encodes img as a PNG data URL.
func EncodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("artifact: png encode: %w", err)
	}
	return EncodeDataURL(FormatPNG, buf.Bytes()), nil
}
