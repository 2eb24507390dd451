package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
)

var (
	// ErrDecode is returned when frame bytes cannot be decoded.
	ErrDecode = errors.New("frame decode failed")
	// ErrEncode is returned when an output image cannot be encoded.
	ErrEncode = errors.New("image encode failed")
)

// Thresholds for the humidity-only colours drawn under the precipitation bands.
const (
	blueMin    = 150 // predicate (a): bright blue dominating red and green
	blueMargin = 50  // how far blue must exceed red and green to dominate
	cyanMin    = 150 // predicate (b): bright blue and green together
	cyanRedMax = 100
)

// IsHumidityOnly reports whether a pixel carries no precipitation: a bright
// blue that dominates red and green, or a bright cyan with little red.
func IsHumidityOnly(r, g, b uint8) bool {
	if b > blueMin && int(b)-int(r) > blueMargin && int(b)-int(g) > blueMargin {
		return true
	}
	return b > cyanMin && g > cyanMin && r < cyanRedMax
}

// FilterRain decodes a PNG frame, makes every humidity-only pixel fully
// transparent and returns the re-encoded PNG. Other pixels are untouched.
func FilterRain(data []byte) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	img := toNRGBA(src)
	ApplyRainMask(img)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// ApplyRainMask zeroes the alpha of every humidity-only pixel in img.
func ApplyRainMask(img *image.NRGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			px := row[x*4 : x*4+4 : x*4+4]
			if IsHumidityOnly(px[0], px[1], px[2]) {
				px[3] = 0
			}
		}
	}
}

// toNRGBA returns img as straight (non-premultiplied) RGBA so thresholds
// compare the drawn colours rather than alpha-scaled ones.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}
