// Package imaging generates placeholder bitmaps used when stored photo
// evidence cannot be re-fetched at export time.
package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

const (
	placeholderWidth  = 300
	placeholderHeight = 200
)

var (
	placeholderFill   = color.RGBA{R: 0xF0, G: 0xF0, B: 0xF0, A: 0xFF}
	placeholderBorder = color.RGBA{R: 0xCC, G: 0xCC, B: 0xCC, A: 0xFF}
)

// PlaceholderPNG renders the stand-in image embedded in exports when the real
// photo is unreachable: a light gray box with a visible border so the reader
// can tell a slot from an omission.
func PlaceholderPNG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(placeholderFill), image.Point{}, draw.Src)

	for x := 0; x < placeholderWidth; x++ {
		img.Set(x, 0, placeholderBorder)
		img.Set(x, placeholderHeight-1, placeholderBorder)
	}
	for y := 0; y < placeholderHeight; y++ {
		img.Set(0, y, placeholderBorder)
		img.Set(placeholderWidth-1, y, placeholderBorder)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
