package engine

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// Placeholder colors.
var (
	FallbackColor = color.RGBA{R: 64, G: 64, B: 64, A: 255}
	ManualColor   = color.RGBA{R: 32, G: 32, B: 32, A: 255}
)

// FallbackSize is the edge length of the image written when no engine runs.
const FallbackSize = 512

// SolidPNG encodes a width x height image filled with c.
func SolidPNG(width, height int, c color.Color) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("placeholder: invalid size %dx%d", width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("placeholder: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
