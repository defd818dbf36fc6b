package imageprocessor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

type drawFunc func(x, y int) color.RGBA

func encodePNG(t *testing.T, w, h int, draw drawFunc) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, draw(x, y))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

var (
	black = color.RGBA{A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func solid(c color.RGBA) drawFunc {
	return func(_, _ int) color.RGBA { return c }
}

func disc(cx, cy, r int, fg, bg color.RGBA) drawFunc {
	return func(x, y int) color.RGBA {
		dx, dy := x-cx, y-cy
		if dx*dx+dy*dy <= r*r {
			return fg
		}
		return bg
	}
}

func rect(x0, y0, x1, y1 int, fg, bg color.RGBA) drawFunc {
	return func(x, y int) color.RGBA {
		if x >= x0 && x < x1 && y >= y0 && y < y1 {
			return fg
		}
		return bg
	}
}

// textured draws a disc whose pixels vary so every extractor has signal.
func textured(cx, cy, r int) drawFunc {
	return func(x, y int) color.RGBA {
		dx, dy := x-cx, y-cy
		if dx*dx+dy*dy > r*r {
			return color.RGBA{R: 10, G: 20, B: 30, A: 255}
		}
		v := uint8(150 + (x*7+y*13)%100)
		return color.RGBA{R: v, G: 220 - v/4, B: 90, A: 255}
	}
}
