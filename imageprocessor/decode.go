package imageprocessor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"productfinder/config"
	"productfinder/logging"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gocv.io/x/gocv"
)

// Decode turns encoded image bytes into an 8-bit, 3-channel BGR Mat resized
// to the configured working size. Images that cannot be decoded or that are
// smaller than the configured minimum are rejected with an *InputError.
// The caller owns the returned Mat.
func Decode(data []byte, in config.Input) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), inputErrorf(nil, "empty payload")
	}

	var img image.Image
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		if err := checkMinSize(cfg.Width, cfg.Height, in); err != nil {
			return gocv.NewMat(), err
		}
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return gocv.NewMat(), inputErrorf(err, "cannot decode image")
		}
	} else {
		// Formats without a registered Go decoder go through OpenCV.
		decoded, err := decodeWithOpenCV(data)
		if err != nil {
			return gocv.NewMat(), err
		}
		img = decoded
		b := img.Bounds()
		if err := checkMinSize(b.Dx(), b.Dy(), in); err != nil {
			return gocv.NewMat(), err
		}
	}

	if in.WorkWidth > 0 && in.WorkHeight > 0 {
		b := img.Bounds()
		if b.Dx() != in.WorkWidth || b.Dy() != in.WorkHeight {
			img = resize.Resize(uint(in.WorkWidth), uint(in.WorkHeight), img, resize.Lanczos3)
		}
	}
	return matFromImage(img)
}

func checkMinSize(w, h int, in config.Input) error {
	if w < in.MinWidth || h < in.MinHeight {
		return inputErrorf(nil, "image is %dx%d, minimum is %dx%d", w, h, in.MinWidth, in.MinHeight)
	}
	return nil
}

func decodeWithOpenCV(data []byte) (image.Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil || mat.Empty() {
		mat.Close()
		return nil, inputErrorf(err, "unsupported or corrupt image data")
	}
	defer mat.Close()

	logging.DebugLog("Decoded %d bytes with OpenCV fallback", len(data))
	img, err := mat.ToImage()
	if err != nil {
		return nil, inputErrorf(err, "cannot convert decoded image")
	}
	return img, nil
}

// matFromImage converts any Go image into a BGR Mat. Alpha is ignored.
func matFromImage(img image.Image) (gocv.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	buf := make([]byte, 0, w*h*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			buf = append(buf, uint8(bl>>8), uint8(g>>8), uint8(r>>8))
		}
	}
	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to build image matrix: %w", err)
	}
	defer mat.Close()
	// The matrix may alias buf; hand out an owned copy.
	return mat.Clone(), nil
}
