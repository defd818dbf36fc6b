package imageprocessor

import (
	"fmt"
	"image"

	"productfinder/config"

	"gocv.io/x/gocv"
)

// Preprocessed holds the single-channel derivatives of a BGR image.
// Edges is diagnostic only and never gates later stages.
type Preprocessed struct {
	Gray     gocv.Mat
	Smoothed gocv.Mat
	Edges    gocv.Mat
}

// Close releases every Mat.
func (p *Preprocessed) Close() {
	p.Gray.Close()
	p.Smoothed.Close()
	p.Edges.Close()
}

// EdgeDensity is the fraction of pixels marked in the edge map.
func (p *Preprocessed) EdgeDensity() float64 {
	total := p.Edges.Rows() * p.Edges.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(p.Edges)) / float64(total)
}

// Preprocess converts img to grayscale, smooths it with a Gaussian kernel
// and computes a Canny edge map.
func Preprocess(img gocv.Mat, cfg config.Preprocessing) (*Preprocessed, error) {
	if err := checkKernel(cfg.KernelWidth, cfg.KernelHeight); err != nil {
		return nil, err
	}
	if img.Empty() || img.Channels() != 3 {
		return nil, inputErrorf(nil, "expected a 3-channel image, got %d channels", img.Channels())
	}

	p := &Preprocessed{
		Gray:     gocv.NewMat(),
		Smoothed: gocv.NewMat(),
		Edges:    gocv.NewMat(),
	}
	gocv.CvtColor(img, &p.Gray, gocv.ColorBGRToGray)
	gocv.GaussianBlur(p.Gray, &p.Smoothed, image.Point{X: cfg.KernelWidth, Y: cfg.KernelHeight},
		cfg.Sigma, cfg.Sigma, gocv.BorderDefault)
	gocv.Canny(p.Smoothed, &p.Edges, cfg.CannyLow, cfg.CannyHigh)
	return p, nil
}

func checkKernel(w, h int) error {
	if w <= 0 || h <= 0 || w%2 == 0 || h%2 == 0 {
		return fmt.Errorf("%w: got %dx%d", ErrInvalidKernel, w, h)
	}
	return nil
}

// plane is a row-major copy of a single-channel 8-bit Mat.
type plane struct {
	w, h int
	pix  []uint8
}

func planeFromMat(m gocv.Mat) plane {
	if m.Empty() {
		return plane{}
	}
	src := m
	if !m.IsContinuous() {
		src = m.Clone()
		defer src.Close()
	}
	return plane{w: m.Cols(), h: m.Rows(), pix: src.ToBytes()}
}

func (p plane) at(x, y int) uint8 { return p.pix[y*p.w+x] }

func (p plane) empty() bool { return p.w == 0 || p.h == 0 }

// constant reports whether every pixel has the same value.
func (p plane) constant() bool {
	for _, v := range p.pix {
		if v != p.pix[0] {
			return false
		}
	}
	return true
}
