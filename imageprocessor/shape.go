package imageprocessor

import (
	"math"
	"sort"

	"productfinder/config"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ShapeLen returns the oriented-gradient descriptor length for an image of
// width x height pixels under cfg. It is zero when the image is too small
// to hold a single block.
func ShapeLen(width, height int, cfg config.Shape) int {
	if cfg.CellSize <= 0 || cfg.BlockSize <= 0 {
		return 0
	}
	bx := width/cfg.CellSize - cfg.BlockSize + 1
	by := height/cfg.CellSize - cfg.BlockSize + 1
	if bx <= 0 || by <= 0 {
		return 0
	}
	return bx * by * cfg.BlockSize * cfg.BlockSize * cfg.Orientations
}

type shapeExtractor struct {
	cfg config.Shape
}

func (e shapeExtractor) Name() string { return "shape" }

func (e shapeExtractor) Len(width, height int) int { return ShapeLen(width, height, e.cfg) }

func (e shapeExtractor) Extract(f *Frame) Part {
	n := ShapeLen(f.Gray.w, f.Gray.h, e.cfg)
	if f.GrayMat.Empty() || n == 0 {
		return Part{Values: make([]float64, n), Diagnostic: "image smaller than one block"}
	}

	gx := gocv.NewMat()
	defer gx.Close()
	gy := gocv.NewMat()
	defer gy.Close()
	gocv.Sobel(f.GrayMat, &gx, gocv.MatTypeCV64F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(f.GrayMat, &gy, gocv.MatTypeCV64F, 0, 1, 3, 1, 0, gocv.BorderDefault)

	dx, err := gx.DataPtrFloat64()
	if err != nil {
		return Part{Values: make([]float64, n), Diagnostic: "gradient unavailable: " + err.Error()}
	}
	dy, err := gy.DataPtrFloat64()
	if err != nil {
		return Part{Values: make([]float64, n), Diagnostic: "gradient unavailable: " + err.Error()}
	}

	values := OrientedGradientHistogram(dx, dy, f.Gray.w, f.Gray.h, e.cfg)
	if floats.Norm(values, 2) == 0 {
		return Part{Values: values, Diagnostic: "no gradient energy"}
	}
	return Part{Values: values, OK: true}
}

// OrientedGradientHistogram bins unsigned gradient orientations into cells
// with linear vote splitting between neighbouring bins, normalizes every
// sliding block and finally L2-normalizes the whole descriptor.
func OrientedGradientHistogram(gx, gy []float64, w, h int, cfg config.Shape) []float64 {
	n := ShapeLen(w, h, cfg)
	out := make([]float64, 0, n)
	if n == 0 {
		return out
	}

	cell, orient := cfg.CellSize, cfg.Orientations
	cellsX, cellsY := w/cell, h/cell
	binSize := 180.0 / float64(orient)
	cells := make([]float64, cellsY*cellsX*orient)

	for cy := 0; cy < cellsY; cy++ {
		for cx := 0; cx < cellsX; cx++ {
			hist := cells[(cy*cellsX+cx)*orient : (cy*cellsX+cx+1)*orient]
			for y := cy * cell; y < (cy+1)*cell; y++ {
				for x := cx * cell; x < (cx+1)*cell; x++ {
					i := y*w + x
					mag := math.Hypot(gx[i], gy[i])
					ang := math.Mod(math.Atan2(gy[i], gx[i])*180/math.Pi, 180)
					if ang < 0 {
						ang += 180
					}
					pos := ang / binSize
					whole := math.Floor(pos)
					weight := pos - whole
					low := int(whole) % orient
					high := (low + 1) % orient
					hist[low] += mag * (1 - weight)
					hist[high] += mag * weight
				}
			}
		}
	}

	block := cfg.BlockSize
	buf := make([]float64, 0, block*block*orient)
	for by := 0; by+block <= cellsY; by++ {
		for bx := 0; bx+block <= cellsX; bx++ {
			buf = buf[:0]
			for y := by; y < by+block; y++ {
				for x := bx; x < bx+block; x++ {
					buf = append(buf, cells[(y*cellsX+x)*orient:(y*cellsX+x+1)*orient]...)
				}
			}
			normalizeBlock(buf)
			if cfg.BlockNorm == "L2-Hys" {
				for i, v := range buf {
					buf[i] = math.Min(v, 0.2)
				}
				normalizeBlock(buf)
			}
			out = append(out, buf...)
		}
	}

	floats.Scale(1/(floats.Norm(out, 2)+1e-8), out)
	return out
}

func normalizeBlock(v []float64) {
	floats.Scale(1/math.Sqrt(floats.Dot(v, v)+1e-6), v)
}

// ShapeSummary holds descriptive statistics of an oriented-gradient
// descriptor. They feed the quality score, not the distance.
type ShapeSummary struct {
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Median     float64 `json:"median"`
	Energy     float64 `json:"energy"`
	Entropy    float64 `json:"entropy"`
	Dimensions int     `json:"dimensions"`
}

const entropyBins = 50

// SummarizeShape computes ShapeSummary over v. Entropy is taken over a
// 50-bin density histogram of the values.
func SummarizeShape(v []float64) ShapeSummary {
	s := ShapeSummary{Dimensions: len(v)}
	if len(v) == 0 {
		return s
	}
	s.Mean, s.Std = stat.PopMeanStdDev(v, nil)
	s.Min, s.Max = floats.Min(v), floats.Max(v)
	s.Energy = floats.Dot(v, v)

	sorted := append([]float64(nil), v...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		s.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		s.Median = sorted[mid]
	}

	lo, hi := s.Min, s.Max
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	dividers := make([]float64, entropyBins+1)
	floats.Span(dividers, lo, hi)
	dividers[entropyBins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)
	width := (hi - lo) / entropyBins
	for _, c := range counts {
		if c == 0 {
			continue
		}
		d := c / (float64(len(v)) * width)
		s.Entropy -= d * math.Log2(d)
	}
	return s
}

// Describe gives a coarse verbal reading of the summary.
func (s ShapeSummary) Describe() string {
	switch {
	case s.Dimensions == 0:
		return "no shape information"
	case s.Energy > 0.5 && s.Entropy > 3:
		return "complex shape with strong, varied edges"
	case s.Std > 0.05:
		return "well-defined shape with distinct edges"
	case s.Entropy > 2:
		return "moderately textured shape"
	default:
		return "simple or smooth shape"
	}
}
