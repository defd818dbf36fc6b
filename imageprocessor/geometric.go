package imageprocessor

import (
	"math"

	"gocv.io/x/gocv"
)

// GeometricLen is the fixed length of the geometric descriptor:
// area, perimeter, circularity and aspect ratio.
const GeometricLen = 4

// Geometry describes the principal contour.
type Geometry struct {
	Area        float64 `json:"area"`
	Perimeter   float64 `json:"perimeter"`
	Circularity float64 `json:"circularity"`
	AspectRatio float64 `json:"aspect_ratio"`
}

// Vector returns the geometry in descriptor order.
func (g Geometry) Vector() []float64 {
	return []float64{g.Area, g.Perimeter, g.Circularity, g.AspectRatio}
}

// MeasureContour computes area, closed arc length, circularity and
// bounding-box aspect ratio. An empty contour measures as all zeros.
func MeasureContour(c Contour) Geometry {
	if len(c) == 0 {
		return Geometry{}
	}
	pv := gocv.NewPointVectorFromPoints(c)
	defer pv.Close()

	g := Geometry{
		Area:      math.Abs(gocv.ContourArea(pv)),
		Perimeter: gocv.ArcLength(pv, true),
	}
	if g.Perimeter > 0 {
		g.Circularity = 4 * math.Pi * g.Area / (g.Perimeter * g.Perimeter)
	}
	r := gocv.BoundingRect(pv)
	if r.Dy() > 0 {
		g.AspectRatio = float64(r.Dx()) / float64(r.Dy())
	}
	return g
}

type geometricExtractor struct{}

func (geometricExtractor) Name() string { return "geometric" }
func (geometricExtractor) Len(_, _ int) int { return GeometricLen }

func (geometricExtractor) Extract(f *Frame) Part {
	if f.Seg == nil || len(f.Seg.Principal) == 0 {
		return Part{Values: make([]float64, GeometricLen), Diagnostic: "no principal contour"}
	}
	g := MeasureContour(f.Seg.Principal)
	p := Part{Values: g.Vector(), OK: true}
	if g.Perimeter == 0 {
		p.OK = false
		p.Diagnostic = "zero perimeter"
	}
	return p
}
