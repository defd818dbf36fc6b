package imageprocessor

import (
	"fmt"
	"math"

	"productfinder/config"
	"productfinder/logging"

	"gocv.io/x/gocv"
)

// Frame is everything an extractor may read. It is owned by the pipeline
// and must not be retained.
type Frame struct {
	BGR     gocv.Mat
	GrayMat gocv.Mat
	Gray    plane
	Seg     *Segmentation
}

// Part is one extractor's output. When OK is false Values holds the
// documented zero sentinel and Diagnostic says why.
type Part struct {
	Name       string    `json:"name"`
	Values     []float64 `json:"-"`
	OK         bool      `json:"ok"`
	Diagnostic string    `json:"diagnostic,omitempty"`
}

// Extractor produces a fixed-length slice of the descriptor.
type Extractor interface {
	Name() string
	// Len is the output length for an image of the given size.
	Len(width, height int) int
	Extract(f *Frame) Part
}

// Span locates one extractor's output inside the assembled vector.
type Span struct {
	Name   string `json:"name"`
	Offset int    `json:"offset"`
	Len    int    `json:"len"`
}

// Assembler concatenates extractor outputs in a fixed order.
type Assembler struct {
	extractors []Extractor
}

// NewAssembler returns the assembler for cfg. The order is geometric, LBP,
// co-occurrence, shape, BGR color, HSV color and is tied to
// config.FeatureLayoutVersion.
func NewAssembler(cfg config.Pipeline) *Assembler {
	return &Assembler{extractors: []Extractor{
		geometricExtractor{},
		lbpExtractor{cfg: cfg.Texture},
		cooccurrenceExtractor{cfg: cfg.Cooccurrence},
		shapeExtractor{cfg: cfg.Shape},
		colorExtractor{space: spaceBGR, bins: cfg.Color.BGRBins},
		colorExtractor{space: spaceHSV, bins: cfg.Color.HSVBins},
	}}
}

// Layout returns the span of every extractor for an image of the given size.
func (a *Assembler) Layout(width, height int) []Span {
	spans := make([]Span, 0, len(a.extractors))
	off := 0
	for _, e := range a.extractors {
		n := e.Len(width, height)
		spans = append(spans, Span{Name: e.Name(), Offset: off, Len: n})
		off += n
	}
	return spans
}

// Len is the assembled vector length for an image of the given size.
func (a *Assembler) Len(width, height int) int {
	n := 0
	for _, e := range a.extractors {
		n += e.Len(width, height)
	}
	return n
}

// Assemble runs every extractor and concatenates their outputs. Non-finite
// values are replaced with 0. An extractor that returns a length other than
// the one it declared is a programming error and fails the call.
func (a *Assembler) Assemble(f *Frame) ([]float64, []Part, error) {
	w, h := f.Gray.w, f.Gray.h
	vec := make([]float64, 0, a.Len(w, h))
	parts := make([]Part, 0, len(a.extractors))
	for _, e := range a.extractors {
		p := e.Extract(f)
		p.Name = e.Name()
		if want := e.Len(w, h); len(p.Values) != want {
			return nil, nil, fmt.Errorf("extractor %s produced %d values, declared %d", p.Name, len(p.Values), want)
		}
		if !p.OK {
			logging.DebugLog("Extractor %s degenerate: %s", p.Name, p.Diagnostic)
		}
		parts = append(parts, p)
		vec = append(vec, p.Values...)
	}
	if n := Sanitize(vec); n > 0 {
		logging.DebugLog("Replaced %d non-finite feature values", n)
	}
	return vec, parts, nil
}

// Sanitize replaces NaN and infinite values with 0 in place and returns how
// many were replaced.
func Sanitize(v []float64) int {
	n := 0
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v[i] = 0
			n++
		}
	}
	return n
}
