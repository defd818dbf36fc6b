package imageprocessor

import (
	"math"

	"productfinder/config"
)

// CooccurrenceLen is the number of co-occurrence statistics:
// contrast, dissimilarity, homogeneity, ASM, energy and correlation.
const CooccurrenceLen = 6

// LBPLen returns the uniform pattern histogram length for P points.
func LBPLen(points int) int { return points + 2 }

type lbpExtractor struct {
	cfg config.Texture
}

func (e lbpExtractor) Name() string { return "lbp" }
func (e lbpExtractor) Len(_, _ int) int { return LBPLen(e.cfg.Points) }

func (e lbpExtractor) Extract(f *Frame) Part {
	n := LBPLen(e.cfg.Points)
	if f.Gray.empty() {
		return Part{Values: make([]float64, n), Diagnostic: "empty image"}
	}
	if f.Gray.constant() {
		return Part{Values: make([]float64, n), Diagnostic: "constant intensity"}
	}
	return Part{Values: UniformLBPHistogram(f.Gray.pix, f.Gray.w, f.Gray.h, e.cfg.Points, e.cfg.Radius), OK: true}
}

// UniformLBPHistogram computes rotation-variant uniform local binary
// patterns over a circle of P points at radius R and returns the
// density-normalized histogram over the P+2 canonical codes. Neighbours are
// sampled with bilinear interpolation; samples outside the image read as 0.
func UniformLBPHistogram(pix []uint8, w, h, points int, radius float64) []float64 {
	hist := make([]float64, LBPLen(points))
	if w == 0 || h == 0 {
		return hist
	}

	rp := make([]float64, points)
	cp := make([]float64, points)
	for i := 0; i < points; i++ {
		a := 2 * math.Pi * float64(i) / float64(points)
		rp[i] = round5(-radius * math.Sin(a))
		cp[i] = round5(radius * math.Cos(a))
	}

	bits := make([]bool, points)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			center := float64(pix[r*w+c])
			ones := 0
			for i := 0; i < points; i++ {
				bits[i] = bilinear(pix, w, h, float64(r)+rp[i], float64(c)+cp[i]) >= center
				if bits[i] {
					ones++
				}
			}
			changes := 0
			for i := 0; i < points; i++ {
				if bits[i] != bits[(i+1)%points] {
					changes++
				}
			}
			code := points + 1
			if changes <= 2 {
				code = ones
			}
			hist[code]++
		}
	}

	total := float64(w * h)
	for i := range hist {
		hist[i] /= total
	}
	return hist
}

func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}

func bilinear(pix []uint8, w, h int, r, c float64) float64 {
	minr, minc := math.Floor(r), math.Floor(c)
	maxr, maxc := math.Ceil(r), math.Ceil(c)
	dr, dc := r-minr, c-minc
	get := func(y, x float64) float64 {
		yi, xi := int(y), int(x)
		if yi < 0 || xi < 0 || yi >= h || xi >= w {
			return 0
		}
		return float64(pix[yi*w+xi])
	}
	tl, tr := get(minr, minc), get(minr, maxc)
	bl, br := get(maxr, minc), get(maxr, maxc)
	top := tl + dc*(tr-tl)
	bottom := bl + dc*(br-bl)
	return top + dr*(bottom-top)
}

type cooccurrenceExtractor struct {
	cfg config.Cooccurrence
}

func (e cooccurrenceExtractor) Name() string { return "cooccurrence" }
func (e cooccurrenceExtractor) Len(_, _ int) int { return CooccurrenceLen }

func (e cooccurrenceExtractor) Extract(f *Frame) Part {
	if f.Gray.empty() {
		return Part{Values: make([]float64, CooccurrenceLen), Diagnostic: "empty image"}
	}
	if f.Gray.constant() {
		return Part{Values: make([]float64, CooccurrenceLen), Diagnostic: "constant intensity"}
	}
	stats, ok := CooccurrenceStats(f.Gray.pix, f.Gray.w, f.Gray.h, e.cfg)
	if !ok {
		return Part{Values: make([]float64, CooccurrenceLen), Diagnostic: "no pixel pairs at configured offsets"}
	}
	return Part{Values: stats, OK: true}
}

// CooccurrenceStats builds one symmetric, normalized gray-level
// co-occurrence matrix per distance and angle (degrees) and returns the six
// statistics averaged over all of them. ok is false when no offset produced
// a single pixel pair.
func CooccurrenceStats(pix []uint8, w, h int, cfg config.Cooccurrence) (stats []float64, ok bool) {
	levels := cfg.Levels
	quant := make([]int, len(pix))
	for i, v := range pix {
		quant[i] = int(v) * levels / 256
	}

	sum := make([]float64, CooccurrenceLen)
	used := 0
	m := make([]float64, levels*levels)
	for _, d := range cfg.Distances {
		for _, deg := range cfg.Angles {
			theta := deg * math.Pi / 180
			dr := int(math.RoundToEven(math.Sin(theta) * float64(d)))
			dc := int(math.RoundToEven(math.Cos(theta) * float64(d)))

			for i := range m {
				m[i] = 0
			}
			var pairs float64
			for r := 0; r < h; r++ {
				r2 := r + dr
				if r2 < 0 || r2 >= h {
					continue
				}
				for c := 0; c < w; c++ {
					c2 := c + dc
					if c2 < 0 || c2 >= w {
						continue
					}
					a, b := quant[r*w+c], quant[r2*w+c2]
					m[a*levels+b]++
					m[b*levels+a]++
					pairs += 2
				}
			}
			if pairs == 0 {
				continue
			}
			for i := range m {
				m[i] /= pairs
			}
			props := glcmProps(m, levels)
			for i := range sum {
				sum[i] += props[i]
			}
			used++
		}
	}
	if used == 0 {
		return make([]float64, CooccurrenceLen), false
	}
	for i := range sum {
		sum[i] /= float64(used)
	}
	return sum, true
}

func glcmProps(p []float64, levels int) []float64 {
	var contrast, dissim, homog, asm, meanI, meanJ float64
	for i := 0; i < levels; i++ {
		for j := 0; j < levels; j++ {
			v := p[i*levels+j]
			if v == 0 {
				continue
			}
			d := float64(i - j)
			contrast += v * d * d
			dissim += v * math.Abs(d)
			homog += v / (1 + d*d)
			asm += v * v
			meanI += v * float64(i)
			meanJ += v * float64(j)
		}
	}
	var varI, varJ, cov float64
	for i := 0; i < levels; i++ {
		for j := 0; j < levels; j++ {
			v := p[i*levels+j]
			if v == 0 {
				continue
			}
			di, dj := float64(i)-meanI, float64(j)-meanJ
			varI += v * di * di
			varJ += v * dj * dj
			cov += v * di * dj
		}
	}
	corr := 1.0
	if si, sj := math.Sqrt(varI), math.Sqrt(varJ); si > 1e-15 && sj > 1e-15 {
		corr = cov / (si * sj)
	}
	return []float64{contrast, dissim, homog, asm, math.Sqrt(asm), corr}
}
