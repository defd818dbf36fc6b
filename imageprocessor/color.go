package imageprocessor

import (
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
)

type colorSpace int

const (
	spaceBGR colorSpace = iota
	spaceHSV
)

type colorExtractor struct {
	space colorSpace
	bins  int
}

func (e colorExtractor) Name() string {
	if e.space == spaceHSV {
		return "color_hsv"
	}
	return "color_bgr"
}

func (e colorExtractor) Len(_, _ int) int { return 3 * e.bins }

func (e colorExtractor) Extract(f *Frame) Part {
	n := 3 * e.bins
	if f.BGR.Empty() {
		return Part{Values: make([]float64, n), Diagnostic: "no image"}
	}
	if f.Seg == nil || f.Seg.Empty() {
		return Part{Values: make([]float64, n), Diagnostic: "no foreground mask"}
	}

	mask := f.Seg.ForegroundMask()
	defer mask.Close()

	src := f.BGR
	channels := []int{2, 1, 0}
	ranges := [][]float64{{0, 256}, {0, 256}, {0, 256}}
	if e.space == spaceHSV {
		hsv := gocv.NewMat()
		defer hsv.Close()
		gocv.CvtColor(f.BGR, &hsv, gocv.ColorBGRToHSV)
		src = hsv
		channels = []int{0, 1, 2}
		ranges[0] = []float64{0, 180}
	}

	out := make([]float64, 0, n)
	for i, ch := range channels {
		h, err := maskedHistogram(src, mask, ch, e.bins, ranges[i])
		if err != nil {
			return Part{Values: make([]float64, n), Diagnostic: "histogram failed: " + err.Error()}
		}
		out = append(out, h...)
	}
	return Part{Values: out, OK: true}
}

// maskedHistogram counts one channel of src under mask and L2-normalizes
// the counts.
func maskedHistogram(src, mask gocv.Mat, channel, bins int, rng []float64) ([]float64, error) {
	hist := gocv.NewMat()
	defer hist.Close()
	if err := gocv.CalcHist([]gocv.Mat{src}, []int{channel}, mask, &hist, []int{bins}, rng, false); err != nil {
		return nil, err
	}
	out := make([]float64, bins)
	for i := range out {
		out[i] = float64(hist.GetFloatAt(i, 0))
	}
	if norm := floats.Norm(out, 2); norm > 0 {
		floats.Scale(1/norm, out)
	}
	return out, nil
}
