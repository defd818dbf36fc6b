package index

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Normalizer is a frozen per-dimension z-score transform.
type Normalizer struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitNormalizer computes the population mean and standard deviation of
// every column of rows. Constant columns get a standard deviation of 1 so
// they map to 0.
func FitNormalizer(rows *mat.Dense) Normalizer {
	r, c := rows.Dims()
	n := Normalizer{Mean: make([]float64, c), Std: make([]float64, c)}
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, rows)
		mean, std := stat.PopMeanStdDev(col, nil)
		if std <= 1e-12*math.Max(1, math.Abs(mean)) || math.IsNaN(std) {
			std = 1
		}
		n.Mean[j], n.Std[j] = mean, std
	}
	return n
}

// Dim is the vector length the normalizer was fit on.
func (n Normalizer) Dim() int { return len(n.Mean) }

// Transform returns the normalized copy of v. Non-finite components are
// treated as 0, the value catalog rows get for them.
func (n Normalizer) Transform(v []float64) ([]float64, error) {
	if len(v) != n.Dim() {
		return nil, &DimensionMismatchError{Want: n.Dim(), Got: len(v)}
	}
	out := make([]float64, len(v))
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		out[i] = (x - n.Mean[i]) / n.Std[i]
	}
	return out, nil
}

// TransformMatrix returns the normalized copy of rows.
func (n Normalizer) TransformMatrix(rows *mat.Dense) *mat.Dense {
	r, c := rows.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, j int, v float64) float64 {
		return (v - n.Mean[j]) / n.Std[j]
	}, rows)
	return out
}
