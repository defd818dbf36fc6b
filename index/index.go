// Package index holds the immutable nearest-neighbour snapshot of the
// catalog and its on-disk cache.
package index

import (
	"fmt"
	"math"
	"sort"

	"productfinder/types"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DistancePrecision is the number of decimals reported distances keep.
const DistancePrecision = 5

// Index is an exact brute-force Euclidean index over z-score normalized
// catalog vectors. It is never mutated after Build.
type Index struct {
	entries     []types.CatalogEntry
	raw         *mat.Dense
	normalized  *mat.Dense
	normalizer  Normalizer
	fingerprint string
	catalog     string
	byEntry     map[int64]int
}

// Build fits a normalizer over vectors and indexes them. vectors[i] belongs
// to entries[i]; every vector must have the same length.
func Build(entries []types.CatalogEntry, vectors [][]float64, fingerprint string) (*Index, error) {
	raw, err := stack(entries, vectors)
	if err != nil {
		return nil, err
	}
	return newIndex(entries, raw, FitNormalizer(raw), fingerprint), nil
}

func stack(entries []types.CatalogEntry, vectors [][]float64) (*mat.Dense, error) {
	if len(entries) == 0 {
		return nil, ErrCatalogEmpty
	}
	if len(entries) != len(vectors) {
		return nil, fmt.Errorf("got %d entries but %d vectors", len(entries), len(vectors))
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("entry %d has an empty feature vector", entries[0].EntryID)
	}
	data := make([]float64, 0, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("entry %d: %w", entries[i].EntryID, &DimensionMismatchError{Want: dim, Got: len(v)})
		}
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				x = 0
			}
			data = append(data, x)
		}
	}
	return mat.NewDense(len(vectors), dim, data), nil
}

func newIndex(entries []types.CatalogEntry, raw *mat.Dense, n Normalizer, fingerprint string) *Index {
	ix := &Index{
		entries:     append([]types.CatalogEntry(nil), entries...),
		raw:         raw,
		normalized:  n.TransformMatrix(raw),
		normalizer:  n,
		fingerprint: fingerprint,
		byEntry:     make(map[int64]int, len(entries)),
	}
	for i, e := range ix.entries {
		ix.byEntry[e.EntryID] = i
	}
	return ix
}

// Len is the number of indexed entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Dim is the vector length every query must have.
func (ix *Index) Dim() int { return ix.normalizer.Dim() }

// Fingerprint identifies the pipeline configuration of the vectors.
func (ix *Index) Fingerprint() string { return ix.fingerprint }

// Catalog is the signature of the catalog listing the index was built
// from, or "" when it was never stamped.
func (ix *Index) Catalog() string { return ix.catalog }

// WithCatalog returns a copy of ix stamped with a catalog signature.
func (ix *Index) WithCatalog(signature string) *Index {
	cp := *ix
	cp.catalog = signature
	return &cp
}

// Normalizer returns the frozen normalization parameters.
func (ix *Index) Normalizer() Normalizer { return ix.normalizer }

// Vector returns a copy of the raw (unnormalized) vector of an entry.
func (ix *Index) Vector(entryID int64) ([]float64, bool) {
	i, ok := ix.byEntry[entryID]
	if !ok {
		return nil, false
	}
	return mat.Row(nil, i, ix.raw), true
}

// Query returns the k nearest entries to v by ascending Euclidean distance
// in normalized space. Ties keep row order. k <= 0 returns every entry.
func (ix *Index) Query(v []float64, k int) (types.QueryResult, error) {
	if ix.Len() == 0 {
		return nil, ErrCatalogEmpty
	}
	q, err := ix.normalizer.Transform(v)
	if err != nil {
		return nil, err
	}

	n := ix.Len()
	dist := make([]float64, n)
	order := make([]int, n)
	for i := 0; i < n; i++ {
		dist[i] = floats.Distance(ix.normalized.RawRowView(i), q, 2)
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return dist[order[a]] < dist[order[b]] })

	if k <= 0 || k > n {
		k = n
	}
	out := make(types.QueryResult, 0, k)
	for _, i := range order[:k] {
		e := ix.entries[i]
		out = append(out, types.Match{
			EntryID:    e.EntryID,
			ProductID:  e.ProductID,
			StorageKey: e.StorageKey,
			Distance:   roundDistance(dist[i]),
		})
	}
	return out, nil
}

func roundDistance(d float64) float64 {
	p := math.Pow(10, DistancePrecision)
	return math.Round(d*p) / p
}
