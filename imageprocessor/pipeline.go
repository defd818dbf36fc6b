// Package imageprocessor turns product photos into fixed-length descriptor
// vectors: preprocessing, segmentation and the feature extractors.
package imageprocessor

import (
	"fmt"
	"strings"

	"productfinder/config"

	"gocv.io/x/gocv"
)

// Result is the outcome of running the pipeline on one image.
type Result struct {
	Vector       []float64    `json:"vector"`
	Parts        []Part       `json:"parts"`
	Geometry     Geometry     `json:"geometry"`
	NoObject     bool         `json:"no_object"`
	ContourCount int          `json:"contour_count"`
	Threshold    float64      `json:"threshold"`
	EdgeDensity  float64      `json:"edge_density"`
	Shape        ShapeSummary `json:"shape"`
	Quality      Quality      `json:"quality"`
}

// Part returns the named extractor output.
func (r *Result) Part(name string) (Part, bool) {
	for _, p := range r.Parts {
		if p.Name == name {
			return p, true
		}
	}
	return Part{}, false
}

// Pipeline is a configured, stateless image-to-vector transform. It is safe
// for concurrent use.
type Pipeline struct {
	cfg       config.Pipeline
	assembler *Assembler
}

// New validates cfg and returns a pipeline.
func New(cfg config.Pipeline) (*Pipeline, error) {
	if err := checkKernel(cfg.Preprocessing.KernelWidth, cfg.Preprocessing.KernelHeight); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid pipeline config: %s", strings.Join(errs, "; "))
	}
	return &Pipeline{cfg: cfg, assembler: NewAssembler(cfg)}, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() config.Pipeline { return p.cfg }

// Fingerprint identifies the configuration the vectors were produced with.
func (p *Pipeline) Fingerprint() string { return p.cfg.Fingerprint() }

// Dim is the vector length at the configured working size. It is 0 when
// images keep their native size.
func (p *Pipeline) Dim() int {
	return p.assembler.Len(p.cfg.Input.WorkWidth, p.cfg.Input.WorkHeight)
}

// Layout describes where each extractor's output sits in the vector at the
// configured working size.
func (p *Pipeline) Layout() []Span {
	return p.assembler.Layout(p.cfg.Input.WorkWidth, p.cfg.Input.WorkHeight)
}

// ProcessBytes decodes data and runs the pipeline on it.
func (p *Pipeline) ProcessBytes(data []byte) (*Result, error) {
	img, err := Decode(data, p.cfg.Input)
	if err != nil {
		return nil, err
	}
	defer img.Close()
	return p.Process(img)
}

// Process runs preprocessing, segmentation and every extractor on a BGR
// image. Finding no object is not an error: NoObject is set and the
// geometric and color parts carry their zero sentinels.
func (p *Pipeline) Process(img gocv.Mat) (*Result, error) {
	in := p.cfg.Input
	if img.Cols() < in.MinWidth || img.Rows() < in.MinHeight {
		return nil, inputErrorf(nil, "image is %dx%d, minimum is %dx%d", img.Cols(), img.Rows(), in.MinWidth, in.MinHeight)
	}

	pre, err := Preprocess(img, p.cfg.Preprocessing)
	if err != nil {
		return nil, err
	}
	defer pre.Close()

	seg := Segment(pre.Smoothed, p.cfg.Segmentation)
	defer seg.Close()

	frame := &Frame{
		BGR:     img,
		GrayMat: pre.Gray,
		Gray:    planeFromMat(pre.Gray),
		Seg:     seg,
	}
	vec, parts, err := p.assembler.Assemble(frame)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Vector:       vec,
		Parts:        parts,
		NoObject:     seg.Empty(),
		ContourCount: len(seg.Contours),
		Threshold:    seg.Threshold,
		EdgeDensity:  pre.EdgeDensity(),
	}
	if !res.NoObject {
		res.Geometry = MeasureContour(seg.Principal)
	}
	shape, _ := res.Part("shape")
	res.Shape = SummarizeShape(shape.Values)
	res.Quality = AssessQuality(!res.NoObject, res.Geometry, shape.OK)
	return res, nil
}
