package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FeatureLayoutVersion identifies the fixed concatenation order of the
// extractor outputs. Bump it whenever an extractor is added, removed,
// reordered or changes its output layout.
const FeatureLayoutVersion = 1

// DefaultFileName is the configuration file looked up when --config is not given.
const DefaultFileName = "productfinder.yaml"

// Preprocessing configures grayscale smoothing and the diagnostic edge map.
type Preprocessing struct {
	KernelWidth  int     `yaml:"kernel_width" json:"kernel_width"`
	KernelHeight int     `yaml:"kernel_height" json:"kernel_height"`
	Sigma        float64 `yaml:"sigma" json:"sigma"`
	CannyLow     float32 `yaml:"canny_low" json:"canny_low"`
	CannyHigh    float32 `yaml:"canny_high" json:"canny_high"`
}

// Segmentation configures contour filtering.
type Segmentation struct {
	MinArea      float64 `yaml:"min_area" json:"min_area"`
	BorderMargin int     `yaml:"border_margin" json:"border_margin"`
}

// Texture configures the local binary pattern neighbourhood.
type Texture struct {
	Points int     `yaml:"points" json:"points"`
	Radius float64 `yaml:"radius" json:"radius"`
}

// Cooccurrence configures the gray-level co-occurrence offsets.
// Angles are always expressed in degrees.
type Cooccurrence struct {
	Distances []int     `yaml:"distances" json:"distances"`
	Angles    []float64 `yaml:"angles_deg" json:"angles_deg"`
	Levels    int       `yaml:"levels" json:"levels"`
}

// Shape configures the oriented-gradient histogram.
type Shape struct {
	Orientations int    `yaml:"orientations" json:"orientations"`
	CellSize     int    `yaml:"cell_size" json:"cell_size"`
	BlockSize    int    `yaml:"block_size" json:"block_size"`
	BlockNorm    string `yaml:"block_norm" json:"block_norm"`
}

// Color configures the per-representation histogram bin counts.
type Color struct {
	BGRBins int `yaml:"bgr_bins" json:"bgr_bins"`
	HSVBins int `yaml:"hsv_bins" json:"hsv_bins"`
}

// Input configures decoding limits and the working size every image is
// resized to before feature extraction. A zero working size keeps the
// native image size.
type Input struct {
	MinWidth   int `yaml:"min_width" json:"min_width"`
	MinHeight  int `yaml:"min_height" json:"min_height"`
	WorkWidth  int `yaml:"work_width" json:"work_width"`
	WorkHeight int `yaml:"work_height" json:"work_height"`
}

// Pipeline is the extractor configuration surface. It is hashed into the
// catalog index fingerprint.
type Pipeline struct {
	Input         Input         `yaml:"input" json:"input"`
	Preprocessing Preprocessing `yaml:"preprocessing" json:"preprocessing"`
	Segmentation  Segmentation  `yaml:"segmentation" json:"segmentation"`
	Texture       Texture       `yaml:"texture" json:"texture"`
	Cooccurrence  Cooccurrence  `yaml:"cooccurrence" json:"cooccurrence"`
	Shape         Shape         `yaml:"shape" json:"shape"`
	Color         Color         `yaml:"color" json:"color"`
}

// Catalog selects the relational catalog backend.
type Catalog struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Blob selects the blob store holding reference images.
type Blob struct {
	Kind      string `yaml:"kind"`
	Root      string `yaml:"root,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
}

// Service holds process-level settings that do not affect feature values.
type Service struct {
	Catalog  Catalog `yaml:"catalog"`
	Blob     Blob    `yaml:"blob"`
	CacheDir string  `yaml:"cache_dir"`
	Addr     string  `yaml:"addr"`
	Workers  int     `yaml:"workers,omitempty"`
	TopK     int     `yaml:"top_k"`
}

// Config is the in-memory representation of productfinder.yaml.
type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`
	Service  Service  `yaml:"service"`
}

// DefaultPipeline returns the balanced extractor configuration.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Input: Input{MinWidth: 10, MinHeight: 10, WorkWidth: 128, WorkHeight: 128},
		Preprocessing: Preprocessing{
			KernelWidth:  5,
			KernelHeight: 5,
			CannyLow:     100,
			CannyHigh:    200,
		},
		Segmentation: Segmentation{MinArea: 100, BorderMargin: 1},
		Texture:      Texture{Points: 8, Radius: 1},
		Cooccurrence: Cooccurrence{
			Distances: []int{1, 2, 3},
			Angles:    []float64{0, 45, 90, 135},
			Levels:    256,
		},
		Shape: Shape{Orientations: 9, CellSize: 16, BlockSize: 2, BlockNorm: "L2"},
		Color: Color{BGRBins: 16, HSVBins: 16},
	}
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: DefaultPipeline(),
		Service: Service{
			Catalog:  Catalog{Driver: "sqlite3", DSN: "catalog.db"},
			Blob:     Blob{Kind: "file", Root: "blobs"},
			CacheDir: "index-cache",
			Addr:     ":8080",
			TopK:     5,
		},
	}
}

// Preset returns one of the named pipeline configurations: fast, balanced
// or detailed.
func Preset(name string) (Pipeline, error) {
	p := DefaultPipeline()
	switch name {
	case "balanced", "":
		return p, nil
	case "fast":
		p.Preprocessing.KernelWidth, p.Preprocessing.KernelHeight = 3, 3
		p.Preprocessing.CannyLow, p.Preprocessing.CannyHigh = 50, 150
		p.Segmentation.MinArea = 50
		p.Input.WorkWidth, p.Input.WorkHeight = 96, 96
		p.Shape.CellSize = 16
		p.Color.BGRBins, p.Color.HSVBins = 8, 8
		return p, nil
	case "detailed":
		p.Preprocessing.KernelWidth, p.Preprocessing.KernelHeight = 7, 7
		p.Preprocessing.CannyLow, p.Preprocessing.CannyHigh = 80, 220
		p.Segmentation.MinArea = 200
		p.Texture = Texture{Points: 16, Radius: 2}
		p.Cooccurrence.Distances = []int{1, 2, 3, 4}
		p.Cooccurrence.Angles = []float64{0, 30, 60, 90, 120, 150}
		p.Shape.Orientations = 18
		p.Shape.CellSize = 8
		p.Shape.BlockNorm = "L2-Hys"
		p.Color.BGRBins, p.Color.HSVBins = 32, 32
		return p, nil
	default:
		return Pipeline{}, fmt.Errorf("unknown preset %q (available: fast, balanced, detailed)", name)
	}
}

// Validate returns every problem found in the pipeline configuration.
func (p Pipeline) Validate() []string {
	var errs []string
	pre := p.Preprocessing
	if pre.KernelWidth <= 0 || pre.KernelHeight <= 0 || pre.KernelWidth%2 == 0 || pre.KernelHeight%2 == 0 {
		errs = append(errs, fmt.Sprintf("gaussian kernel must have positive odd dimensions, got %dx%d", pre.KernelWidth, pre.KernelHeight))
	}
	if pre.CannyLow >= pre.CannyHigh {
		errs = append(errs, "canny low threshold must be below the high threshold")
	}
	if p.Segmentation.MinArea < 0 {
		errs = append(errs, "segmentation min_area must be non-negative")
	}
	if p.Segmentation.BorderMargin < 0 {
		errs = append(errs, "segmentation border_margin must be non-negative")
	}
	if p.Texture.Points <= 0 || p.Texture.Points > 32 {
		errs = append(errs, "texture points must be in 1..32")
	}
	if p.Texture.Radius <= 0 {
		errs = append(errs, "texture radius must be positive")
	}
	if len(p.Cooccurrence.Distances) == 0 || len(p.Cooccurrence.Angles) == 0 {
		errs = append(errs, "cooccurrence needs at least one distance and one angle")
	}
	for _, d := range p.Cooccurrence.Distances {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("cooccurrence distance must be positive, got %d", d))
		}
	}
	if p.Cooccurrence.Levels < 2 || p.Cooccurrence.Levels > 256 {
		errs = append(errs, "cooccurrence levels must be in 2..256")
	}
	s := p.Shape
	if s.Orientations <= 0 || s.CellSize <= 0 || s.BlockSize <= 0 {
		errs = append(errs, "shape orientations, cell_size and block_size must be positive")
	}
	if s.BlockNorm != "L2" && s.BlockNorm != "L2-Hys" {
		errs = append(errs, fmt.Sprintf("shape block_norm must be L2 or L2-Hys, got %q", s.BlockNorm))
	}
	in := p.Input
	if in.MinWidth <= 0 || in.MinHeight <= 0 {
		errs = append(errs, "input min size must be positive")
	}
	if (in.WorkWidth == 0) != (in.WorkHeight == 0) || in.WorkWidth < 0 || in.WorkHeight < 0 {
		errs = append(errs, "input work size must be both zero or both positive")
	}
	if in.WorkWidth > 0 && s.CellSize > 0 && s.BlockSize > 0 {
		if in.WorkWidth/s.CellSize < s.BlockSize || in.WorkHeight/s.CellSize < s.BlockSize {
			errs = append(errs, fmt.Sprintf("work size %dx%d is too small for %d-cell blocks of %dpx cells",
				in.WorkWidth, in.WorkHeight, s.BlockSize, s.CellSize))
		}
	}
	if p.Color.BGRBins <= 0 || p.Color.HSVBins <= 0 {
		errs = append(errs, "color bins must be positive")
	}
	return errs
}

// Fingerprint returns a stable hash of the pipeline configuration and the
// feature layout version.
func (p Pipeline) Fingerprint() string {
	b, err := json.Marshal(struct {
		Layout   int      `json:"layout"`
		Pipeline Pipeline `json:"pipeline"`
	}{FeatureLayoutVersion, p})
	if err != nil {
		// Pipeline only holds plain values; Marshal cannot fail.
		panic(err)
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Load reads and parses a YAML configuration file. Missing sections keep
// their defaults; secrets may be overridden from the environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	cfg.applyEnv()
	if errs := cfg.Pipeline.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid pipeline config in %s: %s", path, strings.Join(errs, "; "))
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to DefaultConfig.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnv()
		return cfg, nil
	}
	return Load(path)
}

// Save marshals cfg and writes it to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create config dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PRODUCTFINDER_CATALOG_DSN"); v != "" {
		c.Service.Catalog.DSN = v
	}
	if v := os.Getenv("PRODUCTFINDER_S3_ACCESS_KEY"); v != "" {
		c.Service.Blob.AccessKey = v
	}
	if v := os.Getenv("PRODUCTFINDER_S3_SECRET_KEY"); v != "" {
		c.Service.Blob.SecretKey = v
	}
}
