package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPipeline_Valid(t *testing.T) {
	for _, name := range []string{"fast", "balanced", "detailed"} {
		p, err := Preset(name)
		if err != nil {
			t.Fatalf("Preset(%s): %v", name, err)
		}
		if errs := p.Validate(); len(errs) != 0 {
			t.Fatalf("preset %s invalid: %v", name, errs)
		}
	}
}

func TestValidate_RejectsEvenKernel(t *testing.T) {
	p := DefaultPipeline()
	p.Preprocessing.KernelWidth = 4
	errs := p.Validate()
	if len(errs) != 1 || !strings.Contains(errs[0], "odd") {
		t.Fatalf("expected a single odd-kernel error, got %v", errs)
	}
}

func TestValidate_RejectsOversizedGrid(t *testing.T) {
	p := DefaultPipeline()
	p.Input.WorkWidth, p.Input.WorkHeight = 16, 16
	p.Shape.CellSize = 16
	p.Shape.BlockSize = 2
	if errs := p.Validate(); len(errs) == 0 {
		t.Fatalf("expected grid error")
	}
}

func TestFingerprint_ChangesWithShapeGeometry(t *testing.T) {
	a := DefaultPipeline()
	b := DefaultPipeline()
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("equal configs must share a fingerprint")
	}
	b.Shape.CellSize = 8
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("fingerprint did not change with cell size")
	}
}

func TestLoad_MergesDefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	body := "pipeline:\n  shape:\n    orientations: 12\n    cell_size: 16\n    block_size: 2\n    block_norm: L2-Hys\nservice:\n  blob:\n    kind: s3\n    bucket: dataset\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PRODUCTFINDER_S3_SECRET_KEY", "fromenv")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.Shape.Orientations != 12 || cfg.Pipeline.Shape.BlockNorm != "L2-Hys" {
		t.Fatalf("shape not loaded: %+v", cfg.Pipeline.Shape)
	}
	if cfg.Pipeline.Texture.Points != 8 {
		t.Fatalf("texture default lost: %+v", cfg.Pipeline.Texture)
	}
	if cfg.Service.Blob.Bucket != "dataset" || cfg.Service.Blob.SecretKey != "fromenv" {
		t.Fatalf("unexpected blob settings: %+v", cfg.Service.Blob)
	}
}

func TestLoad_InvalidPipeline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	if err := os.WriteFile(path, []byte("pipeline:\n  preprocessing:\n    kernel_width: 6\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestSaveAndLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", DefaultFileName)

	cfg, err := LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	cfg.Service.TopK = 3
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	again, err := LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if again.Service.TopK != 3 {
		t.Fatalf("top_k not persisted: %d", again.Service.TopK)
	}
	if again.Pipeline.Fingerprint() != cfg.Pipeline.Fingerprint() {
		t.Fatalf("pipeline changed across save/load")
	}
}
