package cmd

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"productfinder/config"
	"productfinder/imageprocessor"
	"productfinder/index"
	"productfinder/scanner"
	"productfinder/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "productfinder.yaml")

	if _, err := execute(t, "config", "init", "--config", path, "--preset", "fast", "--force=false"); err != nil {
		t.Fatalf("config init: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.Input.WorkWidth != 96 {
		t.Fatalf("expected fast preset work width 96, got %d", cfg.Pipeline.Input.WorkWidth)
	}

	if _, err := execute(t, "config", "init", "--config", path, "--preset", "detailed", "--force=false"); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}

	if _, err := execute(t, "config", "init", "--config", path, "--preset", "detailed", "--force"); err != nil {
		t.Fatalf("config init --force: %v", err)
	}
	cfg, err = config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.Texture.Points != 16 {
		t.Fatalf("expected detailed preset, got %d texture points", cfg.Pipeline.Texture.Points)
	}

	if _, err := execute(t, "config", "init", "--config", path, "--preset", "huge", "--force"); err == nil {
		t.Fatalf("expected error for unknown preset")
	}
}

func TestDims(t *testing.T) {
	path := filepath.Join(t.TempDir(), "productfinder.yaml")
	cfg := config.DefaultConfig()
	p, err := config.Preset("fast")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	cfg.Pipeline = p
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := execute(t, "dims", "--config", path, "--preset=")
	if err != nil {
		t.Fatalf("dims: %v", err)
	}

	pipeline, err := imageprocessor.New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, s := range pipeline.Layout() {
		if !strings.Contains(out, s.Name) {
			t.Fatalf("extractor %s missing from output:\n%s", s.Name, out)
		}
	}
	m := regexp.MustCompile(`total\s+(\d+)`).FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("no total line in output:\n%s", out)
	}
	if got, _ := strconv.Atoi(m[1]); got != pipeline.Dim() {
		t.Fatalf("total = %d, want %d", got, pipeline.Dim())
	}
	if !strings.Contains(out, "96x96") {
		t.Fatalf("working size missing from output:\n%s", out)
	}

	if _, err := execute(t, "dims", "--config", path, "--preset", "huge"); err == nil {
		t.Fatalf("expected error for unknown preset")
	}
}

func TestShortFingerprint(t *testing.T) {
	if got := shortFingerprint("abc"); got != "abc" {
		t.Fatalf("shortFingerprint(abc) = %q", got)
	}
	if got := shortFingerprint(strings.Repeat("f", 64)); len(got) != 12 {
		t.Fatalf("shortFingerprint length = %d", len(got))
	}
}

func TestInvalidateAfterScan(t *testing.T) {
	c := index.NewCache(t.TempDir())
	ix, err := index.Build([]types.CatalogEntry{{EntryID: 1, ProductID: 1, StorageKey: "a.png"}}, [][]float64{{1, 2}}, "fp")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := c.Save(ix); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for name, summary := range map[string]*scanner.Summary{
		"no summary":  nil,
		"nothing new":  {Skipped: 3, Errors: 1},
	} {
		if invalidateAfterScan(c, summary) {
			t.Fatalf("%s: cache invalidated", name)
		}
		if _, err := os.Stat(c.Path()); err != nil {
			t.Fatalf("%s: artifact removed: %v", name, err)
		}
	}

	// A scan that failed part way still reports what it registered.
	if !invalidateAfterScan(c, &scanner.Summary{Imported: 2, Errors: 5}) {
		t.Fatalf("cache kept after import")
	}
	if _, err := os.Stat(c.Path()); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("artifact still present: %v", err)
	}
}
