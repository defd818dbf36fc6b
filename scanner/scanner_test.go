package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"productfinder/blobstore"
	"productfinder/config"
	"productfinder/imageprocessor"
	"productfinder/types"
)

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]int64
	entries  map[string]int64
	resets   []string
	nextID   int64
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{products: map[string]int64{}, entries: map[string]int64{}}
}

func (c *fakeCatalog) EnsureProduct(_ context.Context, name string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.products[name]; ok {
		return id, nil
	}
	c.nextID++
	c.products[name] = c.nextID
	return c.nextID, nil
}

func (c *fakeCatalog) EntryExists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok, nil
}

func (c *fakeCatalog) AddEntry(_ context.Context, productID int64, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return 0, fmt.Errorf("duplicate key %s", key)
	}
	c.nextID++
	c.entries[key] = productID
	return c.nextID, nil
}

func (c *fakeCatalog) ResetFeatures(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets = append(c.resets, key)
	return nil
}

func discPNG(t *testing.T, size, radius int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	c := size / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			col := color.RGBA{0, 0, 0, 255}
			if (x-c)*(x-c)+(y-c)*(y-c) <= radius*radius {
				col = color.RGBA{230, 120, 40, 255}
			}
			img.Set(x, y, col)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestScanAndStoreFolder(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	img := discPNG(t, 64, 20)
	writeFile(t, filepath.Join(root, "apple", "1.png"), img)
	writeFile(t, filepath.Join(root, "apple", "side", "2.png"), img)
	writeFile(t, filepath.Join(root, "apple", "notes.txt"), []byte("not an image"))
	writeFile(t, filepath.Join(root, "pear", "1.png"), img)
	writeFile(t, filepath.Join(root, "stray.png"), img)
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	blobs, err := blobstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	cat := newFakeCatalog()
	opts := ScanOptions{FolderPath: root, KeyPrefix: "ref", MaxWorkers: 2}

	s, err := ScanAndStoreFolder(ctx, cat, blobs, opts)
	if err != nil {
		t.Fatalf("ScanAndStoreFolder: %v", err)
	}
	if s.Products != 2 || s.Imported != 3 || s.Skipped != 0 || s.Errors != 0 {
		t.Fatalf("unexpected summary %+v", s)
	}
	for _, key := range []string{"ref/apple/1.png", "ref/apple/side/2.png", "ref/pear/1.png"} {
		if _, ok := cat.entries[key]; !ok {
			t.Fatalf("entry %s not registered", key)
		}
		got, err := blobs.Get(ctx, key)
		if err != nil || !bytes.Equal(got, img) {
			t.Fatalf("blob %s not copied: %v", key, err)
		}
	}
	if cat.entries["ref/pear/1.png"] != cat.products["pear"] {
		t.Fatalf("entry registered under the wrong product")
	}

	s, err = ScanAndStoreFolder(ctx, cat, blobs, opts)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if s.Imported != 0 || s.Skipped != 3 {
		t.Fatalf("rescan should skip registered keys: %+v", s)
	}

	opts.ForceRewrite = true
	s, err = ScanAndStoreFolder(ctx, cat, blobs, opts)
	if err != nil {
		t.Fatalf("forced scan: %v", err)
	}
	if s.Imported != 3 || len(cat.resets) != 3 {
		t.Fatalf("forced scan should re-import and reset features: %+v, resets %v", s, cat.resets)
	}
}

func TestScanAndStoreFolder_MissingFolder(t *testing.T) {
	blobs, _ := blobstore.NewFileStore(t.TempDir())
	_, err := ScanAndStoreFolder(context.Background(), newFakeCatalog(), blobs,
		ScanOptions{FolderPath: filepath.Join(t.TempDir(), "nope")})
	if err == nil {
		t.Fatalf("expected error for missing folder")
	}
}

func TestExtractFeatures_KeepsOrderAndReportsFailures(t *testing.T) {
	ctx := context.Background()
	blobs, err := blobstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := blobs.Put(ctx, "a.png", discPNG(t, 64, 20)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := blobs.Put(ctx, "b.png", discPNG(t, 64, 12)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := blobs.Put(ctx, "bad.png", []byte("garbage")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	p, err := imageprocessor.New(config.DefaultPipeline())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entries := []types.CatalogEntry{
		{EntryID: 1, ProductID: 1, StorageKey: "a.png"},
		{EntryID: 2, ProductID: 1, StorageKey: "missing.png"},
		{EntryID: 3, ProductID: 2, StorageKey: "b.png"},
		{EntryID: 4, ProductID: 2, StorageKey: "bad.png"},
	}
	out := ExtractFeatures(ctx, p, blobs, entries, 3, nil)
	if len(out) != len(entries) {
		t.Fatalf("got %d outcomes", len(out))
	}
	for i, o := range out {
		if o.Entry != entries[i] {
			t.Fatalf("outcome %d belongs to %+v", i, o.Entry)
		}
	}
	if out[0].Err != nil || out[2].Err != nil {
		t.Fatalf("unexpected failures: %v, %v", out[0].Err, out[2].Err)
	}
	if len(out[0].Result.Vector) != p.Dim() || len(out[2].Result.Vector) != p.Dim() {
		t.Fatalf("vector length differs from Dim()")
	}
	if !errors.Is(out[1].Err, blobstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", out[1].Err)
	}
	if !errors.Is(out[3].Err, imageprocessor.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", out[3].Err)
	}
}

func TestExtractFeatures_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := imageprocessor.New(config.DefaultPipeline())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	blobs, _ := blobstore.NewFileStore(t.TempDir())
	out := ExtractFeatures(ctx, p, blobs, []types.CatalogEntry{{EntryID: 1, StorageKey: "a.png"}}, 1, nil)
	if !errors.Is(out[0].Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", out[0].Err)
	}
}
