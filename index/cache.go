package index

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"productfinder/types"

	"github.com/gofrs/flock"
	"gonum.org/v1/gonum/mat"
)

// FormatVersion is the layout version of the cache artifact.
const FormatVersion = 2

const (
	artifactName = "catalog-index"
	manifestFile = "manifest.json"
	entriesFile  = "entries.jsonl"
	vectorFile   = "features.f64"
	lockTimeout  = 10 * time.Second
)

// Manifest describes a persisted index.
type Manifest struct {
	FormatVersion int        `json:"format_version"`
	Fingerprint   string     `json:"fingerprint"`
	Catalog       string     `json:"catalog_signature"`
	Dim           int        `json:"dim"`
	Rows          int        `json:"rows"`
	CreatedAt     string     `json:"created_at"`
	Metric        string     `json:"metric"`
	Algorithm     string     `json:"algorithm"`
	Normalizer    Normalizer `json:"normalizer"`
	EntriesFile   string     `json:"entries_file"`
	VectorFile    string     `json:"vector_file"`
}

// Cache persists the unfiltered catalog index under Dir.
type Cache struct {
	Dir string
}

// NewCache returns a cache rooted at dir.
func NewCache(dir string) *Cache {
	return &Cache{Dir: dir}
}

// Path is the artifact directory.
func (c *Cache) Path() string {
	return filepath.Join(c.Dir, artifactName)
}

// Save writes ix to a fresh directory and swaps it into place.
func (c *Cache) Save(ix *Index) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("cannot create cache dir %s: %w", c.Dir, err)
	}
	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.MkdirTemp(c.Dir, ".build-")
	if err != nil {
		return fmt.Errorf("cannot create staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := write(tmp, ix); err != nil {
		return err
	}
	return AtomicSwap(tmp, c.Path())
}

// Load reads the artifact. It returns an error wrapping fs.ErrNotExist when
// there is none, a *CacheError for unreadable or version-mismatched
// artifacts and ErrStaleCache when fingerprint differs.
func (c *Cache) Load(fingerprint string) (*Index, error) {
	dir := c.Path()
	b, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no cached index in %s: %w", dir, err)
	}
	if err != nil {
		return nil, &CacheError{Path: dir, Err: err}
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, &CacheError{Path: dir, Err: fmt.Errorf("invalid manifest JSON: %w", err)}
	}
	if m.FormatVersion != FormatVersion {
		return nil, &CacheError{Path: dir, Err: fmt.Errorf("format version %d, want %d", m.FormatVersion, FormatVersion)}
	}
	if m.Fingerprint != fingerprint {
		return nil, fmt.Errorf("%w: built for %.12s, current configuration is %.12s", ErrStaleCache, m.Fingerprint, fingerprint)
	}
	if m.Dim <= 0 || m.Rows <= 0 || len(m.Normalizer.Mean) != m.Dim || len(m.Normalizer.Std) != m.Dim {
		return nil, &CacheError{Path: dir, Err: fmt.Errorf("inconsistent manifest (rows=%d dim=%d)", m.Rows, m.Dim)}
	}

	entries, err := loadEntries(filepath.Join(dir, m.EntriesFile))
	if err != nil {
		return nil, &CacheError{Path: dir, Err: err}
	}
	if len(entries) != m.Rows {
		return nil, &CacheError{Path: dir, Err: fmt.Errorf("manifest lists %d rows, entries file has %d", m.Rows, len(entries))}
	}
	data, err := loadVectors(filepath.Join(dir, m.VectorFile), m.Rows, m.Dim)
	if err != nil {
		return nil, &CacheError{Path: dir, Err: err}
	}
	ix := newIndex(entries, mat.NewDense(m.Rows, m.Dim, data), m.Normalizer, m.Fingerprint)
	ix.catalog = m.Catalog
	return ix, nil
}

// CatalogSignature hashes a catalog listing: the row count and, in order,
// every entry id, product id and storage key. Any import, deletion or
// re-keying changes it.
func CatalogSignature(entries []types.CatalogEntry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(h, "%d\t%d\t%s\n", e.EntryID, e.ProductID, e.StorageKey)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Invalidate deletes the artifact. A missing artifact is not an error.
func (c *Cache) Invalidate() error {
	if _, err := os.Stat(c.Dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.RemoveAll(c.Path()); err != nil {
		return fmt.Errorf("cannot remove cached index: %w", err)
	}
	return nil
}

// lock serializes writers across processes sharing the cache directory.
func (c *Cache) lock() (func(), error) {
	lockPath := filepath.Join(c.Dir, artifactName+".lock")
	l := flock.New(lockPath)
	deadline := time.Now().Add(lockTimeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return nil, fmt.Errorf("cannot acquire cache lock: %w", err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("another process holds the cache lock: %s", lockPath)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func write(dir string, ix *Index) error {
	rows, dim := ix.raw.Dims()
	m := Manifest{
		FormatVersion: FormatVersion,
		Fingerprint:   ix.fingerprint,
		Catalog:       ix.catalog,
		Dim:           dim,
		Rows:          rows,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		Metric:        "euclidean",
		Algorithm:     "brute",
		Normalizer:    ix.normalizer,
		EntriesFile:   entriesFile,
		VectorFile:    vectorFile,
	}
	mb, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), mb, 0o644); err != nil {
		return fmt.Errorf("cannot write manifest: %w", err)
	}

	ef, err := os.Create(filepath.Join(dir, entriesFile))
	if err != nil {
		return fmt.Errorf("cannot create entries file: %w", err)
	}
	bw := bufio.NewWriter(ef)
	enc := json.NewEncoder(bw)
	for _, e := range ix.entries {
		if err := enc.Encode(e); err != nil {
			_ = ef.Close()
			return fmt.Errorf("cannot write entries: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = ef.Close()
		return err
	}
	if err := ef.Close(); err != nil {
		return err
	}

	vf, err := os.Create(filepath.Join(dir, vectorFile))
	if err != nil {
		return fmt.Errorf("cannot create vectors file: %w", err)
	}
	if err := binary.Write(vf, binary.LittleEndian, ix.raw.RawMatrix().Data); err != nil {
		_ = vf.Close()
		return fmt.Errorf("cannot write vectors: %w", err)
	}
	return vf.Close()
}

func loadEntries(path string) ([]types.CatalogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open entries file %s: %w", path, err)
	}
	defer f.Close()

	var out []types.CatalogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e types.CatalogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("invalid entries JSONL %s: %w", path, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read entries file %s: %w", path, err)
	}
	return out, nil
}

func loadVectors(path string, rows, dim int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open vector file %s: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat vector file %s: %w", path, err)
	}
	expected := int64(rows * dim * 8)
	if st.Size() != expected {
		return nil, fmt.Errorf("vector file size mismatch: got %d want %d (rows=%d dim=%d)", st.Size(), expected, rows, dim)
	}
	out := make([]float64, rows*dim)
	if err := binary.Read(io.LimitReader(f, expected), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("cannot read vectors from %s: %w", path, err)
	}
	return out, nil
}

// AtomicSwap replaces destDir with srcDir by renaming.
func AtomicSwap(srcDir, destDir string) error {
	parent := filepath.Dir(destDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	backup := destDir + ".bak"
	_ = os.RemoveAll(backup)
	if _, err := os.Stat(destDir); err == nil {
		if err := os.Rename(destDir, backup); err != nil {
			return err
		}
	}
	if err := os.Rename(srcDir, destDir); err != nil {
		if _, stErr := os.Stat(backup); stErr == nil {
			_ = os.Rename(backup, destDir)
		}
		return err
	}
	_ = os.RemoveAll(backup)
	return nil
}
