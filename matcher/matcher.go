// Package matcher owns the catalog index: it builds it lazily, persists it,
// swaps in rebuilt snapshots and answers identification queries.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"sync/atomic"

	"productfinder/imageprocessor"
	"productfinder/index"
	"productfinder/logging"
	"productfinder/scanner"
	"productfinder/types"
)

// Catalog lists reference entries and resolves products.
type Catalog interface {
	Entries(ctx context.Context, exclude map[int64]bool) ([]types.CatalogEntry, error)
	Product(ctx context.Context, id int64) (*types.Product, error)
}

// FeatureStore is implemented by catalogs that can keep extracted vectors,
// so index builds only extract entries that have none for the current
// pipeline fingerprint.
type FeatureStore interface {
	StoredFeatures(ctx context.Context, fingerprint string) (map[int64][]float64, error)
	SaveFeatures(ctx context.Context, entryID int64, fingerprint string, vec []float64) error
}

// Options tunes a Matcher.
type Options struct {
	TopK           int       // candidates returned by Identify; 0 means 5
	Workers        int       // parallel extractions during builds; 0 picks a CPU based default
	RejectNoObject bool      // fail Identify with ErrNoObject when nothing was segmented
	Progress       io.Writer // build progress display; nil disables it
}

// Matcher answers queries against the last fully built catalog index.
// Readers never block on a rebuild: a new index is built off to the side
// and published with an atomic swap.
type Matcher struct {
	pipeline *imageprocessor.Pipeline
	catalog  Catalog
	blobs    scanner.BlobReader
	cache    *index.Cache
	opts     Options

	current atomic.Pointer[index.Index]
	buildMu sync.Mutex
}

// New returns a matcher. cache may be nil to disable persistence.
func New(p *imageprocessor.Pipeline, catalog Catalog, blobs scanner.BlobReader, cache *index.Cache, opts Options) *Matcher {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Matcher{pipeline: p, catalog: catalog, blobs: blobs, cache: cache, opts: opts}
}

// Snapshot returns the published index, or nil before the first build.
func (m *Matcher) Snapshot() *index.Index { return m.current.Load() }

// Index returns the unfiltered index, loading it from the cache or building
// it from the catalog on first use.
func (m *Matcher) Index(ctx context.Context) (*index.Index, error) {
	if ix := m.current.Load(); ix != nil {
		return ix, nil
	}
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	if ix := m.current.Load(); ix != nil {
		return ix, nil
	}

	if m.cache != nil {
		ix, err := m.cache.Load(m.pipeline.Fingerprint())
		if err == nil {
			err = m.checkCatalog(ctx, ix)
		}
		switch {
		case err == nil:
			logging.LogInfo("Loaded cached catalog index from %s (%d entries, dim %d)", m.cache.Path(), ix.Len(), ix.Dim())
			m.current.Store(ix)
			return ix, nil
		case errors.Is(err, fs.ErrNotExist):
			logging.DebugLog("No cached catalog index: %v", err)
		case errors.Is(err, index.ErrStaleCache):
			logging.LogInfo("Cached catalog index is stale, rebuilding: %v", err)
		default:
			logging.LogWarning("Cached catalog index unusable, rebuilding: %v", err)
		}
	}
	return m.rebuildLocked(ctx)
}

// checkCatalog reports ErrStaleCache when the catalog listing no longer
// matches the one ix was built from.
func (m *Matcher) checkCatalog(ctx context.Context, ix *index.Index) error {
	entries, err := m.catalog.Entries(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot list catalog entries: %w", err)
	}
	if sig := index.CatalogSignature(entries); sig != ix.Catalog() {
		return fmt.Errorf("%w: catalog changed since the index was built (%d entries listed, %d indexed)", index.ErrStaleCache, len(entries), ix.Len())
	}
	return nil
}

// Rebuild builds a fresh unfiltered index from the catalog, persists it and
// publishes it. On failure the previous index stays published.
func (m *Matcher) Rebuild(ctx context.Context) (*index.Index, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	return m.rebuildLocked(ctx)
}

func (m *Matcher) rebuildLocked(ctx context.Context) (*index.Index, error) {
	ix, err := m.build(ctx, nil, false)
	if err != nil {
		return nil, err
	}
	if m.cache != nil {
		if err := m.cache.Save(ix); err != nil {
			logging.LogWarning("Cannot persist catalog index: %v", err)
		} else {
			logging.DebugLog("Persisted catalog index to %s", m.cache.Path())
		}
	}
	m.current.Store(ix)
	logging.LogInfo("Built catalog index: %d entries, dim %d", ix.Len(), ix.Dim())
	return ix, nil
}

// Invalidate drops the published index and deletes the persisted artifact.
// The next query rebuilds from the catalog.
func (m *Matcher) Invalidate() error {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	m.current.Store(nil)
	if m.cache == nil {
		return nil
	}
	if err := m.cache.Invalidate(); err != nil {
		return err
	}
	logging.LogInfo("Invalidated catalog index cache %s", m.cache.Path())
	return nil
}

// Query ranks catalog entries by distance to vec. Entries of products in
// exclude never appear; such queries use a private index that is never
// cached, seeded from the shared one. k <= 0 uses the configured TopK.
func (m *Matcher) Query(ctx context.Context, vec []float64, exclude map[int64]bool, k int) (types.QueryResult, error) {
	if k <= 0 {
		k = m.opts.TopK
	}
	ix, err := m.searchIndex(ctx, exclude)
	if err != nil {
		return nil, err
	}
	res, err := ix.Query(vec, k)
	if err != nil {
		return nil, fmt.Errorf("query does not fit the catalog index: %w", err)
	}
	return res, nil
}

func (m *Matcher) searchIndex(ctx context.Context, exclude map[int64]bool) (*index.Index, error) {
	active := make(map[int64]bool, len(exclude))
	for id, skip := range exclude {
		if skip {
			active[id] = true
		}
	}
	if len(active) == 0 {
		return m.Index(ctx)
	}
	if m.current.Load() == nil {
		if _, err := m.Index(ctx); err != nil && !errors.Is(err, index.ErrCatalogEmpty) {
			return nil, err
		}
	}
	return m.build(ctx, active, true)
}

// Identify runs the pipeline on an encoded photo and returns the nearest
// catalog product together with the pipeline result.
func (m *Matcher) Identify(ctx context.Context, data []byte, exclude map[int64]bool) (*types.Identification, *imageprocessor.Result, error) {
	res, err := m.pipeline.ProcessBytes(data)
	if err != nil {
		return nil, nil, err
	}
	if res.NoObject {
		if m.opts.RejectNoObject {
			return nil, res, imageprocessor.ErrNoObject
		}
		logging.DebugLog("Identify: no object segmented, matching on the whole frame")
	}

	candidates, err := m.Query(ctx, res.Vector, exclude, m.opts.TopK)
	if err != nil {
		return nil, res, err
	}
	best, ok := candidates.Best()
	if !ok {
		return nil, res, index.ErrCatalogEmpty
	}

	id := &types.Identification{
		Best:       best,
		Candidates: candidates,
		NoObject:   res.NoObject,
		Quality:    res.Quality.Score,
	}
	p, err := m.catalog.Product(ctx, best.ProductID)
	if err != nil {
		logging.LogWarning("Cannot resolve product %d of entry %d: %v", best.ProductID, best.EntryID, err)
	} else {
		id.Product = p
	}
	return id, res, nil
}

// build indexes the catalog entries outside exclude. Vectors come from the
// published snapshot (when reuseSnapshot is set), then from the feature
// store, and are extracted in parallel for the rest. Entries whose image
// cannot be processed are logged and left out.
func (m *Matcher) build(ctx context.Context, exclude map[int64]bool, reuseSnapshot bool) (*index.Index, error) {
	entries, err := m.catalog.Entries(ctx, exclude)
	if err != nil {
		return nil, fmt.Errorf("cannot list catalog entries: %w", err)
	}
	if len(entries) == 0 {
		return nil, index.ErrCatalogEmpty
	}

	fp := m.pipeline.Fingerprint()
	dim := m.pipeline.Dim()
	have := make(map[int64][]float64, len(entries))

	if snap := m.current.Load(); reuseSnapshot && snap != nil && snap.Fingerprint() == fp {
		for _, e := range entries {
			if v, ok := snap.Vector(e.EntryID); ok {
				have[e.EntryID] = v
			}
		}
	}

	store, hasStore := m.catalog.(FeatureStore)
	if hasStore && len(have) < len(entries) {
		stored, err := store.StoredFeatures(ctx, fp)
		if err != nil {
			logging.LogWarning("Cannot read stored features: %v", err)
		}
		for id, v := range stored {
			if _, ok := have[id]; ok {
				continue
			}
			if dim > 0 && len(v) != dim {
				logging.LogWarning("Ignoring stored features of entry %d: length %d, want %d", id, len(v), dim)
				continue
			}
			have[id] = v
		}
	}

	var missing []types.CatalogEntry
	for _, e := range entries {
		if _, ok := have[e.EntryID]; !ok {
			missing = append(missing, e)
		}
	}
	if len(missing) > 0 {
		logging.DebugLog("Extracting features of %d of %d catalog entries", len(missing), len(entries))
	}
	for _, o := range scanner.ExtractFeatures(ctx, m.pipeline, m.blobs, missing, m.opts.Workers, m.opts.Progress) {
		if o.Err != nil {
			logging.LogWarning("Skipping catalog entry %d: %v", o.Entry.EntryID, o.Err)
			continue
		}
		if o.Result.NoObject {
			logging.DebugLog("Catalog entry %d (%s): no object segmented", o.Entry.EntryID, o.Entry.StorageKey)
		}
		have[o.Entry.EntryID] = o.Result.Vector
		if hasStore {
			if err := store.SaveFeatures(ctx, o.Entry.EntryID, fp, o.Result.Vector); err != nil {
				logging.LogWarning("Cannot store features of entry %d: %v", o.Entry.EntryID, err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kept := make([]types.CatalogEntry, 0, len(entries))
	vectors := make([][]float64, 0, len(entries))
	for _, e := range entries {
		if v, ok := have[e.EntryID]; ok {
			kept = append(kept, e)
			vectors = append(vectors, v)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: none of %d entries could be processed", index.ErrCatalogEmpty, len(entries))
	}
	ix, err := index.Build(kept, vectors, fp)
	if err != nil {
		return nil, err
	}
	return ix.WithCatalog(index.CatalogSignature(entries)), nil
}
