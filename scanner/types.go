package scanner

import (
	"context"
	"io"
	"sync"
	"time"

	"productfinder/imageprocessor"
	"productfinder/types"
)

// ScanOptions defines the options for importing a reference folder
type ScanOptions struct {
	FolderPath   string
	KeyPrefix    string
	ForceRewrite bool
	DebugMode    bool
	MaxWorkers   int       // Optional worker limit
	Progress     io.Writer // Progress display; nil disables it
}

// Catalog is the part of the product catalog the import writes to.
type Catalog interface {
	EnsureProduct(ctx context.Context, name string) (int64, error)
	EntryExists(ctx context.Context, storageKey string) (bool, error)
	AddEntry(ctx context.Context, productID int64, storageKey string) (int64, error)
	ResetFeatures(ctx context.Context, storageKey string) error
}

// BlobReader reads encoded images by storage key.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// BlobWriter stores encoded images by storage key.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte) error
}

// ProcessImageResult holds the result of processing one image
type ProcessImageResult struct {
	Path    string
	Success bool
	Skipped bool
	Error   error
}

// Summary reports what an import did.
type Summary struct {
	Products int
	Imported int
	Skipped  int
	Errors   int
	Elapsed  time.Duration
}

// Outcome is the feature extraction result for one catalog entry.
type Outcome struct {
	Entry  types.CatalogEntry
	Result *imageprocessor.Result
	Err    error
}

// FileStats tracks information about files to be processed
type FileStats struct {
	totalFiles int
	products   int
}

// ProgressTracker tracks progress of a batch operation
type ProgressTracker struct {
	processed  int
	errors     int
	skipped    int
	ticker     *time.Ticker
	done       chan bool
	drained    chan struct{}
	mu         sync.Mutex
	totalFiles int
	out        io.Writer
}
