package index

import (
	"errors"
	"fmt"
)

var (
	// ErrCatalogEmpty means there is nothing to match against.
	ErrCatalogEmpty = errors.New("no catalog data")
	// ErrDimensionMismatch is a hard fault: vectors built under different
	// configurations are not comparable.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")
	// ErrCacheCorrupt marks an unreadable or incompatible cache artifact.
	ErrCacheCorrupt = errors.New("index cache corrupt")
	// ErrStaleCache marks a readable artifact built under another configuration.
	ErrStaleCache = errors.New("index cache is stale")
)

// DimensionMismatchError reports the expected and actual vector lengths.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: index expects %d values, got %d (was the catalog built with another configuration?)",
		ErrDimensionMismatch, e.Want, e.Got)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CacheError describes why a cache artifact could not be used.
type CacheError struct {
	Path string
	Err  error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCacheCorrupt, e.Path, e.Err)
}

func (e *CacheError) Unwrap() []error {
	return []error{ErrCacheCorrupt, e.Err}
}
