// Package scanner ingests reference images into the catalog and extracts
// their features in parallel.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"productfinder/logging"
	"productfinder/signalhandler"
)

// ScanAndStoreFolder imports a reference tree: every subdirectory of
// options.FolderPath is a product and its images become catalog entries.
// Images are copied into blobs; keys already registered are skipped unless
// ForceRewrite is set.
func ScanAndStoreFolder(ctx context.Context, cat Catalog, blobs BlobWriter, options ScanOptions) (*Summary, error) {
	logging.DebugLog("Starting catalog import from folder: %s", options.FolderPath)
	products, stats, err := discoverProducts(options.FolderPath)
	if err != nil {
		return nil, err
	}
	printStartupInfo(options.Progress, stats, options)

	var wg sync.WaitGroup
	resultsChan := make(chan ProcessImageResult, 100)
	semaphore := make(chan struct{}, workerCount(options.MaxWorkers))
	tracker := NewProgressTracker(stats.totalFiles, options.Progress, resultsChan)

	startTime := time.Now()
	summary := &Summary{}
	var walkErr error

products:
	for _, pd := range products {
		// EnsureProduct only runs on this goroutine.
		productID, err := cat.EnsureProduct(ctx, pd.name)
		if err != nil {
			walkErr = fmt.Errorf("cannot register product %s: %w", pd.name, err)
			break
		}
		summary.Products++

		for _, rel := range pd.files {
			if ctx.Err() != nil {
				walkErr = ctx.Err()
				break products
			}
			wg.Add(1)
			semaphore <- struct{}{}

			go func(product, rel string) {
				defer wg.Done()
				defer func() { <-semaphore }()
				resultsChan <- importImage(ctx, cat, blobs, productID, product, rel, options)
			}(pd.name, rel)
		}
	}

	wg.Wait()
	close(resultsChan)
	tracker.Stop()

	processed, skipped, errors := tracker.Counts()
	summary.Imported = processed - skipped - errors
	summary.Skipped = skipped
	summary.Errors = errors
	summary.Elapsed = time.Since(startTime)
	printCompletionStats(options.Progress, summary)
	return summary, walkErr
}

// importImage copies one file into the blob store and registers it.
func importImage(ctx context.Context, cat Catalog, blobs BlobWriter, productID int64, product, rel string, options ScanOptions) ProcessImageResult {
	path := filepath.Join(options.FolderPath, product, filepath.FromSlash(rel))
	key := storageKey(options.KeyPrefix, product, rel)
	result := ProcessImageResult{Path: key}

	exists, err := cat.EntryExists(ctx, key)
	if err != nil {
		result.Error = err
		return result
	}
	if exists && !options.ForceRewrite {
		if options.DebugMode {
			logging.DebugLog("Skipping registered image: %s", key)
		}
		result.Success, result.Skipped = true, true
		return result
	}

	data, err := os.ReadFile(path)
	if err != nil {
		result.Error = fmt.Errorf("cannot read file %s: %w", path, err)
		return result
	}
	if err := blobs.Put(ctx, key, data); err != nil {
		result.Error = err
		return result
	}

	if exists {
		if err := cat.ResetFeatures(ctx, key); err != nil {
			result.Error = err
			return result
		}
	} else if _, err := cat.AddEntry(ctx, productID, key); err != nil {
		result.Error = err
		return result
	}

	result.Success = true
	return result
}

func workerCount(n int) int {
	if n > 0 {
		return n
	}
	return signalhandler.GetOptimalProcs()
}
