package scanner

import (
	"context"
	"fmt"
	"io"
	"sync"

	"productfinder/imageprocessor"
	"productfinder/types"
)

// ExtractFeatures runs pipeline over the stored image of every entry with at
// most workers concurrent extractions. Outcomes keep the order of entries;
// a failed entry carries its error and a nil Result.
func ExtractFeatures(ctx context.Context, pipeline *imageprocessor.Pipeline, blobs BlobReader, entries []types.CatalogEntry, workers int, progress io.Writer) []Outcome {
	outcomes := make([]Outcome, len(entries))
	if len(entries) == 0 {
		return outcomes
	}

	var wg sync.WaitGroup
	resultsChan := make(chan ProcessImageResult, 100)
	semaphore := make(chan struct{}, workerCount(workers))
	tracker := NewProgressTracker(len(entries), progress, resultsChan)

	for i, e := range entries {
		outcomes[i].Entry = e
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(i int, e types.CatalogEntry) {
			defer wg.Done()
			defer func() { <-semaphore }()

			res, err := extractEntry(ctx, pipeline, blobs, e)
			outcomes[i].Result, outcomes[i].Err = res, err
			resultsChan <- ProcessImageResult{Path: e.StorageKey, Success: err == nil, Error: err}
		}(i, e)
	}

	wg.Wait()
	close(resultsChan)
	tracker.Stop()
	if progress != nil {
		fmt.Fprintln(progress)
	}
	return outcomes
}

func extractEntry(ctx context.Context, pipeline *imageprocessor.Pipeline, blobs BlobReader, e types.CatalogEntry) (*imageprocessor.Result, error) {
	data, err := blobs.Get(ctx, e.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", e.EntryID, err)
	}
	res, err := pipeline.ProcessBytes(data)
	if err != nil {
		return nil, fmt.Errorf("entry %d (%s): %w", e.EntryID, e.StorageKey, err)
	}
	return res, nil
}
