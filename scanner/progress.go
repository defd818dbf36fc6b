package scanner

import (
	"fmt"
	"io"
	"time"

	"productfinder/logging"
)

// NewProgressTracker consumes resultsChan until it is closed and, when out
// is not nil, periodically prints the progress to it.
func NewProgressTracker(total int, out io.Writer, resultsChan <-chan ProcessImageResult) *ProgressTracker {
	tracker := &ProgressTracker{
		ticker:     time.NewTicker(500 * time.Millisecond),
		done:       make(chan bool),
		drained:    make(chan struct{}),
		totalFiles: total,
		out:        out,
	}

	go tracker.displayProgress()
	go tracker.processResults(resultsChan)

	return tracker
}

// displayProgress shows the progress periodically
func (p *ProgressTracker) displayProgress() {
	for {
		select {
		case <-p.done:
			return
		case <-p.ticker.C:
			if p.out == nil {
				continue
			}
			p.mu.Lock()
			if p.errors > 0 {
				fmt.Fprintf(p.out, "\rProgress: %d/%d (Skipped: %d, Errors: %d)", p.processed, p.totalFiles, p.skipped, p.errors)
			} else {
				fmt.Fprintf(p.out, "\rProgress: %d/%d (Skipped: %d)", p.processed, p.totalFiles, p.skipped)
			}
			p.mu.Unlock()
		}
	}
}

// processResults updates the tracker state based on processing results
func (p *ProgressTracker) processResults(resultsChan <-chan ProcessImageResult) {
	defer close(p.drained)
	for result := range resultsChan {
		p.mu.Lock()
		p.processed++
		switch {
		case !result.Success:
			p.errors++
			msg := "unknown error"
			if result.Error != nil {
				msg = result.Error.Error()
			}
			logging.LogImageProcessed(result.Path, false, msg)
		case result.Skipped:
			p.skipped++
		default:
			logging.LogImageProcessed(result.Path, true, "")
		}
		p.mu.Unlock()
	}
}

// Stop waits for the results channel to be drained and ends the display.
// The results channel must be closed before calling Stop.
func (p *ProgressTracker) Stop() {
	<-p.drained
	p.ticker.Stop()
	p.done <- true
}

// Counts returns processed, skipped and failed totals.
func (p *ProgressTracker) Counts() (processed, skipped, errors int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, p.skipped, p.errors
}

// printStartupInfo displays information about the import before starting
func printStartupInfo(out io.Writer, stats FileStats, options ScanOptions) {
	if out == nil {
		return
	}
	fmt.Fprintf(out, "Starting catalog import...\nProducts: %d, image files to process: %d\n", stats.products, stats.totalFiles)
	fmt.Fprintf(out, "Force rewrite mode: %v\n", options.ForceRewrite)
	if options.KeyPrefix != "" {
		fmt.Fprintf(out, "Storage key prefix: %s\n", options.KeyPrefix)
	}
	if options.DebugMode {
		fmt.Fprintf(out, "Debug mode: enabled\n")
	}
}

// printCompletionStats displays statistics after the import
func printCompletionStats(out io.Writer, s *Summary) {
	logging.DebugLog("Import completed in %v. Imported: %d, Skipped: %d, Errors: %d", s.Elapsed, s.Imported, s.Skipped, s.Errors)
	if out == nil {
		return
	}
	fmt.Fprintln(out, "\nImport complete.")
	fmt.Fprintf(out, "Imported %d images (%d skipped) for %d products in %v.\n",
		s.Imported, s.Skipped, s.Products, s.Elapsed.Round(time.Second))
	if s.Errors > 0 {
		fmt.Fprintf(out, "Encountered %d errors during import.\n", s.Errors)
		fmt.Fprintln(out, "Check the log file for details.")
	}
}
