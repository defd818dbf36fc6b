package cmd

import (
	"fmt"
	"os"

	"productfinder/index"
	"productfinder/scanner"
	"productfinder/signalhandler"

	"github.com/spf13/cobra"
)

var (
	flagScanFolder  string
	flagScanPrefix  string
	flagScanForce   bool
	flagScanWorkers int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Import a folder of reference images into the catalog",
	Long: `Each immediate subdirectory of --folder is a product named after the
directory. Its images are copied into the blob store and registered as
catalog entries.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringVar(&flagScanFolder, "folder", "", "Folder with one subdirectory per product")
	scanCmd.Flags().StringVar(&flagScanPrefix, "prefix", "", "Storage key prefix")
	scanCmd.Flags().BoolVar(&flagScanForce, "force", false, "Re-import images that are already registered")
	scanCmd.Flags().IntVar(&flagScanWorkers, "workers", 0, "Parallel imports (0 = automatic)")
	_ = scanCmd.MarkFlagRequired("folder")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signalhandler.Context(cmd.Context())
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	workers := flagScanWorkers
	if workers <= 0 {
		workers = a.cfg.Service.Workers
	}
	summary, err := scanner.ScanAndStoreFolder(ctx, a.catalog, a.blobs, scanner.ScanOptions{
		FolderPath:   flagScanFolder,
		KeyPrefix:    flagScanPrefix,
		ForceRewrite: flagScanForce,
		DebugMode:    flagDebug,
		MaxWorkers:   workers,
		Progress:     os.Stdout,
	})
	// An interrupted or failed scan may still have registered entries.
	invalidateAfterScan(a.cache(), summary)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if stats, err := a.catalog.GetStats(ctx); err == nil {
		printOK("catalog", fmt.Sprintf("%d products, %d entries", stats.Products, stats.Entries))
	}
	if summary.Errors > 0 {
		return fmt.Errorf("%d images could not be imported", summary.Errors)
	}
	return ctx.Err()
}

// invalidateAfterScan deletes the cached index when summary reports any
// imported entry. It reports whether the artifact was removed.
func invalidateAfterScan(c *index.Cache, summary *scanner.Summary) bool {
	if summary == nil || summary.Imported == 0 {
		return false
	}
	if err := c.Invalidate(); err != nil {
		printWarn("index", fmt.Sprintf("cannot invalidate cached index: %v", err))
		return false
	}
	printInfo("index", "catalog changed, cached index invalidated")
	return true
}
