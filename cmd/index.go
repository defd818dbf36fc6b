package cmd

import (
	"fmt"
	"os"

	"productfinder/index"
	"productfinder/signalhandler"

	"github.com/spf13/cobra"
)

var flagIndexRebuild bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Load or build the catalog index and print its statistics",
	RunE:  runIndex,
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Delete the cached catalog index",
	RunE:  runInvalidate,
}

func init() {
	indexCmd.Flags().BoolVar(&flagIndexRebuild, "rebuild", false, "Ignore the cache and rebuild from the catalog")
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(invalidateCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signalhandler.Context(cmd.Context())
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.matcher(0, os.Stdout)
	if err != nil {
		return err
	}
	var ix *index.Index
	if flagIndexRebuild {
		ix, err = m.Rebuild(ctx)
	} else {
		ix, err = m.Index(ctx)
	}
	if err != nil {
		return fmt.Errorf("cannot build catalog index: %w", err)
	}

	printOK("index", fmt.Sprintf("%d entries, dim %d", ix.Len(), ix.Dim()))
	printInfo("index", "fingerprint "+shortFingerprint(ix.Fingerprint()))
	stats, err := a.catalog.GetStats(ctx)
	if err != nil {
		return err
	}
	printInfo("catalog", fmt.Sprintf("%d products, %d entries, %d with stored features",
		stats.Products, stats.Entries, stats.WithFeatures))
	if skipped := stats.Entries - ix.Len(); skipped > 0 {
		printWarn("index", fmt.Sprintf("%d entries could not be processed, see the log", skipped))
	}
	return nil
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c := index.NewCache(cfg.Service.CacheDir)
	if err := c.Invalidate(); err != nil {
		return err
	}
	printOK("index", "cache removed: "+c.Path())
	return nil
}
