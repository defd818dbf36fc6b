package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"productfinder/imageprocessor"
	"productfinder/logging"
)

// productDir is one product folder of a reference tree and its images.
type productDir struct {
	name  string
	files []string // slash paths relative to the product folder
}

// discoverProducts lists the immediate subdirectories of root as products,
// each with the image files found anywhere below it.
func discoverProducts(root string) ([]productDir, FileStats, error) {
	var stats FileStats
	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, stats, fmt.Errorf("cannot read folder %s: %w", root, err)
	}

	var products []productDir
	for _, d := range dirents {
		if !d.IsDir() || d.Name()[0] == '.' {
			continue
		}
		pd := productDir{name: d.Name()}
		base := filepath.Join(root, d.Name())
		err := filepath.WalkDir(base, func(p string, e fs.DirEntry, err error) error {
			if err != nil {
				logging.LogError("Error accessing path %s: %v", p, err)
				return nil
			}
			if e.IsDir() || !imageprocessor.IsImageFile(p) {
				return nil
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return nil
			}
			pd.files = append(pd.files, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return nil, stats, err
		}
		if len(pd.files) == 0 {
			logging.LogWarning("Product folder %s has no supported images", base)
			continue
		}
		sort.Strings(pd.files)
		products = append(products, pd)
		stats.products++
		stats.totalFiles += len(pd.files)
	}
	return products, stats, nil
}

// storageKey places an imported file under prefix/product/rel.
func storageKey(prefix, product, rel string) string {
	return path.Join(prefix, product, rel)
}
