package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"productfinder/config"
)

// GetDefaultConfigPath returns the configuration file to use when --config
// is not given: productfinder.yaml in the working directory if present,
// otherwise next to the executable.
func GetDefaultConfigPath() string {
	if _, err := os.Stat(config.DefaultFileName); err == nil {
		return config.DefaultFileName
	}
	exePath, err := os.Executable()
	if err != nil {
		return config.DefaultFileName
	}
	return filepath.Join(filepath.Dir(exePath), config.DefaultFileName)
}

// ParseIDList parses a comma separated list of product ids into a set.
// Empty items are ignored.
func ParseIDList(s string) (map[int64]bool, error) {
	out := map[int64]bool{}
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid product id %q", f)
		}
		out[id] = true
	}
	return out, nil
}

// FormatIDList renders a set of ids in ascending order.
func FormatIDList(ids map[int64]bool) string {
	list := make([]int64, 0, len(ids))
	for id, ok := range ids {
		if ok {
			list = append(list, id)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	parts := make([]string, len(list))
	for i, id := range list {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
