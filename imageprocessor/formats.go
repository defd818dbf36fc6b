package imageprocessor

import (
	"path/filepath"
	"sort"
	"strings"
)

// FormatType names an encoded image format accepted as catalog or query
// input.
type FormatType string

const (
	FormatUnknown FormatType = "unknown"
	FormatJPEG    FormatType = "jpeg"
	FormatPNG     FormatType = "png"
	FormatGIF     FormatType = "gif"
	FormatTIFF    FormatType = "tiff"
	FormatBMP     FormatType = "bmp"
	FormatWEBP    FormatType = "webp"
)

// formats maps each accepted format to its extensions, canonical first.
var formats = []struct {
	format FormatType
	exts   []string
}{
	{FormatJPEG, []string{".jpg", ".jpeg"}},
	{FormatPNG, []string{".png"}},
	{FormatGIF, []string{".gif"}},
	{FormatBMP, []string{".bmp"}},
	{FormatTIFF, []string{".tiff", ".tif"}},
	{FormatWEBP, []string{".webp"}},
}

// IsImageFile reports whether the file name has an accepted extension.
func IsImageFile(path string) bool {
	return GetFileFormat(path) != FormatUnknown
}

// GetFileFormat detects the format from the file extension.
func GetFileFormat(path string) FormatType {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range formats {
		for _, e := range f.exts {
			if e == ext {
				return f.format
			}
		}
	}
	return FormatUnknown
}

// GetSupportedExtensions returns every accepted extension, sorted.
func GetSupportedExtensions() []string {
	var out []string
	for _, f := range formats {
		out = append(out, f.exts...)
	}
	sort.Strings(out)
	return out
}

// FormatToExtension returns the canonical extension of format, or "" when
// it is unknown.
func FormatToExtension(format FormatType) string {
	for _, f := range formats {
		if f.format == format {
			return f.exts[0]
		}
	}
	return ""
}
