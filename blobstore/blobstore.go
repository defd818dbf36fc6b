// Package blobstore holds the encoded reference and query images, keyed by
// storage key.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"productfinder/config"
)

// ErrNotFound is returned when no object exists under a key.
var ErrNotFound = errors.New("blob not found")

// Store reads and writes encoded image bytes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Open returns the store selected by cfg.Kind ("file" or "s3").
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	switch cfg.Kind {
	case "file", "":
		return NewFileStore(cfg.Root)
	case "s3", "minio":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported blob store kind %q (use file or s3)", cfg.Kind)
	}
}

// ContentKey derives a storage key from the image bytes, so identical
// uploads share one object.
func ContentKey(prefix string, data []byte, ext string) string {
	sum := sha256.Sum256(data)
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(prefix, hex.EncodeToString(sum[:])+ext)
}

// CleanKey normalizes key to a relative slash path and rejects keys that
// escape the store root.
func CleanKey(key string) (string, error) {
	k := path.Clean(strings.ReplaceAll(key, "\\", "/"))
	k = strings.TrimPrefix(k, "/")
	if k == "." || k == "" || k == ".." || strings.HasPrefix(k, "../") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return k, nil
}
