package blobstore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"productfinder/config"
)

func TestFileStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := s.Put(ctx, "apple/1.png", []byte("png-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "apple/1.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("png-bytes")) {
		t.Fatalf("Get = %q", got)
	}
	if err := s.Put(ctx, "apple/1.png", []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _ := s.Get(ctx, "apple/1.png"); string(got) != "v2" {
		t.Fatalf("overwrite not visible: %q", got)
	}
	if _, err := s.Get(ctx, "apple/missing.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, key := range []string{"", "..", "../etc/passwd", "a/../../b"} {
		if err := s.Put(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("key %q accepted", key)
		}
	}
}

func TestCleanKey(t *testing.T) {
	cases := map[string]string{
		"/apple/1.png":    "apple/1.png",
		"apple\\2.png":    "apple/2.png",
		"a/./b/../c.jpg":  "a/c.jpg",
		"uploads//x.webp": "uploads/x.webp",
	}
	for in, want := range cases {
		got, err := CleanKey(in)
		if err != nil || got != want {
			t.Fatalf("CleanKey(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestContentKey(t *testing.T) {
	a := ContentKey("uploads", []byte("same"), "PNG")
	b := ContentKey("uploads", []byte("same"), ".png")
	if a != b {
		t.Fatalf("keys differ for identical content: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "uploads/") || !strings.HasSuffix(a, ".png") || len(a) != len("uploads/")+64+4 {
		t.Fatalf("unexpected key %s", a)
	}
	if ContentKey("uploads", []byte("other"), ".png") == a {
		t.Fatalf("different content produced the same key")
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.Blob{Kind: "file", Root: t.TempDir()})
	if err != nil {
		t.Fatalf("Open(file): %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("Open(file) returned %T", s)
	}
	if _, err := Open(context.Background(), config.Blob{Kind: "ftp"}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := Open(context.Background(), config.Blob{Kind: "s3"}); err == nil {
		t.Fatalf("expected error for s3 without endpoint")
	}
}
