package fs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"biostore/internal/blob"
	"biostore/internal/blob/blobtest"
)

func TestStoreConformance(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	blobtest.Run(t, s)
}

func TestRejectsEscapingKeys(t *testing.T) {
	s, _ := New(t.TempDir())
	ctx := context.Background()
	for _, key := range []string{"", "  ", "/abs", "../up", "a/../../up", "x.meta"} {
		if _, err := s.Put(ctx, key, bytes.NewReader([]byte("v")), blob.PutOptions{}); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
}

func TestSidecarWritten(t *testing.T) {
	root := t.TempDir()
	s, _ := New(root)
	if _, err := s.Put(context.Background(), "a/b.biodb", bytes.NewReader([]byte("v")), blob.PutOptions{Metadata: map[string]string{"k": "v"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a", "b.biodb.meta")); err != nil {
		t.Fatalf("expected sidecar: %v", err)
	}
	info, err := s.Head(context.Background(), "a/b.biodb")
	if err != nil || info.Metadata["k"] != "v" || info.ETag == "" {
		t.Fatalf("head: %+v (%v)", info, err)
	}
	if _, err := s.Head(context.Background(), "a/none"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDefaultRoot(t *testing.T) {
	t.Chdir(t.TempDir())
	s, err := New("")
	if err != nil || s.Driver() != blob.DriverFilesystem {
		t.Fatalf("new: %v", err)
	}
	if _, err := os.Stat("archive"); err != nil {
		t.Fatalf("expected default root: %v", err)
	}
}
