// Package blobtest holds the behaviour every blob.Store backend must share.
package blobtest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"biostore/internal/blob"
)

// Run exercises s, which must be empty.
func Run(t *testing.T, s blob.Store) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Head(ctx, "missing"); err == nil {
		t.Fatalf("expected head error for a missing key")
	}
	if _, _, err := s.Get(ctx, "missing"); err == nil {
		t.Fatalf("expected get error for a missing key")
	}
	if ok, err := s.Delete(ctx, "missing"); err != nil || ok {
		t.Fatalf("delete of a missing key: ok=%v err=%v", ok, err)
	}

	payload := []byte("SQLite format 3\x00payload")
	info, err := s.Put(ctx, "archive/run1.biodb", bytes.NewReader(payload), blob.PutOptions{
		ContentType: blob.ContentTypeDatabase,
		Metadata:    map[string]string{"dbi": "run1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len(payload)) || info.Key != "archive/run1.biodb" {
		t.Fatalf("unexpected put info %+v", info)
	}
	if _, err := s.Put(ctx, "archive/run1.biodb", bytes.NewReader([]byte("x")), blob.PutOptions{}); !errors.Is(err, blob.ErrExists) {
		t.Fatalf("expected ErrExists on overwrite, got %v", err)
	}
	if _, err := s.Put(ctx, "archive/run2.biodb", bytes.NewReader([]byte("second")), blob.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	if _, err := s.Put(ctx, "other/x", bytes.NewReader(nil), blob.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}

	head, err := s.Head(ctx, "archive/run1.biodb")
	if err != nil || head.Size != int64(len(payload)) || head.ContentType != blob.ContentTypeDatabase {
		t.Fatalf("head: %+v (%v)", head, err)
	}
	_, rc, err := s.Get(ctx, "archive/run1.biodb")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}

	list, err := s.List(ctx, "archive/")
	if err != nil || len(list) != 2 || list[0].Key != "archive/run1.biodb" || list[1].Key != "archive/run2.biodb" {
		t.Fatalf("list: %+v (%v)", list, err)
	}
	if all, _ := s.List(ctx, ""); len(all) != 3 {
		t.Fatalf("expected 3 blobs, got %d", len(all))
	}
	if ok, err := s.Delete(ctx, "archive/run2.biodb"); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if list, _ := s.List(ctx, "archive/"); len(list) != 1 {
		t.Fatalf("expected one archive left, got %d", len(list))
	}
}
