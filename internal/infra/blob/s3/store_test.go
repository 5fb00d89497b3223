package s3

import (
	"bytes"
	"context"
	"testing"

	"biostore/internal/blob"
	"biostore/internal/blob/blobtest"
)

func TestStoreConformance(t *testing.T) {
	blobtest.Run(t, NewMockForTests(""))
}

func TestPrefixScopesKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests("biostore/tmp")
	if s.prefix != "biostore/tmp/" {
		t.Fatalf("prefix not normalized: %q", s.prefix)
	}
	if _, err := s.Put(ctx, "a.biodb", bytes.NewReader([]byte("db")), blob.PutOptions{Metadata: map[string]string{"dbi": "a"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	list, err := s.List(ctx, "")
	if err != nil || len(list) != 1 || list[0].Key != "a.biodb" {
		t.Fatalf("list: %+v (%v)", list, err)
	}
	info, err := s.Head(ctx, "a.biodb")
	if err != nil || info.Metadata["dbi"] != "a" {
		t.Fatalf("head: %+v (%v)", info, err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	if NewMockForTests("").Driver() != blob.DriverS3 {
		t.Fatalf("unexpected driver")
	}
}
