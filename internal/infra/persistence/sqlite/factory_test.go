package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

func initDbi(t *testing.T, f *Factory, url string, create bool) dbi.Dbi {
	t.Helper()
	d := f.CreateDbi()
	props := map[string]string{dbi.PropURL: url}
	if create {
		props[dbi.PropCreate] = "true"
	}
	if err := d.Init(context.Background(), props); err != nil {
		if strings.Contains(err.Error(), "no such module") {
			t.Skipf("sqlite unavailable: %v", err)
		}
		t.Fatalf("init %s: %v", url, err)
	}
	return d
}

func TestFactoryCreatesNestedFile(t *testing.T) {
	ctx := context.Background()
	f := NewFactory()
	path := filepath.Join(t.TempDir(), "nested", "dir", "store."+FileExt)
	if f.IsDbiExists(path) {
		t.Fatalf("file should not exist yet")
	}
	d := initDbi(t, f, path, true)
	if d.FactoryID() != FactoryID || d.DbiID() != path {
		t.Fatalf("unexpected ref %v", d.DbiRef())
	}
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !f.IsDbiExists(path) {
		t.Fatalf("expected %s to exist", path)
	}
	if err := f.RemoveDbi(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file still present: %v", err)
	}
	if err := f.RemoveDbi(path); err != nil {
		t.Fatalf("removing a missing file should succeed: %v", err)
	}
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	d := NewFactory().CreateDbi()
	path := filepath.Join(t.TempDir(), "missing."+FileExt)
	err := d.Init(context.Background(), map[string]string{dbi.PropURL: path})
	if err == nil {
		t.Fatalf("expected missing database error")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatalf("init without create must not create the file")
	}
}

func TestMemorySentinel(t *testing.T) {
	ctx := context.Background()
	f := NewFactory()
	if !f.IsDbiExists(MemoryURL) {
		t.Fatalf("memory database always exists")
	}
	d := initDbi(t, f, MemoryURL, true)
	defer func() { _ = d.Shutdown(ctx) }()
	seq := domain.Sequence{Object: domain.Object{Name: "s"}}
	if err := d.SequenceDbi().CreateSequenceObject(ctx, &seq, domain.RootFolder); err != nil {
		t.Fatalf("create: %v", err)
	}
	if n, _ := d.ObjectDbi().CountObjects(ctx); n != 1 {
		t.Fatalf("expected one object, got %d", n)
	}
	if err := f.RemoveDbi(MemoryURL); err != nil {
		t.Fatalf("remove memory: %v", err)
	}
}
