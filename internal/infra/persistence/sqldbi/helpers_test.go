package sqldbi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"biostore/pkg/dbi"
)

func fileExists(url string) bool {
	_, err := os.Stat(url)
	return err == nil
}

func testDialect() Dialect { return SQLiteDialect(fileExists) }

// openSQLite opens (and creates) a file database under a fresh temp dir.
func openSQLite(t *testing.T, extra map[string]string, opts ...Option) *Dbi {
	t.Helper()
	return openSQLiteAt(t, filepath.Join(t.TempDir(), "store.db"), true, extra, opts...)
}

func openSQLiteAt(t *testing.T, path string, create bool, extra map[string]string, opts ...Option) *Dbi {
	t.Helper()
	props := map[string]string{dbi.PropURL: path}
	if create {
		props[dbi.PropCreate] = "true"
	}
	for k, v := range extra {
		props[k] = v
	}
	d := New(testDialect(), "sqlite", opts...)
	if err := d.Init(context.Background(), props); err != nil {
		if strings.Contains(err.Error(), "no such module") {
			t.Skipf("sqlite module unavailable: %v", err)
		}
		t.Fatalf("init %s: %v", path, err)
	}
	t.Cleanup(func() {
		if d.IsInitialized() {
			_ = d.Shutdown(context.Background())
		}
	})
	return d
}

func shutdown(t *testing.T, d *Dbi) {
	t.Helper()
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustErrIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
