// Package sqlite provides the embedded SQLite Dbi factory. Each database is
// one file; the MemoryURL sentinel opens a private in-memory database.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"biostore/internal/infra/persistence/sqldbi"
	"biostore/pkg/dbi"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const (
	// FactoryID names the SQLite backend in DbiRefs and URLs.
	FactoryID = "sqlite"
	// MemoryURL opens a database that lives only as long as its Dbi.
	MemoryURL = ":memory:"
	// FileExt is the extension given to generated database files.
	FileExt = "biodb"
)

// Factory creates SQLite-backed Dbis.
type Factory struct {
	opts []sqldbi.Option
}

var _ dbi.Factory = (*Factory)(nil)

// NewFactory returns a factory whose Dbis are built with opts.
func NewFactory(opts ...sqldbi.Option) *Factory {
	return &Factory{opts: opts}
}

func (f *Factory) ID() string { return FactoryID }

// CreateDbi returns an uninitialized Dbi speaking the SQLite dialect.
func (f *Factory) CreateDbi() dbi.Dbi {
	dialect := sqldbi.SQLiteDialect(exists)
	dialect.Open = open
	return sqldbi.New(dialect, FactoryID, f.opts...)
}

// IsDbiExists reports whether the database file exists.
func (f *Factory) IsDbiExists(path string) bool {
	return exists(path)
}

// RemoveDbi deletes the database file and its journal side files.
func (f *Factory) RemoveDbi(path string) error {
	if path == MemoryURL {
		return nil
	}
	var errs []error
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("remove sqlite %s: %w", path, err)
	}
	return nil
}

func exists(path string) bool {
	if path == MemoryURL {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func open(driverName, path string) (*sql.DB, error) {
	if path != MemoryURL {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	return sql.Open(driverName, path)
}
