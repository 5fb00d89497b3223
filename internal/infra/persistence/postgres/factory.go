// Package postgres provides the PostgreSQL Dbi factory. A PostgreSQL
// database is a shared server database addressed by its DSN: the factory
// opens and initializes it but never drops it.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"biostore/internal/infra/persistence/sqldbi"
	"biostore/pkg/dbi"
	"biostore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	// FactoryID names the PostgreSQL backend in DbiRefs and URLs.
	FactoryID = "postgres"
	// DefaultDSN is used by configuration when no DSN is given.
	DefaultDSN = "postgres://localhost/biostore?sslmode=disable"

	pingTimeout = 5 * time.Second
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

func open(driverName, dsn string) (*sql.DB, error) {
	openMu.Lock()
	fn := sqlOpen
	openMu.Unlock()
	return fn(driverName, dsn)
}

// Factory creates PostgreSQL-backed Dbis.
type Factory struct {
	opts []sqldbi.Option
}

var _ dbi.Factory = (*Factory)(nil)

// NewFactory returns a factory whose Dbis are built with opts.
func NewFactory(opts ...sqldbi.Option) *Factory {
	return &Factory{opts: opts}
}

func (f *Factory) ID() string { return FactoryID }

// CreateDbi returns an uninitialized Dbi speaking the PostgreSQL dialect.
func (f *Factory) CreateDbi() dbi.Dbi {
	return sqldbi.New(sqldbi.PostgresDialect(open), FactoryID, f.opts...)
}

// IsDbiExists reports whether the server behind dsn answers a ping.
func (f *Factory) IsDbiExists(dsn string) bool {
	db, err := open("pgx", dsn)
	if err != nil {
		return false
	}
	defer func() { _ = db.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return db.PingContext(ctx) == nil
}

// RemoveDbi always fails: shared databases are administered on the server.
func (f *Factory) RemoveDbi(dsn string) error {
	return fmt.Errorf("remove postgres database: %w", domain.ErrUnsupported)
}
