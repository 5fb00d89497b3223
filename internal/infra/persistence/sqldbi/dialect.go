package sqldbi

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"biostore/internal/infra/persistence/sqldbi/schema"
)

// Dialect adapts the store to one database/sql driver.
type Dialect struct {
	Name   string
	Driver string
	// DDL is the full schema bundle applied by PopulateDefaultSchema.
	DDL string
	// ReadTableDDL renders the DDL of one assembly read table.
	ReadTableDDL func(table string) string
	// Open opens a pool; nil means sql.Open.
	Open func(driver, dsn string) (*sql.DB, error)
	// DSN maps a dbi url to a driver data source name; nil uses the url as is.
	DSN func(url string) string
	// Exists reports whether the database behind url exists; nil assumes it does.
	Exists func(url string) bool
	// Setup statements run after every open.
	Setup []string
	// ReadOnlySetup statements run after Setup for read-only sessions.
	ReadOnlySetup []string
	// Flush is executed by Dbi.Flush after a successful ping.
	Flush string
	// Dollar placeholders ($1, $2...) instead of '?'.
	Dollar bool
	// RTree reports whether the rtree2d assembly strategy is available.
	RTree bool
}

// SQLiteDialect returns the dialect for modernc.org/sqlite. The caller
// supplies the existence check because it owns the file naming rules.
func SQLiteDialect(exists func(url string) bool) Dialect {
	return Dialect{
		Name:         "sqlite",
		Driver:       "sqlite",
		DDL:          schema.SQLite(),
		ReadTableDDL: schema.SQLiteReadTable,
		Exists:       exists,
		Setup: []string{
			"PRAGMA busy_timeout = 5000",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA temp_store = MEMORY",
		},
		ReadOnlySetup: []string{"PRAGMA query_only = ON"},
		Flush:         "PRAGMA wal_checkpoint(PASSIVE)",
		RTree:         true,
	}
}

// PostgresDialect returns the dialect for the pgx database/sql driver.
func PostgresDialect(open func(driver, dsn string) (*sql.DB, error)) Dialect {
	return Dialect{
		Name:          "postgres",
		Driver:        "pgx",
		DDL:           schema.Postgres(),
		ReadTableDDL:  schema.PostgresReadTable,
		Open:          open,
		ReadOnlySetup: []string{"SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"},
		Dollar:        true,
	}
}

// Rebind rewrites '?' placeholders into the dialect's form. Quoted text is
// left untouched.
func (d Dialect) Rebind(query string) string {
	if !d.Dollar || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			quoted = !quoted
			b.WriteByte(ch)
		case ch == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func (d Dialect) open(url string) (*sql.DB, error) {
	dsn := url
	if d.DSN != nil {
		dsn = d.DSN(url)
	}
	if d.Open != nil {
		return d.Open(d.Driver, dsn)
	}
	return sql.Open(d.Driver, dsn)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn binds a querier (pool or transaction) to a dialect. Statements are
// written with '?' placeholders and rebound on the way out.
type conn struct {
	q       querier
	dialect *Dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.dialect.Rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.dialect.Rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.dialect.Rebind(query), args...)
}

// insert runs an INSERT and returns the generated id column.
func (c conn) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := c.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// int64s runs a single-column query.
func (c conn) int64s(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (c conn) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (c conn) applyDDL(ctx context.Context, ddl string) error {
	for _, stmt := range schema.SplitStatements(ddl) {
		if _, err := c.q.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
