// Package schema exposes the embedded per-dialect DDL bundles of the
// embedded-store Dbi.
package schema

import (
	"bufio"
	_ "embed"
	"strings"
)

//go:embed sqlite.sql
var sqliteDDL string

//go:embed postgres.sql
var postgresDDL string

//go:embed sqlite_reads.sql
var sqliteReadsDDL string

//go:embed postgres_reads.sql
var postgresReadsDDL string

// Version is the schema version written by the bundles.
const Version = 2

// SQLite returns the SQLite DDL bundle.
func SQLite() string { return sqliteDDL }

// Postgres returns the PostgreSQL DDL bundle.
func Postgres() string { return postgresDDL }

// SQLiteReadTable returns the SQLite DDL of one assembly read table.
func SQLiteReadTable(table string) string {
	return strings.ReplaceAll(sqliteReadsDDL, "{table}", table)
}

// PostgresReadTable returns the PostgreSQL DDL of one assembly read table.
func PostgresReadTable(table string) string {
	return strings.ReplaceAll(postgresReadsDDL, "{table}", table)
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}
