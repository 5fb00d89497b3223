// Package testutil provides an in-memory stub database for postgres factory tests.
// It understands the small statement shapes the Dbi issues: single-row
// INSERT (with ON CONFLICT and RETURNING id), equality-filtered SELECT and
// DELETE. Everything else is recorded and reported as one affected row.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
)

var stubSeq atomic.Int64

// StubConn records statements and keeps table rows in maps.
type StubConn struct {
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	FailTables map[string]bool
	Commits    int
	Rollbacks  int

	nextID map[string]int64
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any), nextID: make(map[string]int64)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns the rows of table (case-insensitive name).
func (c *StubConn) Rows(table string) []map[string]any {
	return c.Tables[strings.ToLower(table)]
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	switch verb(query) {
	case "INSERT":
		_, n, err := c.insert(query, args)
		if err != nil {
			return nil, err
		}
		return driver.RowsAffected(n), nil
	case "DELETE":
		table, where, err := parseDelete(query)
		if err != nil {
			return nil, err
		}
		var kept []map[string]any
		var n int64
		for _, row := range c.Tables[table] {
			if matches(row, where, args) {
				n++
				continue
			}
			kept = append(kept, row)
		}
		c.Tables[table] = kept
		return driver.RowsAffected(n), nil
	}
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.Execs = append(c.Execs, query)
	if verb(query) == "INSERT" {
		id, _, err := c.insert(query, args)
		if err != nil {
			return nil, err
		}
		return &stubRows{cols: []string{"id"}, rows: [][]driver.Value{{id}}}, nil
	}
	table, cols, where, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	var values [][]driver.Value
	for _, row := range c.Tables[table] {
		if !matches(row, where, args) {
			continue
		}
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values}, nil
}

// insert stores one row and returns its id and the affected count.
func (c *StubConn) insert(query string, args []driver.NamedValue) (int64, int64, error) {
	table, cols, vals, err := parseInsert(query, args)
	if err != nil {
		return 0, 0, err
	}
	if c.FailTables[table] {
		return 0, 0, fmt.Errorf("exec fail for %s", table)
	}
	row := make(map[string]any, len(cols)+1)
	for i, col := range cols {
		row[col] = vals[i]
	}
	if key := conflictColumn(query); key != "" {
		for _, existing := range c.Tables[table] {
			if existing[key] != row[key] {
				continue
			}
			if strings.Contains(strings.ToUpper(query), "DO NOTHING") {
				return 0, 0, nil
			}
			for col, v := range row {
				existing[col] = v
			}
			id, _ := existing["id"].(int64)
			return id, 1, nil
		}
	}
	if _, ok := row["id"]; !ok {
		c.nextID[table]++
		row["id"] = c.nextID[table]
	}
	c.Tables[table] = append(c.Tables[table], row)
	id, _ := row["id"].(int64)
	return id, 1, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	t.conn.Commits++
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.Rollbacks++
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

type condition struct {
	col   string
	value string
}

func verb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// literal resolves a $n placeholder or a SQL literal.
func literal(raw string, args []driver.NamedValue) (any, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "$") {
		n, err := strconv.Atoi(raw[1:])
		if err != nil || n < 1 || n > len(args) {
			return nil, fmt.Errorf("bad placeholder %s", raw)
		}
		return args[n-1].Value, nil
	}
	if strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'") && len(raw) >= 2 {
		return strings.ReplaceAll(raw[1:len(raw)-1], "''", "'"), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, nil
	}
	return nil, fmt.Errorf("unsupported value %q", raw)
}

func matches(row map[string]any, where []condition, args []driver.NamedValue) bool {
	for _, cond := range where {
		want, err := literal(cond.value, args)
		if err != nil || row[cond.col] != want {
			return false
		}
	}
	return true
}

func parseInsert(query string, args []driver.NamedValue) (string, []string, []any, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	valuesIdx := strings.Index(up, "VALUES")
	if intoIdx == -1 || valuesIdx == -1 {
		return "", nil, nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	head := strings.TrimSpace(query[intoIdx+len("INTO ") : valuesIdx])
	open := strings.Index(head, "(")
	closeIdx := strings.LastIndex(head, ")")
	if open == -1 || closeIdx <= open {
		return "", nil, nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(head[:open]))
	cols := splitColumns(head[open+1 : closeIdx])
	tail := query[valuesIdx+len("VALUES"):]
	vOpen := strings.Index(tail, "(")
	vClose := strings.Index(tail, ")")
	if vOpen == -1 || vClose <= vOpen {
		return "", nil, nil, fmt.Errorf("cannot parse insert values: %s", query)
	}
	raws := strings.Split(tail[vOpen+1:vClose], ",")
	if len(raws) != len(cols) {
		return "", nil, nil, fmt.Errorf("column/value mismatch for %s", table)
	}
	vals := make([]any, len(raws))
	for i, raw := range raws {
		v, err := literal(raw, args)
		if err != nil {
			return "", nil, nil, err
		}
		vals[i] = v
	}
	return table, cols, vals, nil
}

func conflictColumn(query string) string {
	up := strings.ToUpper(query)
	idx := strings.Index(up, "ON CONFLICT(")
	if idx == -1 {
		return ""
	}
	rest := query[idx+len("ON CONFLICT("):]
	end := strings.Index(rest, ")")
	if end == -1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(rest[:end]))
}

func parseWhere(raw string) ([]condition, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []condition
	for _, part := range strings.Split(raw, " AND ") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("unsupported predicate %q", part)
		}
		out = append(out, condition{col: strings.ToLower(strings.TrimSpace(kv[0])), value: strings.TrimSpace(kv[1])})
	}
	return out, nil
}

func splitWhere(rest string) (string, string) {
	lower := strings.ToLower(rest)
	idx := strings.Index(lower, " where ")
	if idx == -1 {
		return strings.TrimSpace(rest), ""
	}
	return strings.TrimSpace(rest[:idx]), rest[idx+len(" where "):]
}

func parseDelete(query string) (string, []condition, error) {
	lower := strings.ToLower(query)
	prefix := "delete from "
	if !strings.HasPrefix(lower, prefix) {
		return "", nil, fmt.Errorf("cannot parse delete: %s", query)
	}
	table, where := splitWhere(query[len(prefix):])
	conds, err := parseWhere(where)
	if err != nil {
		return "", nil, err
	}
	return strings.ToLower(table), conds, nil
}

func parseSelect(query string) (string, []string, []condition, error) {
	lower := strings.ToLower(query)
	selectPrefix := "select "
	fromToken := " from "
	if !strings.HasPrefix(lower, selectPrefix) {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, fromToken)
	if fromIdx == -1 {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols := query[len(selectPrefix):fromIdx]
	table, where := splitWhere(query[fromIdx+len(fromToken):])
	if table == "" || strings.ContainsAny(table, " (") {
		return "", nil, nil, fmt.Errorf("cannot parse select: %s", query)
	}
	conds, err := parseWhere(where)
	if err != nil {
		return "", nil, nil, err
	}
	return strings.ToLower(table), splitColumns(cols), conds, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
