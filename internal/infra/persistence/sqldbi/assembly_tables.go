package sqldbi

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"biostore/pkg/dbi"
)

// readTable is one physical table of assembly reads. Reads with effective
// length up to maxLen are stored in it.
type readTable struct {
	name   string
	index  int64
	maxLen int64
}

// multiTableBounds are the effective length limits of the multi-table-v1
// buckets; a final bucket takes everything longer.
var multiTableBounds = []int64{50, 100, 200, 400, 800, 4000, 25000, 100000}

var (
	singleTable = []readTable{{name: "AssemblyRead", maxLen: math.MaxInt64}}
	multiTables = func() []readTable {
		out := make([]readTable, 0, len(multiTableBounds)+1)
		for i, b := range multiTableBounds {
			out = append(out, readTable{name: "AssemblyRead_m" + strconv.Itoa(i), index: int64(i), maxLen: b})
		}
		n := len(multiTableBounds)
		return append(out, readTable{name: "AssemblyRead_m" + strconv.Itoa(n), index: int64(n), maxLen: math.MaxInt64})
	}()
)

const rtreeTable = "AssemblyReadRTree"

// read ids carry the table index above this bit.
const readTableShift = 48

func readTablesFor(method string) []readTable {
	if method == dbi.AssemblyMethodMultiTable {
		return multiTables
	}
	return singleTable
}

// tableFor picks the bucket of a read by effective length.
func tableFor(tables []readTable, elen int64) readTable {
	for _, t := range tables {
		if elen <= t.maxLen {
			return t
		}
	}
	return tables[len(tables)-1]
}

// minLen is the smallest effective length stored in t.
func minLen(tables []readTable, t readTable) int64 {
	if t.index == 0 {
		return 0
	}
	return tables[t.index-1].maxLen + 1
}

func readKey(t readTable, row int64) int64 { return t.index<<readTableShift | row }

func splitReadKey(tables []readTable, key int64) (readTable, int64, bool) {
	idx := key >> readTableShift
	if idx < 0 || idx >= int64(len(tables)) {
		return readTable{}, 0, false
	}
	return tables[idx], key & (1<<readTableShift - 1), true
}

func ensureReadTables(ctx context.Context, c conn, d *Dialect, method string) error {
	for _, t := range readTablesFor(method) {
		if err := c.applyDDL(ctx, d.ReadTableDDL(t.name)); err != nil {
			return fmt.Errorf("create read table %s: %w", t.name, err)
		}
	}
	if method == dbi.AssemblyMethodRTree {
		ddl := "CREATE VIRTUAL TABLE IF NOT EXISTS " + rtreeTable + " USING rtree_i32(id, gstart, gend, prow1, prow2)"
		if err := c.applyDDL(ctx, ddl); err != nil {
			return fmt.Errorf("create read index: %w", err)
		}
	}
	return nil
}
