package schema

import (
	"strings"
	"testing"
)

func TestSplitStatementsDropsCommentsAndBlankLines(t *testing.T) {
	ddl := "-- header\n\nCREATE TABLE a (x INTEGER);\n-- note\nCREATE INDEX i ON a(x);\nSELECT 1"
	got := SplitStatements(ddl)
	if len(got) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(got), got)
	}
	if got[2] != "SELECT 1" {
		t.Fatalf("unterminated tail should be kept, got %q", got[2])
	}
}

func TestBundlesDeclareTheSameTables(t *testing.T) {
	tables := func(ddl string) map[string]bool {
		out := map[string]bool{}
		for _, stmt := range SplitStatements(ddl) {
			if rest, ok := strings.CutPrefix(stmt, "CREATE TABLE IF NOT EXISTS "); ok {
				out[strings.Fields(rest)[0]] = true
			}
		}
		return out
	}
	lite, pg := tables(SQLite()), tables(Postgres())
	if len(lite) == 0 {
		t.Fatalf("sqlite bundle declares no tables")
	}
	for name := range lite {
		if !pg[name] {
			t.Fatalf("table %s missing from postgres bundle", name)
		}
	}
	if len(lite) != len(pg) {
		t.Fatalf("bundles differ: sqlite %d tables, postgres %d", len(lite), len(pg))
	}
}

func TestReadTableTemplateSubstitutesName(t *testing.T) {
	for _, ddl := range []string{SQLiteReadTable("AssemblyRead_m3"), PostgresReadTable("AssemblyRead_m3")} {
		if strings.Contains(ddl, "{table}") {
			t.Fatalf("placeholder left in %q", ddl)
		}
		if !strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS AssemblyRead_m3 (") {
			t.Fatalf("table name not substituted: %q", ddl)
		}
	}
}
