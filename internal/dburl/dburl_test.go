package dburl

import (
	"errors"
	"testing"

	"biostore/internal/settings"
	"biostore/pkg/domain"
)

var ref = domain.DbiRef{FactoryID: "sqlite", DbiID: "/data/lab.biodb"}

func TestDbURLRoundTrip(t *testing.T) {
	u, err := CreateDbURL(ref)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if u != "sqlite>/data/lab.biodb" {
		t.Fatalf("url = %q", u)
	}
	if !ValidateDbURL(u) {
		t.Fatalf("validate rejected %q", u)
	}
	got, err := DbRefFromEntityURL(u)
	if err != nil || got != ref {
		t.Fatalf("decode = %+v, %v", got, err)
	}
	if _, err := CreateDbURL(domain.DbiRef{FactoryID: "sqlite"}); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("invalid ref = %v", err)
	}
	if _, err := CreateDbURL(domain.DbiRef{FactoryID: "sqlite", DbiID: "a,b"}); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("separator in id = %v", err)
	}
}

func TestFolderURLRoundTrip(t *testing.T) {
	u, err := CreateDbFolderURL(ref, "/proj/reads:v2", domain.TypeSequence)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if u != "sqlite>/data/lab.biodb,1:/proj/reads:v2" {
		t.Fatalf("url = %q", u)
	}
	if !IsDbFolderURL(u) || IsDbObjectURL(u) {
		t.Fatalf("validators disagree on %q", u)
	}
	path, err := DbFolderPathByURL(u)
	if err != nil || path != "/proj/reads:v2" {
		t.Fatalf("path = %q, %v", path, err)
	}
	kind, err := DbFolderDataTypeByURL(u)
	if err != nil || kind != domain.TypeSequence {
		t.Fatalf("kind = %v, %v", kind, err)
	}
	dbURL, err := DbURLFromEntityURL(u)
	if err != nil || dbURL != "sqlite>/data/lab.biodb" {
		t.Fatalf("db url = %q, %v", dbURL, err)
	}
	if _, err := CreateDbFolderURLFromDbURL(dbURL, "relative", domain.TypeSequence); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("relative folder = %v", err)
	}
}

func TestObjectURLRoundTrip(t *testing.T) {
	id := domain.NewEntityID(42, domain.TypeMsa)
	u, err := CreateDbObjectURL(ref, id, "aln: final")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if u != "sqlite>/data/lab.biodb,42:2:aln: final" {
		t.Fatalf("url = %q", u)
	}
	if !IsDbObjectURL(u) || IsDbFolderURL(u) {
		t.Fatalf("validators disagree on %q", u)
	}
	er, err := ObjEntityRefByURL(u)
	if err != nil || er.DbiRef != ref || er.EntityID != id {
		t.Fatalf("entity ref = %+v, %v", er, err)
	}
	if n, err := ObjectNumberIDByURL(u); err != nil || n != 42 {
		t.Fatalf("row id = %d, %v", n, err)
	}
	if k, err := DbObjectTypeByURL(u); err != nil || k != domain.TypeMsa {
		t.Fatalf("kind = %v, %v", k, err)
	}
	if name, err := DbObjectNameByURL(u); err != nil || name != "aln: final" {
		t.Fatalf("name = %q, %v", name, err)
	}

	u2, err := CreateDbObjectURLFromDbURL("sqlite>/data/lab.biodb", 42, "msa", "aln: final")
	if err != nil || u2 != u {
		t.Fatalf("from db url = %q, %v", u2, err)
	}
	if _, err := CreateDbObjectURLFromDbURL("sqlite>/data/lab.biodb", 1, "feature", "f"); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("sub-entity kind = %v", err)
	}
	if _, err := CreateDbObjectURL(ref, id, ""); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("empty name = %v", err)
	}
}

func TestValidatorsExclusive(t *testing.T) {
	cases := []struct {
		url            string
		folder, object bool
	}{
		{"sqlite>db,1:/a", true, false},
		{"sqlite>db,1:/a:b", true, false},
		{"sqlite>db,7:1:name", false, true},
		{"sqlite>db,7:1:", false, false},
		{"sqlite>db,7:1", false, false},
		{"sqlite>db", false, false},
		{"f>d,abc:xyz:name", false, false},
		{"f>d,1:xyz:name", false, false},
		{"f>d,x:/a", false, false},
		{"f>d,:/a", false, false},
		{">db,1:/a", false, false},
		{"no-provider,1:/a", false, false},
		{"", false, false},
	}
	for _, c := range cases {
		if got := IsDbFolderURL(c.url); got != c.folder {
			t.Errorf("IsDbFolderURL(%q) = %v", c.url, got)
		}
		if got := IsDbObjectURL(c.url); got != c.object {
			t.Errorf("IsDbObjectURL(%q) = %v", c.url, got)
		}
	}
}

func TestMalformedDecode(t *testing.T) {
	for _, u := range []string{"sqlite>db,x:1:name", "sqlite>db,7:70000:name", "sqlite>db,1:/a"} {
		if _, err := ObjectIDByURL(u); !errors.Is(err, ErrMalformedURL) {
			t.Errorf("ObjectIDByURL(%q) = %v", u, err)
		}
	}
	if _, err := DbFolderPathByURL("sqlite>db,7:1:name"); !errors.Is(err, ErrMalformedURL) {
		t.Fatalf("folder path of object url = %v", err)
	}
	if _, err := DbFolderDataTypeByURL("sqlite>db,x:/a"); !errors.Is(err, ErrMalformedURL) {
		t.Fatalf("bad folder type = %v", err)
	}
	if _, err := DbRefFromEntityURL("nothing"); !errors.Is(err, ErrMalformedURL) {
		t.Fatalf("no provider = %v", err)
	}
	if _, err := DbURLFromEntityURL("sqlite>db"); !errors.Is(err, ErrMalformedURL) {
		t.Fatalf("bare db url = %v", err)
	}
}

func TestKnownDatabases(t *testing.T) {
	store := settings.NewMemory()
	k := NewKnownDatabases(store)
	if err := k.Save("lab", "sqlite>/data/lab.biodb"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := k.Save("bad", "not a url"); !errors.Is(err, ErrMalformedURL) {
		t.Fatalf("save malformed = %v", err)
	}
	if v, ok := store.Value(ConnectionsPath + "lab"); !ok || v != "sqlite>/data/lab.biodb" {
		t.Fatalf("stored = %q %v", v, ok)
	}
	obj := "sqlite>/data/lab.biodb,3:1:chr1"
	if got := k.ShortName(obj); got != "lab" {
		t.Fatalf("short name = %q", got)
	}
	if got := k.ShortName("sqlite>/other.biodb,1:/"); got != "/other.biodb" {
		t.Fatalf("unknown db short name = %q", got)
	}
	if got := k.ShortName("garbage"); got != "garbage" {
		t.Fatalf("undecodable short name = %q", got)
	}
	if all := k.All(); len(all) != 1 || all["lab"] != "sqlite>/data/lab.biodb" {
		t.Fatalf("all = %v", all)
	}
	if err := k.Remove("lab"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(k.Names()) != 0 {
		t.Fatalf("names after remove = %v", k.Names())
	}
}
