package folders

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"biostore/internal/dbiutil"
	"biostore/internal/infra/persistence/sqlite"
	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

func obj(row int64, name string) domain.Object {
	return domain.Object{ID: domain.NewEntityID(row, domain.TypeSequence), Name: name}
}

func names(objs []domain.Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Name)
	}
	return out
}

func TestAllFoldersOrder(t *testing.T) {
	ctx := context.Background()
	m := New()
	for _, p := range []string{"/a", "/a/b", domain.RecycleBinFolder} {
		if err := m.AddFolder(ctx, p); err != nil {
			t.Fatalf("add %s: %v", p, err)
		}
	}
	want := []string{"/Recycle Bin", "/a", "/a/b"}
	if got := m.AllFolders(); !slices.Equal(got, want) {
		t.Fatalf("folders = %v, want %v", got, want)
	}
	if got := m.SubFolders(domain.RootFolder); !slices.Equal(got, []string{"/Recycle Bin", "/a"}) {
		t.Fatalf("root children = %v", got)
	}
	if err := m.AddFolder(ctx, "/a"); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("duplicate add = %v", err)
	}
}

func TestFoldersStaySorted(t *testing.T) {
	ctx := context.Background()
	m := New()
	for _, p := range []string{"/zeta", "/Beta", "/alpha/x", "/Recycle Bin/old", "/alpha", "/gamma/Delta"} {
		if !m.HasFolder(p) {
			if err := m.AddFolder(ctx, p); err != nil {
				t.Fatalf("add %s: %v", p, err)
			}
		}
	}
	got := m.AllFolders()
	if !slices.IsSortedFunc(got, func(a, b string) int {
		if PathLess(a, b) {
			return -1
		}
		if PathLess(b, a) {
			return 1
		}
		return 0
	}) {
		t.Fatalf("folders out of order: %v", got)
	}
	if got[0] != "/Recycle Bin/old" {
		t.Fatalf("recycle bin subtree not first: %v", got)
	}
	// Only the path itself is recorded inside the recycle bin.
	if m.HasFolder(domain.RecycleBinFolder) {
		t.Fatalf("recycle bin synthesized as ancestor")
	}
	if !m.HasFolder("/gamma") {
		t.Fatalf("ancestor /gamma missing")
	}
}

func TestInsertSorted(t *testing.T) {
	root := domain.RootFolder
	list := []string{domain.RecycleBinName, "b", "d"}
	list, i := InsertSortedName(list, root, "c")
	if i != 2 || !slices.Equal(list, []string{domain.RecycleBinName, "b", "c", "d"}) {
		t.Fatalf("insert c: %d %v", i, list)
	}
	list, i = InsertSortedName(list, root, "0")
	if i != 1 || list[0] != domain.RecycleBinName {
		t.Fatalf("insert before recycle bin: %d %v", i, list)
	}
	list, i = InsertSortedName(list[1:], root, domain.RecycleBinName)
	if i != 0 || list[0] != domain.RecycleBinName {
		t.Fatalf("recycle bin not prepended: %d %v", i, list)
	}
	paths, i := InsertSorted([]string{"/Recycle Bin", "/a"}, "/B")
	if i != 2 || !slices.Equal(paths, []string{"/Recycle Bin", "/a", "/B"}) {
		t.Fatalf("insert path: %d %v", i, paths)
	}
	paths, i = InsertSorted([]string{"/a"}, "/Recycle Bin")
	if i != 0 || !slices.Equal(paths, []string{"/Recycle Bin", "/a"}) {
		t.Fatalf("insert recycle bin path: %d %v", i, paths)
	}
}

func TestNestedRecycleBinNameSortsByName(t *testing.T) {
	names, i := InsertSortedName([]string{"a", "z"}, "/proj", domain.RecycleBinName)
	if i != 1 || !slices.Equal(names, []string{"a", domain.RecycleBinName, "z"}) {
		t.Fatalf("nested recycle bin name: %d %v", i, names)
	}

	ctx := context.Background()
	m := New()
	for _, p := range []string{"/proj/a", "/proj/z"} {
		if err := m.AddFolder(ctx, p); err != nil {
			t.Fatalf("add %s: %v", p, err)
		}
	}
	_ = m.SubFolders("/proj")
	if row, err := m.FolderRowInParent("/proj/" + domain.RecycleBinName); err != nil || row != 1 {
		t.Fatalf("row of nested recycle bin name = %d, %v", row, err)
	}
	if err := m.AddFolder(ctx, "/proj/"+domain.RecycleBinName); err != nil {
		t.Fatalf("add nested recycle bin name: %v", err)
	}
	want := []string{"/proj/a", "/proj/" + domain.RecycleBinName, "/proj/z"}
	if got := m.SubFolders("/proj"); !slices.Equal(got, want) {
		t.Fatalf("/proj children = %v, want %v", got, want)
	}
}

func TestRenameMovesObjects(t *testing.T) {
	ctx := context.Background()
	m := New()
	for _, p := range []string{"/a", "/a/inner"} {
		if err := m.AddFolder(ctx, p); err != nil {
			t.Fatalf("add %s: %v", p, err)
		}
	}
	x, y := obj(1, "x"), obj(2, "y")
	if err := m.AddObject(x, "/a"); err != nil {
		t.Fatalf("add object: %v", err)
	}
	if err := m.AddObject(y, "/a/inner"); err != nil {
		t.Fatalf("add object: %v", err)
	}
	_ = m.SubFolders("/a")
	_ = m.SubFolders(domain.RootFolder)
	if !m.CachedSubFolders("/a") {
		t.Fatalf("listing of /a not cached")
	}

	if err := m.RenameFolder(ctx, "/a", "/b"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if f, _ := m.ObjectFolder(x.ID); f != "/b" {
		t.Fatalf("x folder = %q", f)
	}
	if f, _ := m.ObjectFolder(y.ID); f != "/b/inner" {
		t.Fatalf("y folder = %q", f)
	}
	if len(m.ObjectsNatural("/a")) != 0 || m.HasFolder("/a") || m.HasFolder("/a/inner") {
		t.Fatalf("old folder still populated")
	}
	if m.CachedSubFolders("/a") {
		t.Fatalf("stale cache for /a")
	}
	if got := m.SubFolders(domain.RootFolder); !slices.Equal(got, []string{"/b"}) {
		t.Fatalf("root children = %v", got)
	}
	if got := m.SubFolders("/b"); !slices.Equal(got, []string{"/b/inner"}) {
		t.Fatalf("/b children = %v", got)
	}
	if got := names(m.Objects("/b")); !slices.Equal(got, []string{"x"}) {
		t.Fatalf("/b objects = %v", got)
	}
	if err := m.RenameFolder(ctx, "/b", "/b/deeper"); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("rename into itself = %v", err)
	}
}

func TestRemoveFolderDropsObjects(t *testing.T) {
	ctx := context.Background()
	m := New()
	if err := m.AddFolder(ctx, "/a/b"); err != nil {
		t.Fatalf("add: %v", err)
	}
	o := obj(1, "o")
	if err := m.AddObject(o, "/a/b"); err != nil {
		t.Fatalf("add object: %v", err)
	}
	if err := m.RemoveFolder(ctx, "/a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := m.ObjectFolder(o.ID); ok {
		t.Fatalf("object survived folder removal")
	}
	if len(m.AllFolders()) != 0 {
		t.Fatalf("folders = %v", m.AllFolders())
	}
	if err := m.RemoveFolder(ctx, domain.RootFolder); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("remove root = %v", err)
	}
}

func TestRecycleBinListings(t *testing.T) {
	ctx := context.Background()
	m := New()
	if err := m.AddFolder(ctx, domain.RecycleBinFolder); err != nil {
		t.Fatalf("add bin: %v", err)
	}
	if err := m.AddFolder(ctx, "/Recycle Bin/old/older"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.AddFolder(ctx, "/Recycle Bin/old"); err != nil {
		t.Fatalf("add: %v", err)
	}
	o := obj(1, "gone")
	if err := m.AddObject(o, "/Recycle Bin/old"); err != nil {
		t.Fatalf("add object: %v", err)
	}
	if got := m.SubFolders("/Recycle Bin/old"); len(got) != 0 {
		t.Fatalf("visible children inside bin: %v", got)
	}
	if got := m.Objects("/Recycle Bin/old"); len(got) != 0 {
		t.Fatalf("visible objects inside bin: %v", got)
	}
	if got := m.SubFoldersNatural("/Recycle Bin/old"); !slices.Equal(got, []string{"/Recycle Bin/old/older"}) {
		t.Fatalf("natural children = %v", got)
	}
	if got := names(m.ObjectsNatural("/Recycle Bin/old")); !slices.Equal(got, []string{"gone"}) {
		t.Fatalf("natural objects = %v", got)
	}
	if got := ParentFolder("/Recycle Bin/old/older"); got != domain.RecycleBinFolder {
		t.Fatalf("parent = %q", got)
	}
	if got := ParentFolder("/a/b"); got != "/a" {
		t.Fatalf("parent = %q", got)
	}
}

func TestRowProbes(t *testing.T) {
	ctx := context.Background()
	m := New()
	for _, p := range []string{domain.RecycleBinFolder, "/b", "/d"} {
		if err := m.AddFolder(ctx, p); err != nil {
			t.Fatalf("add %s: %v", p, err)
		}
	}
	if row, err := m.FolderRowInParent("/c"); err != nil || row != 2 {
		t.Fatalf("row of /c = %d, %v", row, err)
	}
	if row, err := m.FolderRowInParent("/0"); err != nil || row != 1 {
		t.Fatalf("row of /0 = %d, %v", row, err)
	}
	if _, err := m.FolderRowInParent("/b"); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("existing folder row = %v", err)
	}
	if got := m.SubFolders(domain.RootFolder); len(got) != 3 {
		t.Fatalf("probe mutated cache: %v", got)
	}

	for i, n := range []string{"alpha", "gamma"} {
		if err := m.AddObject(obj(int64(i+1), n), domain.RootFolder); err != nil {
			t.Fatalf("add object: %v", err)
		}
	}
	row, err := m.ObjectRowInParent(obj(9, "Beta"), domain.RootFolder)
	if err != nil || row != 4 {
		t.Fatalf("object row = %d, %v", row, err)
	}
	if _, err := m.ObjectRowInParent(obj(1, "alpha"), domain.RootFolder); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("filed object row = %v", err)
	}
}

func TestObjectMoves(t *testing.T) {
	ctx := context.Background()
	m := New()
	if err := m.AddFolder(ctx, "/dst"); err != nil {
		t.Fatalf("add: %v", err)
	}
	a, b := obj(1, "b-obj"), obj(2, "A-obj")
	for _, o := range []domain.Object{a, b} {
		if err := m.AddObject(o, domain.RootFolder); err != nil {
			t.Fatalf("add object: %v", err)
		}
	}
	if got := names(m.Objects(domain.RootFolder)); !slices.Equal(got, []string{"A-obj", "b-obj"}) {
		t.Fatalf("root objects = %v", got)
	}
	if err := m.MoveObject(ctx, a.ID, "/dst"); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := m.MoveObject(ctx, a.ID, "/nowhere"); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("move to unknown folder = %v", err)
	}
	if got := names(m.Objects("/dst")); !slices.Equal(got, []string{"b-obj"}) {
		t.Fatalf("dst objects = %v", got)
	}
	if err := m.RemoveObject(b.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	var nf *domain.NotFoundError
	if err := m.RemoveObject(b.ID); !errors.As(err, &nf) {
		t.Fatalf("second remove = %v", err)
	}
}

func TestIgnoredFilters(t *testing.T) {
	m := New()
	o := obj(1, "o")
	m.IgnoreObject(o.ID)
	if !m.IsObjectIgnored(o.ID) {
		t.Fatalf("object not ignored")
	}
	m.UnignoreObject(o.ID)
	if m.IsObjectIgnored(o.ID) {
		t.Fatalf("object still ignored")
	}
	m.SetIgnoredFolders("/hidden")
	if !m.IsFolderIgnored("/hidden/sub") || !m.IsFolderIgnored("/hidden") {
		t.Fatalf("subtree not ignored")
	}
	if m.IsFolderIgnored("/hiddenish") {
		t.Fatalf("sibling prefix ignored")
	}
	m.SetIgnoredFolders()
	if m.IsFolderIgnored("/hidden") {
		t.Fatalf("filter not cleared")
	}
}

func openStore(t *testing.T) dbi.Dbi {
	t.Helper()
	d := sqlite.NewFactory().CreateDbi()
	path := filepath.Join(t.TempDir(), "folders."+sqlite.FileExt)
	if err := d.Init(context.Background(), map[string]string{dbi.PropURL: path, dbi.PropCreate: "true"}); err != nil {
		if strings.Contains(err.Error(), "no such module") {
			t.Skipf("sqlite unavailable: %v", err)
		}
		t.Fatalf("init %s: %v", path, err)
	}
	t.Cleanup(func() { _ = d.Shutdown(context.Background()) })
	return d
}

func TestLoadAndPersist(t *testing.T) {
	ctx := context.Background()
	d := openStore(t)
	seq, err := dbiutil.ImportSequence(ctx, d, "/proj/reads", domain.DNASequence{Name: "r1", Seq: []byte("ACGT")})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	m, err := Load(ctx, d.ObjectDbi())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !m.HasFolder("/proj") || !m.HasFolder("/proj/reads") {
		t.Fatalf("folders = %v", m.AllFolders())
	}
	if f, ok := m.ObjectFolder(seq.ID); !ok || f != "/proj/reads" {
		t.Fatalf("object folder = %q %v", f, ok)
	}

	if err := m.RenameFolder(ctx, "/proj", "/done"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	stored, err := d.ObjectDbi().GetObjectFolder(ctx, seq.ID)
	if err != nil || stored != "/done/reads" {
		t.Fatalf("stored folder = %q, %v", stored, err)
	}

	reloaded, err := Load(ctx, d.ObjectDbi())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if f, _ := reloaded.ObjectFolder(seq.ID); f != "/done/reads" {
		t.Fatalf("reloaded folder = %q", f)
	}
	if reloaded.HasFolder("/proj") {
		t.Fatalf("old folder survived reload")
	}
}

func TestRenameAddsMissingAncestors(t *testing.T) {
	ctx := context.Background()
	d := openStore(t)
	m, err := Load(ctx, d.ObjectDbi())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := m.AddFolder(ctx, "/a"); err != nil {
		t.Fatalf("add: %v", err)
	}
	_ = m.SubFolders(domain.RootFolder)

	if err := m.RenameFolder(ctx, "/a", "/x/y"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if !m.HasFolder("/x") {
		t.Fatalf("missing ancestor /x: %v", m.AllFolders())
	}
	reloaded, err := Load(ctx, d.ObjectDbi())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got, want := m.AllFolders(), reloaded.AllFolders(); !slices.Equal(got, want) {
		t.Fatalf("folders = %v, stored %v", got, want)
	}
	if got, want := m.SubFolders(domain.RootFolder), reloaded.SubFolders(domain.RootFolder); !slices.Equal(got, want) {
		t.Fatalf("root children = %v, stored %v", got, want)
	}
	if got := m.SubFolders("/x"); !slices.Equal(got, []string{"/x/y"}) {
		t.Fatalf("/x children = %v", got)
	}
}
