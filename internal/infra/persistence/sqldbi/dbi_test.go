package sqldbi

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"biostore/internal/infra/persistence/sqldbi/schema"
	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

func TestInitCreatesSchemaAndRootFolder(t *testing.T) {
	d := openSQLite(t, nil)
	ctx := context.Background()
	if !d.IsInitialized() || d.State() != dbi.StateReady {
		t.Fatalf("expected ready dbi, got %s", d.State())
	}
	folders, err := d.ObjectDbi().GetFolders(ctx)
	if err != nil {
		t.Fatalf("folders: %v", err)
	}
	if len(folders) != 1 || folders[0] != domain.RootFolder {
		t.Fatalf("expected only the root folder, got %v", folders)
	}
	version, err := d.Property(ctx, metaVersion, "")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != "2" {
		t.Fatalf("expected schema version 2, got %q", version)
	}
	if err := d.PopulateDefaultSchema(ctx); err != nil {
		t.Fatalf("second populate: %v", err)
	}
	folders, _ = d.ObjectDbi().GetFolders(ctx)
	if len(folders) != 1 {
		t.Fatalf("populate must be idempotent, folders %v", folders)
	}
}

func TestInitRejectsBadProperties(t *testing.T) {
	ctx := context.Background()
	d := New(testDialect(), "sqlite")
	mustErrIs(t, d.Init(ctx, map[string]string{}), domain.ErrPrecondition)
	mustErrIs(t, d.Init(ctx, map[string]string{
		dbi.PropURL: filepath.Join(t.TempDir(), "x.db"), dbi.PropCreate: "true", dbi.PropReadOnly: "true",
	}), domain.ErrPrecondition)
	mustErrIs(t, d.Init(ctx, map[string]string{dbi.PropURL: filepath.Join(t.TempDir(), "missing.db")}), domain.ErrNotFound)
	if d.IsInitialized() {
		t.Fatalf("failed init must leave the dbi closed")
	}
}

func TestInitTwiceFailsAndReopenAfterShutdown(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	d := openSQLiteAt(t, path, true, nil)
	mustErrIs(t, d.Init(ctx, map[string]string{dbi.PropURL: path}), domain.ErrPrecondition)
	seq := domain.Sequence{Object: domain.Object{Name: "chr1"}, Alphabet: "dna"}
	if err := d.SequenceDbi().CreateSequenceObject(ctx, &seq, domain.RootFolder); err != nil {
		t.Fatalf("create: %v", err)
	}
	shutdown(t, d)
	mustErrIs(t, d.Flush(ctx), domain.ErrNotInitialized)
	if err := d.Init(ctx, map[string]string{dbi.PropURL: path}); err != nil {
		t.Fatalf("reinit: %v", err)
	}
	got, err := d.SequenceDbi().GetSequenceObject(ctx, seq.ID)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Name != "chr1" || got.DbiID != path {
		t.Fatalf("unexpected sequence %+v", got)
	}
}

func TestReadOnlyOpenRejectsWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	w := openSQLiteAt(t, path, true, nil)
	shutdown(t, w)

	ro := openSQLiteAt(t, path, false, map[string]string{dbi.PropReadOnly: "true"})
	if !ro.IsReadOnly() {
		t.Fatalf("expected read-only dbi")
	}
	if dbi.HasFeature(ro, dbi.FeatureWriteSequence) {
		t.Fatalf("read-only dbi must not report write features")
	}
	seq := domain.Sequence{Object: domain.Object{Name: "x"}}
	mustErrIs(t, ro.SequenceDbi().CreateSequenceObject(ctx, &seq, domain.RootFolder), domain.ErrReadOnly)
	mustErrIs(t, ro.StartOperationsBlock(ctx), domain.ErrReadOnly)
	if _, err := ro.ObjectDbi().CountObjects(ctx); err != nil {
		t.Fatalf("reads must work on read-only dbi: %v", err)
	}
}

func TestStoredAssemblyStrategyWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	d := openSQLiteAt(t, path, true, map[string]string{
		dbi.PropAssemblyMethod:      dbi.AssemblyMethodSingleTable,
		dbi.PropAssemblyCompression: dbi.CompressionBits1,
	})
	shutdown(t, d)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	d = openSQLiteAt(t, path, false, map[string]string{dbi.PropAssemblyMethod: dbi.AssemblyMethodMultiTable}, WithLogger(logger))
	method, compression := d.AssemblyStrategy()
	if method != dbi.AssemblyMethodSingleTable || compression != dbi.CompressionBits1 {
		t.Fatalf("expected stored strategy, got %s/%s", method, compression)
	}
	if !strings.Contains(logs.String(), "ignoring requested storage strategy") {
		t.Fatalf("expected a warning about the conflicting strategy, got %q", logs.String())
	}
	meta, err := d.MetaInfo(context.Background())
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta[dbi.PropAssemblyMethod] != dbi.AssemblyMethodSingleTable || meta[dbi.PropURL] != path {
		t.Fatalf("unexpected meta %v", meta)
	}
}

func TestUnknownAssemblyMethodRejected(t *testing.T) {
	d := New(testDialect(), "sqlite", WithLogger(quietLogger()))
	err := d.Init(context.Background(), map[string]string{
		dbi.PropURL:            filepath.Join(t.TempDir(), "store.db"),
		dbi.PropCreate:         "true",
		dbi.PropAssemblyMethod: "b-tree-of-doom",
	})
	mustErrIs(t, err, domain.ErrPrecondition)
}

func TestUpgradeFromVersionOne(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	d := openSQLiteAt(t, path, true, nil)
	db := d.DB()
	if _, err := db.ExecContext(ctx, "ALTER TABLE Object DROP COLUMN trackable"); err != nil {
		t.Skipf("sqlite cannot drop columns: %v", err)
	}
	if _, err := db.ExecContext(ctx, "UPDATE Meta SET value = '1' WHERE name = 'version'"); err != nil {
		t.Fatalf("downgrade: %v", err)
	}
	shutdown(t, d)

	d = openSQLiteAt(t, path, false, nil, WithLogger(quietLogger()))
	v, err := d.Property(ctx, metaVersion, "")
	if err != nil || v != "2" {
		t.Fatalf("expected upgraded version 2, got %q (%v)", v, err)
	}
	raw := domain.RawData{Object: domain.Object{Name: "blob", Trackable: true}}
	if err := d.RawDataDbi().CreateRawDataObject(ctx, &raw, domain.RootFolder, []byte("x")); err != nil {
		t.Fatalf("create after upgrade: %v", err)
	}
	obj, err := d.ObjectDbi().GetObject(ctx, raw.ID)
	if err != nil || !obj.Trackable {
		t.Fatalf("trackable flag lost after upgrade: %+v %v", obj, err)
	}
}

func TestNewerSchemaVersionRejected(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	d := openSQLiteAt(t, path, true, nil)
	if _, err := d.DB().ExecContext(ctx, "UPDATE Meta SET value = '99' WHERE name = 'version'"); err != nil {
		t.Fatalf("bump: %v", err)
	}
	shutdown(t, d)
	d = New(testDialect(), "sqlite")
	mustErrIs(t, d.Init(ctx, map[string]string{dbi.PropURL: path}), domain.ErrUnsupported)
	mustErrIs(t, d.Init(ctx, map[string]string{dbi.PropURL: path, dbi.PropReadOnly: "true"}), domain.ErrUnsupported)
}

func TestEntityTypeRecoveredFromID(t *testing.T) {
	d := New(testDialect(), "sqlite")
	id := domain.NewEntityID(42, domain.TypeVariantTrack)
	if got := d.EntityTypeByID(id); got != domain.TypeVariantTrack {
		t.Fatalf("expected variant track, got %s", got)
	}
}

func TestPropertiesRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := openSQLite(t, nil)
	if v, _ := d.Property(ctx, "owner", "nobody"); v != "nobody" {
		t.Fatalf("expected default, got %q", v)
	}
	if err := d.SetProperty(ctx, "owner", "lab"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, _ := d.Property(ctx, "owner", ""); v != "lab" {
		t.Fatalf("expected lab, got %q", v)
	}
	mustErrIs(t, d.SetProperty(ctx, metaVersion, "7"), domain.ErrPrecondition)
}

func TestShutdownRollsBackOpenBlock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	d := openSQLiteAt(t, path, true, nil)
	if err := d.StartOperationsBlock(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	seq := domain.Sequence{Object: domain.Object{Name: "lost"}}
	if err := d.SequenceDbi().CreateSequenceObject(ctx, &seq, domain.RootFolder); err != nil {
		t.Fatalf("create: %v", err)
	}
	mustErrIs(t, d.Shutdown(ctx), domain.ErrPrecondition)

	d = openSQLiteAt(t, path, false, nil)
	if n, _ := d.ObjectDbi().CountObjects(ctx); n != 0 {
		t.Fatalf("uncommitted object survived shutdown: %d objects", n)
	}
}

func TestSchemaVersionConstant(t *testing.T) {
	if schema.Version != 2 {
		t.Fatalf("tests assume schema version 2, got %d", schema.Version)
	}
}
