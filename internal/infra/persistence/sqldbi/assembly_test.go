package sqldbi

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

func testReads() []domain.AssemblyRead {
	mk := func(name string, pos int64, cigar, seq string) domain.AssemblyRead {
		c, _ := domain.ParseCigar(cigar)
		return domain.AssemblyRead{Name: name, LeftmostPos: pos, Cigar: c, Sequence: []byte(seq), Quality: []byte(strings.Repeat("I", len(seq))), MappingQuality: 60}
	}
	return []domain.AssemblyRead{
		mk("r1", 0, "4M", "ACGT"),
		mk("r2", 2, "4M", "GTAC"),
		mk("r3", 5, "2M1D2M", "ACGT"),
		mk("r4", 10, "3M", "NNX"),
		mk("long", 1, "120M", strings.Repeat("A", 120)),
	}
}

func TestAssemblyStrategies(t *testing.T) {
	for _, method := range []string{dbi.AssemblyMethodSingleTable, dbi.AssemblyMethodMultiTable, dbi.AssemblyMethodRTree} {
		for _, compression := range []string{dbi.CompressionNone, dbi.CompressionBits1} {
			t.Run(method+"/"+compression, func(t *testing.T) {
				ctx := context.Background()
				d := openSQLite(t, map[string]string{
					dbi.PropAssemblyMethod:      method,
					dbi.PropAssemblyCompression: compression,
				})
				ad := d.AssemblyDbi()
				asm := domain.Assembly{Object: domain.Object{Name: "asm"}}
				if err := ad.CreateAssemblyObject(ctx, &asm, "/", dbi.NewSliceIterator(testReads())); err != nil {
					t.Fatalf("create: %v", err)
				}
				if n, err := ad.CountReads(ctx, asm.ID, domain.RegionMax); err != nil || n != 5 {
					t.Fatalf("count all: %d (%v)", n, err)
				}
				if n, _ := ad.CountReads(ctx, asm.ID, domain.Region{Start: 4, Length: 2}); n != 3 {
					t.Fatalf("expected 3 reads over [4,6), got %d", n)
				}
				it, err := ad.GetReads(ctx, asm.ID, domain.Region{Start: 6, Length: 10})
				if err != nil {
					t.Fatalf("get reads: %v", err)
				}
				reads, err := dbi.Collect(ctx, it)
				if err != nil {
					t.Fatalf("collect: %v", err)
				}
				var names []string
				for _, r := range reads {
					names = append(names, r.Name)
				}
				if strings.Join(names, ",") != "long,r3,r4" {
					t.Fatalf("unexpected reads %v", names)
				}
				if reads[1].EffectiveLength != 5 {
					t.Fatalf("expected effective length 5 for r3, got %d", reads[1].EffectiveLength)
				}

				byName, err := ad.GetReadsByName(ctx, asm.ID, "r4")
				if err != nil {
					t.Fatalf("by name: %v", err)
				}
				got, _ := dbi.Collect(ctx, byName)
				if len(got) != 1 || !bytes.Equal(got[0].Sequence, []byte("NNX")) || domain.FormatCigar(got[0].Cigar) != "3M" {
					t.Fatalf("read did not round trip: %+v", got)
				}
				if got[0].ID.Type() != domain.TypeAssemblyRead {
					t.Fatalf("read id has kind %s", got[0].ID.Type())
				}

				if end, _ := ad.GetMaxEndPos(ctx, asm.ID); end != 121 {
					t.Fatalf("expected max end 121, got %d", end)
				}
				if err := ad.RemoveReads(ctx, asm.ID, []domain.EntityID{got[0].ID}); err != nil {
					t.Fatalf("remove read: %v", err)
				}
				if n, _ := ad.CountReads(ctx, asm.ID, domain.RegionMax); n != 4 {
					t.Fatalf("expected 4 reads after removal, got %d", n)
				}
				mustErrIs(t, ad.RemoveReads(ctx, asm.ID, []domain.EntityID{got[0].ID}), domain.ErrNotFound)
			})
		}
	}
}

func TestPackAssignsNonOverlappingRows(t *testing.T) {
	ctx := context.Background()
	d := openSQLite(t, nil)
	ad := d.AssemblyDbi()
	asm := domain.Assembly{Object: domain.Object{Name: "asm"}}
	if err := ad.CreateAssemblyObject(ctx, &asm, "/", dbi.NewSliceIterator(testReads())); err != nil {
		t.Fatalf("create: %v", err)
	}
	rows, err := ad.Pack(ctx, asm.ID)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if rows != 3 {
		t.Fatalf("expected 3 packed rows, got %d", rows)
	}
	it, _ := ad.GetReads(ctx, asm.ID, domain.RegionMax)
	reads, err := dbi.Collect(ctx, it)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	for i, a := range reads {
		if a.PackedRow < 0 || a.PackedRow >= rows {
			t.Fatalf("read %s has row %d outside [0,%d)", a.Name, a.PackedRow, rows)
		}
		for _, b := range reads[i+1:] {
			if a.PackedRow == b.PackedRow && a.Region().Intersects(b.Region()) {
				t.Fatalf("reads %s and %s overlap on row %d", a.Name, b.Name, a.PackedRow)
			}
		}
	}
}

func TestRemoveAssemblyDropsReads(t *testing.T) {
	ctx := context.Background()
	d := openSQLite(t, map[string]string{dbi.PropAssemblyMethod: dbi.AssemblyMethodMultiTable})
	ad := d.AssemblyDbi()
	ref := newSequence(t, d, "ref", "/", "ACGTACGTACGT")
	asm := domain.Assembly{Object: domain.Object{Name: "asm"}, ReferenceID: ref.ID}
	if err := ad.CreateAssemblyObject(ctx, &asm, "/", dbi.NewSliceIterator(testReads())); err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, err := ad.GetAssemblyObject(ctx, asm.ID)
	if err != nil || stored.ReferenceID != ref.ID {
		t.Fatalf("unexpected assembly %+v (%v)", stored, err)
	}
	if err := d.ObjectDbi().RemoveObject(ctx, asm.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	var left int
	for _, table := range multiTables {
		var n int
		if err := d.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table.name).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table.name, err)
		}
		left += n
	}
	if left != 0 {
		t.Fatalf("expected no reads left, found %d", left)
	}
}

func TestAddReadsFailureRollsBackAssembly(t *testing.T) {
	ctx := context.Background()
	d := openSQLite(t, nil)
	bad := testReads()
	bad[2].LeftmostPos = -1
	asm := domain.Assembly{Object: domain.Object{Name: "asm"}}
	err := d.AssemblyDbi().CreateAssemblyObject(ctx, &asm, "/", dbi.NewSliceIterator(bad))
	mustErrIs(t, err, domain.ErrPrecondition)
	if n, _ := d.ObjectDbi().CountObjects(ctx); n != 0 {
		t.Fatalf("assembly must not survive a failed import, found %d objects", n)
	}
}

func TestReadKeyCarriesTable(t *testing.T) {
	for _, table := range multiTables {
		key := readKey(table, 77)
		got, row, ok := splitReadKey(multiTables, key)
		if !ok || got.name != table.name || row != 77 {
			t.Fatalf("key %d split into %v/%d/%v", key, got, row, ok)
		}
	}
	if _, _, ok := splitReadKey(singleTable, readKey(multiTables[3], 1)); ok {
		t.Fatalf("foreign table index must not resolve")
	}
	if tableFor(multiTables, 50).name != "AssemblyRead_m0" || tableFor(multiTables, 51).name != "AssemblyRead_m1" {
		t.Fatalf("bucket boundaries are inclusive of the limit")
	}
	if tableFor(multiTables, 1<<40).name != "AssemblyRead_m8" {
		t.Fatalf("overflow bucket not chosen")
	}
	if minLen(multiTables, multiTables[2]) != 101 {
		t.Fatalf("unexpected lower bound %d", minLen(multiTables, multiTables[2]))
	}
}
