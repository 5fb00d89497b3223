package sqldbi

import (
	"context"
	"testing"

	"biostore/pkg/domain"
)

func TestMsaRowsKeepOrder(t *testing.T) {
	ctx := context.Background()
	d := openSQLite(t, nil)
	md := d.MsaDbi()
	msa := domain.Msa{Object: domain.Object{Name: "aln"}, Alphabet: "dna"}
	if err := md.CreateMsaObject(ctx, &msa, "/alignments"); err != nil {
		t.Fatalf("create: %v", err)
	}
	s1 := newSequence(t, d, "r1", "", "ACGT")
	s2 := newSequence(t, d, "r2", "", "ACG")
	s3 := newSequence(t, d, "r3", "", "AC")

	r1 := domain.MsaRow{SequenceID: s1.ID}
	r2 := domain.MsaRow{SequenceID: s2.ID, Gaps: []domain.Gap{{Offset: 1, Length: 2}}}
	r3 := domain.MsaRow{SequenceID: s3.ID}
	for _, step := range []struct {
		pos int
		row *domain.MsaRow
	}{{-1, &r1}, {-1, &r2}, {0, &r3}} {
		if err := md.AddRow(ctx, msa.ID, step.pos, step.row); err != nil {
			t.Fatalf("add row: %v", err)
		}
	}
	rows, err := md.GetRows(ctx, msa.ID)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	order := []int64{r3.RowID, r1.RowID, r2.RowID}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i, r := range rows {
		if r.RowID != order[i] {
			t.Fatalf("row %d: expected id %d, got %d", i, order[i], r.RowID)
		}
	}
	if rows[2].Length != 5 || len(rows[2].Gaps) != 1 {
		t.Fatalf("gapped row not stored: %+v", rows[2])
	}
	obj, _ := md.GetMsaObject(ctx, msa.ID)
	if obj.Length != 5 {
		t.Fatalf("expected alignment length 5, got %d", obj.Length)
	}

	if err := md.RemoveRows(ctx, msa.ID, []int64{r1.RowID}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n, _ := md.GetNumOfRows(ctx, msa.ID); n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
	if err := md.UpdateGapModel(ctx, msa.ID, r2.RowID, nil); err != nil {
		t.Fatalf("update gaps: %v", err)
	}
	row, err := md.GetRow(ctx, msa.ID, r2.RowID)
	if err != nil || row.Length != 3 || len(row.Gaps) != 0 {
		t.Fatalf("unexpected row after gap update %+v (%v)", row, err)
	}
	mustErrIs(t, md.UpdateMsaLength(ctx, msa.ID, -1), domain.ErrPrecondition)
	mustErrIs(t, md.RemoveRows(ctx, msa.ID, []int64{999}), domain.ErrNotFound)
}

func TestRemoveMsaDropsUnfiledRowSequences(t *testing.T) {
	ctx := context.Background()
	d := openSQLite(t, nil)
	md := d.MsaDbi()
	msa := domain.Msa{Object: domain.Object{Name: "aln"}}
	if err := md.CreateMsaObject(ctx, &msa, "/"); err != nil {
		t.Fatalf("create: %v", err)
	}
	unfiled := newSequence(t, d, "row", "", "ACGT")
	filed := newSequence(t, d, "shared", "/", "ACGT")
	for _, s := range []domain.Sequence{unfiled, filed} {
		if err := md.AddRow(ctx, msa.ID, -1, &domain.MsaRow{SequenceID: s.ID}); err != nil {
			t.Fatalf("add row: %v", err)
		}
	}
	if err := d.ObjectDbi().RemoveObject(ctx, msa.ID); err != nil {
		t.Fatalf("remove msa: %v", err)
	}
	_, err := d.SequenceDbi().GetSequenceObject(ctx, unfiled.ID)
	mustErrIs(t, err, domain.ErrNotFound)
	if _, err := d.SequenceDbi().GetSequenceObject(ctx, filed.ID); err != nil {
		t.Fatalf("filed sequence must survive: %v", err)
	}
}

func TestAddRowRejectsRangeOutsideSequence(t *testing.T) {
	ctx := context.Background()
	d := openSQLite(t, nil)
	msa := domain.Msa{Object: domain.Object{Name: "aln"}}
	if err := d.MsaDbi().CreateMsaObject(ctx, &msa, "/"); err != nil {
		t.Fatalf("create: %v", err)
	}
	s := newSequence(t, d, "r", "", "AC")
	err := d.MsaDbi().AddRow(ctx, msa.ID, -1, &domain.MsaRow{SequenceID: s.ID, Start: 1, End: 5})
	mustErrIs(t, err, domain.ErrPrecondition)
}
