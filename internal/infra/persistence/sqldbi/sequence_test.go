package sqldbi

import (
	"context"
	"strings"
	"testing"

	"biostore/pkg/domain"
)

func newSequence(t *testing.T, d *Dbi, name, folder, residues string) domain.Sequence {
	t.Helper()
	ctx := context.Background()
	seq := domain.Sequence{Object: domain.Object{Name: name}, Alphabet: "dna"}
	if err := d.SequenceDbi().CreateSequenceObject(ctx, &seq, folder); err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	if residues != "" {
		if err := d.SequenceDbi().UpdateSequenceData(ctx, seq.ID, domain.RegionMax, []byte(residues)); err != nil {
			t.Fatalf("fill %s: %v", name, err)
		}
	}
	return seq
}

func TestSequenceUpdateSplicesRegions(t *testing.T) {
	ctx := context.Background()
	d := openSQLite(t, nil)
	sd := d.SequenceDbi()
	seq := newSequence(t, d, "s", "/", "AAAACCCCGGGG")

	cases := []struct {
		name   string
		region domain.Region
		data   string
		want   string
	}{
		{"replace middle", domain.Region{Start: 4, Length: 4}, "TT", "AAAATTGGGG"},
		{"insert", domain.Region{Start: 2, Length: 0}, "NN", "AANNAATTGGGG"},
		{"append", domain.Region{Start: 12, Length: 0}, "C", "AANNAATTGGGGC"},
		{"delete tail", domain.Region{Start: 10, Length: 100}, "", "AANNAATTGG"},
		{"replace all", domain.RegionMax, "ACGT", "ACGT"},
	}
	for _, tc := range cases {
		if err := sd.UpdateSequenceData(ctx, seq.ID, tc.region, []byte(tc.data)); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		got, err := sd.GetSequenceData(ctx, seq.ID, domain.RegionMax)
		if err != nil {
			t.Fatalf("%s: read: %v", tc.name, err)
		}
		if string(got) != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
		obj, _ := sd.GetSequenceObject(ctx, seq.ID)
		if obj.Length != int64(len(tc.want)) {
			t.Fatalf("%s: stored length %d, want %d", tc.name, obj.Length, len(tc.want))
		}
	}
	mustErrIs(t, sd.UpdateSequenceData(ctx, seq.ID, domain.Region{Start: 99, Length: 1}, []byte("A")), domain.ErrPrecondition)
}

func TestSequenceDataAcrossChunks(t *testing.T) {
	old := sequenceChunkSize
	sequenceChunkSize = 4
	t.Cleanup(func() { sequenceChunkSize = old })

	ctx := context.Background()
	d := openSQLite(t, nil)
	residues := strings.Repeat("ACGTTGCA", 5)
	seq := newSequence(t, d, "chunked", "/", residues)

	var chunks int
	if err := d.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM SequenceData WHERE sequence = ?", seq.ID.RowID()).Scan(&chunks); err != nil {
		t.Fatalf("count chunks: %v", err)
	}
	if chunks != 10 {
		t.Fatalf("expected 10 chunks, got %d", chunks)
	}
	got, err := d.SequenceDbi().GetSequenceData(ctx, seq.ID, domain.Region{Start: 3, Length: 10})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != residues[3:13] {
		t.Fatalf("expected %s, got %s", residues[3:13], got)
	}
	got, _ = d.SequenceDbi().GetSequenceData(ctx, seq.ID, domain.Region{Start: 38, Length: 100})
	if string(got) != residues[38:] {
		t.Fatalf("expected clamped tail %s, got %s", residues[38:], got)
	}
}

func TestSequenceWrongKind(t *testing.T) {
	d := openSQLite(t, nil)
	_, err := d.SequenceDbi().GetSequenceObject(context.Background(), domain.NewEntityID(1, domain.TypeMsa))
	mustErrIs(t, err, domain.ErrPrecondition)
}
