package dbiutil

import (
	"context"
	"fmt"

	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

// GapChar marks a gap inside an alignment row.
const GapChar = '-'

// SplitGaps separates a gapped row into its residues and its gap model.
// Gap offsets are positions in the gapped row.
func SplitGaps(row []byte) ([]byte, []domain.Gap) {
	residues := make([]byte, 0, len(row))
	var gaps []domain.Gap
	for i, c := range row {
		if c != GapChar {
			residues = append(residues, c)
			continue
		}
		if n := len(gaps); n > 0 && gaps[n-1].Offset+gaps[n-1].Length == int64(i) {
			gaps[n-1].Length++
			continue
		}
		gaps = append(gaps, domain.Gap{Offset: int64(i), Length: 1})
	}
	return residues, gaps
}

// MergeGaps is the inverse of SplitGaps. Gaps must be sorted by offset.
func MergeGaps(residues []byte, gaps []domain.Gap) []byte {
	n := int64(len(residues))
	for _, g := range gaps {
		n += g.Length
	}
	out := make([]byte, 0, n)
	next := 0
	for _, g := range gaps {
		for int64(len(out)) < g.Offset && next < len(residues) {
			out = append(out, residues[next])
			next++
		}
		for range g.Length {
			out = append(out, GapChar)
		}
	}
	return append(out, residues[next:]...)
}

// ImportAlignment stores al as a new alignment in folder. Each row becomes a
// sequence object in the same folder referenced by its alignment row.
func ImportAlignment(ctx context.Context, d dbi.Dbi, folder string, al domain.Alignment) (domain.Msa, error) {
	msa := domain.Msa{
		Object:   domain.Object{Name: al.Name},
		Alphabet: al.Alphabet,
		Length:   al.Length(),
	}
	err := d.RunInOperationsBlock(ctx, func(ctx context.Context) error {
		if err := d.MsaDbi().CreateMsaObject(ctx, &msa, folder); err != nil {
			return err
		}
		for _, r := range al.Rows {
			residues, gaps := SplitGaps(r.Data)
			seq, err := ImportSequence(ctx, d, folder, domain.DNASequence{Name: r.Name, Alphabet: al.Alphabet, Seq: residues})
			if err != nil {
				return err
			}
			row := domain.MsaRow{SequenceID: seq.ID, Gaps: gaps, End: seq.Length}
			if err := d.MsaDbi().AddRow(ctx, msa.ID, -1, &row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Msa{}, fmt.Errorf("import alignment %q: %w", al.Name, err)
	}
	return msa, nil
}

// ExportAlignment rebuilds the gapped rows of a stored alignment.
func ExportAlignment(ctx context.Context, d dbi.Dbi, id domain.EntityID) (domain.Alignment, error) {
	mdbi := d.MsaDbi()
	msa, err := mdbi.GetMsaObject(ctx, id)
	if err != nil {
		return domain.Alignment{}, err
	}
	rows, err := mdbi.GetRows(ctx, id)
	if err != nil {
		return domain.Alignment{}, err
	}
	al := domain.Alignment{Name: msa.Name, Alphabet: msa.Alphabet, Rows: make([]domain.AlignmentRow, 0, len(rows))}
	sdbi := d.SequenceDbi()
	for _, row := range rows {
		seq, err := sdbi.GetSequenceObject(ctx, row.SequenceID)
		if err != nil {
			return domain.Alignment{}, err
		}
		residues, err := sdbi.GetSequenceData(ctx, row.SequenceID, domain.Region{Start: row.Start, Length: row.End - row.Start})
		if err != nil {
			return domain.Alignment{}, err
		}
		al.Rows = append(al.Rows, domain.AlignmentRow{Name: seq.Name, Data: MergeGaps(residues, row.Gaps)})
	}
	return al, nil
}

// CloneAlignment copies alignment id of src, row sequences included, into
// folder of dst.
func CloneAlignment(ctx context.Context, src dbi.Dbi, id domain.EntityID, dst dbi.Dbi, folder string) (domain.Msa, error) {
	al, err := ExportAlignment(ctx, src, id)
	if err != nil {
		return domain.Msa{}, err
	}
	return ImportAlignment(ctx, dst, folder, al)
}
