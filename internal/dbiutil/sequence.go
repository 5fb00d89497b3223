// Package dbiutil moves in-memory values into and out of a Dbi and copies
// stored objects between databases. Every import runs inside one operations
// block so a failed import leaves nothing behind.
package dbiutil

import (
	"context"
	"fmt"

	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

// ImportSequence stores v as a new sequence object in folder.
func ImportSequence(ctx context.Context, d dbi.Dbi, folder string, v domain.DNASequence) (domain.Sequence, error) {
	seq := domain.Sequence{
		Object:   domain.Object{Name: v.Name},
		Alphabet: v.Alphabet,
		Circular: v.Circular,
	}
	err := d.RunInOperationsBlock(ctx, func(ctx context.Context) error {
		sdbi := d.SequenceDbi()
		if err := sdbi.CreateSequenceObject(ctx, &seq, folder); err != nil {
			return err
		}
		if len(v.Seq) == 0 {
			return nil
		}
		if err := sdbi.UpdateSequenceData(ctx, seq.ID, domain.RegionMax, v.Seq); err != nil {
			return err
		}
		seq.Length = int64(len(v.Seq))
		return nil
	})
	if err != nil {
		return domain.Sequence{}, fmt.Errorf("import sequence %q: %w", v.Name, err)
	}
	return seq, nil
}

// ExportSequence reads a stored sequence with all of its residues.
func ExportSequence(ctx context.Context, d dbi.Dbi, id domain.EntityID) (domain.DNASequence, error) {
	sdbi := d.SequenceDbi()
	seq, err := sdbi.GetSequenceObject(ctx, id)
	if err != nil {
		return domain.DNASequence{}, err
	}
	data, err := sdbi.GetSequenceData(ctx, id, domain.RegionMax)
	if err != nil {
		return domain.DNASequence{}, err
	}
	return domain.DNASequence{Name: seq.Name, Alphabet: seq.Alphabet, Seq: data, Circular: seq.Circular}, nil
}

// CloneSequence copies sequence id of src into folder of dst.
func CloneSequence(ctx context.Context, src dbi.Dbi, id domain.EntityID, dst dbi.Dbi, folder string) (domain.Sequence, error) {
	v, err := ExportSequence(ctx, src, id)
	if err != nil {
		return domain.Sequence{}, err
	}
	return ImportSequence(ctx, dst, folder, v)
}
