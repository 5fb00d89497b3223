package storage

import (
	"context"
	"fmt"

	"biostore/pkg/domain"
)

func typed[T domain.Entity](ctx context.Context, s *Storage, h *Handle, kind domain.DataType) (T, error) {
	var zero T
	e, err := s.GetObject(ctx, h, kind)
	if err != nil {
		return zero, err
	}
	v, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("handle resolved to %T: %w", e, domain.ErrPrecondition)
	}
	return v, nil
}

// Sequence resolves h to a sequence.
func Sequence(ctx context.Context, s *Storage, h *Handle) (domain.Sequence, error) {
	return typed[domain.Sequence](ctx, s, h, domain.TypeSequence)
}

// Alignment resolves h to an alignment.
func Alignment(ctx context.Context, s *Storage, h *Handle) (domain.Msa, error) {
	return typed[domain.Msa](ctx, s, h, domain.TypeMsa)
}

// Assembly resolves h to an assembly.
func Assembly(ctx context.Context, s *Storage, h *Handle) (domain.Assembly, error) {
	return typed[domain.Assembly](ctx, s, h, domain.TypeAssembly)
}

// AnnotationTable resolves h to an annotation table.
func AnnotationTable(ctx context.Context, s *Storage, h *Handle) (domain.AnnotationTable, error) {
	return typed[domain.AnnotationTable](ctx, s, h, domain.TypeAnnotationTable)
}

// VariantTrack resolves h to a variant track.
func VariantTrack(ctx context.Context, s *Storage, h *Handle) (domain.VariantTrack, error) {
	return typed[domain.VariantTrack](ctx, s, h, domain.TypeVariantTrack)
}

// Text resolves h to a text object and returns its content.
func Text(ctx context.Context, s *Storage, h *Handle) (string, error) {
	raw, err := typed[domain.RawData](ctx, s, h, domain.TypeText)
	if err != nil {
		return "", err
	}
	conn, err := s.Connection(ctx, h.DbiRef())
	if err != nil {
		return "", err
	}
	data, err := conn.RawDataDbi().GetRawData(ctx, raw.ID)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SequenceData resolves h to a sequence and reads its residues.
func SequenceData(ctx context.Context, s *Storage, h *Handle) (domain.DNASequence, error) {
	seq, err := Sequence(ctx, s, h)
	if err != nil {
		return domain.DNASequence{}, err
	}
	conn, err := s.Connection(ctx, h.DbiRef())
	if err != nil {
		return domain.DNASequence{}, err
	}
	data, err := conn.SequenceDbi().GetSequenceData(ctx, seq.ID, domain.RegionMax)
	if err != nil {
		return domain.DNASequence{}, err
	}
	return domain.DNASequence{Name: seq.Name, Alphabet: seq.Alphabet, Seq: data, Circular: seq.Circular}, nil
}
