package sqldbi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"biostore/pkg/domain"
)

// sequenceChunkSize is the residue count stored per SequenceData row.
var sequenceChunkSize int64 = 1 << 20

type sequenceDbi struct{ d *Dbi }

func (s *sequenceDbi) CreateSequenceObject(ctx context.Context, seq *domain.Sequence, folder string) error {
	return s.d.write(ctx, "create_sequence", func(c conn) error {
		return s.d.createSequence(ctx, c, seq, folder)
	})
}

func (d *Dbi) createSequence(ctx context.Context, c conn, seq *domain.Sequence, folder string) error {
	if err := createObject(ctx, c, domain.TypeSequence, &seq.Object, folder); err != nil {
		return err
	}
	seq.DbiID = d.url
	seq.Length = 0
	_, err := c.exec(ctx, "INSERT INTO Sequence(object, alphabet, length, circular) VALUES(?, ?, 0, ?)",
		seq.ID.RowID(), seq.Alphabet, boolInt(seq.Circular))
	if err != nil {
		return fmt.Errorf("create sequence: %w", err)
	}
	return nil
}

func (s *sequenceDbi) GetSequenceObject(ctx context.Context, id domain.EntityID) (domain.Sequence, error) {
	var seq domain.Sequence
	err := s.d.read(ctx, "get_sequence", func(c conn) error {
		var err error
		seq, err = s.d.sequenceRow(ctx, c, id)
		return err
	})
	return seq, err
}

func (d *Dbi) sequenceRow(ctx context.Context, c conn, id domain.EntityID) (domain.Sequence, error) {
	if id.Type() != domain.TypeSequence {
		return domain.Sequence{}, domain.Preconditionf("id %s is not a sequence", id)
	}
	obj, err := d.objectRow(ctx, c, id)
	if err != nil {
		return domain.Sequence{}, err
	}
	seq := domain.Sequence{Object: obj}
	var circular int
	err = c.queryRow(ctx, "SELECT alphabet, length, circular FROM Sequence WHERE object = ?", id.RowID()).
		Scan(&seq.Alphabet, &seq.Length, &circular)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Sequence{}, domain.NotFound(id)
	}
	if err != nil {
		return domain.Sequence{}, fmt.Errorf("read sequence: %w", err)
	}
	seq.Circular = circular != 0
	return seq, nil
}

func (s *sequenceDbi) GetSequenceData(ctx context.Context, id domain.EntityID, region domain.Region) ([]byte, error) {
	var out []byte
	err := s.d.read(ctx, "get_sequence_data", func(c conn) error {
		seq, err := s.d.sequenceRow(ctx, c, id)
		if err != nil {
			return err
		}
		out, err = sequenceData(ctx, c, id.RowID(), clampRegion(region, seq.Length))
		return err
	})
	return out, err
}

// clampRegion bounds region to [0, length).
func clampRegion(region domain.Region, length int64) domain.Region {
	start := max(region.Start, 0)
	end := min(region.End(), length)
	if start >= end {
		return domain.Region{Start: min(start, length)}
	}
	return domain.Region{Start: start, Length: end - start}
}

func sequenceData(ctx context.Context, c conn, row int64, region domain.Region) ([]byte, error) {
	out := make([]byte, 0, region.Length)
	if region.Length == 0 {
		return out, nil
	}
	rows, err := c.query(ctx, `SELECT sstart, send, data FROM SequenceData
		WHERE sequence = ? AND send > ? AND sstart < ? ORDER BY sstart`, row, region.Start, region.End())
	if err != nil {
		return nil, fmt.Errorf("read sequence data: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var start, end int64
		var chunk []byte
		if err := rows.Scan(&start, &end, &chunk); err != nil {
			return nil, err
		}
		from := max(region.Start, start) - start
		to := min(region.End(), end) - start
		out = append(out, chunk[from:to]...)
	}
	return out, rows.Err()
}

// UpdateSequenceData replaces the residues in region with data. The region
// may be empty (pure insertion); domain.RegionMax replaces the whole sequence.
func (s *sequenceDbi) UpdateSequenceData(ctx context.Context, id domain.EntityID, region domain.Region, data []byte) error {
	return s.d.write(ctx, "update_sequence_data", func(c conn) error {
		return s.d.updateSequenceData(ctx, c, id, region, data)
	})
}

func (d *Dbi) updateSequenceData(ctx context.Context, c conn, id domain.EntityID, region domain.Region, data []byte) error {
	seq, err := d.sequenceRow(ctx, c, id)
	if err != nil {
		return err
	}
	var full []byte
	if region.IsMax() || (region.Start == 0 && region.Length >= seq.Length) {
		full = data
	} else {
		if region.Start < 0 || region.Start > seq.Length {
			return domain.Preconditionf("region start %d outside sequence of length %d", region.Start, seq.Length)
		}
		r := clampRegion(region, seq.Length)
		old, err := sequenceData(ctx, c, id.RowID(), domain.Region{Start: 0, Length: seq.Length})
		if err != nil {
			return err
		}
		full = make([]byte, 0, int64(len(old))-r.Length+int64(len(data)))
		full = append(full, old[:r.Start]...)
		full = append(full, data...)
		full = append(full, old[r.End():]...)
	}
	if err := writeSequenceData(ctx, c, id.RowID(), full); err != nil {
		return err
	}
	if _, err := c.exec(ctx, "UPDATE Sequence SET length = ? WHERE object = ?", int64(len(full)), id.RowID()); err != nil {
		return fmt.Errorf("update sequence length: %w", err)
	}
	return incrementVersion(ctx, c, id)
}

func writeSequenceData(ctx context.Context, c conn, row int64, data []byte) error {
	if _, err := c.exec(ctx, "DELETE FROM SequenceData WHERE sequence = ?", row); err != nil {
		return fmt.Errorf("clear sequence data: %w", err)
	}
	for start := int64(0); start < int64(len(data)); start += sequenceChunkSize {
		end := min(start+sequenceChunkSize, int64(len(data)))
		if _, err := c.exec(ctx, "INSERT INTO SequenceData(sequence, sstart, send, data) VALUES(?, ?, ?, ?)",
			row, start, end, data[start:end]); err != nil {
			return fmt.Errorf("write sequence data: %w", err)
		}
	}
	return nil
}

func removeSequenceRows(ctx context.Context, c conn, row int64) error {
	if _, err := c.exec(ctx, "DELETE FROM SequenceData WHERE sequence = ?", row); err != nil {
		return err
	}
	_, err := c.exec(ctx, "DELETE FROM Sequence WHERE object = ?", row)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
