package sqldbi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"biostore/pkg/domain"
)

type msaDbi struct{ d *Dbi }

func (m *msaDbi) CreateMsaObject(ctx context.Context, msa *domain.Msa, folder string) error {
	return m.d.write(ctx, "create_msa", func(c conn) error {
		if err := createObject(ctx, c, domain.TypeMsa, &msa.Object, folder); err != nil {
			return err
		}
		msa.DbiID = m.d.url
		_, err := c.exec(ctx, "INSERT INTO Msa(object, alphabet, length, num_of_rows) VALUES(?, ?, ?, 0)",
			msa.ID.RowID(), msa.Alphabet, msa.Length)
		if err != nil {
			return fmt.Errorf("create msa: %w", err)
		}
		return nil
	})
}

func (m *msaDbi) GetMsaObject(ctx context.Context, id domain.EntityID) (domain.Msa, error) {
	var msa domain.Msa
	err := m.d.read(ctx, "get_msa", func(c conn) error {
		var err error
		msa, err = m.d.msaRow(ctx, c, id)
		return err
	})
	return msa, err
}

func (d *Dbi) msaRow(ctx context.Context, c conn, id domain.EntityID) (domain.Msa, error) {
	if id.Type() != domain.TypeMsa {
		return domain.Msa{}, domain.Preconditionf("id %s is not an alignment", id)
	}
	obj, err := d.objectRow(ctx, c, id)
	if err != nil {
		return domain.Msa{}, err
	}
	msa := domain.Msa{Object: obj}
	err = c.queryRow(ctx, "SELECT alphabet, length FROM Msa WHERE object = ?", id.RowID()).Scan(&msa.Alphabet, &msa.Length)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Msa{}, domain.NotFound(id)
	}
	if err != nil {
		return domain.Msa{}, fmt.Errorf("read msa: %w", err)
	}
	return msa, nil
}

func (m *msaDbi) GetNumOfRows(ctx context.Context, msaID domain.EntityID) (int64, error) {
	var n int64
	err := m.d.read(ctx, "get_msa_num_rows", func(c conn) error {
		if _, err := m.d.msaRow(ctx, c, msaID); err != nil {
			return err
		}
		return c.queryRow(ctx, "SELECT num_of_rows FROM Msa WHERE object = ?", msaID.RowID()).Scan(&n)
	})
	return n, err
}

func (m *msaDbi) GetRows(ctx context.Context, msaID domain.EntityID) ([]domain.MsaRow, error) {
	var out []domain.MsaRow
	err := m.d.read(ctx, "get_msa_rows", func(c conn) error {
		if _, err := m.d.msaRow(ctx, c, msaID); err != nil {
			return err
		}
		var err error
		out, err = msaRows(ctx, c, msaID.RowID(), "")
		return err
	})
	return out, err
}

func (m *msaDbi) GetRow(ctx context.Context, msaID domain.EntityID, rowID int64) (domain.MsaRow, error) {
	var row domain.MsaRow
	err := m.d.read(ctx, "get_msa_row", func(c conn) error {
		rows, err := msaRows(ctx, c, msaID.RowID(), " AND row_id = ?", rowID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.NotFoundError{Kind: domain.TypeMsaRow, ID: fmt.Sprintf("%s/%d", msaID, rowID)}
		}
		row = rows[0]
		return nil
	})
	return row, err
}

func msaRows(ctx context.Context, c conn, msa int64, filter string, args ...any) ([]domain.MsaRow, error) {
	rows, err := c.query(ctx, "SELECT row_id, sequence, gstart, gend, length FROM MsaRow WHERE msa = ?"+filter+" ORDER BY pos",
		append([]any{msa}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("read msa rows: %w", err)
	}
	var out []domain.MsaRow
	for rows.Next() {
		var r domain.MsaRow
		var seq int64
		if err := rows.Scan(&r.RowID, &seq, &r.Start, &r.End, &r.Length); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r.SequenceID = domain.NewEntityID(seq, domain.TypeSequence)
		out = append(out, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		gaps, err := msaGaps(ctx, c, msa, out[i].RowID)
		if err != nil {
			return nil, err
		}
		out[i].Gaps = gaps
	}
	return out, nil
}

func msaGaps(ctx context.Context, c conn, msa, rowID int64) ([]domain.Gap, error) {
	rows, err := c.query(ctx, "SELECT gap_start, gap_end FROM MsaRowGap WHERE msa = ? AND row_id = ? ORDER BY gap_start", msa, rowID)
	if err != nil {
		return nil, fmt.Errorf("read gaps: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var gaps []domain.Gap
	for rows.Next() {
		var start, end int64
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		gaps = append(gaps, domain.Gap{Offset: start, Length: end - start})
	}
	return gaps, rows.Err()
}

// AddRow inserts row at position pos; pos < 0 or past the end appends.
// The alignment length grows to fit the row.
func (m *msaDbi) AddRow(ctx context.Context, msaID domain.EntityID, pos int, row *domain.MsaRow) error {
	return m.d.write(ctx, "add_msa_row", func(c conn) error {
		return m.d.addMsaRow(ctx, c, msaID, pos, row)
	})
}

func (d *Dbi) addMsaRow(ctx context.Context, c conn, msaID domain.EntityID, pos int, row *domain.MsaRow) error {
	msa, err := d.msaRow(ctx, c, msaID)
	if err != nil {
		return err
	}
	seq, err := d.sequenceRow(ctx, c, row.SequenceID)
	if err != nil {
		return err
	}
	if row.End == 0 {
		row.End = seq.Length
	}
	if row.Start < 0 || row.End < row.Start || row.End > seq.Length {
		return domain.Preconditionf("row range [%d,%d) outside sequence of length %d", row.Start, row.End, seq.Length)
	}
	row.Length = rowLength(row.Start, row.End, row.Gaps)

	var n, maxID int64
	if err := c.queryRow(ctx, "SELECT num_of_rows FROM Msa WHERE object = ?", msaID.RowID()).Scan(&n); err != nil {
		return err
	}
	if err := c.queryRow(ctx, "SELECT COALESCE(MAX(row_id), 0) FROM MsaRow WHERE msa = ?", msaID.RowID()).Scan(&maxID); err != nil {
		return err
	}
	p := int64(pos)
	if p < 0 || p > n {
		p = n
	} else if _, err := c.exec(ctx, "UPDATE MsaRow SET pos = pos + 1 WHERE msa = ? AND pos >= ?", msaID.RowID(), p); err != nil {
		return fmt.Errorf("shift msa rows: %w", err)
	}
	row.RowID = maxID + 1
	if _, err := c.exec(ctx, "INSERT INTO MsaRow(msa, row_id, sequence, pos, gstart, gend, length) VALUES(?, ?, ?, ?, ?, ?, ?)",
		msaID.RowID(), row.RowID, row.SequenceID.RowID(), p, row.Start, row.End, row.Length); err != nil {
		return fmt.Errorf("insert msa row: %w", err)
	}
	if err := writeGaps(ctx, c, msaID.RowID(), row.RowID, row.Gaps); err != nil {
		return err
	}
	length := max(msa.Length, row.Length)
	if _, err := c.exec(ctx, "UPDATE Msa SET num_of_rows = num_of_rows + 1, length = ? WHERE object = ?", length, msaID.RowID()); err != nil {
		return err
	}
	return incrementVersion(ctx, c, msaID)
}

func rowLength(start, end int64, gaps []domain.Gap) int64 {
	n := end - start
	for _, g := range gaps {
		n += g.Length
	}
	return n
}

func writeGaps(ctx context.Context, c conn, msa, rowID int64, gaps []domain.Gap) error {
	for _, g := range gaps {
		if g.Offset < 0 || g.Length <= 0 {
			return domain.Preconditionf("invalid gap %+v", g)
		}
		if _, err := c.exec(ctx, "INSERT INTO MsaRowGap(msa, row_id, gap_start, gap_end) VALUES(?, ?, ?, ?)",
			msa, rowID, g.Offset, g.Offset+g.Length); err != nil {
			return fmt.Errorf("insert gap: %w", err)
		}
	}
	return nil
}

func (m *msaDbi) RemoveRows(ctx context.Context, msaID domain.EntityID, rowIDs []int64) error {
	return m.d.write(ctx, "remove_msa_rows", func(c conn) error {
		if _, err := m.d.msaRow(ctx, c, msaID); err != nil {
			return err
		}
		msa := msaID.RowID()
		for _, rid := range rowIDs {
			res, err := c.exec(ctx, "DELETE FROM MsaRow WHERE msa = ? AND row_id = ?", msa, rid)
			if err != nil {
				return fmt.Errorf("remove msa row: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return &domain.NotFoundError{Kind: domain.TypeMsaRow, ID: fmt.Sprintf("%s/%d", msaID, rid)}
			}
			if _, err := c.exec(ctx, "DELETE FROM MsaRowGap WHERE msa = ? AND row_id = ?", msa, rid); err != nil {
				return err
			}
		}
		remaining, err := c.int64s(ctx, "SELECT row_id FROM MsaRow WHERE msa = ? ORDER BY pos", msa)
		if err != nil {
			return err
		}
		for i, rid := range remaining {
			if _, err := c.exec(ctx, "UPDATE MsaRow SET pos = ? WHERE msa = ? AND row_id = ?", i, msa, rid); err != nil {
				return err
			}
		}
		if _, err := c.exec(ctx, "UPDATE Msa SET num_of_rows = ? WHERE object = ?", len(remaining), msa); err != nil {
			return err
		}
		return incrementVersion(ctx, c, msaID)
	})
}

func (m *msaDbi) UpdateGapModel(ctx context.Context, msaID domain.EntityID, rowID int64, gaps []domain.Gap) error {
	return m.d.write(ctx, "update_gap_model", func(c conn) error {
		msa := msaID.RowID()
		var start, end int64
		err := c.queryRow(ctx, "SELECT gstart, gend FROM MsaRow WHERE msa = ? AND row_id = ?", msa, rowID).Scan(&start, &end)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Kind: domain.TypeMsaRow, ID: fmt.Sprintf("%s/%d", msaID, rowID)}
		}
		if err != nil {
			return err
		}
		if _, err := c.exec(ctx, "DELETE FROM MsaRowGap WHERE msa = ? AND row_id = ?", msa, rowID); err != nil {
			return err
		}
		if err := writeGaps(ctx, c, msa, rowID, gaps); err != nil {
			return err
		}
		if _, err := c.exec(ctx, "UPDATE MsaRow SET length = ? WHERE msa = ? AND row_id = ?", rowLength(start, end, gaps), msa, rowID); err != nil {
			return err
		}
		return incrementVersion(ctx, c, msaID)
	})
}

func (m *msaDbi) UpdateMsaLength(ctx context.Context, msaID domain.EntityID, length int64) error {
	if length < 0 {
		return domain.Preconditionf("negative alignment length %d", length)
	}
	return m.d.write(ctx, "update_msa_length", func(c conn) error {
		res, err := c.exec(ctx, "UPDATE Msa SET length = ? WHERE object = ?", length, msaID.RowID())
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NotFound(msaID)
		}
		return incrementVersion(ctx, c, msaID)
	})
}

// removeMsaRows deletes the alignment rows and the row sequences that are
// not filed in any folder nor used by another alignment.
func (d *Dbi) removeMsaRows(ctx context.Context, c conn, msa int64) error {
	seqs, err := c.int64s(ctx, "SELECT DISTINCT sequence FROM MsaRow WHERE msa = ?", msa)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		"DELETE FROM MsaRowGap WHERE msa = ?",
		"DELETE FROM MsaRow WHERE msa = ?",
		"DELETE FROM Msa WHERE object = ?",
	} {
		if _, err := c.exec(ctx, stmt, msa); err != nil {
			return err
		}
	}
	for _, seq := range seqs {
		var filed, used int
		if err := c.queryRow(ctx, "SELECT COUNT(*) FROM FolderContent WHERE object = ?", seq).Scan(&filed); err != nil {
			return err
		}
		if err := c.queryRow(ctx, "SELECT COUNT(*) FROM MsaRow WHERE sequence = ?", seq).Scan(&used); err != nil {
			return err
		}
		if filed > 0 || used > 0 {
			continue
		}
		if err := d.removeObject(ctx, c, domain.NewEntityID(seq, domain.TypeSequence)); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return nil
}
