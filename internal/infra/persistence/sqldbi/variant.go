package sqldbi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

type variantDbi struct{ d *Dbi }

const variantColumns = "id, start_pos, end_pos, ref_data, obs_data, public_id, additional_info"

func (v *variantDbi) GetVariantTracks(ctx context.Context, filter dbi.VariantTrackFilter) (dbi.Iterator[domain.VariantTrack], error) {
	query := "SELECT object FROM VariantTrack WHERE 1 = 1"
	var args []any
	if !filter.SequenceID.IsZero() {
		query += " AND sequence = ?"
		args = append(args, filter.SequenceID.RowID())
	}
	if filter.TrackType != domain.TrackTypeAll {
		query += " AND track_type = ?"
		args = append(args, int(filter.TrackType))
	}
	query += " ORDER BY object LIMIT ? OFFSET ?"
	return dbi.NewPagedIterator(func(ctx context.Context, offset, limit int64) ([]domain.VariantTrack, error) {
		var page []domain.VariantTrack
		err := v.d.read(ctx, "get_variant_tracks", func(c conn) error {
			rows, err := c.int64s(ctx, query, append(slices.Clone(args), limit, offset)...)
			if err != nil {
				return fmt.Errorf("list variant tracks: %w", err)
			}
			for _, row := range rows {
				t, err := v.d.variantTrackRow(ctx, c, domain.NewEntityID(row, domain.TypeVariantTrack))
				if err != nil {
					return err
				}
				page = append(page, t)
			}
			return nil
		})
		return page, err
	}, 0), nil
}

func (v *variantDbi) GetVariantTrack(ctx context.Context, trackID domain.EntityID) (domain.VariantTrack, error) {
	var t domain.VariantTrack
	err := v.d.read(ctx, "get_variant_track", func(c conn) error {
		var err error
		t, err = v.d.variantTrackRow(ctx, c, trackID)
		return err
	})
	return t, err
}

func (d *Dbi) variantTrackRow(ctx context.Context, c conn, id domain.EntityID) (domain.VariantTrack, error) {
	if id.Type() != domain.TypeVariantTrack {
		return domain.VariantTrack{}, domain.Preconditionf("id %s is not a variant track", id)
	}
	obj, err := d.objectRow(ctx, c, id)
	if err != nil {
		return domain.VariantTrack{}, err
	}
	t := domain.VariantTrack{Object: obj}
	var seq int64
	var trackType int
	err = c.queryRow(ctx, "SELECT sequence, sequence_name, track_type, file_header FROM VariantTrack WHERE object = ?", id.RowID()).
		Scan(&seq, &t.SequenceName, &trackType, &t.FileHeader)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VariantTrack{}, domain.NotFound(id)
	}
	if err != nil {
		return domain.VariantTrack{}, fmt.Errorf("read variant track: %w", err)
	}
	if seq != 0 {
		t.SequenceID = domain.NewEntityID(seq, domain.TypeSequence)
	}
	t.TrackType = domain.VariantTrackType(trackType)
	return t, nil
}

func (v *variantDbi) GetVariantTrackOfVariant(ctx context.Context, variantID domain.EntityID) (domain.VariantTrack, error) {
	var t domain.VariantTrack
	err := v.d.read(ctx, "get_variant_track_of_variant", func(c conn) error {
		if variantID.Type() != domain.TypeVariant {
			return domain.Preconditionf("id %s is not a variant", variantID)
		}
		var track int64
		err := c.queryRow(ctx, "SELECT track FROM Variant WHERE id = ?", variantID.RowID()).Scan(&track)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(variantID)
		}
		if err != nil {
			return err
		}
		t, err = v.d.variantTrackRow(ctx, c, domain.NewEntityID(track, domain.TypeVariantTrack))
		return err
	})
	return t, err
}

func (v *variantDbi) CreateVariantTrack(ctx context.Context, track *domain.VariantTrack, trackType domain.VariantTrackType, folder string) error {
	return v.d.write(ctx, "create_variant_track", func(c conn) error {
		if err := createObject(ctx, c, domain.TypeVariantTrack, &track.Object, folder); err != nil {
			return err
		}
		track.DbiID = v.d.url
		track.TrackType = trackType
		_, err := c.exec(ctx, "INSERT INTO VariantTrack(object, sequence, sequence_name, track_type, file_header) VALUES(?, ?, ?, ?, ?)",
			track.ID.RowID(), track.SequenceID.RowID(), track.SequenceName, int(trackType), track.FileHeader)
		if err != nil {
			return fmt.Errorf("create variant track: %w", err)
		}
		return nil
	})
}

func (v *variantDbi) UpdateVariantTrack(ctx context.Context, track *domain.VariantTrack) error {
	return v.d.write(ctx, "update_variant_track", func(c conn) error {
		if _, err := v.d.variantTrackRow(ctx, c, track.ID); err != nil {
			return err
		}
		if _, err := c.exec(ctx, "UPDATE VariantTrack SET sequence = ?, sequence_name = ?, track_type = ?, file_header = ? WHERE object = ?",
			track.SequenceID.RowID(), track.SequenceName, int(track.TrackType), track.FileHeader, track.ID.RowID()); err != nil {
			return fmt.Errorf("update variant track: %w", err)
		}
		if err := incrementVersion(ctx, c, track.ID); err != nil {
			return err
		}
		track.Version++
		return nil
	})
}

// AddVariantsToTrack appends variants in batches inside one operations block.
func (v *variantDbi) AddVariantsToTrack(ctx context.Context, track domain.VariantTrack, variants dbi.Iterator[domain.Variant]) error {
	if variants == nil {
		return domain.Preconditionf("nil variant iterator")
	}
	defer func() { _ = variants.Close() }()
	return v.d.RunInOperationsBlock(ctx, func(ctx context.Context) error {
		if _, err := v.GetVariantTrack(ctx, track.ID); err != nil {
			return err
		}
		batch := make([]domain.Variant, 0, readBatch)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			err := v.d.write(ctx, "add_variants", func(c conn) error {
				for _, vr := range batch {
					if err := insertVariant(ctx, c, track.ID.RowID(), vr); err != nil {
						return err
					}
				}
				return nil
			})
			batch = batch[:0]
			return err
		}
		for variants.Next(ctx) {
			batch = append(batch, variants.Value())
			if len(batch) == readBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := variants.Err(); err != nil {
			return fmt.Errorf("variant source: %w", err)
		}
		if err := flush(); err != nil {
			return err
		}
		return v.d.write(ctx, "add_variants", func(c conn) error {
			return incrementVersion(ctx, c, track.ID)
		})
	})
}

func insertVariant(ctx context.Context, c conn, track int64, vr domain.Variant) error {
	info := ""
	if len(vr.AdditionalInfo) > 0 {
		b, err := json.Marshal(vr.AdditionalInfo)
		if err != nil {
			return fmt.Errorf("encode variant info: %w", err)
		}
		info = string(b)
	}
	end := vr.EndPos
	if end < vr.StartPos {
		end = vr.StartPos
	}
	_, err := c.insert(ctx, `INSERT INTO Variant(track, start_pos, end_pos, ref_data, obs_data, public_id, additional_info)
		VALUES(?, ?, ?, ?, ?, ?, ?)`, track, vr.StartPos, end, nonNil(vr.RefData), nonNil(vr.ObsData), vr.PublicID, info)
	if err != nil {
		return fmt.Errorf("insert variant at %d: %w", vr.StartPos, err)
	}
	return nil
}

// GetVariants pages through the variants whose start lies in region.
func (v *variantDbi) GetVariants(ctx context.Context, trackID domain.EntityID, region domain.Region) (dbi.Iterator[domain.Variant], error) {
	if _, err := v.GetVariantTrack(ctx, trackID); err != nil {
		return nil, err
	}
	query := "SELECT " + variantColumns + " FROM Variant WHERE track = ?"
	args := []any{trackID.RowID()}
	if !region.IsMax() {
		query += " AND start_pos >= ? AND start_pos < ?"
		args = append(args, region.Start, region.End())
	}
	query += " ORDER BY start_pos, id LIMIT ? OFFSET ?"
	return dbi.NewPagedIterator(func(ctx context.Context, offset, limit int64) ([]domain.Variant, error) {
		return v.variantPage(ctx, query, append(slices.Clone(args), limit, offset))
	}, 0), nil
}

// GetVariantsRange returns at most limit variants of the track starting at
// offset in position order. A negative limit means no limit.
func (v *variantDbi) GetVariantsRange(ctx context.Context, trackID domain.EntityID, offset, limit int64) (dbi.Iterator[domain.Variant], error) {
	if offset < 0 {
		return nil, domain.Preconditionf("negative offset %d", offset)
	}
	if _, err := v.GetVariantTrack(ctx, trackID); err != nil {
		return nil, err
	}
	if limit == 0 {
		return dbi.NewSliceIterator[domain.Variant](nil), nil
	}
	if limit < 0 {
		limit = math.MaxInt64
	}
	page, err := v.variantPage(ctx, "SELECT "+variantColumns+" FROM Variant WHERE track = ? ORDER BY start_pos, id LIMIT ? OFFSET ?",
		[]any{trackID.RowID(), limit, offset})
	if err != nil {
		return nil, err
	}
	return dbi.NewSliceIterator(page), nil
}

func (v *variantDbi) variantPage(ctx context.Context, query string, args []any) ([]domain.Variant, error) {
	var page []domain.Variant
	err := v.d.read(ctx, "get_variants", func(c conn) error {
		rows, err := c.query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("read variants: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var vr domain.Variant
			var id int64
			var info string
			if err := rows.Scan(&id, &vr.StartPos, &vr.EndPos, &vr.RefData, &vr.ObsData, &vr.PublicID, &info); err != nil {
				return err
			}
			vr.ID = domain.NewEntityID(id, domain.TypeVariant)
			if info != "" {
				if err := json.Unmarshal([]byte(info), &vr.AdditionalInfo); err != nil {
					return fmt.Errorf("decode info of variant %s: %w", vr.ID, err)
				}
			}
			page = append(page, vr)
		}
		return rows.Err()
	})
	return page, err
}

func (v *variantDbi) GetVariantCount(ctx context.Context, trackID domain.EntityID) (int64, error) {
	var n int64
	err := v.d.read(ctx, "get_variant_count", func(c conn) error {
		if _, err := v.d.variantTrackRow(ctx, c, trackID); err != nil {
			return err
		}
		return c.queryRow(ctx, "SELECT COUNT(*) FROM Variant WHERE track = ?", trackID.RowID()).Scan(&n)
	})
	return n, err
}

func (v *variantDbi) CreateVariationsIndex(ctx context.Context) error {
	return v.d.write(ctx, "create_variations_index", func(c conn) error {
		return c.applyDDL(ctx, "CREATE INDEX IF NOT EXISTS VariantTrackStart ON Variant(track, start_pos)")
	})
}

func (v *variantDbi) RemoveTrack(ctx context.Context, trackID domain.EntityID) error {
	return v.d.write(ctx, "remove_variant_track", func(c conn) error {
		if _, err := v.d.variantTrackRow(ctx, c, trackID); err != nil {
			return err
		}
		return v.d.removeObject(ctx, c, trackID)
	})
}

func (v *variantDbi) UpdateVariantPublicID(ctx context.Context, trackID, variantID domain.EntityID, publicID string) error {
	return v.d.write(ctx, "update_variant_public_id", func(c conn) error {
		if variantID.Type() != domain.TypeVariant {
			return domain.Preconditionf("id %s is not a variant", variantID)
		}
		res, err := c.exec(ctx, "UPDATE Variant SET public_id = ? WHERE id = ? AND track = ?", publicID, variantID.RowID(), trackID.RowID())
		if err != nil {
			return fmt.Errorf("update variant public id: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NotFound(variantID)
		}
		return nil
	})
}

func (v *variantDbi) UpdateTrackIDOfVariant(ctx context.Context, variantID, newTrackID domain.EntityID) error {
	return v.d.write(ctx, "update_track_of_variant", func(c conn) error {
		if variantID.Type() != domain.TypeVariant {
			return domain.Preconditionf("id %s is not a variant", variantID)
		}
		if _, err := v.d.variantTrackRow(ctx, c, newTrackID); err != nil {
			return err
		}
		res, err := c.exec(ctx, "UPDATE Variant SET track = ? WHERE id = ?", newTrackID.RowID(), variantID.RowID())
		if err != nil {
			return fmt.Errorf("move variant: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NotFound(variantID)
		}
		return nil
	})
}

func removeVariantTrackRows(ctx context.Context, c conn, track int64) error {
	if _, err := c.exec(ctx, "DELETE FROM Variant WHERE track = ?", track); err != nil {
		return err
	}
	_, err := c.exec(ctx, "DELETE FROM VariantTrack WHERE object = ?", track)
	return err
}
