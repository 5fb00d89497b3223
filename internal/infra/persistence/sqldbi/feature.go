package sqldbi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"biostore/pkg/domain"
)

type featureDbi struct{ d *Dbi }

const featureColumns = "id, fclass, ftype, parent, root, name, sequence, fstart, flen, strand, version"

// CreateAnnotationTableObject stores the table and, when RootFeatureID is
// zero, a group feature acting as its root.
func (f *featureDbi) CreateAnnotationTableObject(ctx context.Context, table *domain.AnnotationTable, folder string) error {
	return f.d.write(ctx, "create_annotation_table", func(c conn) error {
		if err := createObject(ctx, c, domain.TypeAnnotationTable, &table.Object, folder); err != nil {
			return err
		}
		table.DbiID = f.d.url
		if table.RootFeatureID.IsZero() {
			root := domain.Feature{Class: domain.FeatureClassGroup, Name: table.Name}
			if err := insertFeature(ctx, c, &root, nil); err != nil {
				return err
			}
			table.RootFeatureID = root.ID
		}
		if _, err := c.exec(ctx, "INSERT INTO AnnotationTable(object, root_id) VALUES(?, ?)",
			table.ID.RowID(), table.RootFeatureID.RowID()); err != nil {
			return fmt.Errorf("create annotation table: %w", err)
		}
		return nil
	})
}

func (f *featureDbi) GetAnnotationTableObject(ctx context.Context, id domain.EntityID) (domain.AnnotationTable, error) {
	var table domain.AnnotationTable
	err := f.d.read(ctx, "get_annotation_table", func(c conn) error {
		if id.Type() != domain.TypeAnnotationTable {
			return domain.Preconditionf("id %s is not an annotation table", id)
		}
		obj, err := f.d.objectRow(ctx, c, id)
		if err != nil {
			return err
		}
		var root int64
		err = c.queryRow(ctx, "SELECT root_id FROM AnnotationTable WHERE object = ?", id.RowID()).Scan(&root)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(id)
		}
		if err != nil {
			return fmt.Errorf("read annotation table: %w", err)
		}
		table = domain.AnnotationTable{Object: obj, RootFeatureID: domain.NewEntityID(root, domain.TypeFeature)}
		return nil
	})
	return table, err
}

// CreateFeature stores feature under its parent. A zero RootID inherits
// the parent's root; a feature without a parent is its own root.
func (f *featureDbi) CreateFeature(ctx context.Context, feature *domain.Feature, keys []domain.FeatureKey) error {
	return f.d.write(ctx, "create_feature", func(c conn) error {
		if !feature.ParentID.IsZero() && feature.RootID.IsZero() {
			parent, err := featureRow(ctx, c, feature.ParentID)
			if err != nil {
				return err
			}
			feature.RootID = parent.RootID
		}
		return insertFeature(ctx, c, feature, keys)
	})
}

func insertFeature(ctx context.Context, c conn, f *domain.Feature, keys []domain.FeatureKey) error {
	if f.Class == 0 {
		f.Class = domain.FeatureClassAnnotation
	}
	if f.Version == 0 {
		f.Version = 1
	}
	row, err := c.insert(ctx, `INSERT INTO Feature(fclass, ftype, parent, root, name, sequence, fstart, flen, strand, version)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int(f.Class), f.Type, f.ParentID.RowID(), f.RootID.RowID(), f.Name, f.SequenceID.RowID(),
		f.Location.Region.Start, f.Location.Region.Length, int(f.Location.Strand), f.Version)
	if err != nil {
		return fmt.Errorf("create feature %q: %w", f.Name, err)
	}
	f.ID = domain.NewEntityID(row, domain.TypeFeature)
	if f.RootID.IsZero() {
		f.RootID = f.ID
		if _, err := c.exec(ctx, "UPDATE Feature SET root = ? WHERE id = ?", row, row); err != nil {
			return fmt.Errorf("create feature %q: %w", f.Name, err)
		}
	}
	for _, k := range keys {
		if _, err := c.exec(ctx, "INSERT INTO FeatureKey(feature, name, value) VALUES(?, ?, ?)", row, k.Name, k.Value); err != nil {
			return fmt.Errorf("create feature key %q: %w", k.Name, err)
		}
	}
	return nil
}

func (f *featureDbi) GetFeature(ctx context.Context, id domain.EntityID) (domain.Feature, error) {
	var out domain.Feature
	err := f.d.read(ctx, "get_feature", func(c conn) error {
		var err error
		out, err = featureRow(ctx, c, id)
		return err
	})
	return out, err
}

func featureRow(ctx context.Context, c conn, id domain.EntityID) (domain.Feature, error) {
	if id.Type() != domain.TypeFeature {
		return domain.Feature{}, domain.Preconditionf("id %s is not a feature", id)
	}
	rows, err := c.query(ctx, "SELECT "+featureColumns+" FROM Feature WHERE id = ?", id.RowID())
	if err != nil {
		return domain.Feature{}, fmt.Errorf("read feature: %w", err)
	}
	fs, err := scanFeatures(rows)
	if err != nil {
		return domain.Feature{}, err
	}
	if len(fs) == 0 {
		return domain.Feature{}, domain.NotFound(id)
	}
	return fs[0], nil
}

// scanFeatures drains and closes rows.
func scanFeatures(rows *sql.Rows) ([]domain.Feature, error) {
	defer func() { _ = rows.Close() }()
	var out []domain.Feature
	for rows.Next() {
		var f domain.Feature
		var id, parent, root, seq int64
		var class, strand int
		if err := rows.Scan(&id, &class, &f.Type, &parent, &root, &f.Name, &seq,
			&f.Location.Region.Start, &f.Location.Region.Length, &strand, &f.Version); err != nil {
			return nil, err
		}
		f.ID = domain.NewEntityID(id, domain.TypeFeature)
		f.Class = domain.FeatureClass(class)
		f.Location.Strand = domain.Strand(strand)
		if parent != 0 {
			f.ParentID = domain.NewEntityID(parent, domain.TypeFeature)
		}
		if root != 0 {
			f.RootID = domain.NewEntityID(root, domain.TypeFeature)
		}
		if seq != 0 {
			f.SequenceID = domain.NewEntityID(seq, domain.TypeSequence)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (f *featureDbi) GetFeatureKeys(ctx context.Context, id domain.EntityID) ([]domain.FeatureKey, error) {
	var keys []domain.FeatureKey
	err := f.d.read(ctx, "get_feature_keys", func(c conn) error {
		if _, err := featureRow(ctx, c, id); err != nil {
			return err
		}
		rows, err := c.query(ctx, "SELECT name, value FROM FeatureKey WHERE feature = ? ORDER BY id", id.RowID())
		if err != nil {
			return fmt.Errorf("read feature keys: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var k domain.FeatureKey
			if err := rows.Scan(&k.Name, &k.Value); err != nil {
				return err
			}
			keys = append(keys, k)
		}
		return rows.Err()
	})
	return keys, err
}

func (f *featureDbi) GetFeaturesByRoot(ctx context.Context, rootID domain.EntityID) ([]domain.Feature, error) {
	return f.list(ctx, "get_features_by_root", "root", rootID)
}

func (f *featureDbi) GetSubFeatures(ctx context.Context, parentID domain.EntityID) ([]domain.Feature, error) {
	return f.list(ctx, "get_sub_features", "parent", parentID)
}

func (f *featureDbi) list(ctx context.Context, op, column string, id domain.EntityID) ([]domain.Feature, error) {
	var out []domain.Feature
	err := f.d.read(ctx, op, func(c conn) error {
		if id.Type() != domain.TypeFeature {
			return domain.Preconditionf("id %s is not a feature", id)
		}
		rows, err := c.query(ctx, "SELECT "+featureColumns+" FROM Feature WHERE "+column+" = ? AND id <> ? ORDER BY id",
			id.RowID(), id.RowID())
		if err != nil {
			return fmt.Errorf("list features: %w", err)
		}
		out, err = scanFeatures(rows)
		return err
	})
	return out, err
}

// CountFeatures counts the features under rootID, the root included.
func (f *featureDbi) CountFeatures(ctx context.Context, rootID domain.EntityID) (int64, error) {
	var n int64
	err := f.d.read(ctx, "count_features", func(c conn) error {
		return c.queryRow(ctx, "SELECT COUNT(*) FROM Feature WHERE root = ?", rootID.RowID()).Scan(&n)
	})
	return n, err
}

func (f *featureDbi) RemoveFeature(ctx context.Context, id domain.EntityID) error {
	return f.d.write(ctx, "remove_feature", func(c conn) error {
		if _, err := featureRow(ctx, c, id); err != nil {
			return err
		}
		return removeFeatureTree(ctx, c, id.RowID())
	})
}

// removeFeatureTree deletes the feature at row and its descendants.
func removeFeatureTree(ctx context.Context, c conn, row int64) error {
	pending := []int64{row}
	var all []int64
	for len(pending) > 0 {
		next := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		all = append(all, next)
		children, err := c.int64s(ctx, "SELECT id FROM Feature WHERE parent = ? AND id <> ?", next, next)
		if err != nil {
			return err
		}
		pending = append(pending, children...)
	}
	for _, r := range all {
		if _, err := c.exec(ctx, "DELETE FROM FeatureKey WHERE feature = ?", r); err != nil {
			return err
		}
		if _, err := c.exec(ctx, "DELETE FROM Feature WHERE id = ?", r); err != nil {
			return err
		}
	}
	return nil
}

func removeAnnotationTableRows(ctx context.Context, c conn, table int64) error {
	var root int64
	err := c.queryRow(ctx, "SELECT root_id FROM AnnotationTable WHERE object = ?", table).Scan(&root)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if root != 0 {
		if _, err := c.exec(ctx, "DELETE FROM FeatureKey WHERE feature IN (SELECT id FROM Feature WHERE root = ?)", root); err != nil {
			return err
		}
		if _, err := c.exec(ctx, "DELETE FROM Feature WHERE root = ?", root); err != nil {
			return err
		}
	}
	_, err = c.exec(ctx, "DELETE FROM AnnotationTable WHERE object = ?", table)
	return err
}
