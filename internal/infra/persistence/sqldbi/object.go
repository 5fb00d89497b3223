package sqldbi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"slices"

	"biostore/pkg/domain"
)

type objectDbi struct{ d *Dbi }

func (o *objectDbi) CountObjects(ctx context.Context) (int64, error) {
	var n int64
	err := o.d.read(ctx, "count_objects", func(c conn) error {
		return c.queryRow(ctx, "SELECT COUNT(*) FROM Object").Scan(&n)
	})
	return n, err
}

func (o *objectDbi) GetObject(ctx context.Context, id domain.EntityID) (domain.Object, error) {
	var obj domain.Object
	err := o.d.read(ctx, "get_object", func(c conn) error {
		var err error
		obj, err = o.d.objectRow(ctx, c, id)
		return err
	})
	return obj, err
}

func (o *objectDbi) GetObjects(ctx context.Context, folder string, offset, count int64) ([]domain.EntityID, error) {
	if count < 0 {
		count = math.MaxInt64
	}
	var ids []domain.EntityID
	err := o.d.read(ctx, "get_objects", func(c conn) error {
		path, err := domain.NormalizeFolderPath(folder)
		if err != nil {
			return err
		}
		rows, err := c.query(ctx, `SELECT o.id, o.type FROM Object o
			JOIN FolderContent fc ON fc.object = o.id
			JOIN Folder f ON f.id = fc.folder
			WHERE f.path = ? ORDER BY o.id LIMIT ? OFFSET ?`, path, count, offset)
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var row int64
			var t int
			if err := rows.Scan(&row, &t); err != nil {
				return err
			}
			ids = append(ids, domain.NewEntityID(row, domain.DataType(t)))
		}
		return rows.Err()
	})
	return ids, err
}

func (o *objectDbi) GetObjectFolders(ctx context.Context) ([]domain.ObjectFolder, error) {
	var out []domain.ObjectFolder
	err := o.d.read(ctx, "get_object_folders", func(c conn) error {
		rows, err := c.query(ctx, `SELECT o.id, o.type, o.version, o.name, o.trackable, f.path FROM Object o
			JOIN FolderContent fc ON fc.object = o.id
			JOIN Folder f ON f.id = fc.folder
			ORDER BY o.id`)
		if err != nil {
			return fmt.Errorf("list object folders: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var row, version int64
			var t, trackable int
			var name, path string
			if err := rows.Scan(&row, &t, &version, &name, &trackable, &path); err != nil {
				return err
			}
			out = append(out, domain.ObjectFolder{
				Object: domain.Object{
					ID:        domain.NewEntityID(row, domain.DataType(t)),
					DbiID:     o.d.url,
					Version:   version,
					Name:      name,
					Trackable: trackable != 0,
				},
				Folder: path,
			})
		}
		return rows.Err()
	})
	return out, err
}

func (o *objectDbi) GetObjectFolder(ctx context.Context, id domain.EntityID) (string, error) {
	var path string
	err := o.d.read(ctx, "get_object_folder", func(c conn) error {
		err := c.queryRow(ctx, `SELECT f.path FROM Folder f JOIN FolderContent fc ON fc.folder = f.id
			WHERE fc.object = ?`, id.RowID()).Scan(&path)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(id)
		}
		return err
	})
	return path, err
}

func (o *objectDbi) GetFolders(ctx context.Context) ([]string, error) {
	var out []string
	err := o.d.read(ctx, "get_folders", func(c conn) error {
		var err error
		out, err = c.strings(ctx, "SELECT path FROM Folder ORDER BY path")
		return err
	})
	return out, err
}

func (o *objectDbi) CreateFolder(ctx context.Context, path string) error {
	return o.d.write(ctx, "create_folder", func(c conn) error {
		_, err := ensureFolder(ctx, c, path)
		return err
	})
}

func (o *objectDbi) RemoveFolder(ctx context.Context, path string) error {
	return o.d.write(ctx, "remove_folder", func(c conn) error {
		path, err := domain.NormalizeFolderPath(path)
		if err != nil {
			return err
		}
		if path == domain.RootFolder {
			return domain.Preconditionf("cannot remove the root folder")
		}
		subtree, err := folderSubtree(ctx, c, path)
		if err != nil {
			return err
		}
		if len(subtree) == 0 {
			return &domain.NotFoundError{Kind: domain.TypeFolder, ID: path}
		}
		for _, f := range subtree {
			objects, err := c.int64s(ctx, "SELECT fc.object FROM FolderContent fc JOIN Folder f ON f.id = fc.folder WHERE f.path = ?", f)
			if err != nil {
				return fmt.Errorf("list folder %s: %w", f, err)
			}
			for _, obj := range objects {
				t, err := objectType(ctx, c, obj)
				if err != nil {
					return err
				}
				if err := o.d.removeObject(ctx, c, domain.NewEntityID(obj, t)); err != nil {
					return err
				}
			}
			if _, err := c.exec(ctx, "DELETE FROM Folder WHERE path = ?", f); err != nil {
				return fmt.Errorf("delete folder %s: %w", f, err)
			}
		}
		return bumpFolderVersions(ctx, c, domain.ParentFolder(path), false)
	})
}

func (o *objectDbi) RenameFolder(ctx context.Context, oldPath, newPath string) error {
	return o.d.write(ctx, "rename_folder", func(c conn) error {
		from, err := domain.NormalizeFolderPath(oldPath)
		if err != nil {
			return err
		}
		to, err := domain.NormalizeFolderPath(newPath)
		if err != nil {
			return err
		}
		if from == domain.RootFolder || to == domain.RootFolder {
			return domain.Preconditionf("cannot rename the root folder")
		}
		if from == to {
			return nil
		}
		if domain.IsSubFolder(to, from) {
			return domain.Preconditionf("cannot move folder %s into itself", from)
		}
		subtree, err := folderSubtree(ctx, c, from)
		if err != nil {
			return err
		}
		if len(subtree) == 0 {
			return &domain.NotFoundError{Kind: domain.TypeFolder, ID: from}
		}
		var exists int
		if err := c.queryRow(ctx, "SELECT COUNT(*) FROM Folder WHERE path = ?", to).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return domain.Preconditionf("folder %s already exists", to)
		}
		if _, err := ensureFolder(ctx, c, domain.ParentFolder(to)); err != nil {
			return err
		}
		for _, f := range subtree {
			target := to + f[len(from):]
			if _, err := c.exec(ctx, "UPDATE Folder SET path = ?, vlocal = vlocal + 1, vglobal = vglobal + 1 WHERE path = ?", target, f); err != nil {
				return fmt.Errorf("rename folder %s: %w", f, err)
			}
		}
		if err := bumpFolderVersions(ctx, c, domain.ParentFolder(from), false); err != nil {
			return err
		}
		return bumpFolderVersions(ctx, c, domain.ParentFolder(to), false)
	})
}

func (o *objectDbi) MoveObjects(ctx context.Context, ids []domain.EntityID, fromFolder, toFolder string) error {
	return o.d.write(ctx, "move_objects", func(c conn) error {
		from, err := domain.NormalizeFolderPath(fromFolder)
		if err != nil {
			return err
		}
		fromID, err := folderID(ctx, c, from)
		if err != nil {
			return err
		}
		toID, err := ensureFolder(ctx, c, toFolder)
		if err != nil {
			return err
		}
		if fromID == toID {
			return nil
		}
		for _, id := range ids {
			res, err := c.exec(ctx, "UPDATE FolderContent SET folder = ? WHERE folder = ? AND object = ?", toID, fromID, id.RowID())
			if err != nil {
				return fmt.Errorf("move object %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return domain.Preconditionf("object %s is not in folder %s", id, from)
			}
		}
		if err := bumpFolderVersions(ctx, c, from, true); err != nil {
			return err
		}
		to, _ := domain.NormalizeFolderPath(toFolder)
		return bumpFolderVersions(ctx, c, to, true)
	})
}

func (o *objectDbi) RenameObject(ctx context.Context, id domain.EntityID, name string) error {
	return o.d.write(ctx, "rename_object", func(c conn) error {
		res, err := c.exec(ctx, "UPDATE Object SET name = ?, version = version + 1 WHERE id = ? AND type = ?", name, id.RowID(), int(id.Type()))
		if err != nil {
			return fmt.Errorf("rename object: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NotFound(id)
		}
		return nil
	})
}

func (o *objectDbi) RemoveObject(ctx context.Context, id domain.EntityID) error {
	return o.d.write(ctx, "remove_object", func(c conn) error {
		return o.d.removeObject(ctx, c, id)
	})
}

func (o *objectDbi) RemoveObjects(ctx context.Context, ids []domain.EntityID) error {
	return o.d.write(ctx, "remove_objects", func(c conn) error {
		for _, id := range ids {
			if err := o.d.removeObject(ctx, c, id); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *objectDbi) GetObjectVersion(ctx context.Context, id domain.EntityID) (int64, error) {
	var v int64
	err := o.d.read(ctx, "get_object_version", func(c conn) error {
		obj, err := o.d.objectRow(ctx, c, id)
		v = obj.Version
		return err
	})
	return v, err
}

func (o *objectDbi) IncrementVersion(ctx context.Context, id domain.EntityID) (int64, error) {
	var v int64
	err := o.d.write(ctx, "increment_version", func(c conn) error {
		if err := incrementVersion(ctx, c, id); err != nil {
			return err
		}
		obj, err := o.d.objectRow(ctx, c, id)
		v = obj.Version
		return err
	})
	return v, err
}

func (o *objectDbi) GetFolderLocalVersion(ctx context.Context, path string) (int64, error) {
	return o.folderVersion(ctx, path, "vlocal")
}

func (o *objectDbi) GetFolderGlobalVersion(ctx context.Context, path string) (int64, error) {
	return o.folderVersion(ctx, path, "vglobal")
}

func (o *objectDbi) folderVersion(ctx context.Context, path, column string) (int64, error) {
	var v int64
	err := o.d.read(ctx, "get_folder_version", func(c conn) error {
		p, err := domain.NormalizeFolderPath(path)
		if err != nil {
			return err
		}
		err = c.queryRow(ctx, "SELECT "+column+" FROM Folder WHERE path = ?", p).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Kind: domain.TypeFolder, ID: p}
		}
		return err
	})
	return v, err
}

// objectRow loads the Object record of id and checks the stored kind.
func (d *Dbi) objectRow(ctx context.Context, c conn, id domain.EntityID) (domain.Object, error) {
	var t, trackable int
	obj := domain.Object{ID: id, DbiID: d.url}
	err := c.queryRow(ctx, "SELECT type, version, name, trackable FROM Object WHERE id = ?", id.RowID()).
		Scan(&t, &obj.Version, &obj.Name, &trackable)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Object{}, domain.NotFound(id)
	}
	if err != nil {
		return domain.Object{}, fmt.Errorf("read object %s: %w", id, err)
	}
	if domain.DataType(t) != id.Type() {
		return domain.Object{}, domain.Preconditionf("object %s is a %s, not a %s", id, domain.DataType(t), id.Type())
	}
	obj.Trackable = trackable != 0
	return obj, nil
}

func objectType(ctx context.Context, c conn, row int64) (domain.DataType, error) {
	var t int
	err := c.queryRow(ctx, "SELECT type FROM Object WHERE id = ?", row).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &domain.NotFoundError{Kind: domain.TypeUnknown, ID: fmt.Sprint(row)}
	}
	return domain.DataType(t), err
}

// createObject inserts the Object record and files it into folder. An
// empty folder leaves the object unfiled, which is how alignment row
// sequences are stored.
func createObject(ctx context.Context, c conn, t domain.DataType, obj *domain.Object, folder string) error {
	if obj.Version == 0 {
		obj.Version = 1
	}
	trackable := 0
	if obj.Trackable {
		trackable = 1
	}
	row, err := c.insert(ctx, "INSERT INTO Object(type, version, name, trackable) VALUES(?, ?, ?, ?)", int(t), obj.Version, obj.Name, trackable)
	if err != nil {
		return fmt.Errorf("create %s object: %w", t, err)
	}
	obj.ID = domain.NewEntityID(row, t)
	if folder == "" {
		return nil
	}
	fid, err := ensureFolder(ctx, c, folder)
	if err != nil {
		return err
	}
	if _, err := c.exec(ctx, "INSERT INTO FolderContent(folder, object) VALUES(?, ?)", fid, row); err != nil {
		return fmt.Errorf("file object into %s: %w", folder, err)
	}
	path, _ := domain.NormalizeFolderPath(folder)
	return bumpFolderVersions(ctx, c, path, true)
}

func incrementVersion(ctx context.Context, c conn, id domain.EntityID) error {
	res, err := c.exec(ctx, "UPDATE Object SET version = version + 1 WHERE id = ?", id.RowID())
	if err != nil {
		return fmt.Errorf("increment version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFound(id)
	}
	return nil
}

// removeObject deletes the kind-specific rows of id, then its folder
// membership, attributes, relations and the Object record.
func (d *Dbi) removeObject(ctx context.Context, c conn, id domain.EntityID) error {
	if _, err := d.objectRow(ctx, c, id); err != nil {
		return err
	}
	row := id.RowID()
	var err error
	switch id.Type() {
	case domain.TypeSequence:
		err = removeSequenceRows(ctx, c, row)
	case domain.TypeMsa:
		err = d.removeMsaRows(ctx, c, row)
	case domain.TypeAssembly:
		err = d.removeAssemblyRows(ctx, c, row)
	case domain.TypeAnnotationTable:
		err = removeAnnotationTableRows(ctx, c, row)
	case domain.TypeVariantTrack:
		err = removeVariantTrackRows(ctx, c, row)
	case domain.TypeRawData, domain.TypeText:
		_, err = c.exec(ctx, "DELETE FROM RawData WHERE object = ?", row)
	default:
		return domain.Preconditionf("cannot remove object of kind %s", id.Type())
	}
	if err != nil {
		return fmt.Errorf("remove %s rows: %w", id.Type(), err)
	}
	folders, err := c.strings(ctx, "SELECT f.path FROM Folder f JOIN FolderContent fc ON fc.folder = f.id WHERE fc.object = ?", row)
	if err != nil {
		return err
	}
	for _, st := range []struct {
		query string
		args  []any
	}{
		{"DELETE FROM FolderContent WHERE object = ?", []any{row}},
		{"DELETE FROM Attribute WHERE object = ? OR (child = ? AND child_type = ?)", []any{row, row, int(id.Type())}},
		{"DELETE FROM ObjectRelation WHERE object = ? OR reference = ?", []any{row, row}},
		{"DELETE FROM Object WHERE id = ?", []any{row}},
	} {
		if _, err := c.exec(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("remove object %s: %w", id, err)
		}
	}
	for _, f := range folders {
		if err := bumpFolderVersions(ctx, c, f, true); err != nil {
			return err
		}
	}
	return nil
}

func folderID(ctx context.Context, c conn, path string) (int64, error) {
	var id int64
	err := c.queryRow(ctx, "SELECT id FROM Folder WHERE path = ?", path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &domain.NotFoundError{Kind: domain.TypeFolder, ID: path}
	}
	if err != nil {
		return 0, fmt.Errorf("read folder %s: %w", path, err)
	}
	return id, nil
}

// ensureFolder creates path and every missing ancestor and returns the id of path.
func ensureFolder(ctx context.Context, c conn, path string) (int64, error) {
	path, err := domain.NormalizeFolderPath(path)
	if err != nil {
		return 0, err
	}
	created := false
	for _, p := range append(domain.AncestorFolders(path), path) {
		res, err := c.exec(ctx, "INSERT INTO Folder(path, vlocal, vglobal) VALUES(?, 1, 1) ON CONFLICT(path) DO NOTHING", p)
		if err != nil {
			return 0, fmt.Errorf("create folder %s: %w", p, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created = true
		}
	}
	if created {
		if err := bumpFolderVersions(ctx, c, domain.ParentFolder(path), false); err != nil {
			return 0, err
		}
	}
	return folderID(ctx, c, path)
}

// folderSubtree returns path and all its descendants, deepest first.
func folderSubtree(ctx context.Context, c conn, path string) ([]string, error) {
	all, err := c.strings(ctx, "SELECT path FROM Folder")
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	var out []string
	for _, p := range all {
		if domain.IsSubFolder(p, path) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b string) int { return len(b) - len(a) })
	return out, nil
}

// bumpFolderVersions increments the global version of path and its
// ancestors, and the local version of path when its content changed.
func bumpFolderVersions(ctx context.Context, c conn, path string, content bool) error {
	if content {
		if _, err := c.exec(ctx, "UPDATE Folder SET vlocal = vlocal + 1 WHERE path = ?", path); err != nil {
			return fmt.Errorf("bump folder %s: %w", path, err)
		}
	}
	targets := append(domain.AncestorFolders(path), path)
	if path != domain.RootFolder {
		targets = append(targets, domain.RootFolder)
	}
	for _, p := range targets {
		if _, err := c.exec(ctx, "UPDATE Folder SET vglobal = vglobal + 1 WHERE path = ?", p); err != nil {
			return fmt.Errorf("bump folder %s: %w", p, err)
		}
	}
	return nil
}
