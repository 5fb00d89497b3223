package sqldbi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"biostore/pkg/domain"
)

type attributeDbi struct{ d *Dbi }

func (a *attributeDbi) GetAvailableAttributeNames(ctx context.Context) ([]string, error) {
	var out []string
	err := a.d.read(ctx, "get_attribute_names", func(c conn) error {
		var err error
		out, err = c.strings(ctx, "SELECT DISTINCT name FROM Attribute ORDER BY name")
		return err
	})
	return out, err
}

func (a *attributeDbi) GetObjectAttributes(ctx context.Context, objectID domain.EntityID, name string) ([]domain.EntityID, error) {
	var out []domain.EntityID
	err := a.d.read(ctx, "get_object_attributes", func(c conn) error {
		query := "SELECT id FROM Attribute WHERE object = ?"
		args := []any{objectID.RowID()}
		if name != "" {
			query += " AND name = ?"
			args = append(args, name)
		}
		rows, err := c.int64s(ctx, query+" ORDER BY id", args...)
		if err != nil {
			return fmt.Errorf("list attributes: %w", err)
		}
		for _, r := range rows {
			out = append(out, domain.NewEntityID(r, domain.TypeAttribute))
		}
		return nil
	})
	return out, err
}

func (a *attributeDbi) GetAttribute(ctx context.Context, id domain.EntityID) (domain.Attribute, error) {
	if id.Type() != domain.TypeAttribute {
		return domain.Attribute{}, domain.Preconditionf("id %s is not an attribute", id)
	}
	var attr domain.Attribute
	err := a.d.read(ctx, "get_attribute", func(c conn) error {
		var kind, objType, childType int
		var obj, child int64
		var bvalue []byte
		err := c.queryRow(ctx, `SELECT kind, object, object_type, child, child_type, version, name, ivalue, rvalue, svalue, bvalue
			FROM Attribute WHERE id = ?`, id.RowID()).
			Scan(&kind, &obj, &objType, &child, &childType, &attr.Version, &attr.Name, &attr.Int, &attr.Real, &attr.String, &bvalue)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(id)
		}
		if err != nil {
			return fmt.Errorf("read attribute: %w", err)
		}
		attr.ID = id
		attr.Kind = domain.AttributeKind(kind)
		attr.ObjectID = domain.NewEntityID(obj, domain.DataType(objType))
		if child != 0 {
			attr.ChildID = domain.NewEntityID(child, domain.DataType(childType))
		}
		attr.Bytes = bvalue
		return nil
	})
	return attr, err
}

func (a *attributeDbi) CreateAttribute(ctx context.Context, attr *domain.Attribute) error {
	if strings.TrimSpace(attr.Name) == "" {
		return domain.Preconditionf("attribute name is empty")
	}
	if attr.Kind < domain.AttributeInteger || attr.Kind > domain.AttributeBytes {
		return domain.Preconditionf("unknown attribute kind %d", attr.Kind)
	}
	return a.d.write(ctx, "create_attribute", func(c conn) error {
		if _, err := a.d.objectRow(ctx, c, attr.ObjectID); err != nil {
			return err
		}
		row, err := c.insert(ctx, `INSERT INTO Attribute(kind, object, object_type, child, child_type, version, name, ivalue, rvalue, svalue, bvalue)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int(attr.Kind), attr.ObjectID.RowID(), int(attr.ObjectID.Type()),
			attr.ChildID.RowID(), int(attr.ChildID.Type()), attr.Version, attr.Name,
			attr.Int, attr.Real, attr.String, attr.Bytes)
		if err != nil {
			return fmt.Errorf("create attribute: %w", err)
		}
		attr.ID = domain.NewEntityID(row, domain.TypeAttribute)
		return nil
	})
}

func (a *attributeDbi) RemoveAttributes(ctx context.Context, ids []domain.EntityID) error {
	return a.d.write(ctx, "remove_attributes", func(c conn) error {
		for _, id := range ids {
			if id.Type() != domain.TypeAttribute {
				return domain.Preconditionf("id %s is not an attribute", id)
			}
			if _, err := c.exec(ctx, "DELETE FROM Attribute WHERE id = ?", id.RowID()); err != nil {
				return fmt.Errorf("remove attribute %s: %w", id, err)
			}
		}
		return nil
	})
}

func (a *attributeDbi) RemoveObjectAttributes(ctx context.Context, objectID domain.EntityID) error {
	return a.d.write(ctx, "remove_object_attributes", func(c conn) error {
		_, err := c.exec(ctx, "DELETE FROM Attribute WHERE object = ?", objectID.RowID())
		return err
	})
}
