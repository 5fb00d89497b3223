package sqldbi

import (
	"context"
	"fmt"

	"biostore/pkg/domain"
)

type relationsDbi struct{ d *Dbi }

func (r *relationsDbi) CreateRelation(ctx context.Context, rel *domain.Relation) error {
	if rel.ObjectID.IsZero() || rel.ReferenceID.IsZero() {
		return domain.Preconditionf("relation needs both object and reference")
	}
	return r.d.write(ctx, "create_relation", func(c conn) error {
		for _, id := range []domain.EntityID{rel.ObjectID, rel.ReferenceID} {
			if _, err := r.d.objectRow(ctx, c, id); err != nil {
				return err
			}
		}
		row, err := c.insert(ctx, "INSERT INTO ObjectRelation(object, reference, role) VALUES(?, ?, ?)",
			rel.ObjectID.RowID(), rel.ReferenceID.RowID(), string(rel.Role))
		if err != nil {
			return fmt.Errorf("create relation: %w", err)
		}
		rel.ID = domain.NewEntityID(row, domain.TypeRelation)
		return nil
	})
}

func (r *relationsDbi) GetObjectRelations(ctx context.Context, objectID domain.EntityID) ([]domain.Relation, error) {
	return r.list(ctx, "get_object_relations", "r.object = ?", objectID)
}

func (r *relationsDbi) GetReferenceRelations(ctx context.Context, referenceID domain.EntityID) ([]domain.Relation, error) {
	return r.list(ctx, "get_reference_relations", "r.reference = ?", referenceID)
}

func (r *relationsDbi) list(ctx context.Context, op, where string, id domain.EntityID) ([]domain.Relation, error) {
	var out []domain.Relation
	err := r.d.read(ctx, op, func(c conn) error {
		rows, err := c.query(ctx, `SELECT r.id, r.object, o.type, r.reference, ref.type, r.role FROM ObjectRelation r
			JOIN Object o ON o.id = r.object
			JOIN Object ref ON ref.id = r.reference
			WHERE `+where+` ORDER BY r.id`, id.RowID())
		if err != nil {
			return fmt.Errorf("list relations: %w", err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var rid, obj, ref int64
			var objType, refType int
			var role string
			if err := rows.Scan(&rid, &obj, &objType, &ref, &refType, &role); err != nil {
				return err
			}
			out = append(out, domain.Relation{
				ID:          domain.NewEntityID(rid, domain.TypeRelation),
				ObjectID:    domain.NewEntityID(obj, domain.DataType(objType)),
				ReferenceID: domain.NewEntityID(ref, domain.DataType(refType)),
				Role:        domain.RelationRole(role),
			})
		}
		return rows.Err()
	})
	return out, err
}

func (r *relationsDbi) RemoveReferencesForObject(ctx context.Context, objectID domain.EntityID) error {
	return r.d.write(ctx, "remove_relations", func(c conn) error {
		_, err := c.exec(ctx, "DELETE FROM ObjectRelation WHERE object = ?", objectID.RowID())
		return err
	})
}
