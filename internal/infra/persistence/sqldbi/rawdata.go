package sqldbi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"biostore/pkg/domain"
)

type rawDataDbi struct{ d *Dbi }

func (r *rawDataDbi) CreateRawDataObject(ctx context.Context, raw *domain.RawData, folder string, data []byte) error {
	kind := raw.EntityType()
	raw.Kind = kind
	return r.d.write(ctx, "create_raw_data", func(c conn) error {
		if err := createObject(ctx, c, kind, &raw.Object, folder); err != nil {
			return err
		}
		raw.DbiID = r.d.url
		_, err := c.exec(ctx, "INSERT INTO RawData(object, kind, url, serializer, data) VALUES(?, ?, ?, ?, ?)",
			raw.ID.RowID(), int(kind), raw.URL, raw.Serializer, nonNil(data))
		if err != nil {
			return fmt.Errorf("create raw data: %w", err)
		}
		return nil
	})
}

func (r *rawDataDbi) GetRawDataObject(ctx context.Context, id domain.EntityID) (domain.RawData, error) {
	if id.Type() != domain.TypeRawData && id.Type() != domain.TypeText {
		return domain.RawData{}, domain.Preconditionf("id %s is not raw data", id)
	}
	var raw domain.RawData
	err := r.d.read(ctx, "get_raw_data_object", func(c conn) error {
		obj, err := r.d.objectRow(ctx, c, id)
		if err != nil {
			return err
		}
		raw.Object = obj
		var kind int
		err = c.queryRow(ctx, "SELECT kind, url, serializer FROM RawData WHERE object = ?", id.RowID()).
			Scan(&kind, &raw.URL, &raw.Serializer)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(id)
		}
		raw.Kind = domain.DataType(kind)
		return err
	})
	return raw, err
}

func (r *rawDataDbi) GetRawData(ctx context.Context, id domain.EntityID) ([]byte, error) {
	var data []byte
	err := r.d.read(ctx, "get_raw_data", func(c conn) error {
		err := c.queryRow(ctx, "SELECT data FROM RawData WHERE object = ?", id.RowID()).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(id)
		}
		return err
	})
	return data, err
}

func (r *rawDataDbi) UpdateRawData(ctx context.Context, id domain.EntityID, data []byte) error {
	return r.d.write(ctx, "update_raw_data", func(c conn) error {
		res, err := c.exec(ctx, "UPDATE RawData SET data = ? WHERE object = ?", nonNil(data), id.RowID())
		if err != nil {
			return fmt.Errorf("update raw data: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.NotFound(id)
		}
		return incrementVersion(ctx, c, id)
	})
}

// nonNil keeps NOT NULL blob columns satisfied for empty payloads.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
