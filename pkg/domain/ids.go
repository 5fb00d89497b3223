// Package domain defines the stored biological entities, their identifiers,
// and the error taxonomy shared by every biostore storage backend.
package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
)

// DataType tags the kind of a stored entity. The tag is embedded in every
// EntityID so the kind can be recovered from the id alone.
type DataType uint16

// Object kinds. Numeric values are part of the URL and on-disk formats.
const (
	TypeUnknown         DataType = 0
	TypeSequence        DataType = 1
	TypeMsa             DataType = 2
	TypeAssembly        DataType = 4
	TypeVariantTrack    DataType = 5
	TypeAnnotationTable DataType = 10
	TypeRawData         DataType = 101
	TypeText            DataType = 102
)

// Sub-entity kinds.
const (
	TypeMsaRow       DataType = 1003
	TypeFeature      DataType = 1004
	TypeAssemblyRead DataType = 1005
	TypeVariant      DataType = 1006
	TypeAttribute    DataType = 2001
	TypeFolder       DataType = 3001
	TypeRelation     DataType = 3002
)

var dataTypeNames = map[DataType]string{
	TypeUnknown:         "unknown",
	TypeSequence:        "sequence",
	TypeMsa:             "msa",
	TypeAssembly:        "assembly",
	TypeVariantTrack:    "variant_track",
	TypeAnnotationTable: "annotation_table",
	TypeRawData:         "raw_data",
	TypeText:            "text",
	TypeMsaRow:          "msa_row",
	TypeFeature:         "feature",
	TypeAssemblyRead:    "assembly_read",
	TypeVariant:         "variant",
	TypeAttribute:       "attribute",
	TypeFolder:          "folder",
	TypeRelation:        "relation",
}

func (t DataType) String() string {
	if name, ok := dataTypeNames[t]; ok {
		return name
	}
	return "type_" + strconv.Itoa(int(t))
}

// IsObject reports whether t is a top-level object kind (one that lives in a folder).
func (t DataType) IsObject() bool {
	switch t {
	case TypeSequence, TypeMsa, TypeAssembly, TypeVariantTrack, TypeAnnotationTable, TypeRawData, TypeText:
		return true
	}
	return false
}

// ParseDataType resolves a type name produced by DataType.String.
func ParseDataType(name string) (DataType, bool) {
	for t, n := range dataTypeNames {
		if n == name {
			return t, true
		}
	}
	return TypeUnknown, false
}

// EntityIDSize is the encoded length of an EntityID.
const EntityIDSize = 10

// EntityID is an opaque typed identifier: a big-endian row key followed by
// the big-endian DataType tag. The zero value is the null id. Ids are only
// meaningful together with the DbiRef of the database that issued them.
type EntityID [EntityIDSize]byte

// NewEntityID packs a row key and a kind into an id.
func NewEntityID(rowID int64, t DataType) EntityID {
	var id EntityID
	binary.BigEndian.PutUint64(id[:8], uint64(rowID))
	binary.BigEndian.PutUint16(id[8:], uint16(t))
	return id
}

// RowID returns the numeric row key.
func (id EntityID) RowID() int64 {
	return int64(binary.BigEndian.Uint64(id[:8]))
}

// Type returns the embedded kind tag.
func (id EntityID) Type() DataType {
	return DataType(binary.BigEndian.Uint16(id[8:]))
}

// IsZero reports whether id is the null id.
func (id EntityID) IsZero() bool {
	return id == EntityID{}
}

func (id EntityID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseEntityID decodes the hex form produced by String.
func ParseEntityID(s string) (EntityID, error) {
	var id EntityID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: entity id %q: %v", ErrPrecondition, s, err)
	}
	if len(b) != EntityIDSize {
		return id, fmt.Errorf("%w: entity id %q has %d bytes", ErrPrecondition, s, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// DbiRef names a storage implementation (FactoryID) and one physical
// database inside it (DbiID).
type DbiRef struct {
	FactoryID string `json:"factory_id" yaml:"factory_id"`
	DbiID     string `json:"dbi_id" yaml:"dbi_id"`
}

// IsValid reports whether both fields are set.
func (r DbiRef) IsValid() bool {
	return r.FactoryID != "" && r.DbiID != ""
}

func (r DbiRef) String() string {
	return r.FactoryID + ":" + r.DbiID
}

// EntityRef fully qualifies one stored entity. It is valid only while the
// referenced database is open.
type EntityRef struct {
	DbiRef   DbiRef   `json:"dbi_ref"`
	EntityID EntityID `json:"entity_id"`
}

// IsValid reports whether both the database and the id are set.
func (r EntityRef) IsValid() bool {
	return r.DbiRef.IsValid() && !r.EntityID.IsZero()
}
