package domain

import (
	"math"
	"strconv"
	"strings"
)

// Region is a half-open [Start, Start+Length) interval over sequence positions.
type Region struct {
	Start  int64 `json:"start"`
	Length int64 `json:"length"`
}

// RegionMax is the sentinel for "the whole sequence".
var RegionMax = Region{Start: 0, Length: math.MaxInt64}

// End returns the exclusive end position, saturating at math.MaxInt64.
func (r Region) End() int64 {
	if r.Length > math.MaxInt64-r.Start {
		return math.MaxInt64
	}
	return r.Start + r.Length
}

// IsMax reports whether r is the unbounded sentinel.
func (r Region) IsMax() bool { return r == RegionMax }

// Intersects reports whether r and o overlap.
func (r Region) Intersects(o Region) bool {
	return r.Start < o.End() && o.Start < r.End()
}

// Object carries the fields shared by every top-level stored object.
type Object struct {
	ID        EntityID `json:"id"`
	DbiID     string   `json:"dbi_id"`
	Version   int64    `json:"version"`
	Name      string   `json:"name"`
	Trackable bool     `json:"trackable,omitempty"`
}

// ObjectFolder pairs an object with the folder it lives in.
type ObjectFolder struct {
	Object Object
	Folder string
}

// Entity is the closed set of object values a handle can resolve to.
type Entity interface {
	EntityObject() Object
	EntityType() DataType
	isEntity()
}

// Sequence describes a stored residue sequence. Residues are read separately
// through the sequence store.
type Sequence struct {
	Object
	Alphabet string `json:"alphabet"`
	Length   int64  `json:"length"`
	Circular bool   `json:"circular,omitempty"`
}

func (s Sequence) EntityObject() Object { return s.Object }
func (Sequence) EntityType() DataType   { return TypeSequence }
func (Sequence) isEntity()              {}

// Gap is a run of gap characters inside an alignment row.
type Gap struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// MsaRow is the gap-aware layout of one sequence inside an alignment.
type MsaRow struct {
	RowID      int64    `json:"row_id"`
	SequenceID EntityID `json:"sequence_id"`
	Gaps       []Gap    `json:"gaps,omitempty"`
	Start      int64    `json:"start"`
	End        int64    `json:"end"`
	Length     int64    `json:"length"`
}

// Msa describes a stored multiple alignment; rows are read separately.
type Msa struct {
	Object
	Alphabet string `json:"alphabet"`
	Length   int64  `json:"length"`
}

func (m Msa) EntityObject() Object { return m.Object }
func (Msa) EntityType() DataType   { return TypeMsa }
func (Msa) isEntity()              {}

// CigarOp is one CIGAR operation.
type CigarOp byte

// CIGAR operations in BAM order.
const (
	CigarM CigarOp = iota
	CigarI
	CigarD
	CigarN
	CigarS
	CigarH
	CigarP
	CigarEq
	CigarX
)

const cigarChars = "MIDNSHP=X"

func (op CigarOp) String() string {
	if int(op) < len(cigarChars) {
		return cigarChars[op : op+1]
	}
	return "?"
}

// ParseCigarOp maps a CIGAR character to its operation.
func ParseCigarOp(c byte) (CigarOp, bool) {
	for i := 0; i < len(cigarChars); i++ {
		if cigarChars[i] == c {
			return CigarOp(i), true
		}
	}
	return 0, false
}

// CigarToken is a counted CIGAR operation.
type CigarToken struct {
	Op    CigarOp `json:"op"`
	Count int     `json:"count"`
}

// FormatCigar renders tokens in SAM text form, e.g. "10M2I5M".
func FormatCigar(cigar []CigarToken) string {
	var b strings.Builder
	for _, t := range cigar {
		b.WriteString(strconv.Itoa(t.Count))
		b.WriteString(t.Op.String())
	}
	return b.String()
}

// ParseCigar parses SAM CIGAR text. "*" and "" yield an empty CIGAR.
func ParseCigar(s string) ([]CigarToken, error) {
	if s == "" || s == "*" {
		return nil, nil
	}
	var out []CigarToken
	n := 0
	digits := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			n = n*10 + int(c-'0')
			digits = true
			continue
		}
		op, ok := ParseCigarOp(c)
		if !ok || !digits {
			return nil, Preconditionf("malformed cigar %q at %d", s, i)
		}
		out = append(out, CigarToken{Op: op, Count: n})
		n, digits = 0, false
	}
	if digits {
		return nil, Preconditionf("cigar %q ends with a count", s)
	}
	return out, nil
}

// CigarReferenceLength returns the number of reference positions a CIGAR
// consumes (M, D, N, = and X).
func CigarReferenceLength(cigar []CigarToken) int64 {
	var n int64
	for _, t := range cigar {
		switch t.Op {
		case CigarM, CigarD, CigarN, CigarEq, CigarX:
			n += int64(t.Count)
		}
	}
	return n
}

// Assembly describes a stored read assembly.
type Assembly struct {
	Object
	ReferenceID EntityID `json:"reference_id"`
}

func (a Assembly) EntityObject() Object { return a.Object }
func (Assembly) EntityType() DataType   { return TypeAssembly }
func (Assembly) isEntity()              {}

// AssemblyRead is one aligned read.
type AssemblyRead struct {
	ID              EntityID     `json:"id"`
	Name            string       `json:"name"`
	LeftmostPos     int64        `json:"leftmost_pos"`
	EffectiveLength int64        `json:"effective_length"`
	PackedRow       int64        `json:"packed_row"`
	Flags           int64        `json:"flags"`
	MappingQuality  int          `json:"mapping_quality"`
	Cigar           []CigarToken `json:"cigar"`
	Sequence        []byte       `json:"sequence"`
	Quality         []byte       `json:"quality,omitempty"`
}

// Region returns the reference interval covered by the read.
func (r AssemblyRead) Region() Region {
	return Region{Start: r.LeftmostPos, Length: r.EffectiveLength}
}

// Strand of a feature location.
type Strand int8

// Feature strands.
const (
	StrandNone       Strand = 0
	StrandDirect     Strand = 1
	StrandComplement Strand = -1
)

// FeatureLocation places a feature on its sequence.
type FeatureLocation struct {
	Region Region `json:"region"`
	Strand Strand `json:"strand"`
}

// FeatureClass distinguishes annotations from grouping nodes.
type FeatureClass int

// Feature classes.
const (
	FeatureClassAnnotation FeatureClass = 1
	FeatureClassGroup      FeatureClass = 2
)

// Feature is one node of an annotation table tree.
type Feature struct {
	ID         EntityID        `json:"id"`
	Class      FeatureClass    `json:"class"`
	Type       string          `json:"type,omitempty"`
	ParentID   EntityID        `json:"parent_id"`
	RootID     EntityID        `json:"root_id"`
	Name       string          `json:"name"`
	SequenceID EntityID        `json:"sequence_id"`
	Location   FeatureLocation `json:"location"`
	Version    int64           `json:"version"`
}

// FeatureKey is a qualifier attached to a feature.
type FeatureKey struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AnnotationTable describes a stored feature set.
type AnnotationTable struct {
	Object
	RootFeatureID EntityID `json:"root_feature_id"`
}

func (t AnnotationTable) EntityObject() Object { return t.Object }
func (AnnotationTable) EntityType() DataType   { return TypeAnnotationTable }
func (AnnotationTable) isEntity()              {}

// VariantTrackType classifies a variant track.
type VariantTrackType int

// Variant track types. TrackTypeAll is a filter value that matches every type.
const (
	TrackTypeAll           VariantTrackType = 0
	TrackTypePerspective   VariantTrackType = 1
	TrackTypeDiscarded     VariantTrackType = 2
	TrackTypeUnknownEffect VariantTrackType = 3
)

// VariantTrack describes a stored set of variants against one sequence.
type VariantTrack struct {
	Object
	SequenceID   EntityID         `json:"sequence_id"`
	SequenceName string           `json:"sequence_name"`
	TrackType    VariantTrackType `json:"track_type"`
	FileHeader   string           `json:"file_header,omitempty"`
}

func (t VariantTrack) EntityObject() Object { return t.Object }
func (VariantTrack) EntityType() DataType   { return TypeVariantTrack }
func (VariantTrack) isEntity()              {}

// Variant is one per-position difference against the reference.
type Variant struct {
	ID             EntityID          `json:"id"`
	StartPos       int64             `json:"start_pos"`
	EndPos         int64             `json:"end_pos"`
	RefData        []byte            `json:"ref_data"`
	ObsData        []byte            `json:"obs_data"`
	PublicID       string            `json:"public_id,omitempty"`
	AdditionalInfo map[string]string `json:"additional_info,omitempty"`
}

// RawData describes an opaque stored payload. Text objects are raw data
// with the text serializer and the TypeText kind.
type RawData struct {
	Object
	Kind       DataType `json:"kind"`
	URL        string   `json:"url,omitempty"`
	Serializer string   `json:"serializer,omitempty"`
}

// TextSerializer is the serializer id of plain text raw data.
const TextSerializer = "text-plain"

func (r RawData) EntityObject() Object { return r.Object }

// EntityType returns TypeText for text objects and TypeRawData otherwise.
func (r RawData) EntityType() DataType {
	if r.Kind == TypeText {
		return TypeText
	}
	return TypeRawData
}
func (RawData) isEntity() {}

// AttributeKind selects which value field of an Attribute is meaningful.
type AttributeKind int

// Attribute value kinds.
const (
	AttributeInteger AttributeKind = iota + 1
	AttributeReal
	AttributeString
	AttributeBytes
)

// Attribute is a generic named value attached to an object.
type Attribute struct {
	ID       EntityID      `json:"id"`
	ObjectID EntityID      `json:"object_id"`
	ChildID  EntityID      `json:"child_id"`
	Version  int64         `json:"version"`
	Name     string        `json:"name"`
	Kind     AttributeKind `json:"kind"`
	Int      int64         `json:"int,omitempty"`
	Real     float64       `json:"real,omitempty"`
	String   string        `json:"string,omitempty"`
	Bytes    []byte        `json:"bytes,omitempty"`
}

// RelationRole names the meaning of an object relation.
type RelationRole string

// Known relation roles.
const (
	RoleSequence        RelationRole = "sequence"
	RoleAnnotationTable RelationRole = "annotation_table"
	RoleReference       RelationRole = "reference"
)

// Relation links an object to another object it refers to.
type Relation struct {
	ID          EntityID     `json:"id"`
	ObjectID    EntityID     `json:"object_id"`
	ReferenceID EntityID     `json:"reference_id"`
	Role        RelationRole `json:"role"`
}
