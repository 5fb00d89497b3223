// Package dbi defines the storage façade ("database interface") that every
// biostore backend implements: one Dbi per physical database, exposing a
// typed sub-interface per entity kind, a session lifecycle, nested
// operation blocks and generic properties.
//
// Sub-interfaces returned by a Dbi are owned by it and stay valid until
// Shutdown. Every fallible call returns an error; on error the other
// return values are zero and must not be used.
package dbi

import (
	"context"
	"sync"

	"biostore/pkg/domain"
)

// Init property keys understood by every backend.
const (
	// PropURL is the physical database id (file path or DSN).
	PropURL = "url"
	// PropCreate set to "true" allows Init to create a missing database.
	PropCreate = "create"
	// PropReadOnly set to "true" opens the database read-only.
	PropReadOnly = "read-only"
)

// Assembly read storage strategies, chosen when a database is created and
// fixed for its lifetime.
const (
	PropAssemblyMethod = "sqlite-assembly-reads-elen-method"
	// AssemblyMethodSingleTable stores all reads of an assembly in one table.
	AssemblyMethodSingleTable = "single-table"
	// AssemblyMethodMultiTable buckets reads into tables by effective length.
	AssemblyMethodMultiTable = "multi-table-v1"
	// AssemblyMethodRTree indexes reads with a 2D R-tree.
	AssemblyMethodRTree = "rtree2d"

	PropAssemblyCompression = "sqlite-assembly-reads-compression-method"
	// CompressionNone stores reads uncompressed.
	CompressionNone = "no-compression"
	// CompressionBits1 packs CIGAR and sequence into one bit-packed blob.
	CompressionBits1 = "compress-bits-1"
)

// State is the lifecycle state of a Dbi.
type State int

// Lifecycle states.
const (
	StateClosed State = iota
	StateStarting
	StateReady
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	}
	return "closed"
}

// Feature is an optional capability of a Dbi.
type Feature string

// Capabilities advertised through Dbi.Features.
const (
	FeatureReadSequence   Feature = "read-sequence"
	FeatureWriteSequence  Feature = "write-sequence"
	FeatureReadMsa        Feature = "read-msa"
	FeatureWriteMsa       Feature = "write-msa"
	FeatureReadAssembly   Feature = "read-assembly"
	FeatureWriteAssembly  Feature = "write-assembly"
	FeatureReadFeatures   Feature = "read-features"
	FeatureWriteFeatures  Feature = "write-features"
	FeatureReadVariants   Feature = "read-variants"
	FeatureWriteVariants  Feature = "write-variants"
	FeatureReadAttributes Feature = "read-attributes"
	FeatureWriteAttribute Feature = "write-attributes"
	FeatureReadRawData    Feature = "read-raw-data"
	FeatureWriteRawData   Feature = "write-raw-data"
	FeatureFolders        Feature = "folders"
	FeatureAssemblyRTree  Feature = "assembly-rtree"
)

// Dbi is the storage façade for one physical database.
type Dbi interface {
	// Init boots the database. It may be called again after a clean Shutdown.
	Init(ctx context.Context, props map[string]string) error
	// Shutdown flushes pending writes and releases the connection.
	Shutdown(ctx context.Context) error
	// Flush synchronizes state with the backing store.
	Flush(ctx context.Context) error
	IsInitialized() bool
	State() State

	DbiRef() domain.DbiRef
	// DbiID is the physical database id used for cross-database reference equality.
	DbiID() string
	FactoryID() string
	InitProperties() map[string]string
	MetaInfo(ctx context.Context) (map[string]string, error)
	Features() []Feature
	IsReadOnly() bool

	// PopulateDefaultSchema creates all tables; safe on an initialized database.
	PopulateDefaultSchema(ctx context.Context) error
	// EntityTypeByID recovers the kind from the id tag without touching storage.
	EntityTypeByID(id domain.EntityID) domain.DataType

	Property(ctx context.Context, name, defaultValue string) (string, error)
	SetProperty(ctx context.Context, name, value string) error

	// StartOperationsBlock opens a (possibly nested) logical transaction.
	StartOperationsBlock(ctx context.Context) error
	// StopOperationsBlock closes the innermost block; the physical commit
	// happens when the outermost block stops.
	StopOperationsBlock(ctx context.Context) error
	// RunInOperationsBlock brackets fn with Start/Stop; an fn error makes
	// the outermost stop roll back.
	RunInOperationsBlock(ctx context.Context, fn func(ctx context.Context) error) error
	IsTransactionActive() bool
	// DbMutex is the lock every statement on this connection serializes through.
	DbMutex() *sync.Mutex

	ObjectDbi() ObjectDbi
	ObjectRelationsDbi() ObjectRelationsDbi
	SequenceDbi() SequenceDbi
	MsaDbi() MsaDbi
	AssemblyDbi() AssemblyDbi
	FeatureDbi() FeatureDbi
	VariantDbi() VariantDbi
	AttributeDbi() AttributeDbi
	RawDataDbi() RawDataDbi
}

// Factory creates Dbi instances of one storage implementation.
type Factory interface {
	ID() string
	// CreateDbi returns an uninitialized Dbi.
	CreateDbi() Dbi
	// IsDbiExists reports whether the physical database already exists.
	IsDbiExists(dbiID string) bool
	// RemoveDbi deletes the physical database. Backends that cannot delete
	// return domain.ErrUnsupported.
	RemoveDbi(dbiID string) error
}

// HasFeature reports whether d advertises f.
func HasFeature(d Dbi, f Feature) bool {
	for _, got := range d.Features() {
		if got == f {
			return true
		}
	}
	return false
}
