package dbi

import (
	"context"

	"biostore/pkg/domain"
)

// ObjectDbi manages the object index and the folder namespace of a database.
type ObjectDbi interface {
	CountObjects(ctx context.Context) (int64, error)
	GetObject(ctx context.Context, id domain.EntityID) (domain.Object, error)
	// GetObjects lists object ids in folder; count < 0 means no limit.
	GetObjects(ctx context.Context, folder string, offset, count int64) ([]domain.EntityID, error)
	// GetObjectFolders returns every object together with its folder in one query.
	GetObjectFolders(ctx context.Context) ([]domain.ObjectFolder, error)
	GetObjectFolder(ctx context.Context, id domain.EntityID) (string, error)
	GetFolders(ctx context.Context) ([]string, error)
	// CreateFolder creates path and any missing ancestors.
	CreateFolder(ctx context.Context, path string) error
	// RemoveFolder removes path, its subfolders and every object they contain.
	RemoveFolder(ctx context.Context, path string) error
	// RenameFolder moves path and its whole subtree to newPath.
	RenameFolder(ctx context.Context, oldPath, newPath string) error
	MoveObjects(ctx context.Context, ids []domain.EntityID, fromFolder, toFolder string) error
	RenameObject(ctx context.Context, id domain.EntityID, name string) error
	RemoveObject(ctx context.Context, id domain.EntityID) error
	RemoveObjects(ctx context.Context, ids []domain.EntityID) error
	GetObjectVersion(ctx context.Context, id domain.EntityID) (int64, error)
	IncrementVersion(ctx context.Context, id domain.EntityID) (int64, error)
	GetFolderLocalVersion(ctx context.Context, path string) (int64, error)
	GetFolderGlobalVersion(ctx context.Context, path string) (int64, error)
}

// ObjectRelationsDbi records typed links between objects.
type ObjectRelationsDbi interface {
	CreateRelation(ctx context.Context, rel *domain.Relation) error
	GetObjectRelations(ctx context.Context, objectID domain.EntityID) ([]domain.Relation, error)
	GetReferenceRelations(ctx context.Context, referenceID domain.EntityID) ([]domain.Relation, error)
	RemoveReferencesForObject(ctx context.Context, objectID domain.EntityID) error
}

// SequenceDbi stores sequences and their residues.
type SequenceDbi interface {
	// CreateSequenceObject assigns seq.ID and stores an empty sequence in folder.
	CreateSequenceObject(ctx context.Context, seq *domain.Sequence, folder string) error
	GetSequenceObject(ctx context.Context, id domain.EntityID) (domain.Sequence, error)
	// GetSequenceData returns residues of region; domain.RegionMax reads everything.
	GetSequenceData(ctx context.Context, id domain.EntityID, region domain.Region) ([]byte, error)
	// UpdateSequenceData replaces region with data; domain.RegionMax replaces everything.
	UpdateSequenceData(ctx context.Context, id domain.EntityID, region domain.Region, data []byte) error
}

// MsaDbi stores alignments and their gap models.
type MsaDbi interface {
	CreateMsaObject(ctx context.Context, msa *domain.Msa, folder string) error
	GetMsaObject(ctx context.Context, id domain.EntityID) (domain.Msa, error)
	GetNumOfRows(ctx context.Context, msaID domain.EntityID) (int64, error)
	GetRows(ctx context.Context, msaID domain.EntityID) ([]domain.MsaRow, error)
	GetRow(ctx context.Context, msaID domain.EntityID, rowID int64) (domain.MsaRow, error)
	// AddRow appends row at position pos (-1 appends at the end) and assigns row.RowID.
	AddRow(ctx context.Context, msaID domain.EntityID, pos int, row *domain.MsaRow) error
	RemoveRows(ctx context.Context, msaID domain.EntityID, rowIDs []int64) error
	UpdateGapModel(ctx context.Context, msaID domain.EntityID, rowID int64, gaps []domain.Gap) error
	UpdateMsaLength(ctx context.Context, msaID domain.EntityID, length int64) error
}

// AssemblyDbi stores assemblies and their reads.
type AssemblyDbi interface {
	// CreateAssemblyObject stores assembly in folder and imports reads if it is non-nil.
	CreateAssemblyObject(ctx context.Context, assembly *domain.Assembly, folder string, reads Iterator[domain.AssemblyRead]) error
	GetAssemblyObject(ctx context.Context, id domain.EntityID) (domain.Assembly, error)
	CountReads(ctx context.Context, assemblyID domain.EntityID, region domain.Region) (int64, error)
	GetReads(ctx context.Context, assemblyID domain.EntityID, region domain.Region) (Iterator[domain.AssemblyRead], error)
	GetReadsByName(ctx context.Context, assemblyID domain.EntityID, name string) (Iterator[domain.AssemblyRead], error)
	AddReads(ctx context.Context, assemblyID domain.EntityID, reads Iterator[domain.AssemblyRead]) (int64, error)
	RemoveReads(ctx context.Context, assemblyID domain.EntityID, readIDs []domain.EntityID) error
	GetMaxEndPos(ctx context.Context, assemblyID domain.EntityID) (int64, error)
	// Pack assigns packed rows to every read and returns the number of rows used.
	Pack(ctx context.Context, assemblyID domain.EntityID) (int64, error)
}

// FeatureDbi stores annotation tables as feature trees.
type FeatureDbi interface {
	CreateAnnotationTableObject(ctx context.Context, table *domain.AnnotationTable, folder string) error
	GetAnnotationTableObject(ctx context.Context, id domain.EntityID) (domain.AnnotationTable, error)
	// CreateFeature assigns feature.ID and stores its keys.
	CreateFeature(ctx context.Context, feature *domain.Feature, keys []domain.FeatureKey) error
	GetFeature(ctx context.Context, id domain.EntityID) (domain.Feature, error)
	GetFeatureKeys(ctx context.Context, id domain.EntityID) ([]domain.FeatureKey, error)
	GetFeaturesByRoot(ctx context.Context, rootID domain.EntityID) ([]domain.Feature, error)
	GetSubFeatures(ctx context.Context, parentID domain.EntityID) ([]domain.Feature, error)
	CountFeatures(ctx context.Context, rootID domain.EntityID) (int64, error)
	// RemoveFeature removes the feature and all features below it.
	RemoveFeature(ctx context.Context, id domain.EntityID) error
}

// VariantTrackFilter narrows GetVariantTracks. Zero fields match everything.
type VariantTrackFilter struct {
	SequenceID domain.EntityID
	TrackType  domain.VariantTrackType
}

// VariantDbi stores variant tracks.
type VariantDbi interface {
	GetVariantTracks(ctx context.Context, filter VariantTrackFilter) (Iterator[domain.VariantTrack], error)
	GetVariantTrack(ctx context.Context, trackID domain.EntityID) (domain.VariantTrack, error)
	GetVariantTrackOfVariant(ctx context.Context, variantID domain.EntityID) (domain.VariantTrack, error)
	CreateVariantTrack(ctx context.Context, track *domain.VariantTrack, trackType domain.VariantTrackType, folder string) error
	UpdateVariantTrack(ctx context.Context, track *domain.VariantTrack) error
	AddVariantsToTrack(ctx context.Context, track domain.VariantTrack, variants Iterator[domain.Variant]) error
	// GetVariants returns variants whose start lies in region; domain.RegionMax is unbounded.
	GetVariants(ctx context.Context, trackID domain.EntityID, region domain.Region) (Iterator[domain.Variant], error)
	GetVariantsRange(ctx context.Context, trackID domain.EntityID, offset, limit int64) (Iterator[domain.Variant], error)
	GetVariantCount(ctx context.Context, trackID domain.EntityID) (int64, error)
	CreateVariationsIndex(ctx context.Context) error
	RemoveTrack(ctx context.Context, trackID domain.EntityID) error
	UpdateVariantPublicID(ctx context.Context, trackID, variantID domain.EntityID, publicID string) error
	UpdateTrackIDOfVariant(ctx context.Context, variantID, newTrackID domain.EntityID) error
}

// AttributeDbi stores generic attributes of objects.
type AttributeDbi interface {
	GetAvailableAttributeNames(ctx context.Context) ([]string, error)
	// GetObjectAttributes lists attribute ids of objectID; an empty name matches all.
	GetObjectAttributes(ctx context.Context, objectID domain.EntityID, name string) ([]domain.EntityID, error)
	GetAttribute(ctx context.Context, id domain.EntityID) (domain.Attribute, error)
	CreateAttribute(ctx context.Context, attr *domain.Attribute) error
	RemoveAttributes(ctx context.Context, ids []domain.EntityID) error
	RemoveObjectAttributes(ctx context.Context, objectID domain.EntityID) error
}

// RawDataDbi stores opaque payload objects.
type RawDataDbi interface {
	CreateRawDataObject(ctx context.Context, raw *domain.RawData, folder string, data []byte) error
	GetRawDataObject(ctx context.Context, id domain.EntityID) (domain.RawData, error)
	GetRawData(ctx context.Context, id domain.EntityID) ([]byte, error)
	UpdateRawData(ctx context.Context, id domain.EntityID, data []byte) error
}
