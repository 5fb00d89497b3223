// Package core wires configuration to concrete storage: it builds the
// factory registry, resolves the default database, selects the archive
// blob store and assembles the handle layer.
package core

import (
	"context"
	"fmt"

	"biostore/internal/blob"
	"biostore/internal/config"
	blobfs "biostore/internal/infra/blob/fs"
	blobmemory "biostore/internal/infra/blob/memory"
	blobs3 "biostore/internal/infra/blob/s3"
	"biostore/internal/infra/persistence/postgres"
	"biostore/internal/infra/persistence/sqldbi"
	"biostore/internal/infra/persistence/sqlite"
	"biostore/internal/storage"
	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

// StorageDriver identifies a concrete Dbi backend.
type StorageDriver string

const (
	StorageSQLite   StorageDriver = sqlite.FactoryID   // embedded sqlite file
	StoragePostgres StorageDriver = postgres.FactoryID // PostgreSQL server
)

// NewRegistry returns a registry holding every backend. opts are applied
// to each Dbi the factories create.
func NewRegistry(opts ...sqldbi.Option) *dbi.Registry {
	return dbi.NewRegistry(sqlite.NewFactory(opts...), postgres.NewFactory(opts...))
}

// DefaultDbiRef resolves the database named by the configuration.
func DefaultDbiRef(cfg config.Config) (domain.DbiRef, error) {
	switch StorageDriver(cfg.StorageDriver) {
	case StorageSQLite, "":
		path := cfg.SQLitePath
		if path == "" {
			path = config.Default().SQLitePath
		}
		return domain.DbiRef{FactoryID: sqlite.FactoryID, DbiID: path}, nil
	case StoragePostgres:
		dsn := cfg.PostgresDSN
		if dsn == "" {
			dsn = postgres.DefaultDSN
		}
		return domain.DbiRef{FactoryID: postgres.FactoryID, DbiID: dsn}, nil
	default:
		return domain.DbiRef{}, fmt.Errorf("unknown storage driver %s", cfg.StorageDriver)
	}
}

// InitProps returns the Init properties requested by the configuration for
// new databases.
func InitProps(cfg config.Config) map[string]string {
	props := map[string]string{}
	if cfg.Assembly.Method != "" {
		props[dbi.PropAssemblyMethod] = cfg.Assembly.Method
	}
	if cfg.Assembly.Compression != "" {
		props[dbi.PropAssemblyCompression] = cfg.Assembly.Compression
	}
	return props
}

// OpenArchive selects the archive blob store. An empty driver disables
// archiving and returns a nil store.
func OpenArchive(ctx context.Context, cfg config.Archive) (blob.Store, error) {
	switch blob.Driver(cfg.Driver) {
	case "":
		return nil, nil
	case blob.DriverFilesystem:
		s, err := blobfs.New(cfg.FSRoot)
		if err != nil {
			return nil, err
		}
		return s, nil
	case blob.DriverMemory:
		return blobmemory.New(), nil
	case blob.DriverS3:
		s, err := blobs3.New(ctx, blobs3.Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			Prefix:    cfg.S3.Prefix,
			PathStyle: cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.Driver)
	}
}

// NewStorage builds an uninitialized handle layer over a fresh registry,
// using the configured temp directory, creation properties and archive
// store. opts are applied after the configured ones.
func NewStorage(ctx context.Context, cfg config.Config, opts ...storage.Option) (*storage.Storage, error) {
	archive, err := OpenArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	base := []storage.Option{
		storage.WithTmpDir(cfg.TmpDir),
		storage.WithInitProps(InitProps(cfg)),
	}
	if archive != nil {
		base = append(base, storage.WithArchive(archive))
	}
	return storage.New(NewRegistry(), append(base, opts...)...), nil
}
