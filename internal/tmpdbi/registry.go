// Package tmpdbi tracks the databases opened for one session. Databases
// created through CreateTmpDbi are owned by the registry and their files are
// removed by Close; databases opened with OpenDbi are only closed.
package tmpdbi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"biostore/internal/blob"
	"biostore/internal/infra/persistence/sqlite"
	"biostore/internal/metrics"
	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

// DefaultAlias prefixes the file names of session databases.
const DefaultAlias = "session"

// Option configures a Registry.
type Option func(*Registry)

// WithTmpDir sets the directory that receives temporary databases.
func WithTmpDir(dir string) Option {
	return func(r *Registry) {
		if dir != "" {
			r.tmpDir = dir
		}
	}
}

// WithAlias sets the file name prefix of temporary databases.
func WithAlias(alias string) Option {
	return func(r *Registry) {
		if alias != "" {
			r.alias = alias
		}
	}
}

// WithInitProps adds Init properties used when creating temporary databases.
func WithInitProps(props map[string]string) Option {
	return func(r *Registry) { r.props = maps.Clone(props) }
}

// WithArchive sets the blob store used by Archive.
func WithArchive(s blob.Store) Option {
	return func(r *Registry) { r.archive = s }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Registry) { r.metrics = m }
}

type entry struct {
	ref       domain.DbiRef
	conn      dbi.Dbi
	temporary bool
}

// Registry owns the connections of one session.
type Registry struct {
	dbis    *dbi.Registry
	tmpDir  string
	alias   string
	props   map[string]string
	archive blob.Store
	logger  *slog.Logger
	metrics *metrics.Recorder
	newName func() string

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	closed  bool
}

// New returns an empty registry opening databases through dbis.
func New(dbis *dbi.Registry, opts ...Option) *Registry {
	r := &Registry{
		dbis:    dbis,
		tmpDir:  filepath.Join(os.TempDir(), "biostore"),
		alias:   DefaultAlias,
		logger:  slog.Default(),
		newName: uuid.NewString,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateTmpDbi creates a new SQLite database at <tmpdir>/<alias>_<uuid>.<ext>
// and tracks it as temporary.
func (r *Registry) CreateTmpDbi(ctx context.Context) (domain.DbiRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.DbiRef{}, domain.Preconditionf("tmp dbi registry is closed")
	}
	if err := os.MkdirAll(r.tmpDir, 0o750); err != nil {
		return domain.DbiRef{}, fmt.Errorf("create tmp dir: %w", err)
	}
	path := filepath.Join(r.tmpDir, r.alias+"_"+r.newName()+"."+sqlite.FileExt)
	ref := domain.DbiRef{FactoryID: sqlite.FactoryID, DbiID: path}
	if _, tracked := r.entries[path]; tracked {
		return domain.DbiRef{}, domain.Preconditionf("temporary dbi %s is already registered", path)
	}
	if _, err := os.Stat(path); err == nil {
		return domain.DbiRef{}, domain.Preconditionf("temporary dbi file %s already exists", path)
	}
	conn, err := r.dbis.Open(ctx, ref, true, r.props)
	if err != nil {
		// Init may fail after the file was written.
		f, ferr := r.dbis.Factory(sqlite.FactoryID)
		if ferr != nil {
			return domain.DbiRef{}, errors.Join(err, ferr)
		}
		if rerr := f.RemoveDbi(path); rerr != nil {
			return domain.DbiRef{}, errors.Join(err, rerr)
		}
		return domain.DbiRef{}, err
	}
	r.track(&entry{ref: ref, conn: conn, temporary: true})
	r.metrics.TmpTracked(1)
	r.logger.Debug("temporary dbi created", slog.String("path", path))
	return ref, nil
}

// OpenDbi opens an existing database and tracks it as non-temporary. A
// database that is already tracked keeps its connection and ownership.
func (r *Registry) OpenDbi(ctx context.Context, ref domain.DbiRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.Preconditionf("tmp dbi registry is closed")
	}
	if _, tracked := r.entries[ref.DbiID]; tracked {
		return nil
	}
	conn, err := r.dbis.Open(ctx, ref, false, nil)
	if err != nil {
		return err
	}
	r.track(&entry{ref: ref, conn: conn})
	return nil
}

func (r *Registry) track(e *entry) {
	r.entries[e.ref.DbiID] = e
	r.order = append(r.order, e.ref.DbiID)
}

// Connection returns the open Dbi of a tracked database.
func (r *Registry) Connection(ref domain.DbiRef) (dbi.Dbi, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ref.DbiID]
	if !ok {
		return nil, fmt.Errorf("dbi %s is not tracked: %w", ref, domain.ErrNotFound)
	}
	return e.conn, nil
}

// IsTemporary reports whether ref is tracked and owned by the registry.
func (r *Registry) IsTemporary(ref domain.DbiRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ref.DbiID]
	return ok && e.temporary
}

// MarkPersistent hands ownership of a temporary database's file to the
// caller: Close will shut it down but keep the file.
func (r *Registry) MarkPersistent(ref domain.DbiRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ref.DbiID]
	if !ok {
		return fmt.Errorf("dbi %s is not tracked: %w", ref, domain.ErrNotFound)
	}
	if e.temporary {
		e.temporary = false
		r.metrics.TmpTracked(-1)
	}
	return nil
}

// Refs lists tracked databases in tracking order.
func (r *Registry) Refs() []domain.DbiRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.DbiRef, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].ref)
	}
	return out
}

// Archive flushes a tracked SQLite database and uploads its file under key.
func (r *Registry) Archive(ctx context.Context, ref domain.DbiRef, key string) (blob.Info, error) {
	if r.archive == nil {
		return blob.Info{}, fmt.Errorf("archive store: %w", domain.ErrUnsupported)
	}
	conn, err := r.Connection(ref)
	if err != nil {
		return blob.Info{}, err
	}
	if ref.FactoryID != sqlite.FactoryID || ref.DbiID == sqlite.MemoryURL {
		return blob.Info{}, domain.Preconditionf("dbi %s has no backing file to archive", ref)
	}
	if err := conn.Flush(ctx); err != nil {
		return blob.Info{}, err
	}
	f, err := os.Open(ref.DbiID)
	if err != nil {
		return blob.Info{}, fmt.Errorf("open %s: %w", ref.DbiID, err)
	}
	defer func() { _ = f.Close() }()
	info, err := r.archive.Put(ctx, key, f, blob.PutOptions{
		ContentType: blob.ContentTypeDatabase,
		Metadata: map[string]string{
			"factory":   ref.FactoryID,
			"file":      filepath.Base(ref.DbiID),
			"temporary": strconv.FormatBool(r.IsTemporary(ref)),
		},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("archive %s: %w", ref, err)
	}
	r.metrics.Archived(info.Size)
	r.logger.Info("dbi archived",
		slog.String("dbi", ref.DbiID),
		slog.String("key", key),
		slog.String("driver", string(r.archive.Driver())),
		slog.String("size", humanize.Bytes(uint64(info.Size))))
	return info, nil
}

// Close shuts down every tracked connection, then removes the files of the
// temporary ones. It keeps going past failures and reports them all.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for _, id := range slices.Backward(r.order) {
		e := r.entries[id]
		if e.conn.IsInitialized() {
			if err := e.conn.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", e.ref, err))
			}
		}
	}
	for _, id := range r.order {
		e := r.entries[id]
		if !e.temporary {
			continue
		}
		r.metrics.TmpTracked(-1)
		f, err := r.dbis.Factory(e.ref.FactoryID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !f.IsDbiExists(e.ref.DbiID) {
			continue
		}
		if err := f.RemoveDbi(e.ref.DbiID); err != nil {
			errs = append(errs, err)
			continue
		}
		r.logger.Debug("temporary dbi removed", slog.String("path", e.ref.DbiID))
	}
	r.entries = make(map[string]*entry)
	r.order = nil
	return errors.Join(errs...)
}
