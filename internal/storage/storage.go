// Package storage hands stored biological objects to a dataflow engine by
// reference. Values put into a Storage are imported into its session
// database and returned as owning handles; handles resolve back to freshly
// read entities on demand.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"biostore/internal/blob"
	"biostore/internal/dbiutil"
	"biostore/internal/metrics"
	"biostore/internal/tmpdbi"
	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

// Option configures a Storage.
type Option func(*Storage)

// WithTmpDir sets the directory of the session database.
func WithTmpDir(dir string) Option {
	return func(s *Storage) { s.tmpOpts = append(s.tmpOpts, tmpdbi.WithTmpDir(dir)) }
}

// WithInitProps sets the Init properties of the session database.
func WithInitProps(props map[string]string) Option {
	return func(s *Storage) { s.tmpOpts = append(s.tmpOpts, tmpdbi.WithInitProps(props)) }
}

// WithArchive lets Archive upload the session database to store.
func WithArchive(store blob.Store) Option {
	return func(s *Storage) { s.tmpOpts = append(s.tmpOpts, tmpdbi.WithArchive(store)) }
}

// WithFolder sets the folder that receives imported objects.
func WithFolder(folder string) Option {
	return func(s *Storage) {
		if folder != "" {
			s.folder = folder
		}
	}
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Storage) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Storage) { s.metrics = m }
}

// Storage is the handle layer over one session database.
type Storage struct {
	folder  string
	logger  *slog.Logger
	metrics *metrics.Recorder
	tmpOpts []tmpdbi.Option
	tmp     *tmpdbi.Registry

	mu      sync.Mutex
	session dbi.Dbi
	conns   map[string]dbi.Dbi
	opening singleflight.Group
}

// New returns an uninitialized Storage opening databases through dbis.
func New(dbis *dbi.Registry, opts ...Option) *Storage {
	s := &Storage{
		folder: domain.RootFolder,
		logger: slog.Default(),
		conns:  make(map[string]dbi.Dbi),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tmp = tmpdbi.New(dbis, append([]tmpdbi.Option{
		tmpdbi.WithAlias("storage"),
		tmpdbi.WithLogger(s.logger),
		tmpdbi.WithMetrics(s.metrics),
	}, s.tmpOpts...)...)
	return s
}

// Init creates the session database.
func (s *Storage) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return domain.Preconditionf("storage is already initialized")
	}
	ref, err := s.tmp.CreateTmpDbi(ctx)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	conn, err := s.tmp.Connection(ref)
	if err != nil {
		return err
	}
	if s.folder != domain.RootFolder {
		if err := conn.ObjectDbi().CreateFolder(ctx, s.folder); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
	}
	s.session = conn
	s.conns[ref.DbiID] = conn
	s.logger.Debug("storage initialized", slog.String("dbi", ref.DbiID))
	return nil
}

// DbiRef returns the session database, or the zero ref before Init.
func (s *Storage) DbiRef() domain.DbiRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return domain.DbiRef{}
	}
	return s.session.DbiRef()
}

func (s *Storage) sessionDbi() (dbi.Dbi, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, fmt.Errorf("storage: %w", domain.ErrNotInitialized)
	}
	return s.session, nil
}

// Connection returns the cached connection to ref, opening it on first use.
// Concurrent first uses of one database share a single open.
func (s *Storage) Connection(ctx context.Context, ref domain.DbiRef) (dbi.Dbi, error) {
	s.mu.Lock()
	if conn, ok := s.conns[ref.DbiID]; ok {
		s.mu.Unlock()
		return conn, nil
	}
	s.mu.Unlock()
	v, err, _ := s.opening.Do(ref.DbiID, func() (any, error) {
		if err := s.tmp.OpenDbi(ctx, ref); err != nil {
			return nil, err
		}
		conn, err := s.tmp.Connection(ref)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.conns[ref.DbiID] = conn
		s.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(dbi.Dbi), nil
}

func (s *Storage) owned(conn dbi.Dbi, id domain.EntityID) *Handle {
	return newHandle(domain.EntityRef{DbiRef: conn.DbiRef(), EntityID: id}, conn.ObjectDbi(), true, s.metrics)
}

// PutSequence imports v and returns an owning handle.
func (s *Storage) PutSequence(ctx context.Context, v domain.DNASequence) (*Handle, error) {
	conn, err := s.sessionDbi()
	if err != nil {
		return nil, err
	}
	seq, err := dbiutil.ImportSequence(ctx, conn, s.folder, v)
	if err != nil {
		return nil, err
	}
	return s.owned(conn, seq.ID), nil
}

// PutSequenceObject returns an owning handle to the sequence ref, cloning it
// into the session database when it lives elsewhere.
func (s *Storage) PutSequenceObject(ctx context.Context, ref domain.EntityRef) (*Handle, error) {
	return s.putObject(ctx, ref, domain.TypeSequence)
}

// PutAlignment imports al and returns an owning handle.
func (s *Storage) PutAlignment(ctx context.Context, al domain.Alignment) (*Handle, error) {
	conn, err := s.sessionDbi()
	if err != nil {
		return nil, err
	}
	msa, err := dbiutil.ImportAlignment(ctx, conn, s.folder, al)
	if err != nil {
		return nil, err
	}
	return s.owned(conn, msa.ID), nil
}

// PutAnnotationTable imports anns as a table named name and returns an
// owning handle.
func (s *Storage) PutAnnotationTable(ctx context.Context, name string, anns []domain.AnnotationData) (*Handle, error) {
	conn, err := s.sessionDbi()
	if err != nil {
		return nil, err
	}
	table, err := dbiutil.ImportAnnotationTable(ctx, conn, s.folder, name, anns)
	if err != nil {
		return nil, err
	}
	return s.owned(conn, table.ID), nil
}

// PutAnnotationTableObject returns an owning handle to the annotation table
// ref, cloning it into the session database when it lives elsewhere.
func (s *Storage) PutAnnotationTableObject(ctx context.Context, ref domain.EntityRef) (*Handle, error) {
	return s.putObject(ctx, ref, domain.TypeAnnotationTable)
}

// PutAnnotationTables puts every table of refs. Either all handles are
// returned or, on error, none and the clones made so far are removed.
func (s *Storage) PutAnnotationTables(ctx context.Context, refs []domain.EntityRef) ([]*Handle, error) {
	conn, err := s.sessionDbi()
	if err != nil {
		return nil, err
	}
	ids := make([]domain.EntityID, 0, len(refs))
	var clones []domain.EntityID
	for _, ref := range refs {
		id, cloned, err := s.localize(ctx, conn, ref, domain.TypeAnnotationTable)
		if err != nil {
			if len(clones) > 0 {
				if rmErr := conn.ObjectDbi().RemoveObjects(ctx, clones); rmErr != nil {
					s.logger.Warn("remove partial clones", slog.Any("error", rmErr))
				}
			}
			return nil, err
		}
		if cloned {
			clones = append(clones, id)
		}
		ids = append(ids, id)
	}
	out := make([]*Handle, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.owned(conn, id))
	}
	return out, nil
}

func (s *Storage) putObject(ctx context.Context, ref domain.EntityRef, kind domain.DataType) (*Handle, error) {
	conn, err := s.sessionDbi()
	if err != nil {
		return nil, err
	}
	id, _, err := s.localize(ctx, conn, ref, kind)
	if err != nil {
		return nil, err
	}
	return s.owned(conn, id), nil
}

// localize returns the id of ref inside the session database, cloning the
// object there when ref points at another database.
func (s *Storage) localize(ctx context.Context, conn dbi.Dbi, ref domain.EntityRef, kind domain.DataType) (domain.EntityID, bool, error) {
	if !ref.IsValid() {
		return domain.EntityID{}, false, domain.Preconditionf("invalid entity ref %s/%s", ref.DbiRef, ref.EntityID)
	}
	if ref.EntityID.Type() != kind {
		return domain.EntityID{}, false, domain.Preconditionf("entity %s is a %s, want %s", ref.EntityID, ref.EntityID.Type(), kind)
	}
	if ref.DbiRef == conn.DbiRef() {
		return ref.EntityID, false, nil
	}
	src, err := s.Connection(ctx, ref.DbiRef)
	if err != nil {
		return domain.EntityID{}, false, err
	}
	var id domain.EntityID
	switch kind {
	case domain.TypeSequence:
		seq, err := dbiutil.CloneSequence(ctx, src, ref.EntityID, conn, s.folder)
		if err != nil {
			return domain.EntityID{}, false, err
		}
		id = seq.ID
	case domain.TypeAnnotationTable:
		table, err := dbiutil.CloneAnnotationTable(ctx, src, ref.EntityID, conn, s.folder)
		if err != nil {
			return domain.EntityID{}, false, err
		}
		id = table.ID
	default:
		return domain.EntityID{}, false, domain.Preconditionf("cannot clone %s objects", kind)
	}
	s.logger.Debug("object cloned into storage",
		slog.String("kind", kind.String()),
		slog.String("from", ref.DbiRef.DbiID),
		slog.String("id", id.String()))
	return id, true, nil
}

// GetObject reads the entity behind h. The result is a fresh value owned by
// the caller. A dead handle or a kind other than the handle's is an error.
func (s *Storage) GetObject(ctx context.Context, h *Handle, kind domain.DataType) (domain.Entity, error) {
	if !h.Alive() {
		return nil, domain.Preconditionf("dead or nil handle")
	}
	id := h.ID()
	if id.Type() != kind {
		return nil, domain.Preconditionf("handle points at a %s, want %s", id.Type(), kind)
	}
	conn, err := s.Connection(ctx, h.DbiRef())
	if err != nil {
		return nil, err
	}
	var (
		e      domain.Entity
		getErr error
	)
	switch kind {
	case domain.TypeSequence:
		e, getErr = entity(conn.SequenceDbi().GetSequenceObject(ctx, id))
	case domain.TypeMsa:
		e, getErr = entity(conn.MsaDbi().GetMsaObject(ctx, id))
	case domain.TypeAssembly:
		e, getErr = entity(conn.AssemblyDbi().GetAssemblyObject(ctx, id))
	case domain.TypeAnnotationTable:
		e, getErr = entity(conn.FeatureDbi().GetAnnotationTableObject(ctx, id))
	case domain.TypeVariantTrack:
		e, getErr = entity(conn.VariantDbi().GetVariantTrack(ctx, id))
	case domain.TypeRawData, domain.TypeText:
		e, getErr = entity(conn.RawDataDbi().GetRawDataObject(ctx, id))
	default:
		return nil, domain.Preconditionf("%s is not an object kind", kind)
	}
	return e, getErr
}

// entity keeps a failed read from surfacing as a non-nil zero value.
func entity[T domain.Entity](v T, err error) (domain.Entity, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetDataHandler wraps an existing entity without importing it.
func (s *Storage) GetDataHandler(ctx context.Context, ref domain.EntityRef, useGC bool) (*Handle, error) {
	if !ref.IsValid() {
		return nil, domain.Preconditionf("invalid entity ref %s/%s", ref.DbiRef, ref.EntityID)
	}
	conn, err := s.Connection(ctx, ref.DbiRef)
	if err != nil {
		return nil, err
	}
	return newHandle(ref, conn.ObjectDbi(), useGC, s.metrics), nil
}

// DeleteObject reports success without removing anything. Stored objects
// are removed by releasing their owning handle or through the ObjectDbi of
// their database.
func (s *Storage) DeleteObject(_ context.Context, _ domain.EntityID, _ domain.DataType) error {
	_, err := s.sessionDbi()
	return err
}

// Archive uploads the session database to the archive store under key.
func (s *Storage) Archive(ctx context.Context, key string) (blob.Info, error) {
	conn, err := s.sessionDbi()
	if err != nil {
		return blob.Info{}, err
	}
	return s.tmp.Archive(ctx, conn.DbiRef(), key)
}

// Close shuts down every connection and removes the session database.
// Handles must not be used afterwards.
func (s *Storage) Close(ctx context.Context) error {
	s.mu.Lock()
	s.session = nil
	clear(s.conns)
	s.mu.Unlock()
	return s.tmp.Close(ctx)
}
