package storage

import (
	"context"
	"fmt"
	"sync"

	"biostore/internal/metrics"
	"biostore/pkg/dbi"
	"biostore/pkg/domain"
)

// Handle is a shared reference to one stored entity. Every holder calls
// Retain when it keeps the handle and Release when it is done. When the last
// reference of an owning handle is released the entity is removed through
// the ObjectDbi it was created with; a non-owning handle never removes
// anything.
type Handle struct {
	ref     domain.EntityRef
	owner   dbi.ObjectDbi
	gc      bool
	metrics *metrics.Recorder

	mu   sync.Mutex
	refs int
}

func newHandle(ref domain.EntityRef, owner dbi.ObjectDbi, gc bool, m *metrics.Recorder) *Handle {
	m.HandleLive(1)
	return &Handle{ref: ref, owner: owner, gc: gc, metrics: m, refs: 1}
}

// EntityRef returns the referenced entity.
func (h *Handle) EntityRef() domain.EntityRef { return h.ref }

// DbiRef returns the database holding the entity.
func (h *Handle) DbiRef() domain.DbiRef { return h.ref.DbiRef }

// ID returns the entity id.
func (h *Handle) ID() domain.EntityID { return h.ref.EntityID }

// OwnsEntity reports whether releasing the last reference removes the entity.
func (h *Handle) OwnsEntity() bool { return h.gc }

// Alive reports whether the handle still has references.
func (h *Handle) Alive() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs > 0
}

// Retain adds a reference and returns h. Retaining a dead handle is a no-op
// and returns nil.
func (h *Handle) Retain() *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs == 0 {
		return nil
	}
	h.refs++
	return h
}

// Release drops one reference. Dropping the last reference of an owning
// handle removes the entity and reports the removal error, if any.
func (h *Handle) Release(ctx context.Context) error {
	h.mu.Lock()
	if h.refs == 0 {
		h.mu.Unlock()
		return domain.Preconditionf("handle %s released after its last reference", h.ref.EntityID)
	}
	h.refs--
	last := h.refs == 0
	h.mu.Unlock()
	if !last {
		return nil
	}
	h.metrics.HandleLive(-1)
	if !h.gc {
		return nil
	}
	err := h.owner.RemoveObject(ctx, h.ref.EntityID)
	h.metrics.HandleDeleted(err)
	if err != nil {
		return fmt.Errorf("release %s: %w", h.ref.EntityID, err)
	}
	return nil
}
