package dbi

import "context"

// Iterator is a lazy, finite, forward-only sequence. It is not restartable.
//
//	for it.Next(ctx) {
//		v := it.Value()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator[T any] interface {
	// Next advances to the next value and reports whether one is available.
	Next(ctx context.Context) bool
	// Value returns the current value. It is only valid after Next returned true.
	Value() T
	// Err returns the first error encountered by Next.
	Err() error
	Close() error
}

// SliceIterator iterates over an in-memory slice.
type SliceIterator[T any] struct {
	items []T
	pos   int
}

// NewSliceIterator returns an iterator over items.
func NewSliceIterator[T any](items []T) *SliceIterator[T] {
	return &SliceIterator[T]{items: items, pos: -1}
}

func (it *SliceIterator[T]) Next(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if it.pos+1 >= len(it.items) {
		it.pos = len(it.items)
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator[T]) Value() T {
	var zero T
	if it.pos < 0 || it.pos >= len(it.items) {
		return zero
	}
	return it.items[it.pos]
}

func (it *SliceIterator[T]) Err() error   { return nil }
func (it *SliceIterator[T]) Close() error { return nil }

// Collect drains it into a slice and closes it.
func Collect[T any](ctx context.Context, it Iterator[T]) ([]T, error) {
	defer func() { _ = it.Close() }()
	var out []T
	for it.Next(ctx) {
		out = append(out, it.Value())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PageFunc fetches up to limit values starting at offset.
type PageFunc[T any] func(ctx context.Context, offset, limit int64) ([]T, error)

// PagedIterator pulls values page by page so no storage cursor is held
// between calls to Next.
type PagedIterator[T any] struct {
	fetch    PageFunc[T]
	pageSize int64
	offset   int64
	buf      []T
	pos      int
	cur      T
	done     bool
	err      error
}

// DefaultPageSize is the number of rows a PagedIterator requests at a time.
const DefaultPageSize = 256

// NewPagedIterator returns an iterator backed by fetch. A pageSize <= 0
// selects DefaultPageSize.
func NewPagedIterator[T any](fetch PageFunc[T], pageSize int64) *PagedIterator[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PagedIterator[T]{fetch: fetch, pageSize: pageSize}
}

func (it *PagedIterator[T]) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if it.pos >= len(it.buf) {
		page, err := it.fetch(ctx, it.offset, it.pageSize)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		if len(page) == 0 {
			it.done = true
			return false
		}
		it.buf = page
		it.pos = 0
		it.offset += int64(len(page))
		if int64(len(page)) < it.pageSize {
			// last page; stop fetching once it is drained
			it.fetch = emptyPage[T]
		}
	}
	it.cur = it.buf[it.pos]
	it.pos++
	return true
}

func emptyPage[T any](context.Context, int64, int64) ([]T, error) { return nil, nil }

func (it *PagedIterator[T]) Value() T   { return it.cur }
func (it *PagedIterator[T]) Err() error { return it.err }

func (it *PagedIterator[T]) Close() error {
	it.done = true
	it.buf = nil
	return nil
}
