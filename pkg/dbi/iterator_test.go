package dbi

import (
	"context"
	"errors"
	"testing"
)

func TestSliceIteratorYieldsAllValues(t *testing.T) {
	ctx := context.Background()
	got, err := Collect[int](ctx, NewSliceIterator([]int{1, 2, 3}))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected values %v", got)
	}
}

func TestSliceIteratorIsNotRestartable(t *testing.T) {
	ctx := context.Background()
	it := NewSliceIterator([]string{"a"})
	if !it.Next(ctx) || it.Value() != "a" {
		t.Fatalf("expected first value")
	}
	if it.Next(ctx) || it.Next(ctx) {
		t.Fatalf("iterator must stay exhausted")
	}
	if it.Value() != "" {
		t.Fatalf("exhausted iterator must yield zero value")
	}
}

func TestPagedIteratorFetchesLazily(t *testing.T) {
	ctx := context.Background()
	data := []int{0, 1, 2, 3, 4, 5, 6}
	var calls int
	it := NewPagedIterator(func(_ context.Context, offset, limit int64) ([]int, error) {
		calls++
		end := min(offset+limit, int64(len(data)))
		if offset >= end {
			return nil, nil
		}
		return data[offset:end], nil
	}, 3)
	if calls != 0 {
		t.Fatalf("constructor must not fetch")
	}
	var got []int
	for it.Next(ctx) {
		got = append(got, it.Value())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(got) != len(data) {
		t.Fatalf("got %v, want %v", got, data)
	}
	// pages of 3,3,1; the short page ends the scan
	if calls != 3 {
		t.Fatalf("expected 3 fetches, got %d", calls)
	}
}

func TestPagedIteratorStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	it := NewPagedIterator(func(context.Context, int64, int64) ([]int, error) { return nil, boom }, 0)
	if it.Next(context.Background()) {
		t.Fatalf("expected no values")
	}
	if !errors.Is(it.Err(), boom) {
		t.Fatalf("expected boom, got %v", it.Err())
	}
	if _, err := Collect[int](context.Background(), NewPagedIterator(func(context.Context, int64, int64) ([]int, error) { return nil, boom }, 1)); !errors.Is(err, boom) {
		t.Fatalf("collect should surface fetch error, got %v", err)
	}
}
