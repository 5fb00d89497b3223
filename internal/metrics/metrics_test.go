package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.Observe(context.Background(), "op", nil, 0)
	r.Commit()
	r.Rollback()
	r.DbiOpened(1)
	r.TmpTracked(1)
	r.HandleLive(1)
	r.HandleDeleted(nil)
	r.Archived(10)
}

func TestObserveCountsByStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	r.Observe(ctx, "create_folder", nil, 0)
	r.Observe(ctx, "create_folder", nil, 0)
	r.Observe(ctx, "create_folder", errors.New("boom"), 0)
	if got := testutil.ToFloat64(r.operations.WithLabelValues("create_folder", "success")); got != 2 {
		t.Fatalf("success count = %v", got)
	}
	if got := testutil.ToFloat64(r.operations.WithLabelValues("create_folder", "error")); got != 1 {
		t.Fatalf("error count = %v", got)
	}
	r.Commit()
	expected := `
# HELP biostore_dbi_commits_total Physical transactions committed.
# TYPE biostore_dbi_commits_total counter
biostore_dbi_commits_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "biostore_dbi_commits_total"); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestGaugesTrackDeltas(t *testing.T) {
	r, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.HandleLive(1)
	r.HandleLive(1)
	r.HandleLive(-1)
	if got := testutil.ToFloat64(r.handles); got != 1 {
		t.Fatalf("live handles = %v", got)
	}
	r.HandleDeleted(nil)
	if got := testutil.ToFloat64(r.gcDeletes.WithLabelValues("success")); got != 1 {
		t.Fatalf("gc deletes = %v", got)
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first New: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}
