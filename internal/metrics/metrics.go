// Package metrics publishes biostore storage metrics through Prometheus
// collectors. A nil *Recorder is valid and records nothing, so components
// can carry an optional recorder without guarding every call.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "biostore"

// Recorder aggregates operation outcomes and resource gauges.
type Recorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	commits    prometheus.Counter
	rollbacks  prometheus.Counter
	openDbis   prometheus.Gauge
	tmpDbis    prometheus.Gauge
	handles    prometheus.Gauge
	gcDeletes  *prometheus.CounterVec
	archived   prometheus.Counter
}

// New constructs a recorder and registers its collectors on reg. A nil reg
// leaves the collectors unregistered, which is convenient for tests.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dbi_operations_total",
			Help:      "Dbi operations by name and result.",
		}, []string{"operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dbi_operation_duration_seconds",
			Help:      "Time spent inside Dbi operations, lock wait included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"operation"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dbi_commits_total",
			Help:      "Physical transactions committed.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dbi_rollbacks_total",
			Help:      "Physical transactions rolled back.",
		}),
		openDbis: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dbi_open",
			Help:      "Initialized Dbi instances.",
		}),
		tmpDbis: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tmp_dbi_tracked",
			Help:      "Temporary databases tracked by registries.",
		}),
		handles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handles_live",
			Help:      "Data handles with at least one reference.",
		}),
		gcDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handle_gc_deletes_total",
			Help:      "Entities removed when their last owning handle was released.",
		}, []string{"status"}),
		archived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_bytes_total",
			Help:      "Bytes of database files uploaded to the archive store.",
		}),
	}
	if reg == nil {
		return r, nil
	}
	for _, c := range r.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.operations, r.durations, r.commits, r.rollbacks,
		r.openDbis, r.tmpDbis, r.handles, r.gcDeletes, r.archived,
	}
}

// Observe records one Dbi operation outcome.
func (r *Recorder) Observe(_ context.Context, operation string, err error, d time.Duration) {
	if r == nil || operation == "" {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.durations.WithLabelValues(operation).Observe(d.Seconds())
}

// Commit counts a physical commit.
func (r *Recorder) Commit() {
	if r != nil {
		r.commits.Inc()
	}
}

// Rollback counts a physical rollback.
func (r *Recorder) Rollback() {
	if r != nil {
		r.rollbacks.Inc()
	}
}

// DbiOpened adjusts the open Dbi gauge by delta.
func (r *Recorder) DbiOpened(delta int) {
	if r != nil {
		r.openDbis.Add(float64(delta))
	}
}

// TmpTracked adjusts the tracked temporary database gauge by delta.
func (r *Recorder) TmpTracked(delta int) {
	if r != nil {
		r.tmpDbis.Add(float64(delta))
	}
}

// HandleLive adjusts the live handle gauge by delta.
func (r *Recorder) HandleLive(delta int) {
	if r != nil {
		r.handles.Add(float64(delta))
	}
}

// HandleDeleted counts an entity removal triggered by a handle release.
func (r *Recorder) HandleDeleted(err error) {
	if r == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	r.gcDeletes.WithLabelValues(status).Inc()
}

// Archived counts bytes uploaded to the archive store.
func (r *Recorder) Archived(n int64) {
	if r != nil && n > 0 {
		r.archived.Add(float64(n))
	}
}
