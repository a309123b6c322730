package permissions

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for permission writes and cache use.
type Metrics struct {
	commits  *prometheus.CounterVec
	applied  prometheus.Counter
	refresh  *prometheus.CounterVec
	snapshot *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// NewMetrics registers the collectors against registerer, or the default
// registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultMetricsOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plantops_permission_commits_total",
		Help: "Batched permission writes partitioned by outcome.",
	}, []string{"outcome"})
	applied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plantops_permission_changes_applied_total",
		Help: "Permission triples accepted by batched writes.",
	})
	refresh := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plantops_permission_cache_refresh_total",
		Help: "Permission cache refresh requests partitioned by outcome.",
	}, []string{"outcome"})
	snapshot := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plantops_permission_snapshot_loads_total",
		Help: "Permission snapshot reads partitioned by source.",
	}, []string{"source"})
	registerer.MustRegister(commits, applied, refresh, snapshot)
	return &Metrics{commits: commits, applied: applied, refresh: refresh, snapshot: snapshot}
}

func (m *Metrics) commit(outcome string, applied int) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcome).Inc()
	if applied > 0 {
		m.applied.Add(float64(applied))
	}
}

func (m *Metrics) cacheRefresh(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.refresh.WithLabelValues(outcome).Inc()
}

func (m *Metrics) snapshotLoad(source string) {
	if m == nil {
		return
	}
	m.snapshot.WithLabelValues(source).Inc()
}
