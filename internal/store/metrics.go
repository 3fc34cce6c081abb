// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Payzy Contributors

package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for session metrics.
const (
	OutcomeCommitted      = "committed"
	OutcomeRolledBack     = "rolled_back"
	OutcomeCommitFailed   = "commit_failed"
	OutcomeRollbackFailed = "rollback_failed"
	OutcomeBeginFailed    = "begin_failed"
)

// SessionsTotal counts finished scoped sessions by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var SessionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payzy_db_sessions_total",
		Help: "Total number of scoped database sessions by outcome",
	},
	[]string{"outcome"},
)

// AcquireDuration observes how long callers waited for a connection.
var AcquireDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "payzy_db_acquire_duration_seconds",
		Help:    "Time spent waiting for a pooled connection in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

// PoolExhaustedTotal counts acquisitions that hit the acquire timeout.
var PoolExhaustedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "payzy_db_pool_exhausted_total",
		Help: "Total number of connection acquisitions that timed out",
	},
)

// ConnectionsInvalidatedTotal counts pooled connections that failed the
// pre-use liveness check.
var ConnectionsInvalidatedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "payzy_db_connections_invalidated_total",
		Help: "Total number of pooled connections discarded by the liveness check",
	},
)

// RegisterMetrics registers store package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(SessionsTotal)
	reg.MustRegister(AcquireDuration)
	reg.MustRegister(PoolExhaustedTotal)
	reg.MustRegister(ConnectionsInvalidatedTotal)
}

// RecordSession increments the session counter for outcome.
func RecordSession(outcome string) {
	SessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordAcquireWait observes a connection wait.
func RecordAcquireWait(d time.Duration) {
	AcquireDuration.Observe(d.Seconds())
}

// RecordPoolExhausted increments the pool exhaustion counter.
func RecordPoolExhausted() {
	PoolExhaustedTotal.Inc()
}

// RecordConnectionInvalidated increments the invalidated connection counter.
func RecordConnectionInvalidated() {
	ConnectionsInvalidatedTotal.Inc()
}

var (
	poolAcquiredDesc = prometheus.NewDesc("payzy_db_pool_acquired_connections",
		"Connections currently checked out of the pool", nil, nil)
	poolIdleDesc = prometheus.NewDesc("payzy_db_pool_idle_connections",
		"Idle connections in the pool", nil, nil)
	poolTotalDesc = prometheus.NewDesc("payzy_db_pool_total_connections",
		"Open connections in the pool", nil, nil)
	poolMaxDesc = prometheus.NewDesc("payzy_db_pool_max_connections",
		"Maximum connections including overflow", nil, nil)
	poolAcquireCountDesc = prometheus.NewDesc("payzy_db_pool_acquires_total",
		"Total successful acquisitions from the pool", nil, nil)
	poolEmptyAcquireDesc = prometheus.NewDesc("payzy_db_pool_empty_acquires_total",
		"Total acquisitions that had to wait for a connection", nil, nil)
	poolCanceledAcquireDesc = prometheus.NewDesc("payzy_db_pool_canceled_acquires_total",
		"Total acquisitions cancelled before a connection was available", nil, nil)
)

// StatsSource reports pool statistics. ok is false while no pool is open.
type StatsSource interface {
	Stats() (stats PoolStats, ok bool)
}

// PoolCollector exports live pool statistics from a Manager. It reports
// nothing while the manager is not initialized.
type PoolCollector struct {
	manager StatsSource
}

// NewPoolCollector creates a collector for m.
func NewPoolCollector(m StatsSource) *PoolCollector {
	return &PoolCollector{manager: m}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolAcquiredDesc
	ch <- poolIdleDesc
	ch <- poolTotalDesc
	ch <- poolMaxDesc
	ch <- poolAcquireCountDesc
	ch <- poolEmptyAcquireDesc
	ch <- poolCanceledAcquireDesc
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s, ok := c.manager.Stats()
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(poolAcquiredDesc, prometheus.GaugeValue, float64(s.AcquiredConns))
	ch <- prometheus.MustNewConstMetric(poolIdleDesc, prometheus.GaugeValue, float64(s.IdleConns))
	ch <- prometheus.MustNewConstMetric(poolTotalDesc, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(poolMaxDesc, prometheus.GaugeValue, float64(s.MaxConns))
	ch <- prometheus.MustNewConstMetric(poolAcquireCountDesc, prometheus.CounterValue, float64(s.AcquireCount))
	ch <- prometheus.MustNewConstMetric(poolEmptyAcquireDesc, prometheus.CounterValue, float64(s.EmptyAcquireCount))
	ch <- prometheus.MustNewConstMetric(poolCanceledAcquireDesc, prometheus.CounterValue, float64(s.CanceledAcquires))
}

var _ prometheus.Collector = (*PoolCollector)(nil)
