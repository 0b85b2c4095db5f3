// Package metrics provides Prometheus metrics for the revision service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the revision service collectors, labelled by owner type.
type Metrics struct {
	RevisionsCreated *prometheus.CounterVec
	RevisionsEvicted *prometheus.CounterVec
	RevisionsDeleted *prometheus.CounterVec

	// Rollbacks is labelled with status "ok" or "error".
	Rollbacks        *prometheus.CounterVec
	RollbackDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		RevisionsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revisions_created_total",
				Help: "Total number of stored revisions",
			},
			[]string{"owner_type"},
		),
		RevisionsEvicted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revisions_evicted_total",
				Help: "Total number of revisions removed by the retention limit",
			},
			[]string{"owner_type"},
		),
		RevisionsDeleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revisions_deleted_total",
				Help: "Total number of revisions deleted or pruned on request",
			},
			[]string{"owner_type"},
		),
		Rollbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revisions_rollbacks_total",
				Help: "Total number of rollbacks",
			},
			[]string{"owner_type", "status"},
		),
		RollbackDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "revisions_rollback_duration_seconds",
				Help:    "Duration of rollbacks in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"owner_type"},
		),
	}
}

// RecordCreated counts one stored revision and the entries it evicted.
func (m *Metrics) RecordCreated(ownerType string, evicted int64) {
	m.RevisionsCreated.WithLabelValues(ownerType).Inc()
	if evicted > 0 {
		m.RevisionsEvicted.WithLabelValues(ownerType).Add(float64(evicted))
	}
}

// RecordDeleted counts explicitly removed revisions.
func (m *Metrics) RecordDeleted(ownerType string, n int64) {
	if n > 0 {
		m.RevisionsDeleted.WithLabelValues(ownerType).Add(float64(n))
	}
}

// RecordRollback counts a rollback and observes how long it took.
func (m *Metrics) RecordRollback(ownerType string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Rollbacks.WithLabelValues(ownerType, status).Inc()
	m.RollbackDuration.WithLabelValues(ownerType).Observe(seconds)
}
