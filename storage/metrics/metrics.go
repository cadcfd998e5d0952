// Package metrics exposes DA-level gauges and counters via
// prometheus/client_golang: per-level backlog and tree counts, tokens
// outstanding, ios_budget, and the frozen/compacting bits (SPEC_FULL §5,
// §7).
//
// The root-level log/metrics packages (kept from the teacher) cover
// general process observability in the teacher's own idiom; this
// package is specific to the DA's internal scheduler state and uses a
// different library because Prometheus's pull model and label
// cardinality fit a per-DA/per-level gauge matrix better than a
// push-style reporter would.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// DAMetrics is the set of Prometheus collectors for one DA instance,
// labeled by da_id and (where applicable) level.
type DAMetrics struct {
	Backlog        *prometheus.GaugeVec
	TreesPerLevel  *prometheus.GaugeVec
	TokensOutstanding prometheus.Gauge
	IOSBudget      prometheus.Gauge
	Frozen         prometheus.Gauge
	Compacting     prometheus.Gauge
	MergesStarted  *prometheus.CounterVec
	MergesFailed   *prometheus.CounterVec
}

// NewDAMetrics constructs and registers a DAMetrics set for daID
// against reg. Callers typically pass prometheus.DefaultRegisterer or a
// per-test registry.
func NewDAMetrics(reg prometheus.Registerer, daID uint32) *DAMetrics {
	labels := prometheus.Labels{"da_id": strconv.FormatUint(uint64(daID), 10)}

	m := &DAMetrics{
		Backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "vlbadb",
			Subsystem:   "da",
			Name:        "backlog",
			Help:        "merge backlog per level",
			ConstLabels: labels,
		}, []string{"level"}),
		TreesPerLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "vlbadb",
			Subsystem:   "da",
			Name:        "trees",
			Help:        "component tree count per level",
			ConstLabels: labels,
		}, []string{"level"}),
		TokensOutstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "vlbadb",
			Subsystem:   "da",
			Name:        "tokens_outstanding",
			Help:        "deamortization tokens currently minted",
			ConstLabels: labels,
		}),
		IOSBudget: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "vlbadb",
			Subsystem:   "da",
			Name:        "ios_budget",
			Help:        "remaining foreground insert budget this replenish tick",
			ConstLabels: labels,
		}),
		Frozen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "vlbadb",
			Subsystem:   "da",
			Name:        "frozen",
			Help:        "1 if FROZEN_BIT is set",
			ConstLabels: labels,
		}),
		Compacting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "vlbadb",
			Subsystem:   "da",
			Name:        "compacting",
			Help:        "1 if the DA is marked for compaction",
			ConstLabels: labels,
		}),
		MergesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "vlbadb",
			Subsystem:   "da",
			Name:        "merges_started_total",
			Help:        "merge units started per level",
			ConstLabels: labels,
		}, []string{"level"}),
		MergesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "vlbadb",
			Subsystem:   "da",
			Name:        "merges_failed_total",
			Help:        "merge units that returned an error per level",
			ConstLabels: labels,
		}, []string{"level"}),
	}

	reg.MustRegister(m.Backlog, m.TreesPerLevel, m.TokensOutstanding, m.IOSBudget, m.Frozen, m.Compacting, m.MergesStarted, m.MergesFailed)
	return m
}

