package daengine

import (
	"strconv"

	dametrics "github.com/vlbadb/vlbadb/storage/metrics"
)

// RefreshMetrics updates m from the DA's current state. Callers invoke
// this periodically (e.g. alongside the ios_budget replenish tick) to
// keep the Prometheus gauges live.
func (da *DA) RefreshMetrics(m *dametrics.DAMetrics) {
	sizes := da.SizeGet()
	for level, n := range sizes {
		l := strconv.Itoa(level)
		m.TreesPerLevel.WithLabelValues(l).Set(float64(n))
	}

	if da.IsFrozen() {
		m.Frozen.Set(1)
	} else {
		m.Frozen.Set(0)
	}
	if da.IsMarkedCompacting() {
		m.Compacting.Set(1)
	} else {
		m.Compacting.Set(0)
	}

	da.queues.mu.Lock()
	budget := da.queues.iosBudget
	da.queues.mu.Unlock()
	m.IOSBudget.Set(float64(budget))

	da.scheduler.mu.Lock()
	var outstanding float64
	for _, t := range da.scheduler.driverTokens {
		if t != nil {
			outstanding++
		}
	}
	da.scheduler.mu.Unlock()
	m.TokensOutstanding.Set(outstanding)

	for level := 1; level < len(sizes); level++ {
		nrTrees := sizes[level]
		if nrTrees < 2 {
			continue
		}
		da.scheduler.mu.Lock()
		prev := da.scheduler.unitsCommitted[level-1]
		cur := da.scheduler.unitsCommitted[level]
		da.scheduler.mu.Unlock()
		m.Backlog.WithLabelValues(strconv.Itoa(level)).Set(float64(backlog(level, nrTrees, prev, cur)))
	}
}
