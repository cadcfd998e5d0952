package daengine

import (
	"github.com/klauspost/cpuid/v2"
	"github.com/shirou/gopsutil/load"
)

// DefaultCPUCount sizes the per-CPU wait queues off the detected
// logical core count (SPEC_FULL §5: "N = number of request CPUs").
func DefaultCPUCount() int {
	n := cpuid.CPU.LogicalCores
	if n < 1 {
		return 1
	}
	return n
}

// loadThrottleThreshold is the 1-minute load-average, per logical CPU,
// above which mergeRestart additionally caps ios_rate even when
// level-1's tree count alone wouldn't trigger the SPEC_FULL §4.7
// overload rule.
const loadThrottleThreshold = 2.0

// systemOverloaded consults the host's load average, falling back to
// "not overloaded" if unavailable (e.g. in a container without /proc
// load averages).
func systemOverloaded() bool {
	avg, err := load.Avg()
	if err != nil {
		return false
	}
	perCPU := avg.Load1 / float64(DefaultCPUCount())
	return perCPU > loadThrottleThreshold
}

// mergeRestart recomputes ios_rate from level-1's tree count
// (SPEC_FULL §4.7: "if level-1 has >= 4*cpu_count trees it is set to 0
// ... otherwise INT_MAX") and the host load throttle above, called
// after a level merge or a total merge publishes its output; inserts
// do not call it.
func (da *DA) mergeRestart() {
	cpuCount := len(da.queues.qs)
	level1Trees := da.NrTrees(1)

	if level1Trees >= 4*cpuCount || systemOverloaded() {
		da.queues.SetIOSRate(0)
		return
	}
	da.queues.SetIOSRate(int64(^uint64(0) >> 1))
}
