package daengine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// MergeFunc runs one merge unit at level against the DA's current CTs,
// returning the newly built output CT (if the unit completed a whole
// merge) or nil if more units remain. Supplied by the merge package at
// wiring time to avoid an import cycle between daengine and merge.
type MergeFunc func(da *DA, level int, unitIndex, totalUnits int) (*CT, error)

// scheduler drives a DA's level merges from a single coordinator
// goroutine; the total-merge thread is separate (compaction.go). A
// weight-1 semaphore keeps at most one merge unit in flight across all
// levels, which also keeps the "no higher level has an active merge
// unit in flight" eligibility rule.
type scheduler struct {
	da *DA

	mu          sync.Mutex
	unitsCommitted map[int]uint64
	driverTokens   map[int]*token

	sem *semaphore.Weighted // one merge unit executing at a time across levels, honoring the "no higher level active" rule

	mergeFn MergeFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newScheduler(da *DA) *scheduler {
	return &scheduler{
		da:             da,
		unitsCommitted: make(map[int]uint64),
		driverTokens:   make(map[int]*token),
		sem:            semaphore.NewWeighted(1),
	}
}

// anyUnitActive reports whether a merge unit is currently executing,
// the condition the total-merge thread waits to see clear before it
// may run (SPEC_FULL §4.8).
func (s *scheduler) anyUnitActive() bool {
	if s.sem.TryAcquire(1) {
		s.sem.Release(1)
		return false
	}
	return true
}

// SetMergeFunc wires the merge pipeline entry point in; called once at
// DA construction time by the package assembling daengine with merge.
func (s *scheduler) SetMergeFunc(fn MergeFunc) { s.mergeFn = fn }

// driverLevel is the lowest level with >=2 trees (SPEC_FULL §4.6
// "driver merge selection"), or fixed at level 1 when
// dynamic_driver_merge is false.
func (da *DA) driverLevel() int {
	if !da.Tunables.DynamicDriverMerge {
		return 1
	}
	da.mu.RLock()
	defer da.mu.RUnlock()
	for l := 1; l < len(da.levels); l++ {
		if len(da.levels[l]) >= 2 {
			return l
		}
	}
	return 1
}

// start launches the scheduler's coordinator goroutine, which
// re-evaluates eligibility on every tick as levels grow. For
// a from-scratch implementation without a live kernel scheduler, this
// package runs a single coordinator goroutine that round-robins
// eligible levels rather than one OS thread per level, achieving the
// same ordering guarantee (only one unit in flight at a time, picked
// from the lowest eligible level first) with far less machinery.
func (s *scheduler) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *scheduler) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick attempts one merge unit at the lowest eligible level.
func (s *scheduler) tick() {
	if s.mergeFn == nil {
		return
	}
	driver := s.da.driverLevel()

	da := s.da
	da.mu.RLock()
	topLevel := len(da.levels) - 1
	da.mu.RUnlock()

	for level := 1; level <= topLevel; level++ {
		nrTrees := s.da.NrTrees(level)
		if nrTrees < 2 {
			continue
		}
		if s.da.IsFrozen() || s.da.IsMarkedCompacting() {
			return
		}

		if !s.sem.TryAcquire(1) {
			return
		}

		s.mu.Lock()
		prev := s.unitsCommitted[level-1]
		cur := s.unitsCommitted[level]
		dt := s.driverTokens[level]
		higherActive := false
		for lvl, tok := range s.driverTokens {
			if lvl > level && tok != nil && tok.active {
				higherActive = true
				break
			}
		}
		s.mu.Unlock()

		decision, t := decide(s.da.tokens, level, nrTrees, prev, cur, level == driver, s.da.IsExiting(), &dt, higherActive)

		s.mu.Lock()
		s.driverTokens[level] = dt
		s.mu.Unlock()

		if decision != decisionProceed {
			s.sem.Release(1)
			continue
		}

		totalUnits := 1 << uint(level-1)
		unit := int(cur % uint64(totalUnits))
		out, err := s.mergeFn(s.da, level, unit, totalUnits)
		s.sem.Release(1)

		s.mu.Lock()
		s.unitsCommitted[level]++
		s.mu.Unlock()

		if t != nil {
			s.da.tokens.release(t)
		}
		if err != nil {
			return
		}
		if out != nil {
			// mergeRestart recomputes the insert admission rate off the
			// new level-1 tree count now that this unit has published its
			// output (SPEC_FULL §4.7/§4.8: "called after every merge
			// completion and insertion").
			s.da.mergeRestart()
		}
		return
	}
}
