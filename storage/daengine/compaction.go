package daengine

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// compactionSet tracks the seqs of CTs a total merge has snapshotted
// and hidden from normal pairwise merges (SPEC_FULL §4.8), backed by
// golang-set. runOnce fills it with the snapshotted seqs and empties it
// when the total merge finishes or fails; the hiding itself is done by
// each CT's Compacting flag.
type compactionSet struct {
	set mapset.Set[uint64]
}

func newCompactionSet() *compactionSet {
	return &compactionSet{set: mapset.NewSet[uint64]()}
}

func (c *compactionSet) mark(seqs ...uint64)   { c.set.Append(seqs...) }
func (c *compactionSet) clear()                { c.set.Clear() }
func (c *compactionSet) contains(seq uint64) bool { return c.set.Contains(seq) }

// TotalMergeFunc builds the BIG_MERGE output from a snapshot of every
// CT at level >= 1 (SPEC_FULL §4.8). Supplied by the merge package.
type TotalMergeFunc func(da *DA, inputs []*CT) (*CT, error)

// totalMerger runs the total-merge thread per DA, which polls its start
// condition on a ticker (SPEC_FULL §5: "one total-merge thread").
type totalMerger struct {
	da      *DA
	fn      TotalMergeFunc
	set     *compactionSet
	anyUnit func() bool // reports whether any level has an active merge unit in flight

	cond   *sync.Cond
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTotalMerger(da *DA, fn TotalMergeFunc, anyUnit func() bool) *totalMerger {
	tm := &totalMerger{da: da, fn: fn, set: newCompactionSet(), anyUnit: anyUnit}
	tm.cond = sync.NewCond(&tm.mu)
	return tm
}

func (tm *totalMerger) start() {
	ctx, cancel := context.WithCancel(context.Background())
	tm.cancel = cancel
	tm.wg.Add(1)
	go tm.loop(ctx)
}

func (tm *totalMerger) stop() {
	if tm.cancel != nil {
		tm.cancel()
	}
	tm.wg.Wait()
}

// loop polls the compaction condition (SPEC_FULL §4.8: "not frozen ∧
// compacting ∧ no active merge-unit anywhere") at a fixed interval
// rather than a true condvar, since nothing in this package currently
// broadcasts on tm.cond; a future scheduler integration can replace
// this with Wait/Broadcast.
func (tm *totalMerger) loop(ctx context.Context) {
	defer tm.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if tm.da.IsDeleted() {
				return
			}
			if tm.ready() {
				tm.runOnce()
			}
		}
	}
}

func (tm *totalMerger) ready() bool {
	if tm.da.IsFrozen() || !tm.da.IsMarkedCompacting() {
		return false
	}
	if tm.anyUnit != nil && tm.anyUnit() {
		return false
	}
	return true
}

// runOnce snapshots all CTs >= level 1, marks them compacting, clears
// the DA's compacting flag, and invokes the total-merge pipeline with
// level=0 (BIG_MERGE, non-deamortized). On failure it clears each input
// CT's compacting flag, empties the compaction set, and marks the DA
// compacting again so a later poll retries (SPEC_FULL §7 "Retries").
func (tm *totalMerger) runOnce() {
	inputs := tm.da.AllTreesFromLevel1()
	if len(inputs) == 0 {
		tm.da.ClearCompactingFlag()
		return
	}

	var seqs []uint64
	for _, ct := range inputs {
		ct.MarkCompacting()
		seqs = append(seqs, ct.Seq)
	}
	tm.set.mark(seqs...)
	tm.da.ClearCompactingFlag()

	if tm.fn == nil {
		return
	}
	out, err := tm.fn(tm.da, inputs)
	if err != nil {
		for _, ct := range inputs {
			ct.ClearCompacting()
		}
		tm.set.clear()
		tm.da.MarkCompacting()
		return
	}
	tm.set.clear()
	if out != nil {
		tm.da.mergeRestart()
	}
}
