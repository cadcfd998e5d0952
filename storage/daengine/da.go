package daengine

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/vlbadb/vlbadb/storage"
	"github.com/vlbadb/vlbadb/storage/version"
)

// MaxDALevel bounds the number of merge levels, and sizes the token
// pool (SPEC_FULL §4.6: "Fixed-size pool of MAX_DA_LEVEL tokens per
// DA").
const MaxDALevel = 12

var (
	// ErrBusy is returned by Destroy when attachments remain.
	ErrBusy = errors.New("daengine: busy, attachments remain")
	// ErrContention is EAGAIN-equivalent: the caller should retry.
	ErrContention = errors.New("daengine: contention, retry")
	// ErrShuttingDown is returned to callers once a DA's exit flag is set.
	ErrShuttingDown = errors.New("daengine: shutting down")
	// ErrNotFound is returned for operations on an unknown DA id.
	ErrNotFound = errors.New("daengine: not found")
)

// DA is one Doubling Array: a leveled set of component trees plus the
// scheduler/admission state that drives background merging (SPEC_FULL
// §3, §5).
type DA struct {
	ID          uint32
	RootVersion storage.Version

	// Versions is the version DAG this DA's entries are versioned
	// against (SPEC_FULL §4.4 step 4, §4.9): the merge adapter's
	// snapshot-delete filter and both the point-lookup and range-query
	// read paths consult it.
	Versions *version.Service

	mu     sync.RWMutex // guards levels
	levels [][]*CT       // levels[0] and levels[1] are dynamic; levels[>=2] immutable

	nrDelVersions int32 // versions pending deletion, drives compaction marking

	frozenBits   uint32 // two-bit protocol: bit0=FROZEN, bit1=UNFROZEN (SPEC_FULL §7)
	growingBit   int32  // test-and-set lock guarding level-0 CT creation
	compactingBit int32
	exiting      int32
	deleted      int32

	attachments int32

	tokens      *tokenPool
	scheduler   *scheduler
	queues      *cpuQueues
	totalMerger *totalMerger

	Tunables Tunables

	nextCTSeq uint64
}

// NewDA constructs a DA rooted at rootVersion with an initial empty
// level-0 CT, and starts its per-level merge threads and admission
// loop. cpuCount sizes the per-CPU wait queues (SPEC_FULL §4.7).
func NewDA(id uint32, rootVersion storage.Version, cpuCount int, tunables Tunables) *DA {
	da := &DA{
		ID:          id,
		RootVersion: rootVersion,
		Versions:    version.New(rootVersion),
		levels:      make([][]*CT, 2, MaxDALevel),
		tokens:      newTokenPool(MaxDALevel),
		Tunables:    tunables,
		nextCTSeq:   1,
	}
	da.levels[0] = []*CT{NewDynamicCT(da.allocSeq(), id, 0)}
	da.levels[1] = nil
	da.queues = newCPUQueues(cpuCount, da)
	da.scheduler = newScheduler(da)
	da.totalMerger = newTotalMerger(da, nil, da.scheduler.anyUnitActive)

	da.scheduler.start()
	da.queues.start()
	da.totalMerger.start()
	return da
}

// SetMergeFuncs wires the merge pipeline's per-level and total-merge
// entry points into the scheduler and total-merge thread. Called once
// by whichever package assembles a DA together with storage/merge,
// kept separate here to avoid an import cycle (merge depends on
// daengine's CT/DA types, not the reverse).
func (da *DA) SetMergeFuncs(levelMerge MergeFunc, total TotalMergeFunc) {
	da.scheduler.SetMergeFunc(levelMerge)
	da.totalMerger.fn = total
}



func (da *DA) allocSeq() uint64 { return atomic.AddUint64(&da.nextCTSeq, 1) - 1 }

// Attach increments the attachment count a control-plane Destroy call
// must see drop to zero.
func (da *DA) Attach() { atomic.AddInt32(&da.attachments, 1) }

// Detach decrements the attachment count.
func (da *DA) Detach() { atomic.AddInt32(&da.attachments, -1) }

// Destroy fails with ErrBusy if attachments remain, otherwise sets the
// exit flag and stops the scheduler, admission loop, and total-merge
// thread concurrently (SPEC_FULL §6, §9): an errgroup.Group supervises
// the three shutdowns so Destroy blocks only as long as the slowest of
// them, rather than the sum.
func (da *DA) Destroy() error {
	if atomic.LoadInt32(&da.attachments) != 0 {
		return ErrBusy
	}
	atomic.StoreInt32(&da.exiting, 1)
	atomic.StoreInt32(&da.deleted, 1)

	var g errgroup.Group
	g.Go(func() error { da.scheduler.stop(); return nil })
	g.Go(func() error { da.queues.stop(); return nil })
	g.Go(func() error { da.totalMerger.stop(); return nil })
	return g.Wait()
}

// IsExiting reports the DA exit flag (SPEC_FULL §5: merge threads exit
// their loop once set).
func (da *DA) IsExiting() bool { return atomic.LoadInt32(&da.exiting) != 0 }

// IsDeleted reports the DA deleted bit, which also stops the
// total-merge thread.
func (da *DA) IsDeleted() bool { return atomic.LoadInt32(&da.deleted) != 0 }

// SizeGet returns the number of CTs per level, the control surface's
// size_get operation.
func (da *DA) SizeGet() []int {
	da.mu.RLock()
	defer da.mu.RUnlock()
	out := make([]int, len(da.levels))
	for i, l := range da.levels {
		out[i] = len(l)
	}
	return out
}

// NrTrees returns the tree count at a level, 0 if the level doesn't
// exist yet.
func (da *DA) NrTrees(level int) int {
	da.mu.RLock()
	defer da.mu.RUnlock()
	if level >= len(da.levels) {
		return 0
	}
	return len(da.levels[level])
}

// TreesAt returns a snapshot slice of the CTs at level (SPEC_FULL §5:
// "reads always see either the pre-merge or post-merge CT set
// atomically").
func (da *DA) TreesAt(level int) []*CT {
	da.mu.RLock()
	defer da.mu.RUnlock()
	if level >= len(da.levels) {
		return nil
	}
	out := make([]*CT, len(da.levels[level]))
	copy(out, da.levels[level])
	return out
}

// AllTreesFromLevel1 snapshots every CT at level >= 1, used by total
// merge (SPEC_FULL §4.8).
func (da *DA) AllTreesFromLevel1() []*CT {
	da.mu.RLock()
	defer da.mu.RUnlock()
	var out []*CT
	for l := 1; l < len(da.levels); l++ {
		out = append(out, da.levels[l]...)
	}
	return out
}

// ReplaceAt atomically swaps level's CT list under the DA lock
// (SPEC_FULL §5: "the serialization point for list membership and
// counts").
func (da *DA) ReplaceAt(level int, cts []*CT) {
	da.mu.Lock()
	defer da.mu.Unlock()
	for level >= len(da.levels) {
		da.levels = append(da.levels, nil)
	}
	da.levels[level] = cts
}

// AppendAt appends a newly built CT to level under the DA lock.
func (da *DA) AppendAt(level int, ct *CT) {
	da.mu.Lock()
	defer da.mu.Unlock()
	for level >= len(da.levels) {
		da.levels = append(da.levels, nil)
	}
	da.levels[level] = append(da.levels[level], ct)
}

// CommitMerge publishes a completed pairwise level-merge (SPEC_FULL
// §4.4 step 10, invariant 6): the output CT replaces the consumed
// inputLevel CTs atomically, and is appended to outLevel (which may
// equal inputLevel+1, already occupied or not). The caller is
// responsible for having snapshotted exactly the CTs it drained into
// out before calling this.
func (da *DA) CommitMerge(inputLevel int, consumed []*CT, outLevel int, out *CT) {
	da.mu.Lock()
	defer da.mu.Unlock()

	for inputLevel >= len(da.levels) {
		da.levels = append(da.levels, nil)
	}
	da.levels[inputLevel] = removeCTs(da.levels[inputLevel], consumed)

	for outLevel >= len(da.levels) {
		da.levels = append(da.levels, nil)
	}
	da.levels[outLevel] = append(da.levels[outLevel], out)
}

// CommitTotalMerge publishes a BIG_MERGE output: every CT the total
// merge snapshotted (level >= 1) is dropped, and the single output CT
// becomes the new content of outLevel (SPEC_FULL §4.8).
func (da *DA) CommitTotalMerge(consumed []*CT, outLevel int, out *CT) {
	da.mu.Lock()
	defer da.mu.Unlock()

	for l := 1; l < len(da.levels); l++ {
		da.levels[l] = removeCTs(da.levels[l], consumed)
	}
	for outLevel >= len(da.levels) {
		da.levels = append(da.levels, nil)
	}
	da.levels[outLevel] = append(da.levels[outLevel], out)
}

// removeCTs returns cts with every member of consumed filtered out, by
// Seq identity.
func removeCTs(cts []*CT, consumed []*CT) []*CT {
	if len(consumed) == 0 {
		return cts
	}
	drop := make(map[uint64]bool, len(consumed))
	for _, c := range consumed {
		drop[c.Seq] = true
	}
	out := cts[:0:0]
	for _, c := range cts {
		if !drop[c.Seq] {
			out = append(out, c)
		}
	}
	return out
}

// TryGrowingBit is the test-and-set lock guarding level-0 CT creation
// (SPEC_FULL §5: "losers spin-sleep until the bit clears and retry").
func (da *DA) TryGrowingBit() bool {
	return atomic.CompareAndSwapInt32(&da.growingBit, 0, 1)
}

// ClearGrowingBit releases the growing-bit lock.
func (da *DA) ClearGrowingBit() { atomic.StoreInt32(&da.growingBit, 0) }

// NrDelVersions returns the count of versions pending deletion, which
// drives compaction marking (SPEC_FULL §4.8).
func (da *DA) NrDelVersions() int32 { return atomic.LoadInt32(&da.nrDelVersions) }

// AddDelVersion records one more version pending deletion.
func (da *DA) AddDelVersion() { atomic.AddInt32(&da.nrDelVersions, 1) }

// ClearDelVersions resets the pending-deletion counter, called once a
// total merge consumes them.
func (da *DA) ClearDelVersions() { atomic.StoreInt32(&da.nrDelVersions, 0) }

// SetIOSRate overrides the admission loop's ios_rate (SPEC_FULL §4.7),
// the control surface's "nice" operation.
func (da *DA) SetIOSRate(rate int64) { da.queues.SetIOSRate(rate) }
