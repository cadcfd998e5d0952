// Package daengine implements the Doubling Array itself (SPEC_FULL §3):
// the DA struct, its component trees (CTs), the leveled scheduler and
// token protocol (§4.6), per-CPU insert admission (§4.7), merge-restart
// and compaction (§4.8), and the freeze/unfreeze control surface (§6,
// §7).
//
// Grounded on the teacher's core/state/snapshot package (its diff-layer
// stack, now deleted from the tree, modeled leveled/layered storage
// with background compaction) and on original_source/kernel/castle_da.c,
// the system this spec distills.
package daengine

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/vlbadb/vlbadb/storage"
	"github.com/vlbadb/vlbadb/storage/bloom"
	"github.com/vlbadb/vlbadb/storage/btree"
	"github.com/vlbadb/vlbadb/storage/extent"
	"github.com/vlbadb/vlbadb/storage/iter"
	"github.com/vlbadb/vlbadb/storage/version"
)

// MaxBTreeDepth bounds a CT's tree_depth (SPEC_FULL §4.4 step 7: a
// merge that would recurse past this depth fails).
const MaxBTreeDepth = 16

// ExtentRef describes one of a CT's extents: its allocator-assigned id
// and the policy tier it was placed on.
type ExtentRef struct {
	ID     extent.ID
	Policy extent.Policy
}

// CT is one component tree: either a dynamic (level 0/1) mutable tree
// or an immutable merge output (SPEC_FULL §3).
type CT struct {
	Seq   uint64
	DAID  uint32
	Level int

	// Dynamic is true for level-0/1 RW trees, false for immutable merge
	// outputs.
	Dynamic   bool
	VTable    btree.VTable
	TreeDepth int

	RootNode  btree.Cursor
	FirstNode btree.Cursor
	FirstSize uint32
	LastNode  btree.Cursor
	LastSize  uint32

	ItemCount      uint64
	NodeCount      uint64
	LargeExtChkCnt uint64
	NodeSizes      [MaxBTreeDepth]uint32

	InternalExt ExtentRef
	TreeExt     ExtentRef
	DataExt     ExtentRef
	LargeObjects []extent.ID

	Bloom *bloom.Filter

	mu            sync.Mutex
	refCount      int32
	writeRefCount int32

	// Compacting marks a CT hidden from normal pairwise merges because a
	// total merge has snapshotted it (SPEC_FULL §4.8).
	Compacting bool

	// dynNodes is the in-memory node chain for a Dynamic CT (level 0/1);
	// immutable CTs address their nodes through extents instead and
	// leave this nil.
	dynNodes []*btree.Node
}

// NewDynamicCT allocates an empty mutable CT at the given level (0 or
// 1), the unit of work level-0 inserts and level-1 promotion operate
// on.
func NewDynamicCT(seq uint64, daID uint32, level int) *CT {
	return &CT{
		Seq:      seq,
		DAID:     daID,
		Level:    level,
		Dynamic:  true,
		VTable:   btree.NewRWVLBATree(),
		refCount: 1,
	}
}

// Get acquires a reader reference (SPEC_FULL §5: "ref_count (all
// holders)").
func (c *CT) Get() {
	atomic.AddInt32(&c.refCount, 1)
}

// Put releases a reader reference, reporting whether it was the last
// one (the caller must then release the CT's extents back to the
// allocator).
func (c *CT) Put() (freed bool) {
	return atomic.AddInt32(&c.refCount, -1) == 0
}

// GetWrite acquires a writer reference; merges spin-wait on this
// reaching zero before constructing an iterator over the CT (SPEC_FULL
// §4.4 step 1).
func (c *CT) GetWrite() { atomic.AddInt32(&c.writeRefCount, 1) }

// PutWrite releases a writer reference.
func (c *CT) PutWrite() { atomic.AddInt32(&c.writeRefCount, -1) }

// WriteRefCount reports the live writer-reference count.
func (c *CT) WriteRefCount() int32 { return atomic.LoadInt32(&c.writeRefCount) }

// RefCount reports the live reader-reference count.
func (c *CT) RefCount() int32 { return atomic.LoadInt32(&c.refCount) }

// MarkCompacting flags the CT as hidden from normal merges, returning
// whether it changed state.
func (c *CT) MarkCompacting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Compacting {
		return false
	}
	c.Compacting = true
	return true
}

// ClearCompacting reverses MarkCompacting, used when a total merge
// fails and must restore the input CTs (SPEC_FULL §7 "Retries").
func (c *CT) ClearCompacting() {
	c.mu.Lock()
	c.Compacting = false
	c.mu.Unlock()
}

// IsCompacting reports the current compaction-hidden state.
func (c *CT) IsCompacting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Compacting
}

// Used returns the tree and data extent byte usage used to size a
// merge's output extents (SPEC_FULL §4.4 step 2); in this
// implementation it derives from NodeCount/ItemCount proxies since the
// extent layer only tracks chunk capacity, not a live "used" counter
// per extent without an open handle.
func (c *CT) Used() (treeUsed, dataUsed uint64) {
	const avgNodeBytes = 8192
	const avgEntryBytes = 64
	treeUsed = c.NodeCount * avgNodeBytes
	dataUsed = c.ItemCount * avgEntryBytes
	return
}

// dynSentinel tags a btree.Cursor as addressing an index into a
// Dynamic CT's in-memory dynNodes slice rather than a real extent
// offset, letting the existing extent-backed iterator machinery
// (LeafIterator/ModlistSortIterator) walk a dynamic tree unmodified.
const dynSentinel = ^uint64(0)

func dynCursor(i int) btree.Cursor {
	return btree.Cursor{ExtentID: dynSentinel, Offset: uint64(i)}
}

// dynLoader implements iter.NodeLoader over a fixed snapshot of a
// Dynamic CT's node chain, synthesizing each node's NextNode cursor on
// the fly since dynNodes itself is an unlinked, append-only slice.
type dynLoader struct {
	nodes []*btree.Node
}

func (l *dynLoader) Load(cur btree.Cursor, _ uint32) (*btree.Node, error) {
	idx := int(cur.Offset)
	if idx < 0 || idx >= len(l.nodes) {
		return nil, errors.Newf("daengine: dynamic node index %d out of range (%d nodes)", idx, len(l.nodes))
	}
	n := l.nodes[idx]
	next := btree.Cursor{}
	if idx+1 < len(l.nodes) {
		next = dynCursor(idx + 1)
	}
	return &btree.Node{Depth: n.Depth, Entries: n.Entries, Disabled: n.Disabled, NextNode: next, NextSize: uint32(idx + 1)}, nil
}

// Insert appends e to this CT's current tail node, starting a new
// sibling when the vtable reports the tail full (SPEC_FULL §4.7: the
// per-CPU write admission path's terminal step). Only valid on a
// Dynamic CT.
func (c *CT) Insert(e storage.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.Dynamic {
		return errors.New("daengine: Insert on an immutable CT")
	}

	if len(c.dynNodes) == 0 || c.VTable.NeedSplit(c.dynNodes[len(c.dynNodes)-1]) {
		c.dynNodes = append(c.dynNodes, c.VTable.NodeCreate(0))
	}
	tail := c.dynNodes[len(c.dynNodes)-1]
	c.VTable.EntryAdd(tail, e)

	c.ItemCount++
	c.NodeCount = uint64(len(c.dynNodes))
	c.FirstNode = dynCursor(0)
	c.LastNode = dynCursor(len(c.dynNodes) - 1)
	return nil
}

// Lookup performs a point lookup directly against this CT, the unit
// DA.Get fans a bloom-gated key out across (SPEC_FULL §4.9). store is
// unused for Dynamic CTs, which hold their nodes in memory.
func (c *CT) Lookup(store *btree.Store, key storage.Key) (storage.Entry, bool, error) {
	if c.Dynamic {
		c.mu.Lock()
		nodes := append([]*btree.Node(nil), c.dynNodes...)
		c.mu.Unlock()
		for i := len(nodes) - 1; i >= 0; i-- {
			if e, ok := c.VTable.EntryGet(nodes[i], key); ok {
				return e, true, nil
			}
		}
		return storage.Entry{}, false, nil
	}

	cur, size := c.RootNode, c.NodeSizes[c.TreeDepth]
	for depth := c.TreeDepth; depth >= 0; depth-- {
		if cur.IsZero() {
			return storage.Entry{}, false, nil
		}
		n, err := store.Load(cur, size)
		if err != nil {
			return storage.Entry{}, false, err
		}
		if depth == 0 {
			return c.VTable.EntryGet(n, key)
		}
		child, ok := findChild(n, key, c.VTable.KeyCompare)
		if !ok {
			return storage.Entry{}, false, nil
		}
		cur, size = child.Value.NodeCursor, child.Value.NodeSize
	}
	return storage.Entry{}, false, nil
}

// findChild scans a sorted internal node for the first entry whose key
// is >= the target, the maxified rightmost entry (MAX_KEY) guaranteeing
// one is always found when the node is reached at all.
func findChild(n *btree.Node, key storage.Key, compare func(a, b storage.Key) int) (storage.Entry, bool) {
	for _, e := range n.Entries {
		if compare(key, e.Key) <= 0 {
			return e, true
		}
	}
	return storage.Entry{}, false
}

// Iterator linearizes this CT's entries: a Dynamic CT's unsorted
// leaves go through the modlist sort (SPEC_FULL §4.2), an immutable
// CT's sorted leaf chain is walked directly (§4.1).
func (c *CT) Iterator(store *btree.Store, vsvc *version.Service) iter.Iterator {
	compare := c.VTable.KeyCompare
	if c.Dynamic {
		c.mu.Lock()
		nodes := append([]*btree.Node(nil), c.dynNodes...)
		c.mu.Unlock()
		loader := &dynLoader{nodes: nodes}
		if len(nodes) == 0 {
			return iter.NewModlistSortIterator(loader, btree.Cursor{}, 0, vsvc, compare)
		}
		return iter.NewModlistSortIterator(loader, dynCursor(0), uint32(len(nodes)), vsvc, compare)
	}
	return iter.NewLeafIterator(store, c.FirstNode, c.FirstSize, nil)
}
