package btree

import "github.com/vlbadb/vlbadb/storage"

// ROVLBATree is RO_VLBA_TREE_TYPE: the immutable tree type produced by
// merges. Nodes are packed by byte size, not entry count, and entries
// are only ever appended during construction (SPEC_FULL §4.4) — once
// complete, a node is never mutated again.
type ROVLBATree struct {
	// LeafTargetBytes/InternalTargetBytes are the per-depth NodeSize
	// targets; depth 0 uses LeafTargetBytes, depth>0 uses
	// InternalTargetBytes.
	LeafTargetBytes     int
	InternalTargetBytes int
}

// NewROVLBATree returns an immutable vtable with default byte targets
// (SPEC_FULL §4.4 step 2 derives internal size from the leaf/internal
// node-size ratio; callers needing a different ratio construct this
// directly).
func NewROVLBATree() *ROVLBATree {
	return &ROVLBATree{LeafTargetBytes: 8192, InternalTargetBytes: 4096}
}

func (t *ROVLBATree) Magic() Magic { return MagicROVLBA }

func (t *ROVLBATree) NodeSize(depth int) int {
	if depth == 0 {
		return t.LeafTargetBytes
	}
	return t.InternalTargetBytes
}

func (t *ROVLBATree) NeedSplit(n *Node) bool {
	return n.EncodedSize() >= t.NodeSize(n.Depth)
}

func (t *ROVLBATree) EntryAdd(n *Node, e storage.Entry) { n.Append(e) }

func (t *ROVLBATree) EntryGet(n *Node, k storage.Key) (storage.Entry, bool) {
	// Immutable leaves are sorted (key ascending, version newest-first):
	// binary search would apply in a byte-backed implementation; this
	// in-memory node keeps it a linear scan for clarity.
	for i, e := range n.Entries {
		if n.Disabled[i] {
			continue
		}
		if t.KeyCompare(e.Key, k) == 0 {
			return e, true
		}
	}
	return storage.Entry{}, false
}

func (t *ROVLBATree) EntryReplace(n *Node, i int, e storage.Entry) {
	n.Entries[i] = e
}

func (t *ROVLBATree) EntryDrop(n *Node, i int) {
	n.Disabled[i] = true
}

func (t *ROVLBATree) EntriesDrop(n *Node) {
	n.Entries = nil
	n.Disabled = nil
}

func (t *ROVLBATree) KeyCompare(a, b storage.Key) int { return storage.DefaultCompare(a, b) }

func (t *ROVLBATree) MaxKey() storage.Key { return storage.MaxKeySentinel }

func (t *ROVLBATree) NodeCreate(depth int) *Node { return &Node{Depth: depth} }
