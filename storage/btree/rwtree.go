package btree

import "github.com/vlbadb/vlbadb/storage"

// RWVLBATree is RW_VLBA_TREE_TYPE: the dynamic, in-place-writable tree
// type used at levels 0-1. Leaves are internally sorted but unordered
// relative to each other (SPEC_FULL §4.2), and entries may carry
// CVTLeafPointer redirects.
type RWVLBATree struct {
	// MaxEntries bounds a leaf's entry count; real deployments would size
	// this from a byte budget the way ROVLBATree does, but dynamic
	// trees favor O(1) append over precise packing.
	MaxEntries int
}

// NewRWVLBATree returns a dynamic vtable with a sane default leaf
// capacity.
func NewRWVLBATree() *RWVLBATree {
	return &RWVLBATree{MaxEntries: 256}
}

func (t *RWVLBATree) Magic() Magic { return MagicRWVLBA }

func (t *RWVLBATree) NodeSize(depth int) int {
	if depth == 0 {
		return t.MaxEntries
	}
	return t.MaxEntries / 4
}

func (t *RWVLBATree) NeedSplit(n *Node) bool {
	return len(n.Entries) >= t.NodeSize(n.Depth)
}

func (t *RWVLBATree) EntryAdd(n *Node, e storage.Entry) {
	// Keep the leaf sorted: key ascending, then newest version first; a
	// new entry goes ahead of any equal (key, version) already present.
	i := 0
	for i < len(n.Entries) {
		c := t.KeyCompare(n.Entries[i].Key, e.Key)
		if c > 0 || (c == 0 && n.Entries[i].Version <= e.Version) {
			break
		}
		i++
	}
	n.Append(e)
	copy(n.Entries[i+1:], n.Entries[i:])
	copy(n.Disabled[i+1:], n.Disabled[i:])
	n.Entries[i], n.Disabled[i] = e, false
}

func (t *RWVLBATree) EntryGet(n *Node, k storage.Key) (storage.Entry, bool) {
	// Dynamic leaves are sorted within themselves, newest version first;
	// scan for the first (newest) match.
	for i := range n.Entries {
		if n.Disabled[i] {
			continue
		}
		if t.KeyCompare(n.Entries[i].Key, k) == 0 {
			return n.Entries[i], true
		}
	}
	return storage.Entry{}, false
}

func (t *RWVLBATree) EntryReplace(n *Node, i int, e storage.Entry) {
	n.Entries[i] = e
}

func (t *RWVLBATree) EntryDrop(n *Node, i int) {
	n.Disabled[i] = true
}

func (t *RWVLBATree) EntriesDrop(n *Node) {
	n.Entries = nil
	n.Disabled = nil
}

func (t *RWVLBATree) KeyCompare(a, b storage.Key) int { return storage.DefaultCompare(a, b) }

func (t *RWVLBATree) MaxKey() storage.Key { return storage.MaxKeySentinel }

func (t *RWVLBATree) NodeCreate(depth int) *Node { return &Node{Depth: depth} }
