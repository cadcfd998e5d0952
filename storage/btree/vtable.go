package btree

import "github.com/vlbadb/vlbadb/storage"

// VTable is the per-type B-tree operations surface (SPEC_FULL §6). Every
// CT is stamped with exactly one VTable at creation and uses it for the
// lifetime of the tree.
type VTable interface {
	// Magic identifies this tree type in a checkpoint record.
	Magic() Magic

	// NodeSize returns the target maximum size for a node at the given
	// depth, in the tree type's own unit: bytes for ROVLBATree, entries
	// for RWVLBATree. Leaf (depth 0) and internal nodes may differ.
	NodeSize(depth int) int

	// NeedSplit reports whether the node has grown past NodeSize and a
	// new sibling must be started.
	NeedSplit(n *Node) bool

	// EntryAdd appends an entry to the node's native order. Dynamic
	// trees allow this at any time; immutable trees only during merge
	// construction.
	EntryAdd(n *Node, e storage.Entry)

	// EntryGet looks up an entry by key in the node, returning ok=false
	// if absent. Dynamic (level 0/1) nodes are unsorted across leaves
	// but sorted within a single node; KeyCompare still applies.
	EntryGet(n *Node, k storage.Key) (storage.Entry, bool)

	// EntryReplace overwrites the entry at index i.
	EntryReplace(n *Node, i int, e storage.Entry)

	// EntryDrop disables the entry at index i in place: the slot stays
	// in the node and its Disabled flag is set.
	EntryDrop(n *Node, i int)

	// EntriesDrop removes all entries, resetting the node to empty.
	EntriesDrop(n *Node)

	// KeyCompare orders two keys; implementations may special-case
	// MAX_KEY but otherwise delegate to storage.DefaultCompare.
	KeyCompare(a, b storage.Key) int

	// MaxKey returns the distinguished strict-maximum key.
	MaxKey() storage.Key

	// NodeCreate allocates a fresh, empty node at the given depth.
	NodeCreate(depth int) *Node
}
