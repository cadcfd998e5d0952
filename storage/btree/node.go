// Package btree implements the per-type B-tree vtable external
// collaborator (SPEC_FULL §6): node_size, need_split, entry_add/get/
// replace/drop, key_compare, max_key, magic. Two types are provided —
// RWVLBATree (dynamic, levels 0-1) and ROVLBATree (immutable, merge
// output) — matching RW_VLBA_TREE_TYPE and RO_VLBA_TREE_TYPE.
//
// Node byte-size accounting uses the teacher's own rlp codec
// (github.com/vlbadb/vlbadb/rlp) as the size oracle, the same role it
// plays for on-disk checkpoint records: encoding a node's entries is how
// both "how big is this node" and "how do I persist this node" are
// answered.
package btree

import (
	"github.com/vlbadb/vlbadb/rlp"
	"github.com/vlbadb/vlbadb/storage"
)

// Magic identifies a B-tree type in a checkpoint record.
type Magic uint32

const (
	MagicRWVLBA Magic = 0x52574c42 // "RWLB"
	MagicROVLBA Magic = 0x524f4c42 // "ROLB"
)

// Node is one B-tree node: a depth-0 leaf holds (key, version, value)
// entries; a depth>0 internal node holds entries whose value is
// CVTNode, pointing at child nodes.
type Node struct {
	Depth   int
	Entries []storage.Entry

	// NextNode/NextSize form the leaf-linked-chain header (SPEC_FULL
	// §4.4 step 8), used only at depth 0 in immutable output trees.
	NextNode Cursor
	NextSize uint32

	// Disabled entries are tombstoned-in-place slots in a dynamic tree
	// that the immutable iterator must skip (SPEC_FULL §4.1).
	Disabled []bool
}

// Cursor mirrors storage.Cursor to avoid an import cycle surprise for
// callers that only need the btree package; it is bit-for-bit
// convertible.
type Cursor = storage.Cursor

// EncodedSize returns the node's approximate serialized byte size, used
// by NodeSize/NeedSplit. Disabled slots still occupy physical space.
func (n *Node) EncodedSize() int {
	enc, err := rlp.EncodeToBytes(n.Entries)
	if err != nil {
		// Fall back to a conservative per-entry estimate; EncodeToBytes
		// only fails on unsupported types, which entries never are.
		return len(n.Entries) * 64
	}
	return len(enc)
}

// Append adds an entry to the node's native order (the vtable decides
// legality via NeedSplit before this is called).
func (n *Node) Append(e storage.Entry) {
	n.Entries = append(n.Entries, e)
	n.Disabled = append(n.Disabled, false)
}

// Truncate drops entries from index i onward, returning the dropped
// entries. The merge pipeline does not call it; its cascade-complete
// step splits its own scratch nodes inline.
func (n *Node) Truncate(i int) []storage.Entry {
	overflow := append([]storage.Entry(nil), n.Entries[i:]...)
	n.Entries = n.Entries[:i]
	n.Disabled = n.Disabled[:i]
	return overflow
}

// LastKey returns the key of the last entry, or nil if empty.
func (n *Node) LastKey() storage.Key {
	if len(n.Entries) == 0 {
		return nil
	}
	return n.Entries[len(n.Entries)-1].Key
}
