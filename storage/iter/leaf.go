package iter

import (
	"github.com/vlbadb/vlbadb/storage"
	"github.com/vlbadb/vlbadb/storage/btree"
)

// NodeLoader fetches a B-tree node given its location, the one
// dependency the immutable leaf iterator has on the block cache /
// extent layer (SPEC_FULL §4.1: "reads that miss issue a synchronous
// block read").
type NodeLoader interface {
	Load(cur btree.Cursor, size uint32) (*btree.Node, error)
}

// LeafIterator walks the singly linked chain of leaf nodes of an
// immutable CT (SPEC_FULL §4.1).
type LeafIterator struct {
	loader NodeLoader

	cur  btree.Cursor
	size uint32

	node *btree.Node
	idx  int

	onNodeStart func(*btree.Node)

	err error
	done bool
}

// NewLeafIterator starts a leaf walk at (firstNode, firstSize), the CT's
// first_node/first_size fields. onNodeStart, if non-nil, fires once per
// node fetched — the modlist sort iterator uses it to detect leaf
// boundaries in the upstream entry stream.
func NewLeafIterator(loader NodeLoader, firstNode btree.Cursor, firstSize uint32, onNodeStart func(*btree.Node)) *LeafIterator {
	return &LeafIterator{loader: loader, cur: firstNode, size: firstSize, onNodeStart: onNodeStart}
}

func (it *LeafIterator) fetchIfNeeded() {
	if it.err != nil || it.done || it.node != nil {
		return
	}
	if it.cur.IsZero() {
		it.done = true
		return
	}
	n, err := it.loader.Load(it.cur, it.size)
	if err != nil {
		it.err = err
		return
	}
	it.node = n
	it.idx = 0
	if it.onNodeStart != nil {
		it.onNodeStart(n)
	}
}

// advancePastSkippable steps idx forward over LEAF-POINTER entries and
// entries the node format has marked disabled, advancing to the next
// node (possibly several) when the current one is exhausted.
func (it *LeafIterator) advancePastSkippable() {
	for {
		it.fetchIfNeeded()
		if it.err != nil || it.done {
			return
		}
		for it.idx < len(it.node.Entries) {
			if it.idx < len(it.node.Disabled) && it.node.Disabled[it.idx] {
				it.idx++
				continue
			}
			if it.node.Entries[it.idx].Value.Kind == storage.CVTLeafPointer {
				it.idx++
				continue
			}
			return
		}
		// node exhausted, advance the chain
		it.cur = it.node.NextNode
		it.size = it.node.NextSize
		it.node = nil
	}
}

func (it *LeafIterator) HasNext() bool {
	if it.err != nil {
		return false
	}
	it.advancePastSkippable()
	return it.err == nil && !it.done
}

func (it *LeafIterator) Next() storage.Entry {
	e := it.node.Entries[it.idx]
	it.idx++
	return e
}

func (it *LeafIterator) Err() error { return it.err }

func (it *LeafIterator) Cancel() {
	it.node = nil
	it.done = true
}
