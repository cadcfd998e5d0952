// Package iter implements the DA's four pull-based iterator variants
// (SPEC_FULL §4.1-4.3, §4.9): the immutable leaf walk, the in-memory
// sort that linearizes an unsorted dynamic level, the k-way merge that
// backs both the merge pipeline and range queries, and the
// version-bounded range query built atop it.
//
// Grounded on the teacher's trie iterator (now deleted from the tree,
// its has_next/next/error/cancel shape survives here almost verbatim)
// crossed with google/btree for the k-way merge's ordered cache, which
// plays the role SPEC_FULL's red-black tree plays in the original.
package iter

import (
	"github.com/cockroachdb/errors"

	"github.com/vlbadb/vlbadb/storage"
	"github.com/vlbadb/vlbadb/storage/btree"
)

// Iterator is the shared pull-based contract every variant in this
// package implements (SPEC_FULL §7: "Iterators carry an err field").
type Iterator interface {
	// HasNext reports whether Next will yield another entry. Returns
	// false exactly once after the last entry, or immediately if Err is
	// set.
	HasNext() bool
	// Next returns the next entry. Must not be called unless the prior
	// HasNext returned true.
	Next() storage.Entry
	// Err returns the first error encountered, if any.
	Err() error
	// Cancel releases every resource (cache blocks, CT references) the
	// iterator holds. Legal at any point, including mid-stream.
	Cancel()
}

// ErrOOM marks iterator setup/buffer allocation failures as
// SPEC_FULL §7's OutOfMemory kind.
var ErrOOM = errors.New("iter: out of memory")
