package btree

import (
	"github.com/cockroachdb/errors"

	"github.com/vlbadb/vlbadb/storage/extent"
)

// Store gives a CT's node chain a physical home in extent-backed
// storage once a merge's output is ready to publish (SPEC_FULL §4.4
// step 8). Its Load method matches storage/iter.NodeLoader's shape
// exactly without btree importing iter, which already imports btree.
type Store struct {
	Alloc extent.Allocator
}

// NewStore wraps an allocator for node persistence.
func NewStore(alloc extent.Allocator) *Store {
	return &Store{Alloc: alloc}
}

// Append encodes n and appends it to ext, returning the cursor and
// encoded byte size a parent CVTNode entry or a CT's
// FirstNode/LastNode/RootNode field should record.
func (s *Store) Append(ext extent.Extent, n *Node) (Cursor, uint32, error) {
	enc, err := Encode(n)
	if err != nil {
		return Cursor{}, 0, err
	}
	offset, err := ext.Append(enc)
	if err != nil {
		return Cursor{}, 0, errors.Wrap(err, "btree: append node")
	}
	return Cursor{ExtentID: uint64(ext.ID()), Offset: offset}, uint32(len(enc)), nil
}

// Load fetches and decodes the node at cur; size is the exact encoded
// byte length Append returned, needed to bound the extent read.
func (s *Store) Load(cur Cursor, size uint32) (*Node, error) {
	ext, err := s.Alloc.Open(extent.ID(cur.ExtentID))
	if err != nil {
		return nil, errors.Wrap(err, "btree: open node extent")
	}
	enc, err := ext.ReadAt(cur.Offset, size)
	if err != nil {
		return nil, errors.Wrap(err, "btree: read node")
	}
	return Decode(enc)
}
