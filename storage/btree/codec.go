package btree

import (
	"github.com/cockroachdb/errors"

	"github.com/vlbadb/vlbadb/rlp"
)

// Encode serializes a whole node the way a checkpoint record would,
// with the same RLP codec Node.EncodedSize uses. EncodedSize encodes
// only the entries, so its result leaves out the header fields (Depth,
// NextNode, NextSize) and the Disabled flags that Encode includes.
func Encode(n *Node) ([]byte, error) {
	enc, err := rlp.EncodeToBytes(n)
	if err != nil {
		return nil, errors.Wrap(err, "btree: encode node")
	}
	return enc, nil
}

// Decode reverses Encode.
func Decode(data []byte) (*Node, error) {
	n := &Node{}
	if err := rlp.DecodeBytes(data, n); err != nil {
		return nil, errors.Wrap(err, "btree: decode node")
	}
	return n, nil
}
