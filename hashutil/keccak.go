// Package hashutil provides the hashing primitives shared by the storage
// engine: the Keccak-256 hash Bloom filter keys are hashed with, and the
// per-CPU routing hash used to steer inserts to a request CPU's wait
// queue.
package hashutil

import (
	"github.com/dchest/siphash"
	"golang.org/x/crypto/sha3"
)

// Sum256 calculates the Keccak-256 hash of the given byte slices.
func Sum256(data ...[]byte) [32]byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var out [32]byte
	d.Sum(out[:0])
	return out
}

// routingKey is a fixed, process-wide siphash key. Routing only needs to
// spread keys evenly across request CPUs, not resist adversarial input,
// so a constant key is sufficient.
var routingKey0, routingKey1 uint64 = 0x646f75626c696e67, 0x6172726179637075

// CPUIndex hashes the first key dimension and reduces it mod cpuCount to
// pick the request CPU a write is routed to.
func CPUIndex(firstDimension []byte, cpuCount int) int {
	if cpuCount <= 0 {
		return 0
	}
	h := siphash.Hash(routingKey0, routingKey1, firstDimension)
	return int(h % uint64(cpuCount))
}
