package extent

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/errors"
)

// kvBackend is the minimal byte-store surface both cockroachdb/pebble
// and syndtr/goleveldb satisfy via the thin adapters in pebble.go and
// leveldb.go.
type kvBackend interface {
	get(key []byte) ([]byte, bool, error)
	put(key, val []byte) error
	close() error
}

// kvAllocator implements Allocator over a kvBackend by storing each
// extent as a single growing blob keyed by its id. This trades the
// efficiency of a real block device for a uniform implementation across
// both the SSD and HDD tiers; the DA's merge pipeline only ever appends
// sequentially and reads back by offset, both of which a blob supports.
type kvAllocator struct {
	*refTracker
	backend kvBackend
	policy  Policy

	mu      sync.Mutex
	nextID  ID
	sizes   map[ID]uint32 // chunk capacity per extent
}

func newKVAllocator(backend kvBackend, policy Policy) *kvAllocator {
	return &kvAllocator{
		refTracker: newRefTracker(),
		backend:    backend,
		policy:     policy,
		nextID:     1,
		sizes:      make(map[ID]uint32),
	}
}

func extentKey(id ID) []byte {
	var b [9]byte
	b[0] = 'x'
	binary.BigEndian.PutUint64(b[1:], uint64(id))
	return b[:]
}

func (a *kvAllocator) Alloc(policy Policy, daID uint32, nrChunks uint32) (ID, error) {
	if policy != a.policy {
		return Invalid, errors.Newf("extent: allocator tier mismatch: want %d got %d", a.policy, policy)
	}
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.sizes[id] = nrChunks
	a.mu.Unlock()

	if err := a.backend.put(extentKey(id), nil); err != nil {
		return Invalid, errors.Wrap(err, "extent: alloc")
	}
	a.register(id)
	return id, nil
}

func (a *kvAllocator) Get(id ID) error { return a.refTracker.get(id) }

func (a *kvAllocator) Put(id ID) error {
	free, err := a.refTracker.put(id)
	if err != nil {
		return err
	}
	if free {
		a.mu.Lock()
		delete(a.sizes, id)
		a.mu.Unlock()
		// Tombstone rather than physically delete: kvBackend has no
		// Delete in our minimal adapter, and an empty value reads back
		// as zero-length, which Open's Extent treats as an empty tree.
		_ = a.backend.put(extentKey(id), nil)
	}
	return nil
}

func (a *kvAllocator) Size(id ID) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.sizes[id]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownExtent, "size %d", id)
	}
	return n, nil
}

func (a *kvAllocator) MarkLive(id ID) error { return a.refTracker.markLive(id) }

func (a *kvAllocator) Open(id ID) (Extent, error) {
	a.mu.Lock()
	chunks, ok := a.sizes[id]
	a.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownExtent, "open %d", id)
	}
	return &kvExtent{id: id, chunks: chunks, backend: a.backend}, nil
}

type kvExtent struct {
	mu      sync.Mutex
	id      ID
	chunks  uint32
	backend kvBackend
}

func (e *kvExtent) ID() ID         { return e.id }
func (e *kvExtent) Chunks() uint32 { return e.chunks }

func (e *kvExtent) current() ([]byte, error) {
	val, ok, err := e.backend.get(extentKey(e.id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return val, nil
}

func (e *kvExtent) Used() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, err := e.current()
	if err != nil {
		return 0
	}
	return uint64(len(cur))
}

func (e *kvExtent) Append(data []byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, err := e.current()
	if err != nil {
		return 0, err
	}
	if uint64(len(cur)+len(data)) > uint64(e.chunks)*ChunkSize {
		return 0, ErrNoSpace
	}
	offset := uint64(len(cur))
	next := append(cur, data...)
	if err := e.backend.put(extentKey(e.id), next); err != nil {
		return 0, errors.Wrap(err, "extent: append")
	}
	return offset, nil
}

func (e *kvExtent) ReadAt(offset uint64, length uint32) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, err := e.current()
	if err != nil {
		return nil, err
	}
	end := offset + uint64(length)
	if end > uint64(len(cur)) {
		return nil, errors.Newf("extent: read [%d,%d) beyond used %d", offset, end, len(cur))
	}
	out := make([]byte, length)
	copy(out, cur[offset:end])
	return out, nil
}
