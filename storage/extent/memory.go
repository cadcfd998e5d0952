package extent

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// MemoryAllocator is an in-memory Allocator, used by tests and by
// standalone CT construction that does not need a persistent backing
// tier. Policy is accepted but does not change behavior.
type MemoryAllocator struct {
	*refTracker
	mu      sync.Mutex
	nextID  ID
	extents map[ID]*memoryExtent
}

// NewMemoryAllocator returns an empty in-memory allocator.
func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{
		refTracker: newRefTracker(),
		nextID:     1,
		extents:    make(map[ID]*memoryExtent),
	}
}

func (a *MemoryAllocator) Alloc(_ Policy, daID uint32, nrChunks uint32) (ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.extents[id] = &memoryExtent{id: id, chunks: nrChunks, daID: daID}
	a.register(id)
	return id, nil
}

func (a *MemoryAllocator) Get(id ID) error { return a.refTracker.get(id) }

func (a *MemoryAllocator) Put(id ID) error {
	free, err := a.refTracker.put(id)
	if err != nil {
		return err
	}
	if free {
		a.mu.Lock()
		delete(a.extents, id)
		a.mu.Unlock()
	}
	return nil
}

func (a *MemoryAllocator) Size(id ID) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.extents[id]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownExtent, "size %d", id)
	}
	return e.chunks, nil
}

func (a *MemoryAllocator) MarkLive(id ID) error { return a.refTracker.markLive(id) }

func (a *MemoryAllocator) Open(id ID) (Extent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.extents[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownExtent, "open %d", id)
	}
	return e, nil
}

type memoryExtent struct {
	mu     sync.Mutex
	id     ID
	chunks uint32
	daID   uint32
	buf    []byte
}

func (e *memoryExtent) ID() ID         { return e.id }
func (e *memoryExtent) Chunks() uint32 { return e.chunks }

func (e *memoryExtent) Used() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint64(len(e.buf))
}

func (e *memoryExtent) Append(data []byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if uint64(len(e.buf)+len(data)) > uint64(e.chunks)*ChunkSize {
		return 0, ErrNoSpace
	}
	offset := uint64(len(e.buf))
	e.buf = append(e.buf, data...)
	return offset, nil
}

func (e *memoryExtent) ReadAt(offset uint64, length uint32) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	end := offset + uint64(length)
	if end > uint64(len(e.buf)) {
		return nil, errors.Newf("extent: read [%d,%d) beyond used %d", offset, end, len(e.buf))
	}
	out := make([]byte, length)
	copy(out, e.buf[offset:end])
	return out, nil
}
