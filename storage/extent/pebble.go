package extent

import (
	"github.com/cockroachdb/pebble"
)

// pebbleBackend adapts *pebble.DB to kvBackend, backing the SSD_RDA
// policy tier.
type pebbleBackend struct {
	db *pebble.DB
}

// openPebble opens (creating if absent) a pebble store at dir.
func openPebble(dir string) (*pebbleBackend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &pebbleBackend{db: db}, nil
}

func (b *pebbleBackend) get(key []byte) ([]byte, bool, error) {
	val, closer, err := b.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), val...)
	_ = closer.Close()
	return out, true, nil
}

func (b *pebbleBackend) put(key, val []byte) error {
	return b.db.Set(key, val, pebble.Sync)
}

func (b *pebbleBackend) close() error { return b.db.Close() }

// NewSSDAllocator returns an Allocator backed by pebble, for the
// SSD_RDA tier.
func NewSSDAllocator(dir string) (Allocator, func() error, error) {
	b, err := openPebble(dir)
	if err != nil {
		return nil, nil, err
	}
	return newKVAllocator(b, PolicySSDRDA), b.close, nil
}
