package extent

import (
	"github.com/syndtr/goleveldb/leveldb"
)

// leveldbBackend adapts *leveldb.DB to kvBackend, backing the
// DEFAULT_RDA (HDD) policy tier.
type leveldbBackend struct {
	db *leveldb.DB
}

func openLevelDB(dir string) (*leveldbBackend, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &leveldbBackend{db: db}, nil
}

func (b *leveldbBackend) get(key []byte) ([]byte, bool, error) {
	val, err := b.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (b *leveldbBackend) put(key, val []byte) error {
	return b.db.Put(key, val, nil)
}

func (b *leveldbBackend) close() error { return b.db.Close() }

// NewHDDAllocator returns an Allocator backed by goleveldb, for the
// DEFAULT_RDA tier.
func NewHDDAllocator(dir string) (Allocator, func() error, error) {
	b, err := openLevelDB(dir)
	if err != nil {
		return nil, nil, err
	}
	return newKVAllocator(b, PolicyDefaultRDA), b.close, nil
}
