package blockcache

import (
	"sync"

	"github.com/VictoriaMetrics/fastcache"
)

// FastCache is a BlockCache backed by VictoriaMetrics/fastcache, a
// sharded, GC-friendly byte cache. It trades exact LRU ordering for
// O(1) bounded-memory operation under heavy churn, matching the merge
// pipeline's read pattern of many short-lived leaf fetches per level.
//
// fastcache stores only raw bytes, so residency bookkeeping the bytes
// alone can't carry (dirty bit, advise flags, live *Block handles for
// in-place Update) is kept in a side map guarded by mu.
type FastCache struct {
	bytes *fastcache.Cache

	mu     sync.Mutex
	blocks map[[16]byte]*Block
}

// NewFastCache allocates a cache capped at maxBytes.
func NewFastCache(maxBytes int) *FastCache {
	return &FastCache{
		bytes:  fastcache.New(maxBytes),
		blocks: make(map[[16]byte]*Block),
	}
}

func (c *FastCache) Get(cep CEP) (*Block, error) {
	k := cep.key()
	c.mu.Lock()
	b, ok := c.blocks[k]
	c.mu.Unlock()
	if ok {
		return b, nil
	}

	data, ok := c.bytes.HasGet(nil, k[:])
	if !ok {
		return nil, errNotFound
	}
	return c.adopt(cep, data), nil
}

func (c *FastCache) Put(cep CEP, data []byte) *Block {
	k := cep.key()
	c.bytes.Set(k[:], data)
	return c.adopt(cep, data)
}

func (c *FastCache) LockWrite(cep CEP, size int) *Block {
	k := cep.key()
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.blocks[k]; ok {
		return b
	}
	data, ok := c.bytes.HasGet(nil, k[:])
	if !ok {
		data = make([]byte, size)
	}
	b := &Block{CEP: cep, Data: data}
	c.blocks[k] = b
	return b
}

func (c *FastCache) Uptodate(cep CEP) bool {
	k := cep.key()
	c.mu.Lock()
	_, ok := c.blocks[k]
	c.mu.Unlock()
	if ok {
		return true
	}
	return c.bytes.Has(k[:])
}

func (c *FastCache) Advise(cep CEP, flags AdviseFlag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.blocks[cep.key()]; ok {
		b.flags |= flags
	}
}

func (c *FastCache) Evict(cep CEP) {
	k := cep.key()
	c.mu.Lock()
	delete(c.blocks, k)
	c.mu.Unlock()
	c.bytes.Del(k[:])
}

// adopt registers a *Block side-entry for a byte-slice read out of the
// fastcache, so later Update/Dirty calls have somewhere to land;
// write-back (checkpoint flush) re-Sets the bytes into c.bytes.
func (c *FastCache) adopt(cep CEP, data []byte) *Block {
	k := cep.key()
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.blocks[k]; ok {
		return b
	}
	b := &Block{CEP: cep, Data: append([]byte(nil), data...)}
	c.blocks[k] = b
	return b
}

// Flush writes back every dirty side-entry's bytes into the underlying
// fastcache and clears their dirty bits. The merge pipeline and
// checkpoint writer call this before a sync point.
func (c *FastCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, b := range c.blocks {
		if b.Dirty() {
			c.bytes.Set(k[:], b.Data)
			b.ClearDirty()
		}
	}
}
