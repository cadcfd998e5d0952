package blockcache

import "sync"

// MemoryCache is a map-backed BlockCache with no eviction, suitable for
// tests and small in-process deployments.
type MemoryCache struct {
	mu     sync.Mutex
	blocks map[[16]byte]*Block
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{blocks: make(map[[16]byte]*Block)}
}

func (c *MemoryCache) Get(cep CEP) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[cep.key()]
	if !ok {
		return nil, errNotFound
	}
	return b, nil
}

func (c *MemoryCache) Put(cep CEP, data []byte) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := &Block{CEP: cep, Data: append([]byte(nil), data...)}
	c.blocks[cep.key()] = b
	return b
}

func (c *MemoryCache) LockWrite(cep CEP, size int) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cep.key()
	b, ok := c.blocks[k]
	if !ok {
		b = &Block{CEP: cep, Data: make([]byte, size)}
		c.blocks[k] = b
	}
	return b
}

func (c *MemoryCache) Uptodate(cep CEP) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.blocks[cep.key()]
	return ok
}

func (c *MemoryCache) Advise(cep CEP, flags AdviseFlag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.blocks[cep.key()]; ok {
		b.flags |= flags
	}
}

func (c *MemoryCache) Evict(cep CEP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blocks, cep.key())
}
