package blockcache

import "testing"

func TestMemoryCacheGetPut(t *testing.T) {
	c := NewMemoryCache()
	cep := CEP{ExtentID: 1, Offset: 64}

	if _, err := c.Get(cep); !IsNotFound(err) {
		t.Fatalf("expected miss, got %v", err)
	}

	c.Put(cep, []byte("leaf-bytes"))
	b, err := c.Get(cep)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(b.Data) != "leaf-bytes" {
		t.Fatalf("unexpected data %q", b.Data)
	}
	if b.Dirty() {
		t.Fatalf("freshly put block should not be dirty")
	}
}

func TestMemoryCacheLockWriteUpdate(t *testing.T) {
	c := NewMemoryCache()
	cep := CEP{ExtentID: 2, Offset: 0}

	b := c.LockWrite(cep, 16)
	if len(b.Data) != 16 {
		t.Fatalf("expected zero-filled 16 bytes, got %d", len(b.Data))
	}
	b.Update([]byte("patched"))
	if !b.Dirty() {
		t.Fatalf("expected dirty after Update")
	}

	got, err := c.Get(cep)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Data) != "patched" {
		t.Fatalf("unexpected data %q", got.Data)
	}
}

func TestMemoryCacheAdviseAndEvict(t *testing.T) {
	c := NewMemoryCache()
	cep := CEP{ExtentID: 3, Offset: 0}
	c.Put(cep, []byte("x"))

	c.Advise(cep, AdviseHardpin|AdvisePrefetch)
	b, _ := c.Get(cep)
	if b.flags&AdviseHardpin == 0 || b.flags&AdvisePrefetch == 0 {
		t.Fatalf("expected both advise flags set, got %b", b.flags)
	}

	if !c.Uptodate(cep) {
		t.Fatalf("expected uptodate before evict")
	}
	c.Evict(cep)
	if c.Uptodate(cep) {
		t.Fatalf("expected miss after evict")
	}
}
