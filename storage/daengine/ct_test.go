package daengine

import (
	"testing"

	"github.com/vlbadb/vlbadb/storage"
	"github.com/vlbadb/vlbadb/storage/version"
)

func TestCTRefCounting(t *testing.T) {
	ct := NewDynamicCT(1, 1, 0)
	if ct.RefCount() != 1 {
		t.Fatalf("expected initial refcount 1, got %d", ct.RefCount())
	}
	ct.Get()
	if ct.RefCount() != 2 {
		t.Fatalf("expected refcount 2 after Get, got %d", ct.RefCount())
	}
	if ct.Put() {
		t.Fatalf("expected not freed yet")
	}
	if !ct.Put() {
		t.Fatalf("expected freed at refcount 0")
	}
}

func TestCTCompactingToggle(t *testing.T) {
	ct := NewDynamicCT(1, 1, 2)
	if ct.IsCompacting() {
		t.Fatalf("expected not compacting initially")
	}
	if !ct.MarkCompacting() {
		t.Fatalf("expected first mark to change state")
	}
	if ct.MarkCompacting() {
		t.Fatalf("expected second mark to be a no-op")
	}
	ct.ClearCompacting()
	if ct.IsCompacting() {
		t.Fatalf("expected cleared")
	}
}

func TestCTWriteRefCount(t *testing.T) {
	ct := NewDynamicCT(1, 1, 0)
	ct.GetWrite()
	ct.GetWrite()
	if ct.WriteRefCount() != 2 {
		t.Fatalf("expected write refcount 2, got %d", ct.WriteRefCount())
	}
	ct.PutWrite()
	if ct.WriteRefCount() != 1 {
		t.Fatalf("expected write refcount 1, got %d", ct.WriteRefCount())
	}
}

func TestCTInsertAndLookup(t *testing.T) {
	ct := NewDynamicCT(1, 1, 0)
	e := storage.Entry{Key: storage.Key("k1"), Version: 1, Value: storage.CVT{Kind: storage.CVTInline, Inline: []byte("v1")}}
	if err := ct.Insert(e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, ok, err := ct.Lookup(nil, storage.Key("k1"))
	if err != nil || !ok {
		t.Fatalf("expected lookup hit, got ok=%v err=%v", ok, err)
	}
	if string(got.Value.Inline) != "v1" {
		t.Fatalf("expected v1, got %q", got.Value.Inline)
	}

	if _, ok, err := ct.Lookup(nil, storage.Key("missing")); err != nil || ok {
		t.Fatalf("expected lookup miss, got ok=%v err=%v", ok, err)
	}
}

func TestCTInsertOnImmutableFails(t *testing.T) {
	ct := &CT{Dynamic: false}
	err := ct.Insert(storage.Entry{Key: storage.Key("k")})
	if err == nil {
		t.Fatalf("expected error inserting into immutable CT")
	}
}

func TestCTInsertReplacesNewerVersionFirst(t *testing.T) {
	ct := NewDynamicCT(1, 1, 0)
	if err := ct.Insert(storage.Entry{Key: storage.Key("k"), Version: 1, Value: storage.CVT{Kind: storage.CVTInline, Inline: []byte("old")}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ct.Insert(storage.Entry{Key: storage.Key("k"), Version: 2, Value: storage.CVT{Kind: storage.CVTInline, Inline: []byte("new")}}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, ok, err := ct.Lookup(nil, storage.Key("k"))
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got.Value.Inline) != "new" {
		t.Fatalf("expected most recently inserted node scanned first, got %q", got.Value.Inline)
	}
}

func TestCTIteratorOnDynamicCT(t *testing.T) {
	ct := NewDynamicCT(1, 1, 0)
	if err := ct.Insert(storage.Entry{Key: storage.Key("b"), Version: 1, Value: storage.CVT{Kind: storage.CVTInline}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ct.Insert(storage.Entry{Key: storage.Key("a"), Version: 1, Value: storage.CVT{Kind: storage.CVTInline}}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	vsvc := version.New(1)
	it := ct.Iterator(nil, vsvc)
	var keys []string
	for it.HasNext() {
		keys = append(keys, string(it.Next().Key))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("expected sorted [a b], got %v", keys)
	}
}

func TestCTIteratorOnEmptyDynamicCT(t *testing.T) {
	ct := NewDynamicCT(1, 1, 0)
	vsvc := version.New(1)
	it := ct.Iterator(nil, vsvc)
	if it.HasNext() {
		t.Fatalf("expected no entries from an empty CT")
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
}
