package daengine

import (
	"testing"

	"github.com/vlbadb/vlbadb/storage"
)

func TestDAInsertAndGet(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	defer da.Destroy()

	e := storage.Entry{Key: storage.Key("k1"), Version: 1, Value: storage.CVT{Kind: storage.CVTInline, Inline: []byte("v1")}}
	if err := da.Insert([]byte("k1"), e); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, ok, err := da.Get(nil, storage.Key("k1"), 1)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got.Value.Inline) != "v1" {
		t.Fatalf("expected v1, got %q", got.Value.Inline)
	}

	if _, ok, err := da.Get(nil, storage.Key("missing"), 1); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestDAGetHonorsTombstone(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	defer da.Destroy()

	if err := da.Insert([]byte("k1"), storage.Entry{Key: storage.Key("k1"), Version: 1, Value: storage.CVT{Kind: storage.CVTInline, Inline: []byte("v1")}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := da.Insert([]byte("k1"), storage.Entry{Key: storage.Key("k1"), Version: 2, Value: storage.CVT{Kind: storage.CVTTombstone}}); err != nil {
		t.Fatalf("insert tombstone: %v", err)
	}

	if _, ok, err := da.Get(nil, storage.Key("k1"), 2); err != nil || ok {
		t.Fatalf("expected tombstoned key to read as a miss, got ok=%v err=%v", ok, err)
	}
}

func TestDAInsertRejectsWhenExiting(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	if err := da.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}

	err := da.Insert([]byte("k1"), storage.Entry{Key: storage.Key("k1")})
	if err != ErrShuttingDown {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

func TestDARangeQueryOrdersAndDedupsAcrossLevels(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	defer da.Destroy()

	for _, k := range []string{"c", "a", "b"} {
		e := storage.Entry{Key: storage.Key(k), Version: 1, Value: storage.CVT{Kind: storage.CVTInline, Inline: []byte(k)}}
		if err := da.Insert([]byte(k), e); err != nil {
			t.Fatalf("insert %s: %v", k, err)
		}
	}
	// A second, newer version of "b" in the same level-0 CT should win
	// over the first by the leaf's newest-first order, and RangeQuery's
	// firstPerKeyIterator should collapse to one "b". Version 2 is
	// forked from the root so the root's entries stay visible from it.
	da.Versions.Fork(da.RootVersion)
	if err := da.Insert([]byte("b"), storage.Entry{Key: storage.Key("b"), Version: 2, Value: storage.CVT{Kind: storage.CVTInline, Inline: []byte("b2")}}); err != nil {
		t.Fatalf("insert b v2: %v", err)
	}

	it := da.RangeQuery(nil, nil, false, nil, false, 2)
	var got []storage.Entry
	for it.HasNext() {
		got = append(got, it.Next())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("range query error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 distinct keys, got %d: %v", len(got), got)
	}
	if string(got[0].Key) != "a" || string(got[1].Key) != "b" || string(got[2].Key) != "c" {
		t.Fatalf("expected ascending [a b c], got %v", got)
	}
	if string(got[1].Value.Inline) != "b2" {
		t.Fatalf("expected newest version of b, got %q", got[1].Value.Inline)
	}
}

func TestDARangeQueryRespectsStartAndEndBounds(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	defer da.Destroy()

	for _, k := range []string{"a", "b", "c", "d"} {
		e := storage.Entry{Key: storage.Key(k), Version: 1, Value: storage.CVT{Kind: storage.CVTInline, Inline: []byte(k)}}
		if err := da.Insert([]byte(k), e); err != nil {
			t.Fatalf("insert %s: %v", k, err)
		}
	}

	it := da.RangeQuery(nil, storage.Key("b"), true, storage.Key("d"), true, 1)
	var got []string
	for it.HasNext() {
		got = append(got, string(it.Next().Key))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("range query error: %v", err)
	}
	if len(got) != 3 || got[0] != "b" || got[1] != "c" || got[2] != "d" {
		t.Fatalf("expected [b c d], got %v", got)
	}
}

func TestIsVisible(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	defer da.Destroy()

	child := da.Versions.Fork(da.RootVersion)
	if !isVisible(da.Versions, da.RootVersion, child) {
		t.Fatalf("expected root version visible from a forked child")
	}
	if isVisible(da.Versions, child, da.RootVersion) {
		t.Fatalf("expected child version not visible from its parent")
	}
	if !isVisible(da.Versions, child, child) {
		t.Fatalf("expected a version visible from itself")
	}
}
