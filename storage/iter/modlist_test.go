package iter

import (
	"testing"

	"github.com/vlbadb/vlbadb/storage"
	"github.com/vlbadb/vlbadb/storage/btree"
	"github.com/vlbadb/vlbadb/storage/version"
)

func TestModlistSortIteratorMergesLeaves(t *testing.T) {
	// Two leaves, each internally sorted, unordered relative to each
	// other: leaf1={c,a}, leaf2={d,b} in storage order but within-leaf
	// entries are already sorted per SPEC_FULL's assumption — use
	// already-sorted-within-leaf data: leaf1={a,c}, leaf2={b,d}.
	n1 := &btree.Node{Entries: []storage.Entry{
		{Key: storage.Key("a"), Version: 1},
		{Key: storage.Key("c"), Version: 1},
	}}
	n2 := &btree.Node{Entries: []storage.Entry{
		{Key: storage.Key("b"), Version: 1},
		{Key: storage.Key("d"), Version: 1},
	}}
	n1.NextNode = cur(2)
	loader := &fakeLoader{nodes: map[btree.Cursor]*btree.Node{cur(1): n1, cur(2): n2}}

	vsvc := version.New(1)
	it := NewModlistSortIterator(loader, cur(1), 0, vsvc, storage.DefaultCompare)

	var got []string
	for it.HasNext() {
		got = append(got, string(it.Next().Key))
	}
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestModlistSortIteratorNewestFirstOnTie(t *testing.T) {
	n1 := &btree.Node{Entries: []storage.Entry{
		{Key: storage.Key("a"), Version: 1},
	}}
	n2 := &btree.Node{Entries: []storage.Entry{
		{Key: storage.Key("a"), Version: 3},
	}}
	n1.NextNode = cur(2)
	loader := &fakeLoader{nodes: map[btree.Cursor]*btree.Node{cur(1): n1, cur(2): n2}}

	vsvc := version.New(5)
	it := NewModlistSortIterator(loader, cur(1), 0, vsvc, storage.DefaultCompare)

	if !it.HasNext() {
		t.Fatalf("expected entry")
	}
	first := it.Next()
	if first.Version != 3 {
		t.Fatalf("expected newer version 3 first, got %d", first.Version)
	}
	if !it.HasNext() {
		t.Fatalf("expected second entry")
	}
	if it.Next().Version != 1 {
		t.Fatalf("expected version 1 second")
	}
}
