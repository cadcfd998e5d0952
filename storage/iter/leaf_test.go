package iter

import (
	"testing"

	"github.com/vlbadb/vlbadb/storage"
	"github.com/vlbadb/vlbadb/storage/btree"
)

type fakeLoader struct {
	nodes map[btree.Cursor]*btree.Node
}

func (f *fakeLoader) Load(cur btree.Cursor, size uint32) (*btree.Node, error) {
	return f.nodes[cur], nil
}

func cur(id uint64) btree.Cursor { return btree.Cursor{ExtentID: id, Offset: 0} }

func buildChain() (*fakeLoader, btree.Cursor) {
	n1 := &btree.Node{Entries: []storage.Entry{
		{Key: storage.Key("a"), Version: 1},
		{Key: storage.Key("b"), Version: 1, Value: storage.CVT{Kind: storage.CVTLeafPointer}},
		{Key: storage.Key("c"), Version: 1},
	}, Disabled: []bool{false, false, false}}
	n2 := &btree.Node{Entries: []storage.Entry{
		{Key: storage.Key("d"), Version: 1},
	}}
	n1.NextNode = cur(2)
	loader := &fakeLoader{nodes: map[btree.Cursor]*btree.Node{cur(1): n1, cur(2): n2}}
	return loader, cur(1)
}

func TestLeafIteratorSkipsLeafPointers(t *testing.T) {
	loader, start := buildChain()
	it := NewLeafIterator(loader, start, 0, nil)

	var got []string
	for it.HasNext() {
		got = append(got, string(it.Next().Key))
	}
	if it.Err() != nil {
		t.Fatalf("unexpected error: %v", it.Err())
	}
	want := []string{"a", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLeafIteratorNodeStartCallback(t *testing.T) {
	loader, start := buildChain()
	var starts int
	it := NewLeafIterator(loader, start, 0, func(*btree.Node) { starts++ })
	for it.HasNext() {
		it.Next()
	}
	if starts != 2 {
		t.Fatalf("expected 2 node_start callbacks, got %d", starts)
	}
}

func TestLeafIteratorDisabledEntry(t *testing.T) {
	n := &btree.Node{
		Entries:  []storage.Entry{{Key: storage.Key("x")}, {Key: storage.Key("y")}},
		Disabled: []bool{true, false},
	}
	loader := &fakeLoader{nodes: map[btree.Cursor]*btree.Node{cur(5): n}}
	it := NewLeafIterator(loader, cur(5), 0, nil)

	if !it.HasNext() {
		t.Fatalf("expected one entry")
	}
	if string(it.Next().Key) != "y" {
		t.Fatalf("expected disabled entry skipped")
	}
	if it.HasNext() {
		t.Fatalf("expected exhausted")
	}
}
