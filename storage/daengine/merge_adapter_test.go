package daengine

import (
	"sort"
	"testing"

	"github.com/vlbadb/vlbadb/storage"
	"github.com/vlbadb/vlbadb/storage/extent"
)

func populatedCT(seq uint64, daID uint32, level int, keys ...string) *CT {
	ct := NewDynamicCT(seq, daID, level)
	for _, k := range keys {
		e := storage.Entry{Key: storage.Key(k), Version: 1, Value: storage.CVT{Kind: storage.CVTInline, Inline: []byte(k)}}
		if err := ct.Insert(e); err != nil {
			panic(err)
		}
	}
	return ct
}

func TestMergeAdapterLevelMergeProducesLookupableOutput(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	defer da.Destroy()

	ct1 := populatedCT(da.allocSeq(), da.ID, 1, "a", "c")
	ct2 := populatedCT(da.allocSeq(), da.ID, 1, "b", "d")
	da.AppendAt(1, ct1)
	da.AppendAt(1, ct2)

	alloc := extent.NewMemoryAllocator()
	adapter := NewMergeAdapter(alloc, da.Versions, 0.01)

	out, err := adapter.LevelMerge(da, 1, 0, 0)
	if err != nil {
		t.Fatalf("level merge: %v", err)
	}
	if out == nil {
		t.Fatalf("expected a merge output")
	}
	if out.ItemCount != 4 {
		t.Fatalf("expected 4 items, got %d", out.ItemCount)
	}
	if out.Dynamic {
		t.Fatalf("expected merge output to be immutable")
	}

	if n := da.NrTrees(1); n != 0 {
		t.Fatalf("expected level 1 drained of its inputs, got %d trees", n)
	}
	found := false
	for _, ct := range da.TreesAt(out.Level) {
		if ct == out {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected output CT committed at level %d", out.Level)
	}

	for _, k := range []string{"a", "b", "c", "d"} {
		e, ok, err := out.Lookup(adapter.Store, storage.Key(k))
		if err != nil || !ok {
			t.Fatalf("lookup %s: ok=%v err=%v", k, ok, err)
		}
		if string(e.Value.Inline) != k {
			t.Fatalf("lookup %s: got %q", k, e.Value.Inline)
		}
	}
	if _, ok, err := out.Lookup(adapter.Store, storage.Key("missing")); err != nil || ok {
		t.Fatalf("expected miss for an absent key, got ok=%v err=%v", ok, err)
	}
}

func TestMergeAdapterLevelMergeNoopWithFewerThanTwoInputs(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	defer da.Destroy()
	da.AppendAt(2, populatedCT(da.allocSeq(), da.ID, 2, "a"))

	adapter := NewMergeAdapter(extent.NewMemoryAllocator(), da.Versions, 0.01)
	out, err := adapter.LevelMerge(da, 2, 0, 0)
	if err != nil {
		t.Fatalf("level merge: %v", err)
	}
	if out != nil {
		t.Fatalf("expected no-op with a single input CT")
	}
}

func TestMergeAdapterTotalMergeDrainsAllLevelsAboveZero(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	defer da.Destroy()

	ct1 := populatedCT(da.allocSeq(), da.ID, 1, "a")
	ct2 := populatedCT(da.allocSeq(), da.ID, 2, "b")
	da.AppendAt(1, ct1)
	da.AppendAt(2, ct2)
	da.AddDelVersion()

	alloc := extent.NewMemoryAllocator()
	adapter := NewMergeAdapter(alloc, da.Versions, 0.01)

	out, err := adapter.TotalMerge(da, []*CT{ct1, ct2})
	if err != nil {
		t.Fatalf("total merge: %v", err)
	}
	if out == nil || out.ItemCount != 2 {
		t.Fatalf("expected a 2-item output, got %v", out)
	}
	if da.NrDelVersions() != 0 {
		t.Fatalf("expected total merge to clear pending deletion count")
	}
	if n := da.NrTrees(1); n != 0 {
		t.Fatalf("expected level 1 drained, got %d", n)
	}
	if n := da.NrTrees(2); n != 0 {
		t.Fatalf("expected level 2 drained, got %d", n)
	}
}

func TestMergeAdapterTotalMergeNoopWithNoInputs(t *testing.T) {
	da := NewDA(1, 1, 2, DefaultTunables())
	defer da.Destroy()
	adapter := NewMergeAdapter(extent.NewMemoryAllocator(), da.Versions, 0.01)

	out, err := adapter.TotalMerge(da, nil)
	if err != nil {
		t.Fatalf("total merge: %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil output for an empty input set")
	}
}

func TestSortInputsNewestFirst(t *testing.T) {
	a := &CT{Seq: 1}
	b := &CT{Seq: 5}
	c := &CT{Seq: 3}
	inputs := []*CT{a, b, c}
	sortInputsNewestFirst(inputs)
	if !sort.SliceIsSorted(inputs, func(i, j int) bool { return inputs[i].Seq > inputs[j].Seq }) {
		t.Fatalf("expected descending seq order, got %v", inputs)
	}
	if inputs[0] != b || inputs[2] != a {
		t.Fatalf("expected [b c a] by seq, got %v", inputs)
	}
}
