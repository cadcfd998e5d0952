package merge

import (
	"testing"

	"github.com/vlbadb/vlbadb/storage"
	"github.com/vlbadb/vlbadb/storage/iter"
	"github.com/vlbadb/vlbadb/storage/version"
)

// sliceComponent feeds a fixed, pre-sorted slice of entries as one
// k-way merge input.
type sliceComponent struct {
	entries []storage.Entry
	pos     int
}

func (s *sliceComponent) HasNext() bool       { return s.pos < len(s.entries) }
func (s *sliceComponent) Next() storage.Entry { e := s.entries[s.pos]; s.pos++; return e }
func (s *sliceComponent) Err() error          { return nil }
func (s *sliceComponent) Cancel()             { s.pos = len(s.entries) }

func versionCompareDesc(a, b storage.Version) int {
	switch {
	case a == b:
		return 0
	case a > b:
		return -1
	default:
		return 1
	}
}

func TestRunProducesLeavesInAscendingKeyOrder(t *testing.T) {
	c0 := &sliceComponent{entries: []storage.Entry{
		{Key: storage.Key("a"), Version: 1},
		{Key: storage.Key("b"), Version: 1},
		{Key: storage.Key("c"), Version: 1},
	}}
	merged := iter.NewMergedIterator([]iter.Component{c0}, storage.DefaultCompare, versionCompareDesc, nil)

	vsvc := version.New(1)
	out, err := Run(merged, Options{
		Compare:     storage.DefaultCompare,
		VersionSvc:  vsvc,
		BloomFPRate: 0.01,
		MaxVersion:  storage.Version(10),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.ItemCount != 3 {
		t.Fatalf("expected 3 items, got %d", out.ItemCount)
	}
	if len(out.NodesByDepth) == 0 || len(out.NodesByDepth[0]) == 0 {
		t.Fatalf("expected at least one leaf node")
	}
	leaf := out.NodesByDepth[0][0]
	if len(leaf.Entries) != 3 {
		t.Fatalf("expected all 3 entries in the single leaf, got %d", len(leaf.Entries))
	}
	for i := 1; i < len(leaf.Entries); i++ {
		if storage.DefaultCompare(leaf.Entries[i-1].Key, leaf.Entries[i].Key) >= 0 {
			t.Fatalf("expected ascending key order, got %v", leaf.Entries)
		}
	}
}

func TestRunSkipsDeletableEntries(t *testing.T) {
	c0 := &sliceComponent{entries: []storage.Entry{
		{Key: storage.Key("a"), Version: 1},
		{Key: storage.Key("b"), Version: 2},
	}}
	merged := iter.NewMergedIterator([]iter.Component{c0}, storage.DefaultCompare, versionCompareDesc, nil)

	out, err := Run(merged, Options{
		Compare:     storage.DefaultCompare,
		Deletable:   func(v storage.Version) bool { return v == 2 },
		BloomFPRate: 0.01,
		MaxVersion:  storage.Version(10),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.ItemCount != 1 {
		t.Fatalf("expected 1 surviving item, got %d", out.ItemCount)
	}
	if out.SkippedCount != 1 {
		t.Fatalf("expected 1 skipped item, got %d", out.SkippedCount)
	}
}

func TestRunBuildsBloomFilterCoveringAdmittedKeys(t *testing.T) {
	c0 := &sliceComponent{entries: []storage.Entry{
		{Key: storage.Key("k1"), Version: 1},
		{Key: storage.Key("k2"), Version: 1},
	}}
	merged := iter.NewMergedIterator([]iter.Component{c0}, storage.DefaultCompare, versionCompareDesc, nil)

	out, err := Run(merged, Options{Compare: storage.DefaultCompare, BloomFPRate: 0.01, MaxVersion: 10})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Bloom == nil {
		t.Fatalf("expected bloom filter to be built")
	}
}

func TestRunCascadesAcrossManyLeaves(t *testing.T) {
	var entries []storage.Entry
	for i := 0; i < 500; i++ {
		k := []byte{byte(i >> 8), byte(i)}
		entries = append(entries, storage.Entry{Key: storage.Key(k), Version: 1})
	}
	c0 := &sliceComponent{entries: entries}
	merged := iter.NewMergedIterator([]iter.Component{c0}, storage.DefaultCompare, versionCompareDesc, nil)

	out, err := Run(merged, Options{Compare: storage.DefaultCompare, BloomFPRate: 0.01, MaxVersion: 10})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.ItemCount != 500 {
		t.Fatalf("expected 500 items, got %d", out.ItemCount)
	}
	if len(out.NodesByDepth[0]) < 2 {
		t.Fatalf("expected multiple leaves for 500 entries, got %d", len(out.NodesByDepth[0]))
	}
	if out.RootDepth < 1 {
		t.Fatalf("expected tree to grow past depth 0, got root depth %d", out.RootDepth)
	}
}
