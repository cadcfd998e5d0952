package iter

import (
	"github.com/cockroachdb/errors"

	"github.com/vlbadb/vlbadb/storage"
	"github.com/vlbadb/vlbadb/storage/btree"
	"github.com/vlbadb/vlbadb/storage/version"
)

// modRange is a [start,end) span of the flattened entries buffer that
// is already internally sorted — initially one leaf's worth, merged
// pairwise with its neighbor each pass (SPEC_FULL §4.2 step 2).
type modRange struct {
	start, end int
}

// ModlistSortIterator linearizes a dynamic level-0/1 tree, whose leaves
// are each internally sorted but unordered relative to one another,
// into a single fully sorted stream (SPEC_FULL §4.2).
//
// The teacher's sort helpers were all keyed to fixed machine words;
// SPEC_FULL's ordering key is (key bytes, version, source rank), so the
// merge here is hand-rolled over an index array via the pairwise
// range-merge the spec describes, rather than reused from sort.Slice.
type ModlistSortIterator struct {
	compare func(a, b storage.Key) int
	vsvc    *version.Service

	entries []storage.Entry
	order   []int
	pos     int

	err  error
	done bool
}

// NewModlistSortIterator drains an immutable leaf walk starting at
// (firstNode, firstSize) into memory and produces the sorted stream.
// vsvc supplies the version compare used to break same-key ties
// newest-first; compare is the tree's key comparator.
func NewModlistSortIterator(loader NodeLoader, firstNode btree.Cursor, firstSize uint32, vsvc *version.Service, compare func(a, b storage.Key) int) *ModlistSortIterator {
	it := &ModlistSortIterator{compare: compare, vsvc: vsvc}

	var ranges []modRange
	rangeStart := 0
	leaf := NewLeafIterator(loader, firstNode, firstSize, func(*btree.Node) {
		if rangeStart < len(it.entries) {
			ranges = append(ranges, modRange{rangeStart, len(it.entries)})
		}
		rangeStart = len(it.entries)
	})

	for leaf.HasNext() {
		it.entries = append(it.entries, leaf.Next())
	}
	if err := leaf.Err(); err != nil {
		it.err = errors.Wrap(err, "iter: modlist drain")
		return it
	}
	if rangeStart < len(it.entries) {
		ranges = append(ranges, modRange{rangeStart, len(it.entries)})
	}

	it.mergeRanges(ranges)
	return it
}

func (it *ModlistSortIterator) mergeRanges(ranges []modRange) {
	if len(ranges) == 0 {
		it.order = nil
		return
	}
	src := make([]int, len(it.entries))
	for i := range src {
		src[i] = i
	}

	for len(ranges) > 1 {
		var nextRanges []modRange
		dst := make([]int, len(src))
		out := 0
		for i := 0; i < len(ranges); i += 2 {
			if i+1 >= len(ranges) {
				r := ranges[i]
				copy(dst[out:], src[r.start:r.end])
				nextRanges = append(nextRanges, modRange{out, out + (r.end - r.start)})
				out += r.end - r.start
				continue
			}
			a, b := ranges[i], ranges[i+1]
			start := out
			ai, bi := a.start, b.start
			for ai < a.end && bi < b.end {
				if it.less(src[ai], src[bi]) {
					dst[out] = src[ai]
					ai++
				} else {
					dst[out] = src[bi]
					bi++
				}
				out++
			}
			for ai < a.end {
				dst[out] = src[ai]
				ai++
				out++
			}
			for bi < b.end {
				dst[out] = src[bi]
				bi++
				out++
			}
			nextRanges = append(nextRanges, modRange{start, out})
		}
		src, ranges = dst, nextRanges
	}
	it.order = src
}

// less implements (key_compare, version_compare_reversed): newer
// versions sort first at equal keys.
func (it *ModlistSortIterator) less(i, j int) bool {
	a, b := it.entries[i], it.entries[j]
	if c := it.compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	if it.vsvc != nil {
		return it.vsvc.Compare(a.Version, b.Version) < 0
	}
	return a.Version > b.Version
}

func (it *ModlistSortIterator) HasNext() bool {
	return it.err == nil && !it.done && it.pos < len(it.order)
}

func (it *ModlistSortIterator) Next() storage.Entry {
	e := it.entries[it.order[it.pos]]
	it.pos++
	return e
}

func (it *ModlistSortIterator) Err() error { return it.err }

func (it *ModlistSortIterator) Cancel() {
	it.done = true
	it.entries = nil
	it.order = nil
}
