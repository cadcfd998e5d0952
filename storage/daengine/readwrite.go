package daengine

import (
	"github.com/cockroachdb/errors"

	"github.com/vlbadb/vlbadb/storage"
	"github.com/vlbadb/vlbadb/storage/btree"
	"github.com/vlbadb/vlbadb/storage/iter"
	"github.com/vlbadb/vlbadb/storage/version"
)

// Insert is the DA's foreground write entry point (SPEC_FULL §4.7): it
// routes through the per-CPU wait queue keyed by firstDimension and
// blocks until the admitted write actually lands in the level-0 CT.
func (da *DA) Insert(firstDimension []byte, e storage.Entry) error {
	if da.IsExiting() {
		return ErrShuttingDown
	}
	req := &WriteRequest{
		FirstDimension: firstDimension,
		Entry:          e,
		Submit: func(entry storage.Entry) error {
			ct := da.level0CT()
			if ct == nil {
				return errors.New("daengine: no level-0 CT")
			}
			return ct.Insert(entry)
		},
	}
	da.queues.Submit(req)
	return req.Wait()
}

// level0CT returns the DA's single level-0 CT (SPEC_FULL invariant 5,
// confirmed by this DA's NewDA always constructing exactly one).
func (da *DA) level0CT() *CT {
	da.mu.RLock()
	defer da.mu.RUnlock()
	if len(da.levels) == 0 || len(da.levels[0]) == 0 {
		return nil
	}
	return da.levels[0][0]
}

// isVisible reports whether entryVersion is visible from atVersion:
// exactly atVersion, or one of its ancestors.
func isVisible(vsvc *version.Service, entryVersion, atVersion storage.Version) bool {
	return entryVersion == atVersion || vsvc.IsAncestor(entryVersion, atVersion)
}

// Get is the foreground point-lookup dispatcher (SPEC_FULL §4.9): it
// scans levels newest-to-oldest (level 0 and 1 first, since those are
// never bloom-filtered), consulting each immutable CT's bloom filter
// before paying for a leaf walk. The first visible entry wins; a
// visible tombstone reports the key as absent rather than falling
// through to an older, shadowed value.
func (da *DA) Get(store *btree.Store, key storage.Key, atVersion storage.Version) (storage.Entry, bool, error) {
	da.mu.RLock()
	levels := make([][]*CT, len(da.levels))
	for i, l := range da.levels {
		levels[i] = append([]*CT(nil), l...)
	}
	da.mu.RUnlock()

	for _, level := range levels {
		sortInputsNewestFirst(level)
		for _, ct := range level {
			if ct.Bloom != nil && !ct.Bloom.MayContain(key) {
				continue
			}
			e, ok, err := ct.Lookup(store, key)
			if err != nil {
				return storage.Entry{}, false, err
			}
			if !ok || !isVisible(da.Versions, e.Version, atVersion) {
				continue
			}
			if e.Value.Kind == storage.CVTTombstone {
				return storage.Entry{}, false, nil
			}
			return e, true, nil
		}
	}
	return storage.Entry{}, false, nil
}

// boundedIterator skips entries keyed below startKey, the one bound
// iter.RangeIterator doesn't already implement (it only bounds the
// upper end).
type boundedIterator struct {
	inner    iter.Iterator
	compare  func(a, b storage.Key) int
	start    storage.Key
	hasStart bool

	next    storage.Entry
	hasNext bool
	err     error
}

func newBoundedIterator(inner iter.Iterator, compare func(a, b storage.Key) int, start storage.Key, hasStart bool) *boundedIterator {
	b := &boundedIterator{inner: inner, compare: compare, start: start, hasStart: hasStart}
	b.advance()
	return b
}

func (b *boundedIterator) advance() {
	for b.inner.HasNext() {
		e := b.inner.Next()
		if b.hasStart && b.compare(e.Key, b.start) < 0 {
			continue
		}
		b.next = e
		b.hasNext = true
		return
	}
	if err := b.inner.Err(); err != nil {
		b.err = err
	}
	b.hasNext = false
}

func (b *boundedIterator) HasNext() bool       { return b.err == nil && b.hasNext }
func (b *boundedIterator) Next() storage.Entry { e := b.next; b.advance(); return e }
func (b *boundedIterator) Err() error          { return b.err }
func (b *boundedIterator) Cancel()             { b.inner.Cancel() }

// firstPerKeyIterator collapses a (key ascending, version descending)
// stream down to the first (newest visible) entry per key, the
// dedup step a range query needs that the merge pipeline's own
// eachSkip hook (exact (key,version) duplicates only) doesn't cover.
type firstPerKeyIterator struct {
	inner   iter.Iterator
	compare func(a, b storage.Key) int

	lastKey    storage.Key
	hasLastKey bool

	next    storage.Entry
	hasNext bool
	err     error
}

func newFirstPerKeyIterator(inner iter.Iterator, compare func(a, b storage.Key) int) *firstPerKeyIterator {
	f := &firstPerKeyIterator{inner: inner, compare: compare}
	f.advance()
	return f
}

func (f *firstPerKeyIterator) advance() {
	for f.inner.HasNext() {
		e := f.inner.Next()
		if f.hasLastKey && f.compare(e.Key, f.lastKey) == 0 {
			continue
		}
		f.lastKey, f.hasLastKey = e.Key, true
		f.next, f.hasNext = e, true
		return
	}
	if err := f.inner.Err(); err != nil {
		f.err = err
	}
	f.hasNext = false
}

func (f *firstPerKeyIterator) HasNext() bool       { return f.err == nil && f.hasNext }
func (f *firstPerKeyIterator) Next() storage.Entry { e := f.next; f.advance(); return e }
func (f *firstPerKeyIterator) Err() error          { return f.err }
func (f *firstPerKeyIterator) Cancel()             { f.inner.Cancel() }

// RangeQuery returns an iterator over every key in [startKey, endKey]
// (or from/to the open ends when hasStart/hasEnd is false) visible at
// atVersion, across every level (SPEC_FULL §4.9). The live CT set is
// snapshotted under the read lock before any per-CT iterator is built,
// so a concurrent merge swapping the level lists can't be observed
// mid-scan.
func (da *DA) RangeQuery(store *btree.Store, startKey storage.Key, hasStart bool, endKey storage.Key, hasEnd bool, atVersion storage.Version) iter.Iterator {
	da.mu.RLock()
	var all []*CT
	for _, l := range da.levels {
		all = append(all, l...)
	}
	da.mu.RUnlock()
	sortInputsNewestFirst(all)

	components := make([]iter.Component, len(all))
	for i, ct := range all {
		components[i] = ct.Iterator(store, da.Versions)
	}

	merged := iter.NewMergedIterator(components, storage.DefaultCompare, da.Versions.Compare, nil)
	bounded := newBoundedIterator(merged, storage.DefaultCompare, startKey, hasStart)
	ranged := iter.NewRangeIterator(bounded, storage.DefaultCompare, endKey, hasEnd, atVersion, func(entryVersion, at storage.Version) bool {
		return isVisible(da.Versions, entryVersion, at)
	})
	return newFirstPerKeyIterator(ranged, storage.DefaultCompare)
}
