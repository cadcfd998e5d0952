package iter

import "github.com/vlbadb/vlbadb/storage"

// RangeIterator bounds a component iterator to [startKey, endKey] and
// filters to the requested version's visible value, used by both a
// single CT's range scan and the DA-wide range query that wraps one
// per CT (SPEC_FULL §4.9).
type RangeIterator struct {
	inner    Iterator
	compare  func(a, b storage.Key) int
	endKey   storage.Key
	hasEnd   bool
	atVersion storage.Version
	isVisible func(entryVersion, atVersion storage.Version) bool

	next    storage.Entry
	hasNext bool
	err     error
}

// NewRangeIterator wraps inner (typically a MergedIterator over one or
// more CTs) bounded to keys <= endKey (hasEnd=false means unbounded,
// i.e. up to MAX_KEY) and to versions visible from atVersion per
// isVisible (ordinarily "v == atVersion or v is an ancestor of
// atVersion").
func NewRangeIterator(inner Iterator, compare func(a, b storage.Key) int, endKey storage.Key, hasEnd bool, atVersion storage.Version, isVisible func(entryVersion, atVersion storage.Version) bool) *RangeIterator {
	r := &RangeIterator{inner: inner, compare: compare, endKey: endKey, hasEnd: hasEnd, atVersion: atVersion, isVisible: isVisible}
	r.advance()
	return r
}

func (r *RangeIterator) advance() {
	for r.inner.HasNext() {
		e := r.inner.Next()
		if r.hasEnd && r.compare(e.Key, r.endKey) > 0 {
			r.hasNext = false
			return
		}
		if r.isVisible != nil && !r.isVisible(e.Version, r.atVersion) {
			continue
		}
		r.next = e
		r.hasNext = true
		return
	}
	if err := r.inner.Err(); err != nil {
		r.err = err
	}
	r.hasNext = false
}

func (r *RangeIterator) HasNext() bool {
	return r.err == nil && r.hasNext
}

func (r *RangeIterator) Next() storage.Entry {
	e := r.next
	r.advance()
	return e
}

func (r *RangeIterator) Err() error { return r.err }

func (r *RangeIterator) Cancel() { r.inner.Cancel() }
