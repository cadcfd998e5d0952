// Package version implements the VersionService external collaborator
// (SPEC_FULL §6): the version DAG, its ancestor relation, its tie-break
// total order, and the snapshot-delete predicate.
//
// Grounded on the walk-the-parent-chain style of
// core/state/snapshot's diffLayer.Parent() chain in the teacher repo:
// here the "parent chain" is a version's ancestor chain instead of a
// diff layer's snapshot chain.
package version

import (
	"sync"

	"github.com/vlbadb/vlbadb/storage"
)

// Service is the external version collaborator the merge pipeline and
// the snapshot-delete filter consult. It is safe for concurrent use.
type Service struct {
	mu      sync.RWMutex
	parent  map[storage.Version]storage.Version
	maxSeen storage.Version
	deleted map[storage.Version]bool // versions administratively marked for deletion
}

// New creates a version service with a single root version.
func New(root storage.Version) *Service {
	return &Service{
		parent:  map[storage.Version]storage.Version{root: storage.NoVersion},
		maxSeen: root,
		deleted: make(map[storage.Version]bool),
	}
}

// Fork registers a new version as a child of parent and returns it.
func (s *Service) Fork(parent storage.Version) storage.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSeen++
	v := s.maxSeen
	s.parent[v] = parent
	return v
}

// MarkDeletable flags a version as eligible for garbage collection once no
// live snapshot still requires it. The total-merge snapshot-delete filter
// consults this via IsDeletable.
func (s *Service) MarkDeletable(v storage.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted[v] = true
}

// IsAncestor reports whether a is a strict ancestor of b in the version
// DAG.
func (s *Service) IsAncestor(a, b storage.Version) bool {
	if a == b {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cur := b
	for {
		p, ok := s.parent[cur]
		if !ok || p == storage.NoVersion {
			return false
		}
		if p == a {
			return true
		}
		cur = p
	}
}

// Compare gives the total tie-break order used when two entries share a
// key: newer versions sort first (return < 0), so Compare(newer, older)
// is negative. Ties for equal versions return 0. The order used is
// simply descending numeric version id, which matches "newer versions
// have higher ids" under Fork's monotonic allocation.
func (s *Service) Compare(a, b storage.Version) int {
	switch {
	case a == b:
		return 0
	case a > b:
		return -1
	default:
		return 1
	}
}

// MaxGet returns the highest version id ever allocated.
func (s *Service) MaxGet() storage.Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSeen
}

// DeletionState is a point-in-time snapshot of which ancestor versions of
// the versions visible to a total merge are themselves marked deletable.
// The snapshot-delete filter (SPEC_FULL §4.4 step 4) builds one per
// merge and consults IsDeletable for every (key, version) pair.
type DeletionState struct {
	svc       *Service
	liveRoots []storage.Version // versions reachable from a live snapshot; never delete below these
}

// NewDeletionState captures the roots that must remain reachable; any
// version not an ancestor of (or equal to) one of these may be
// considered for deletion once superseded within its lineage.
func (s *Service) NewDeletionState(liveRoots []storage.Version) *DeletionState {
	return &DeletionState{svc: s, liveRoots: liveRoots}
}

// IsDeletable reports whether the (key, version) pair can be omitted from
// merge output: the version must be marked deletable and must not be one
// of the versions a live snapshot requires.
func (ds *DeletionState) IsDeletable(v storage.Version) bool {
	ds.svc.mu.RLock()
	deletable := ds.svc.deleted[v]
	ds.svc.mu.RUnlock()
	if !deletable {
		return false
	}
	for _, root := range ds.liveRoots {
		if root == v || ds.svc.IsAncestor(v, root) {
			return false
		}
	}
	return true
}
