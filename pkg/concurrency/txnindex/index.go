// Package txnindex tracks the commit state of transaction versions: the
// visibility oracle consumed by MVCC pruning and the verifier's
// prune-and-clear post-pass.
package txnindex

import (
	"sync"

	"keelstore/pkg/primitives"
)

// Index answers commit-status queries for version handles. Versions never
// registered report UNKNOWN, which pruning treats as in-flight and leaves
// intact.
type Index struct {
	mu     sync.Mutex
	status map[primitives.Version]primitives.CommitStatus
	floor  primitives.Version
}

// New creates an empty index.
func New() *Index {
	return &Index{status: make(map[primitives.Version]primitives.CommitStatus)}
}

// Begin registers a version as in flight.
func (x *Index) Begin(version primitives.Version) {
	x.mu.Lock()
	x.status[version] = primitives.StatusUnknown
	x.mu.Unlock()
}

// Commit marks a version committed.
func (x *Index) Commit(version primitives.Version) {
	x.mu.Lock()
	x.status[version] = primitives.StatusCommitted
	x.mu.Unlock()
}

// Abort marks a version aborted.
func (x *Index) Abort(version primitives.Version) {
	x.mu.Lock()
	x.status[version] = primitives.StatusAborted
	x.mu.Unlock()
}

// Status implements the pruning oracle.
func (x *Index) Status(version primitives.Version) primitives.CommitStatus {
	if version == 0 {
		return primitives.StatusCommitted
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if s, ok := x.status[version]; ok {
		return s
	}
	return primitives.StatusUnknown
}

// SetFloor records the minimum version any live snapshot can require.
func (x *Index) SetFloor(version primitives.Version) {
	x.mu.Lock()
	x.floor = version
	x.mu.Unlock()
}

// Floor returns the minimum required version for pruning decisions.
func (x *Index) Floor() primitives.Version {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.floor
}

// ResetMVVCounts drops the aborted entries at or above since, returning the
// number cleared. Called only after a full-volume prune has removed every
// trace of those versions from the trees.
func (x *Index) ResetMVVCounts(since primitives.Version) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	cleared := 0
	for version, status := range x.status {
		if status == primitives.StatusAborted && version >= since {
			delete(x.status, version)
			cleared++
		}
	}
	return cleared
}
