// Package registry holds the process-wide table mapping raft participant
// identifiers to their last persisted snapshot index. The on-disk snapshot
// directory stays authoritative; this table is a hot cache consulted by the
// log-truncation and peer-catchup paths to decide what log prefix is safely
// discardable.
package registry

import (
	gocache "github.com/patrickmn/go-cache"
)

// Registry is safe for concurrent readers on any task. Each key is written
// only by the manager owning the corresponding participant, so the tiny
// per-key write set never contends.
type Registry struct {
	table *gocache.Cache
}

// Default is the shared instance for the process, initialized at startup.
var Default = New()

// New creates an empty registry. Entries never expire; they live until the
// participant is dropped.
func New() *Registry {
	return &Registry{
		table: gocache.New(gocache.NoExpiration, 0),
	}
}

// Publish records index as the last persisted snapshot index for uid.
func (r *Registry) Publish(uid string, index uint64) {
	r.table.Set(uid, index, gocache.NoExpiration)
}

// LastSnapshotIndex returns the last published index for uid, or ok=false
// when the participant has no snapshot.
func (r *Registry) LastSnapshotIndex(uid string) (uint64, bool) {
	v, found := r.table.Get(uid)
	if !found {
		return 0, false
	}
	return v.(uint64), true
}

// Drop removes the entry for uid, typically on participant shutdown.
func (r *Registry) Drop(uid string) {
	r.table.Delete(uid)
}
