// Package watermark tracks, per entity, the timestamp of the newest message
// the local client has already accounted for.
//
// A watermark only ever moves forward. [Store.Observe] is the single
// mutation path: it compares a candidate timestamp against the stored one
// and keeps the maximum, so overlapping or out-of-order poll responses can
// never lower it. The first observation of an entity seeds the watermark
// without reporting anything as new, which keeps a fresh login from firing
// one notification per historical message.
package watermark

import (
	"sync"
	"time"

	"tools.zach/dev/chatsync/internal/model"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Result describes the outcome of one [Store.Observe] call.
type Result struct {
	// IsNew is true when the candidate was strictly newer than the stored
	// watermark of an already-known entity.
	IsNew bool
	// Bootstrapped is true when this call created the entity's first
	// watermark.
	Bootstrapped bool
	// Previous is the watermark before the call; zero when bootstrapping.
	Previous time.Time
}

// Store holds one watermark per entity. It is safe for concurrent use.
type Store struct {
	// mu guards marks and version.
	mu sync.Mutex
	// marks maps each observed entity to its watermark. Presence in the map
	// means "observed at least once", even when the watermark is zero
	// (an entity with no history yet).
	marks map[model.EntityID]time.Time
	// version increments on every mutation so owners can tell when a
	// persisted copy is out of date.
	version uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{marks: make(map[model.EntityID]time.Time)}
}

// ///////////////////////////////////////////////
// Observation
// ///////////////////////////////////////////////

// Observe reports whether ts is newer than the watermark of e and raises
// the watermark to max(stored, ts).
//
// When e has never been observed, the watermark is initialized to ts and
// the result is not new, regardless of ts.
func (s *Store) Observe(e model.EntityID, ts time.Time) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, seen := s.marks[e]
	if !seen {
		s.marks[e] = ts
		s.version++
		return Result{Bootstrapped: true}
	}
	if !ts.After(prev) {
		return Result{Previous: prev}
	}
	s.marks[e] = ts
	s.version++
	return Result{IsNew: true, Previous: prev}
}

// Seen reports whether e has a watermark.
func (s *Store) Seen(e model.EntityID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.marks[e]
	return ok
}

// Get returns the watermark of e and whether one exists.
func (s *Store) Get(e model.EntityID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.marks[e]
	return ts, ok
}

// Version returns a counter that changes whenever any watermark changes.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// ///////////////////////////////////////////////
// Persistence Support
// ///////////////////////////////////////////////

// Snapshot returns a copy of all watermarks.
func (s *Store) Snapshot() map[model.EntityID]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.EntityID]time.Time, len(s.marks))
	for k, v := range s.marks {
		out[k] = v
	}
	return out
}

// Restore merges marks into the store. Each entry goes through the same
// max() rule as [Store.Observe], so restoring an older copy over newer
// in-memory state never regresses a watermark.
func (s *Store) Restore(marks map[model.EntityID]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for e, ts := range marks {
		if prev, ok := s.marks[e]; ok && !ts.After(prev) {
			continue
		}
		s.marks[e] = ts
		s.version++
	}
}

// Reset drops every watermark. Used on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.marks)
	s.version++
}
