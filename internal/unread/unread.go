// Package unread derives per-entity unread counters from watermark
// comparisons. Counters only grow by one per new message from another user
// on an unfocused entity, and drop to zero exactly when the entity is
// focused.
package unread

import (
	"errors"
	"fmt"
	"sync"

	"tools.zach/dev/chatsync/internal/model"
)

// ErrNegativeCount is returned by [Ledger.Restore] when persisted data holds
// a negative counter. A negative count can only come from a bug or a
// tampered file, so it is reported instead of being clamped.
var ErrNegativeCount = errors.New("negative unread count")

// Ledger holds unread counters. Reads are safe from any goroutine.
type Ledger struct {
	mu      sync.RWMutex
	counts  map[model.EntityID]int
	version uint64
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{counts: make(map[model.EntityID]int)}
}

// OnIncomingMessage increments the counter of e when the message is from
// someone other than currentUserID, e is not focused, and the watermark
// store judged the message new. It reports whether the counter changed.
func (l *Ledger) OnIncomingMessage(e model.EntityID, authorID, currentUserID string, focused, isNew bool) bool {
	if !isNew || focused || !model.FromOther(authorID, currentUserID) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[e]++
	l.version++
	return true
}

// OnFocusEntity sets the counter of e to zero.
func (l *Ledger) OnFocusEntity(e model.EntityID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.counts[e]; !ok {
		return
	}
	delete(l.counts, e)
	l.version++
}

// Count returns the unread counter of e.
func (l *Ledger) Count(e model.EntityID) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[e]
}

// Total returns the sum of all counters of the given kind.
func (l *Ledger) Total(kind model.EntityKind) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var n int
	for e, c := range l.counts {
		if e.Kind == kind {
			n += c
		}
	}
	return n
}

// Version returns a counter that changes whenever any unread count changes.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Snapshot returns a copy of all non-zero counters.
func (l *Ledger) Snapshot() map[model.EntityID]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[model.EntityID]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

// Restore replaces all counters. It rejects the whole input if any counter
// is negative, leaving the ledger untouched.
func (l *Ledger) Restore(counts map[model.EntityID]int) error {
	for e, c := range counts {
		if c < 0 {
			return fmt.Errorf("%w: %s = %d", ErrNegativeCount, e, c)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.counts)
	for e, c := range counts {
		if c > 0 {
			l.counts[e] = c
		}
	}
	l.version++
	return nil
}

// Reset drops every counter. Used on logout.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.counts)
	l.version++
}
