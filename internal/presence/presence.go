// Package presence detects voice-channel joins and leaves by comparing
// successive roster snapshots.
//
// Membership is ephemeral: only the previous tick is kept, and it is
// discarded whenever the tracked server changes. The first snapshot of a
// server only primes the tracker; members already present at that point are
// never reported as joins.
package presence

import (
	"slices"
	"strings"

	"tools.zach/dev/chatsync/internal/model"
)

// ///////////////////////////////////////////////
// Differ
// ///////////////////////////////////////////////

// Membership is the set of user IDs present in a channel. A nil Membership
// means the channel has not been observed yet.
type Membership map[string]struct{}

// MembershipOf builds the membership set of a snapshot. The result is never
// nil.
func MembershipOf(snap model.PresenceSnapshot) Membership {
	m := make(Membership, len(snap.Members))
	for _, mem := range snap.Members {
		if mem.UserID != "" {
			m[mem.UserID] = struct{}{}
		}
	}
	return m
}

// Diff lists the users that joined and left a channel between two ticks.
// Both slices are sorted.
type Diff struct {
	ChannelID string
	Joined    []string
	Left      []string
}

// Empty reports whether the diff has no joins and no leaves.
func (d Diff) Empty() bool { return len(d.Joined) == 0 && len(d.Left) == 0 }

// Compute compares previous against snap. When previous is nil the channel
// is being observed for the first time and the diff is empty.
func Compute(channelID string, previous Membership, snap model.PresenceSnapshot) Diff {
	d := Diff{ChannelID: channelID}
	if previous == nil {
		return d
	}
	current := MembershipOf(snap)
	for id := range current {
		if _, ok := previous[id]; !ok {
			d.Joined = append(d.Joined, id)
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			d.Left = append(d.Left, id)
		}
	}
	slices.Sort(d.Joined)
	slices.Sort(d.Left)
	return d
}

// ///////////////////////////////////////////////
// Tracker
// ///////////////////////////////////////////////

// Tracker keeps the last-tick membership of every voice channel of one
// server. It is not safe for concurrent use.
type Tracker struct {
	serverID string
	primed   bool
	channels map[string]Membership
}

// NewTracker returns a Tracker for serverID with no observations.
func NewTracker(serverID string) *Tracker {
	return &Tracker{serverID: serverID, channels: make(map[string]Membership)}
}

// ServerID returns the server this tracker follows.
func (t *Tracker) ServerID() string { return t.serverID }

// Apply replaces the tracked membership with snaps and returns the
// non-empty diffs, ordered by channel ID.
//
// The first call only records membership. After that, a channel missing
// from a previous snapshot is treated as having been empty, so the first
// user to enter a previously empty channel is reported as a join. A channel
// that disappears from snaps is treated as having become empty.
func (t *Tracker) Apply(snaps map[string]model.PresenceSnapshot) []Diff {
	next := make(map[string]Membership, len(snaps))
	var diffs []Diff

	for id, snap := range snaps {
		next[id] = MembershipOf(snap)
		if !t.primed {
			continue
		}
		prev := t.channels[id]
		if prev == nil {
			prev = Membership{}
		}
		if d := Compute(id, prev, snap); !d.Empty() {
			diffs = append(diffs, d)
		}
	}
	if t.primed {
		for id, prev := range t.channels {
			if _, still := snaps[id]; still {
				continue
			}
			if d := Compute(id, prev, model.PresenceSnapshot{ChannelID: id}); !d.Empty() {
				diffs = append(diffs, d)
			}
		}
	}

	t.channels = next
	t.primed = true
	slices.SortFunc(diffs, func(a, b Diff) int {
		return strings.Compare(a.ChannelID, b.ChannelID)
	})
	return diffs
}

// Members returns the sorted user IDs last seen in channelID.
func (t *Tracker) Members(channelID string) []string {
	m := t.channels[channelID]
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
