// Tests for roster diffing and the per-server tracker.
package presence

import (
	"slices"
	"testing"

	"tools.zach/dev/chatsync/internal/model"
)

func snap(channelID string, users ...string) model.PresenceSnapshot {
	s := model.PresenceSnapshot{ChannelID: channelID}
	for _, u := range users {
		s.Members = append(s.Members, model.PresenceMember{UserID: u})
	}
	return s
}

// ///////////////////////////////////////////////
// Compute Tests
// ///////////////////////////////////////////////

func TestCompute(t *testing.T) {
	tests := []struct {
		name       string
		previous   Membership
		current    model.PresenceSnapshot
		wantJoined []string
		wantLeft   []string
	}{
		{
			name:     "first observation",
			previous: nil,
			current:  snap("v1", "a", "b"),
		},
		{
			name:       "join and leave",
			previous:   MembershipOf(snap("v1", "a", "b")),
			current:    snap("v1", "b", "d", "c"),
			wantJoined: []string{"c", "d"},
			wantLeft:   []string{"a"},
		},
		{
			name:       "previously empty channel",
			previous:   Membership{},
			current:    snap("v1", "a"),
			wantJoined: []string{"a"},
		},
		{
			name:     "unchanged",
			previous: MembershipOf(snap("v1", "a")),
			current:  snap("v1", "a"),
		},
		{
			name:     "blank user ids ignored",
			previous: MembershipOf(snap("v1", "a")),
			current:  snap("v1", "a", ""),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Compute("v1", tt.previous, tt.current)
			if !slices.Equal(d.Joined, tt.wantJoined) {
				t.Errorf("Joined = %v, want %v", d.Joined, tt.wantJoined)
			}
			if !slices.Equal(d.Left, tt.wantLeft) {
				t.Errorf("Left = %v, want %v", d.Left, tt.wantLeft)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Tracker Tests
// ///////////////////////////////////////////////

func TestTrackerPrimesSilently(t *testing.T) {
	tr := NewTracker("s1")
	if diffs := tr.Apply(map[string]model.PresenceSnapshot{"v1": snap("v1", "a", "b")}); len(diffs) != 0 {
		t.Fatalf("priming produced %+v", diffs)
	}
	if got := tr.Members("v1"); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("Members = %v", got)
	}
}

func TestTrackerSequence(t *testing.T) {
	tr := NewTracker("s1")
	tr.Apply(map[string]model.PresenceSnapshot{"v1": snap("v1", "a")})

	diffs := tr.Apply(map[string]model.PresenceSnapshot{
		"v2": snap("v2", "b"),
		"v1": snap("v1", "a", "c"),
	})
	if len(diffs) != 2 || diffs[0].ChannelID != "v1" || diffs[1].ChannelID != "v2" {
		t.Fatalf("diffs = %+v, want v1 then v2", diffs)
	}
	if !slices.Equal(diffs[0].Joined, []string{"c"}) || !slices.Equal(diffs[1].Joined, []string{"b"}) {
		t.Fatalf("diffs = %+v", diffs)
	}

	// v2 disappears entirely: its members left.
	diffs = tr.Apply(map[string]model.PresenceSnapshot{"v1": snap("v1", "a", "c")})
	if len(diffs) != 1 || diffs[0].ChannelID != "v2" || !slices.Equal(diffs[0].Left, []string{"b"}) {
		t.Fatalf("diffs = %+v, want b leaving v2", diffs)
	}

	// The same roster again produces nothing.
	if diffs := tr.Apply(map[string]model.PresenceSnapshot{"v1": snap("v1", "a", "c")}); len(diffs) != 0 {
		t.Fatalf("unchanged roster produced %+v", diffs)
	}
}

func TestTrackerMove(t *testing.T) {
	tr := NewTracker("s1")
	tr.Apply(map[string]model.PresenceSnapshot{"v1": snap("v1", "a"), "v2": snap("v2")})
	diffs := tr.Apply(map[string]model.PresenceSnapshot{"v1": snap("v1"), "v2": snap("v2", "a")})
	if len(diffs) != 2 {
		t.Fatalf("diffs = %+v", diffs)
	}
	if !slices.Equal(diffs[0].Left, []string{"a"}) || !slices.Equal(diffs[1].Joined, []string{"a"}) {
		t.Fatalf("move not reported as leave+join: %+v", diffs)
	}
}
