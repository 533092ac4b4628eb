// Tests for the notification policy, mute preferences, the audio unlock
// gate, the single-output dispatcher and subscriber hubs.
package notify

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"tools.zach/dev/chatsync/internal/model"
	"tools.zach/dev/chatsync/internal/sound"
)

// ///////////////////////////////////////////////
// Policy Tests
// ///////////////////////////////////////////////

func TestShouldNotify(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
		want bool
	}{
		{"other user unfocused", Candidate{AuthorID: "u2", CurrentUserID: "me"}, true},
		{"self", Candidate{AuthorID: "me", CurrentUserID: "me"}, false},
		{"focused", Candidate{AuthorID: "u2", CurrentUserID: "me", Focused: true}, false},
		{"muted", Candidate{AuthorID: "u2", CurrentUserID: "me", Muted: true}, false},
		{"unknown author", Candidate{CurrentUserID: "me"}, true},
		{"unknown author muted", Candidate{CurrentUserID: "me", Muted: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldNotify(tt.c); got != tt.want {
				t.Fatalf("ShouldNotify(%+v) = %v, want %v", tt.c, got, tt.want)
			}
		})
	}
}

func TestPreferencesMuting(t *testing.T) {
	p := Preferences{
		MessageSound:   true,
		VoiceJoinSound: true,
		Muted:          []string{"server/s1", "dm/*", "server/s2/channel/quiet-*"},
	}
	tests := []struct {
		e    model.EntityID
		want bool
	}{
		{model.Server("s1"), true},
		{model.Channel("s1", "general"), true},
		{model.Direct("d7"), true},
		{model.Channel("s2", "quiet-zone"), true},
		{model.Channel("s2", "general"), false},
		{model.Server("s2"), false},
	}
	for _, tt := range tests {
		if got := p.MessageMuted(tt.e); got != tt.want {
			t.Errorf("MessageMuted(%s) = %v, want %v", tt.e, got, tt.want)
		}
	}
	if !p.VoiceMuted("s1", "v1") || p.VoiceMuted("s2", "v1") {
		t.Error("VoiceMuted does not follow server patterns")
	}

	off := Preferences{}
	if !off.MessageMuted(model.Server("x")) || !off.VoiceMuted("x", "v") {
		t.Error("disabled global switches should mute everything")
	}
}

func TestValidatePatterns(t *testing.T) {
	if bad, ok := ValidatePatterns([]string{"server/**", "dm/[ab]"}); !ok {
		t.Fatalf("valid patterns rejected at %q", bad)
	}
	if bad, ok := ValidatePatterns([]string{"dm/*", "server/[s1"}); ok || bad != "server/[s1" {
		t.Fatalf("ValidatePatterns = %q, %v", bad, ok)
	}
}

// ///////////////////////////////////////////////
// Dispatcher Tests
// ///////////////////////////////////////////////

type blockingPlayer struct {
	release chan struct{}
	started chan sound.Kind
	plays   atomic.Int32
}

func newBlockingPlayer() *blockingPlayer {
	return &blockingPlayer{release: make(chan struct{}), started: make(chan sound.Kind, 4)}
}

func (p *blockingPlayer) Play(ctx context.Context, kind sound.Kind) error {
	p.plays.Add(1)
	p.started <- kind
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return nil
}

func TestGateDropsWhileLocked(t *testing.T) {
	p := newBlockingPlayer()
	close(p.release)
	d := NewDispatcher(p, NewGate(true))

	if d.Play(sound.Message) {
		t.Fatal("played before unlock")
	}
	d.Gate().Unlock()
	d.Gate().Unlock()
	if !d.Play(sound.Message) {
		t.Fatal("did not play after unlock")
	}
	d.Wait()
	// The sound requested while locked is not replayed.
	if n := p.plays.Load(); n != 1 {
		t.Fatalf("plays = %d, want 1", n)
	}
}

func TestDispatcherDropsWhileBusy(t *testing.T) {
	p := newBlockingPlayer()
	d := NewDispatcher(p, NewGate(false))

	if !d.Play(sound.Message) {
		t.Fatal("first sound should start")
	}
	<-p.started
	if d.Play(sound.VoiceJoin) {
		t.Fatal("second sound should be dropped while the first plays")
	}
	close(p.release)
	d.Wait()
	if !d.Play(sound.VoiceJoin) {
		t.Fatal("output should be free again")
	}
	d.Wait()
	if n := p.plays.Load(); n != 2 {
		t.Fatalf("plays = %d, want 2", n)
	}
}

func TestDispatcherNilPlayer(t *testing.T) {
	d := NewDispatcher(nil, NewGate(false))
	if d.Play(sound.Message) {
		t.Fatal("nil player reported playback")
	}
}

// ///////////////////////////////////////////////
// Hub Tests
// ///////////////////////////////////////////////

func TestHubOrderAndUnsubscribe(t *testing.T) {
	var h Hub[int]
	var mu sync.Mutex
	var got []string
	add := func(name string) func() {
		return h.Subscribe(func(v int) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, name)
		})
	}
	add("a")
	unsubB := add("b")
	add("c")

	h.Publish(1)
	unsubB()
	unsubB()
	h.Publish(2)

	want := []string{"a", "b", "c", "a", "c"}
	if !slices.Equal(got, want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
}

func TestHubSubscribeFromCallback(t *testing.T) {
	var h Hub[string]
	calls := 0
	h.Subscribe(func(string) {
		calls++
		h.Subscribe(func(string) { calls++ })
	})
	h.Publish("x")
	if calls != 1 {
		t.Fatalf("calls = %d, subscribers added during publish must wait for the next one", calls)
	}
}
