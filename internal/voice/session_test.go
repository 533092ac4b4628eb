// Tests for the voice session's join, switch and leave procedure.
package voice

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
)

type fakeTransport struct {
	mu       sync.Mutex
	calls    []string
	joinErr  error
	leaveErr error
}

func (f *fakeTransport) JoinVoice(_ context.Context, serverID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "join "+serverID+"/"+channelID)
	return f.joinErr
}

func (f *fakeTransport) LeaveVoice(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "leave")
	return f.leaveErr
}

func TestJoinSwitchLeave(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(tr)
	ctx := context.Background()

	if _, _, ok := s.Current(); ok {
		t.Fatal("new session should be disconnected")
	}
	if err := s.Join(ctx, "s1", "v1"); err != nil {
		t.Fatal(err)
	}
	if !s.InChannel("s1", "v1") || s.InChannel("s1", "v2") || s.InChannel("s2", "v1") {
		t.Fatal("InChannel mismatch after join")
	}
	if err := s.Join(ctx, "s1", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Join(ctx, "s1", "v2"); err != nil {
		t.Fatal(err)
	}
	if err := s.Leave(ctx); err != nil {
		t.Fatal(err)
	}

	want := []string{"join s1/v1", "leave", "join s1/v2", "leave"}
	if !slices.Equal(tr.calls, want) {
		t.Fatalf("transport calls = %v, want %v", tr.calls, want)
	}
}

func TestJoinFailureDisconnects(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(tr)
	ctx := context.Background()
	s.Join(ctx, "s1", "v1")

	tr.joinErr = errors.New("full")
	if err := s.Join(ctx, "s1", "v2"); err == nil {
		t.Fatal("expected join error")
	}
	if _, _, ok := s.Current(); ok {
		t.Fatal("failed switch should leave the session disconnected")
	}
}

func TestLeave(t *testing.T) {
	tr := &fakeTransport{leaveErr: errors.New("gone")}
	s := NewSession(tr)
	ctx := context.Background()

	if err := s.Leave(ctx); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	s.Join(ctx, "s1", "v1")
	if err := s.Leave(ctx); err == nil {
		t.Fatal("transport error should be reported")
	}
	if _, _, ok := s.Current(); ok {
		t.Fatal("session should be disconnected even when the transport fails")
	}
}

func TestReset(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(tr)
	s.Join(context.Background(), "s1", "v1")
	s.Reset()
	if _, _, ok := s.Current(); ok {
		t.Fatal("Reset left the session connected")
	}
	if len(tr.calls) != 1 {
		t.Fatalf("Reset signalled the backend: %v", tr.calls)
	}
}
