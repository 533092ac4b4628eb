// Package voice tracks which voice channel the local user is connected to
// and implements the connect/disconnect procedure shared by manual channel
// switches and moderation moves. The media transport itself lives behind
// [Transport].
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNotConnected is returned by [Session.Leave] when no voice channel is
// connected.
var ErrNotConnected = errors.New("not connected to voice")

// Transport signals joins and leaves to the voice backend.
type Transport interface {
	JoinVoice(ctx context.Context, serverID, channelID string) error
	LeaveVoice(ctx context.Context) error
}

// Session is the local user's voice connection state. It is safe for
// concurrent use; joins and leaves are serialized.
type Session struct {
	transport Transport

	// op serializes Join and Leave so a moderation move cannot interleave
	// with a manual switch.
	op sync.Mutex
	// mu guards serverID and channelID.
	mu        sync.Mutex
	serverID  string
	channelID string
}

// NewSession returns a disconnected Session.
func NewSession(t Transport) *Session {
	return &Session{transport: t}
}

// Current returns the connected server and channel, if any.
func (s *Session) Current() (serverID, channelID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverID, s.channelID, s.channelID != ""
}

// InChannel reports whether the session is connected to channelID of serverID.
func (s *Session) InChannel(serverID, channelID string) bool {
	cur, ch, ok := s.Current()
	return ok && cur == serverID && ch == channelID
}

// Join connects to channelID of serverID, leaving the current channel first
// when connected elsewhere. Joining the current channel is a no-op. If the
// join fails the session ends up disconnected.
func (s *Session) Join(ctx context.Context, serverID, channelID string) error {
	s.op.Lock()
	defer s.op.Unlock()

	curServer, curChannel, connected := s.Current()
	if connected && curServer == serverID && curChannel == channelID {
		return nil
	}
	if connected {
		if err := s.transport.LeaveVoice(ctx); err != nil {
			slog.Debug("leave before switch failed", "channel", curChannel, "error", err)
		}
		s.set("", "")
	}
	if err := s.transport.JoinVoice(ctx, serverID, channelID); err != nil {
		return fmt.Errorf("join voice channel %s: %w", channelID, err)
	}
	s.set(serverID, channelID)
	slog.Info("joined voice channel", "server", serverID, "channel", channelID)
	return nil
}

// Leave disconnects from the current channel. The session is considered
// disconnected even when the transport reports an error.
func (s *Session) Leave(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	_, channel, connected := s.Current()
	if !connected {
		return ErrNotConnected
	}
	s.set("", "")
	if err := s.transport.LeaveVoice(ctx); err != nil {
		return fmt.Errorf("leave voice channel %s: %w", channel, err)
	}
	slog.Info("left voice channel", "channel", channel)
	return nil
}

// Reset forgets the connection without signalling the backend. Used on
// logout, when the session cookie is no longer valid.
func (s *Session) Reset() { s.set("", "") }

func (s *Session) set(serverID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverID = serverID
	s.channelID = channelID
}
