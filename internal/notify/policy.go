// Package notify decides whether an event deserves a sound and fans events
// out to subscribers.
//
// [ShouldNotify] is the pure policy. [Preferences] resolves per-entity mutes
// from glob patterns. [Gate] models the one-time audio unlock, and
// [Dispatcher] turns a positive decision into at most one playback, dropping
// sounds that cannot start immediately.
package notify

import (
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/chatsync/internal/model"
)

// ///////////////////////////////////////////////
// Policy
// ///////////////////////////////////////////////

// Candidate is the input of [ShouldNotify].
type Candidate struct {
	AuthorID      string
	CurrentUserID string
	Focused       bool
	Muted         bool
}

// ShouldNotify reports whether a candidate event should produce a sound:
// it must come from another user per [model.FromOther], target an unfocused
// entity, and not be muted.
func ShouldNotify(c Candidate) bool {
	return model.FromOther(c.AuthorID, c.CurrentUserID) && !c.Focused && !c.Muted
}

// ///////////////////////////////////////////////
// Preferences
// ///////////////////////////////////////////////

// Preferences holds the sound settings loaded from config.
type Preferences struct {
	// MessageSound enables sounds for new messages globally.
	MessageSound bool
	// VoiceJoinSound enables sounds for voice joins globally.
	VoiceJoinSound bool
	// Muted lists doublestar patterns matched against [model.EntityID.Path],
	// e.g. "server/s1/**" or "dm/*".
	Muted []string
}

// MessageMuted reports whether message sounds are disabled for e.
func (p Preferences) MessageMuted(e model.EntityID) bool {
	return !p.MessageSound || p.matches(e)
}

// VoiceMuted reports whether voice-join sounds are disabled for a voice
// channel of serverID.
func (p Preferences) VoiceMuted(serverID, channelID string) bool {
	return !p.VoiceJoinSound || p.matches(model.Channel(serverID, channelID))
}

// matches reports whether any mute pattern matches e. Channels are also
// muted by patterns naming their server.
func (p Preferences) matches(e model.EntityID) bool {
	paths := []string{e.Path()}
	if e.Kind == model.KindChannel {
		paths = append(paths, model.Server(e.Server).Path())
	}
	for _, pattern := range p.Muted {
		for _, path := range paths {
			ok, err := doublestar.Match(pattern, path)
			if err != nil {
				slog.Warn("invalid mute pattern", "pattern", pattern, "error", err)
				break
			}
			if ok {
				return true
			}
		}
	}
	return false
}

// ValidatePatterns returns the first malformed pattern, if any.
func ValidatePatterns(patterns []string) (string, bool) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return p, false
		}
	}
	return "", true
}
