// Package sound plays notification sounds. The engine only depends on the
// [Player] interface; the daemon picks an implementation from config.
package sound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Kind names the sound to play.
type Kind string

const (
	// Message is played for a new message on an unfocused entity.
	Message Kind = "message"
	// VoiceJoin is played when another user joins the local user's voice channel.
	VoiceJoin Kind = "voice_join"
)

// ErrNoCommand is returned by [CommandPlayer.Play] when no command is
// configured for the requested kind.
var ErrNoCommand = errors.New("no sound command configured")

// Player plays one sound and returns when playback has finished.
type Player interface {
	Play(ctx context.Context, kind Kind) error
}

// ///////////////////////////////////////////////
// Command Player
// ///////////////////////////////////////////////

// CommandPlayer runs an external program per sound kind, for example
// ["paplay", "/usr/share/sounds/freedesktop/stereo/message.oga"].
type CommandPlayer struct {
	// Commands maps a sound kind to its argv.
	Commands map[Kind][]string
	// Timeout bounds a single playback. Zero means 10 seconds.
	Timeout time.Duration
}

// Play runs the command configured for kind.
func (p *CommandPlayer) Play(ctx context.Context, kind Kind) error {
	argv := p.Commands[kind]
	if len(argv) == 0 {
		return fmt.Errorf("%w for %q", ErrNoCommand, kind)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := exec.CommandContext(ctx, argv[0], argv[1:]...).Run(); err != nil {
		return fmt.Errorf("run %s: %w", argv[0], err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Bell Player
// ///////////////////////////////////////////////

// BellPlayer writes the terminal bell character. It is the fallback when no
// command is configured.
type BellPlayer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBellPlayer returns a BellPlayer writing to w.
func NewBellPlayer(w io.Writer) *BellPlayer {
	return &BellPlayer{w: w}
}

// Play writes one BEL.
func (p *BellPlayer) Play(_ context.Context, _ Kind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.w, "\a")
	return err
}

// ///////////////////////////////////////////////
// Selection
// ///////////////////////////////////////////////

// Nop discards every sound.
type Nop struct{}

// Play does nothing.
func (Nop) Play(context.Context, Kind) error { return nil }

// New returns a CommandPlayer when any command is configured, otherwise a
// BellPlayer on bell. A nil bell yields [Nop].
func New(commands map[Kind][]string, bell io.Writer) Player {
	for _, argv := range commands {
		if len(argv) > 0 {
			return &CommandPlayer{Commands: commands}
		}
	}
	if bell == nil {
		return Nop{}
	}
	return NewBellPlayer(bell)
}
