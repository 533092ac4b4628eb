// Package moderation consumes kick and move commands addressed to the local
// user.
//
// The server keeps a single-slot mailbox per user; fetching a command
// removes it. The consumer applies at most one command per tick and never
// retries: a command whose application fails is still consumed, and the
// failure is reported to the user as a notice.
//
//	Idle -> Polling -> NoCommand -> Idle
//	                -> CommandFound -> Applying -> Applied     -> Idle
//	                                            -> ApplyFailed -> Idle
package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"tools.zach/dev/chatsync/internal/model"
)

// ///////////////////////////////////////////////
// Collaborators
// ///////////////////////////////////////////////

// Mailbox returns and removes the pending command of a user. A nil command
// with a nil error means the mailbox is empty.
type Mailbox interface {
	NextModerationCommand(ctx context.Context, userID string) (*model.PendingModerationCommand, error)
}

// Voice is the subset of the voice session the consumer drives.
type Voice interface {
	Current() (serverID, channelID string, ok bool)
	Join(ctx context.Context, serverID, channelID string) error
	Leave(ctx context.Context) error
}

// ///////////////////////////////////////////////
// State Machine
// ///////////////////////////////////////////////

// State is the consumer's position in its state machine.
type State int32

const (
	Idle State = iota
	Polling
	Applying
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Polling:
		return "polling"
	case Applying:
		return "applying"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Outcome is how a tick ended.
type Outcome string

const (
	// FetchFailed means the mailbox could not be read; the next tick retries.
	FetchFailed Outcome = "fetch_failed"
	// NoCommand means the mailbox was empty.
	NoCommand Outcome = "no_command"
	// Applied means the command took effect.
	Applied Outcome = "applied"
	// Ignored means the command was consumed but had nothing to act on,
	// e.g. a kick while not in voice.
	Ignored Outcome = "ignored"
	// ApplyFailed means the command was consumed but could not be applied.
	ApplyFailed Outcome = "apply_failed"
)

// Report describes one tick.
type Report struct {
	Outcome Outcome
	Command *model.PendingModerationCommand
	// Notice is the user-visible message, empty when nothing should be shown.
	Notice string
	Err    error
}

// Consumer polls the mailbox of one user and applies what it finds.
type Consumer struct {
	mailbox Mailbox
	voice   Voice
	userID  string
	state   atomic.Int32
}

// NewConsumer returns an idle Consumer for userID.
func NewConsumer(mailbox Mailbox, voice Voice, userID string) *Consumer {
	return &Consumer{mailbox: mailbox, voice: voice, userID: userID}
}

// State returns the current state.
func (c *Consumer) State() State { return State(c.state.Load()) }

// Tick fetches at most one command and applies it.
func (c *Consumer) Tick(ctx context.Context) Report {
	c.state.Store(int32(Polling))
	defer c.state.Store(int32(Idle))

	cmd, err := c.mailbox.NextModerationCommand(ctx, c.userID)
	if err != nil {
		return Report{Outcome: FetchFailed, Err: err}
	}
	if cmd == nil {
		return Report{Outcome: NoCommand}
	}

	c.state.Store(int32(Applying))
	r := c.apply(ctx, cmd)
	r.Command = cmd
	slog.Info("moderation command consumed",
		"id", cmd.ID,
		"type", cmd.Type,
		"outcome", r.Outcome,
	)
	if r.Err != nil {
		slog.Warn("moderation command failed", "id", cmd.ID, "error", r.Err)
	}
	return r
}

// apply performs cmd against the voice session.
func (c *Consumer) apply(ctx context.Context, cmd *model.PendingModerationCommand) Report {
	if cmd.TargetUserID != "" && cmd.TargetUserID != c.userID {
		return Report{Outcome: Ignored, Err: fmt.Errorf("command addressed to %q, not %q", cmd.TargetUserID, c.userID)}
	}
	serverID, _, inVoice := c.voice.Current()

	switch cmd.Type {
	case model.CommandKick:
		if !inVoice {
			return Report{Outcome: Ignored}
		}
		if err := c.voice.Leave(ctx); err != nil {
			return Report{
				Outcome: ApplyFailed,
				Notice:  "Could not disconnect from voice: " + err.Error(),
				Err:     err,
			}
		}
		return Report{Outcome: Applied, Notice: withReason("You were disconnected from voice by a moderator", cmd.Reason)}

	case model.CommandMove:
		if !inVoice {
			return Report{Outcome: Ignored}
		}
		if cmd.TargetChannelID == "" {
			return Report{Outcome: Ignored, Err: fmt.Errorf("move command %q has no target channel", cmd.ID)}
		}
		if err := c.voice.Join(ctx, serverID, cmd.TargetChannelID); err != nil {
			return Report{
				Outcome: ApplyFailed,
				Notice:  "Could not move to the requested voice channel: " + err.Error(),
				Err:     err,
			}
		}
		return Report{Outcome: Applied, Notice: withReason("You were moved to another voice channel by a moderator", cmd.Reason)}

	default:
		return Report{Outcome: Ignored, Err: fmt.Errorf("unknown command type %q", cmd.Type)}
	}
}

// withReason appends reason to msg when present.
func withReason(msg, reason string) string {
	if reason == "" {
		return msg + "."
	}
	return msg + ": " + reason
}
