// Package model defines the data types shared by the synchronization engine
// and its collaborators: tracked entities, message pages, server and direct
// conversation summaries, voice presence snapshots, and moderation commands.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ///////////////////////////////////////////////
// Tracked Entities
// ///////////////////////////////////////////////

// EntityKind identifies what sort of conversation state an [EntityID] tracks.
type EntityKind string

const (
	// KindChannel is a text channel inside a server.
	KindChannel EntityKind = "channel"
	// KindDirect is a one-to-one direct conversation.
	KindDirect EntityKind = "dm"
	// KindServer is a server as a whole.
	KindServer EntityKind = "server"
)

// EntityID identifies a trackable unit of conversation state. Channels carry
// the ID of the server they belong to; the other kinds leave Server empty.
// The zero value means "no entity".
type EntityID struct {
	Kind   EntityKind
	ID     string
	Server string
}

// Channel returns the entity for a text channel.
func Channel(serverID, channelID string) EntityID {
	return EntityID{Kind: KindChannel, ID: channelID, Server: serverID}
}

// Direct returns the entity for a direct conversation.
func Direct(conversationID string) EntityID {
	return EntityID{Kind: KindDirect, ID: conversationID}
}

// Server returns the entity for a server.
func Server(serverID string) EntityID {
	return EntityID{Kind: KindServer, ID: serverID}
}

// IsZero reports whether e is the empty entity.
func (e EntityID) IsZero() bool { return e == EntityID{} }

// Key returns the stable string form used as a persisted map key:
// "channel:<server>/<channel>", "dm:<id>" or "server:<id>".
func (e EntityID) Key() string {
	if e.Kind == KindChannel {
		return string(e.Kind) + ":" + e.Server + "/" + e.ID
	}
	return string(e.Kind) + ":" + e.ID
}

// String implements [fmt.Stringer] using [EntityID.Key].
func (e EntityID) String() string { return e.Key() }

// Path returns the slash-separated path that mute patterns are matched
// against, e.g. "server/s1/channel/c1", "server/s1" or "dm/d1".
func (e EntityID) Path() string {
	switch e.Kind {
	case KindChannel:
		return "server/" + e.Server + "/channel/" + e.ID
	case KindServer:
		return "server/" + e.ID
	default:
		return "dm/" + e.ID
	}
}

// ParseKey is the inverse of [EntityID.Key].
func ParseKey(key string) (EntityID, error) {
	kind, rest, ok := strings.Cut(key, ":")
	if !ok || rest == "" {
		return EntityID{}, fmt.Errorf("invalid entity key %q", key)
	}
	switch EntityKind(kind) {
	case KindChannel:
		server, channel, ok := strings.Cut(rest, "/")
		if !ok || server == "" || channel == "" {
			return EntityID{}, fmt.Errorf("invalid channel key %q", key)
		}
		return Channel(server, channel), nil
	case KindDirect:
		return Direct(rest), nil
	case KindServer:
		return Server(rest), nil
	default:
		return EntityID{}, fmt.Errorf("unknown entity kind %q in key %q", kind, key)
	}
}

// ///////////////////////////////////////////////
// Messages
// ///////////////////////////////////////////////

// Message is a single chat message as returned by a page query.
type Message struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// PageQuery selects one page of history, newest first. A zero
// BeforeCreatedAt requests the latest page.
type PageQuery struct {
	Limit           int
	BeforeCreatedAt time.Time
	BeforeID        string
}

// Page is one page of messages plus whether older ones exist.
type Page struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}

// ///////////////////////////////////////////////
// Summaries
// ///////////////////////////////////////////////

// ServerSummary is one entry of the server list.
type ServerSummary struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	LastMessageAt     time.Time `json:"lastMessageAt"`
	LastMessageUserID string    `json:"lastMessageUserId"`
	Members           []string  `json:"members"`
}

// ConversationSummary is one entry of the direct conversation list.
// LastMessageUserID is optional; when empty the other participant is
// assumed to have written the last message.
type ConversationSummary struct {
	ID                 string    `json:"id"`
	OtherUserID        string    `json:"otherUserId"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
	LastMessagePreview string    `json:"lastMessagePreview"`
	LastMessageUserID  string    `json:"lastMessageUserId,omitempty"`
}

// FromOther reports whether a message by authorID comes from someone other
// than currentUserID. An empty authorID is an unknown author and counts as
// someone else.
func FromOther(authorID, currentUserID string) bool {
	return authorID == "" || authorID != currentUserID
}

// LastAuthor returns the author of the most recent message.
func (c ConversationSummary) LastAuthor() string {
	if c.LastMessageUserID != "" {
		return c.LastMessageUserID
	}
	return c.OtherUserID
}

// ///////////////////////////////////////////////
// Voice Presence
// ///////////////////////////////////////////////

// PresenceMember is one user connected to a voice channel.
type PresenceMember struct {
	UserID        string `json:"userId"`
	MicEnabled    bool   `json:"micEnabled"`
	CameraEnabled bool   `json:"cameraEnabled"`
}

// PresenceSnapshot is the full roster of one voice channel at one tick.
type PresenceSnapshot struct {
	ChannelID string           `json:"channelId"`
	Members   []PresenceMember `json:"members"`
}

// ///////////////////////////////////////////////
// Moderation
// ///////////////////////////////////////////////

// CommandType is the kind of a [PendingModerationCommand].
type CommandType string

const (
	CommandKick CommandType = "kick"
	CommandMove CommandType = "move"
)

// PendingModerationCommand is a kick or move addressed to one user.
type PendingModerationCommand struct {
	ID              string      `json:"id,omitempty"`
	TargetUserID    string      `json:"targetUserId"`
	Type            CommandType `json:"type"`
	TargetChannelID string      `json:"targetChannelId,omitempty"`
	Reason          string      `json:"reason,omitempty"`
}

// ///////////////////////////////////////////////
// Events
// ///////////////////////////////////////////////

// NotificationEvent is published for every new message that passed the
// notification policy.
type NotificationEvent struct {
	Entity   EntityID
	AuthorID string
	At       time.Time
	Preview  string
	// Sound is true when a sound was actually started for this event.
	Sound bool
}

// VoiceEventKind distinguishes joins from leaves.
type VoiceEventKind string

const (
	VoiceJoined VoiceEventKind = "joined"
	VoiceLeft   VoiceEventKind = "left"
)

// VoiceEvent reports one user joining or leaving a voice channel.
type VoiceEvent struct {
	Kind      VoiceEventKind
	ServerID  string
	ChannelID string
	UserID    string
	// Sound is true when a join sound was started for this event.
	Sound bool
}

// MessagesEvent carries messages of the selected channel or conversation,
// oldest first.
type MessagesEvent struct {
	Entity   EntityID
	Messages []Message
	// Initial is set on the first page after a channel or conversation is
	// selected; Messages is then the latest page rather than only new ones.
	Initial bool
}

// Notice is a one-line transient message meant for the user.
type Notice struct {
	Text string
	At   time.Time
}
