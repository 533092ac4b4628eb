package api

import (
	"context"
	"net/http"

	"tools.zach/dev/chatsync/internal/model"
)

// ///////////////////////////////////////////////
// Polled Reads
// ///////////////////////////////////////////////

// ListServers returns the servers userID belongs to.
func (c *Client) ListServers(ctx context.Context, userID string) ([]model.ServerSummary, error) {
	var out []model.ServerSummary
	_, err := c.do(ctx, c.poll, http.MethodGet, c.endpoint(nil, "api", "users", userID, "servers"), nil, &out)
	return out, err
}

// ListChannelMessagesPage returns one page of a channel's history.
func (c *Client) ListChannelMessagesPage(ctx context.Context, serverID, channelID string, q model.PageQuery) (model.Page, error) {
	var out model.Page
	target := c.endpoint(pageQuery(q), "api", "servers", serverID, "channels", channelID, "messages")
	_, err := c.do(ctx, c.poll, http.MethodGet, target, nil, &out)
	return out, err
}

// ListDirectConversations returns the direct conversations of userID.
func (c *Client) ListDirectConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	var out []model.ConversationSummary
	_, err := c.do(ctx, c.poll, http.MethodGet, c.endpoint(nil, "api", "users", userID, "conversations"), nil, &out)
	return out, err
}

// ListDirectMessagesPage returns one page of a direct conversation.
func (c *Client) ListDirectMessagesPage(ctx context.Context, conversationID string, q model.PageQuery) (model.Page, error) {
	var out model.Page
	target := c.endpoint(pageQuery(q), "api", "conversations", conversationID, "messages")
	_, err := c.do(ctx, c.poll, http.MethodGet, target, nil, &out)
	return out, err
}

// GetVoicePresence returns the voice rosters of serverID keyed by channel.
func (c *Client) GetVoicePresence(ctx context.Context, serverID string) (map[string]model.PresenceSnapshot, error) {
	out := map[string]model.PresenceSnapshot{}
	_, err := c.do(ctx, c.poll, http.MethodGet, c.endpoint(nil, "api", "servers", serverID, "voice"), nil, &out)
	if err != nil {
		return nil, err
	}
	for id, snap := range out {
		if snap.ChannelID == "" {
			snap.ChannelID = id
			out[id] = snap
		}
	}
	return out, nil
}

// NextModerationCommand pops the pending command of userID. The backend
// deletes the command as part of this call.
func (c *Client) NextModerationCommand(ctx context.Context, userID string) (*model.PendingModerationCommand, error) {
	var cmd model.PendingModerationCommand
	found, err := c.do(ctx, c.poll, http.MethodPost, c.endpoint(nil, "api", "users", userID, "moderation", "next"), nil, &cmd)
	if err != nil || !found || cmd.Type == "" {
		return nil, err
	}
	return &cmd, nil
}

// ///////////////////////////////////////////////
// Voice Signalling
// ///////////////////////////////////////////////

// voiceJoinRequest is the body of POST /api/voice/join.
type voiceJoinRequest struct {
	ServerID  string `json:"serverId"`
	ChannelID string `json:"channelId"`
}

// JoinVoice asks the backend to connect the session to a voice channel.
func (c *Client) JoinVoice(ctx context.Context, serverID, channelID string) error {
	_, err := c.do(ctx, c.action, http.MethodPost, c.endpoint(nil, "api", "voice", "join"),
		voiceJoinRequest{ServerID: serverID, ChannelID: channelID}, nil)
	return err
}

// LeaveVoice disconnects the session from voice.
func (c *Client) LeaveVoice(ctx context.Context) error {
	_, err := c.do(ctx, c.action, http.MethodPost, c.endpoint(nil, "api", "voice", "leave"), struct{}{}, nil)
	return err
}
