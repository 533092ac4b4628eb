package engine

import "tools.zach/dev/chatsync/internal/model"

// Selection is what the user has navigated to. At most one of ChannelID and
// ConversationID is set; ChannelID implies ServerID.
type Selection struct {
	ServerID       string
	ChannelID      string
	ConversationID string
}

// IsZero reports whether nothing is selected.
func (s Selection) IsZero() bool { return s == Selection{} }

// Entity returns the most specific entity of the selection, or the zero
// EntityID when nothing is selected.
func (s Selection) Entity() model.EntityID {
	switch {
	case s.ConversationID != "":
		return model.Direct(s.ConversationID)
	case s.ChannelID != "":
		return model.Channel(s.ServerID, s.ChannelID)
	case s.ServerID != "":
		return model.Server(s.ServerID)
	default:
		return model.EntityID{}
	}
}

// focusContext is the engine's view of what the user is looking at. It is
// guarded by Engine.mu.
type focusContext struct {
	sel Selection
	// away is set while the user is not looking at the client at all, for
	// example with the window minimized. Nothing is focused while away.
	away bool
}

// focused reports whether e is currently in view. A server counts as
// focused while any of its channels, or the server itself, is selected.
func (f focusContext) focused(e model.EntityID) bool {
	if f.away {
		return false
	}
	switch e.Kind {
	case model.KindChannel:
		return f.sel.ServerID == e.Server && f.sel.ChannelID == e.ID
	case model.KindDirect:
		return f.sel.ConversationID == e.ID
	case model.KindServer:
		return f.sel.ConversationID == "" && f.sel.ServerID == e.ID
	}
	return false
}

// entities returns every entity focused by the current selection, most
// specific first.
func (f focusContext) entities() []model.EntityID {
	if f.away {
		return nil
	}
	var out []model.EntityID
	if f.sel.ConversationID != "" {
		return append(out, model.Direct(f.sel.ConversationID))
	}
	if f.sel.ChannelID != "" {
		out = append(out, model.Channel(f.sel.ServerID, f.sel.ChannelID))
	}
	if f.sel.ServerID != "" {
		out = append(out, model.Server(f.sel.ServerID))
	}
	return out
}
