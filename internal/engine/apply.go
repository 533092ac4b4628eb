package engine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"tools.zach/dev/chatsync/internal/logger"
	"tools.zach/dev/chatsync/internal/model"
	"tools.zach/dev/chatsync/internal/moderation"
	"tools.zach/dev/chatsync/internal/notify"
	"tools.zach/dev/chatsync/internal/poll"
	"tools.zach/dev/chatsync/internal/presence"
	"tools.zach/dev/chatsync/internal/sound"
)

// previewLen bounds the preview carried by notification events.
const previewLen = 80

// ///////////////////////////////////////////////
// Fetchers
// ///////////////////////////////////////////////

func (e *Engine) fetchServers(ctx context.Context, userID string) (any, error) {
	return e.backend.ListServers(ctx, userID)
}

func (e *Engine) fetchConversations(ctx context.Context, userID string) (any, error) {
	return e.backend.ListDirectConversations(ctx, userID)
}

// fetchPage loads the latest page of the entity named by scope.
func (e *Engine) fetchPage(ctx context.Context, scope string) (any, error) {
	ent, err := model.ParseKey(scope)
	if err != nil {
		return nil, err
	}
	q := model.PageQuery{Limit: e.pageSize}
	switch ent.Kind {
	case model.KindChannel:
		return e.backend.ListChannelMessagesPage(ctx, ent.Server, ent.ID, q)
	case model.KindDirect:
		return e.backend.ListDirectMessagesPage(ctx, ent.ID, q)
	default:
		return nil, fmt.Errorf("%s has no message history", ent)
	}
}

func (e *Engine) fetchPresence(ctx context.Context, serverID string) (any, error) {
	return e.backend.GetVoicePresence(ctx, serverID)
}

// fetchCommand runs one moderation tick. Applying the command happens here,
// on the loop goroutine, because it performs network calls of its own.
func (e *Engine) fetchCommand(ctx context.Context, userID string) (any, error) {
	e.mu.Lock()
	c := e.consumer
	current := e.userID
	e.mu.Unlock()
	if c == nil || current != userID {
		return nil, ErrNotLoggedIn
	}
	rep := c.Tick(ctx)
	if rep.Outcome == moderation.FetchFailed {
		return nil, rep.Err
	}
	return rep, nil
}

// ///////////////////////////////////////////////
// Effects
// ///////////////////////////////////////////////

// effects collects what a result application wants to publish once the
// engine lock is released.
type effects struct {
	notifications []model.NotificationEvent
	voice         []voiceEffect
	messages      []model.MessagesEvent
	notices       []model.Notice
}

type voiceEffect struct {
	event model.VoiceEvent
	sound bool
}

func (e *Engine) publish(fx *effects) {
	for _, ev := range fx.messages {
		e.messages.Publish(ev)
	}
	for _, ev := range fx.notifications {
		ev.Sound = e.play(sound.Message)
		e.notifications.Publish(ev)
	}
	for _, v := range fx.voice {
		if v.sound {
			v.event.Sound = e.play(sound.VoiceJoin)
		}
		e.voiceEvents.Publish(v.event)
	}
	for _, n := range fx.notices {
		e.notices.Publish(n)
	}
}

func (e *Engine) play(kind sound.Kind) bool {
	return e.sounds != nil && e.sounds.Play(kind)
}

// ///////////////////////////////////////////////
// Result Application
// ///////////////////////////////////////////////

// handle applies one poll result and releases its loop.
func (e *Engine) handle(r *poll.Result) {
	defer r.Ack()
	if r.Err != nil {
		slog.Debug("poll failed", "loop", r.Loop, "scope", r.Scope, "error", r.Err)
		return
	}

	fx := &effects{}
	e.mu.Lock()
	if e.userID == "" || !e.sched.Current(r) {
		e.mu.Unlock()
		logger.Trace(slog.Default(), "stale poll result discarded", "loop", r.Loop, "generation", r.Generation, "scope", r.Scope)
		// A moderation command was consumed and applied during the fetch,
		// so its outcome is still shown.
		if rep, ok := r.Value.(moderation.Report); ok && rep.Notice != "" {
			e.notices.Publish(model.Notice{Text: rep.Notice, At: time.Now()})
		}
		return
	}
	e.applyLocked(r, fx)
	e.persistLocked()
	e.mu.Unlock()

	e.publish(fx)
}

func (e *Engine) applyLocked(r *poll.Result, fx *effects) {
	switch v := r.Value.(type) {
	case []model.ServerSummary:
		e.applyServersLocked(v, fx)
	case []model.ConversationSummary:
		e.applyConversationsLocked(v, fx)
	case model.Page:
		e.applyPageLocked(r, v, fx)
	case map[string]model.PresenceSnapshot:
		e.applyPresenceLocked(r.Scope, v, fx)
	case moderation.Report:
		e.applyReportLocked(v, fx)
	default:
		slog.Error("unexpected poll value", "loop", r.Loop, "type", fmt.Sprintf("%T", r.Value))
	}
}

// ingestLocked runs one message observation through the watermark store,
// the unread ledger and the notification policy.
func (e *Engine) ingestLocked(ent model.EntityID, authorID string, at time.Time, preview string, fx *effects) {
	res := e.marks.Observe(ent, at)
	if !res.IsNew {
		return
	}
	focused := e.focus.focused(ent)
	e.unread.OnIncomingMessage(ent, authorID, e.userID, focused, true)
	if notify.ShouldNotify(notify.Candidate{
		AuthorID:      authorID,
		CurrentUserID: e.userID,
		Focused:       focused,
		Muted:         e.prefs.MessageMuted(ent),
	}) {
		fx.notifications = append(fx.notifications, model.NotificationEvent{
			Entity:   ent,
			AuthorID: authorID,
			At:       at,
			Preview:  preview,
		})
	}
}

func (e *Engine) applyServersLocked(list []model.ServerSummary, fx *effects) {
	e.servers = list
	for _, s := range list {
		e.ingestLocked(model.Server(s.ID), s.LastMessageUserID, s.LastMessageAt, s.Name, fx)
	}
}

func (e *Engine) applyConversationsLocked(list []model.ConversationSummary, fx *effects) {
	e.conversations = list
	for _, c := range list {
		e.ingestLocked(model.Direct(c.ID), c.LastAuthor(), c.LastMessageAt, truncate(c.LastMessagePreview), fx)
	}
}

// pageCursor is the newest message a message loop has delivered within one
// generation.
type pageCursor struct {
	gen uint64
	at  time.Time
	id  string
}

// precedes reports whether m sorts after the cursor.
func (c pageCursor) precedes(m model.Message) bool {
	if d := m.CreatedAt.Compare(c.at); d != 0 {
		return d > 0
	}
	return m.ID > c.id
}

// applyPageLocked handles the latest page of the selected channel or
// conversation. An entity seen for the first time is bootstrapped to its
// newest message without counting anything. Delivery to message
// subscribers follows the loop's own cursor, not the watermark, which the
// dm-list loop may already have raised.
func (e *Engine) applyPageLocked(r *poll.Result, page model.Page, fx *effects) {
	ent, err := model.ParseKey(r.Scope)
	if err != nil {
		slog.Error("bad page scope", "scope", r.Scope, "error", err)
		return
	}
	msgs := slices.Clone(page.Messages)
	slices.SortFunc(msgs, func(a, b model.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if !e.marks.Seen(ent) {
		var latest time.Time
		if n := len(msgs); n > 0 {
			latest = msgs[n-1].CreatedAt
		}
		e.marks.Observe(ent, latest)
		slog.Debug("watermark bootstrapped", "entity", ent, "at", latest, "history", len(msgs))
	} else {
		for _, m := range msgs {
			e.ingestLocked(ent, m.AuthorID, m.CreatedAt, truncate(m.Content), fx)
		}
	}

	cur, ok := e.delivered[r.Loop]
	initial := !ok || cur.gen != r.Generation
	if initial {
		cur = pageCursor{gen: r.Generation}
	}
	var out []model.Message
	for _, m := range msgs {
		if initial || cur.precedes(m) {
			out = append(out, m)
		}
	}
	if n := len(msgs); n > 0 && cur.precedes(msgs[n-1]) {
		cur.at, cur.id = msgs[n-1].CreatedAt, msgs[n-1].ID
	}
	e.delivered[r.Loop] = cur

	if len(out) > 0 || initial {
		fx.messages = append(fx.messages, model.MessagesEvent{Entity: ent, Messages: out, Initial: initial})
	}
}

func (e *Engine) applyPresenceLocked(serverID string, snaps map[string]model.PresenceSnapshot, fx *effects) {
	if e.tracker == nil || e.tracker.ServerID() != serverID {
		e.tracker = presence.NewTracker(serverID)
	}
	for _, d := range e.tracker.Apply(snaps) {
		for _, uid := range d.Joined {
			if uid == e.userID {
				continue
			}
			fx.voice = append(fx.voice, voiceEffect{
				event: model.VoiceEvent{Kind: model.VoiceJoined, ServerID: serverID, ChannelID: d.ChannelID, UserID: uid},
				sound: e.voice.InChannel(serverID, d.ChannelID) && !e.prefs.VoiceMuted(serverID, d.ChannelID),
			})
		}
		for _, uid := range d.Left {
			if uid == e.userID {
				continue
			}
			fx.voice = append(fx.voice, voiceEffect{
				event: model.VoiceEvent{Kind: model.VoiceLeft, ServerID: serverID, ChannelID: d.ChannelID, UserID: uid},
			})
		}
	}
}

func (e *Engine) applyReportLocked(rep moderation.Report, fx *effects) {
	if rep.Notice != "" {
		fx.notices = append(fx.notices, model.Notice{Text: rep.Notice, At: time.Now()})
	}
	if rep.Command != nil {
		e.syncPresenceLocked()
	}
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen-1]) + "…"
}
