// Package engine keeps a polling chat client consistent with the server.
//
// An [Engine] owns the client-side sync state of the signed-in user
// (watermarks, unread counters, voice rosters, focus) and the polling loops
// that feed it. Every poll result is applied by [Engine.Run] on a single
// goroutine under the engine lock; results whose loop generation has moved
// on since the request was issued are dropped unapplied. Subscribers are
// called after the lock is released, so callbacks may call back into the
// engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"tools.zach/dev/chatsync/internal/model"
	"tools.zach/dev/chatsync/internal/moderation"
	"tools.zach/dev/chatsync/internal/notify"
	"tools.zach/dev/chatsync/internal/persist"
	"tools.zach/dev/chatsync/internal/poll"
	"tools.zach/dev/chatsync/internal/presence"
	"tools.zach/dev/chatsync/internal/unread"
	"tools.zach/dev/chatsync/internal/watermark"
)

// Loop names, also used as keys of [Options.Intervals].
const (
	LoopServers         = "servers"
	LoopChannelMessages = "channel-messages"
	LoopDMList          = "dm-list"
	LoopDMMessages      = "dm-messages"
	LoopPresence        = "presence"
	LoopCommands        = "commands"
)

// ErrNotLoggedIn is returned by operations that need a signed-in user.
var ErrNotLoggedIn = errors.New("not logged in")

// ///////////////////////////////////////////////
// Collaborators
// ///////////////////////////////////////////////

// Backend is the chat server as seen by the polling loops.
type Backend interface {
	ListServers(ctx context.Context, userID string) ([]model.ServerSummary, error)
	ListChannelMessagesPage(ctx context.Context, serverID, channelID string, q model.PageQuery) (model.Page, error)
	ListDirectConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error)
	ListDirectMessagesPage(ctx context.Context, conversationID string, q model.PageQuery) (model.Page, error)
	GetVoicePresence(ctx context.Context, serverID string) (map[string]model.PresenceSnapshot, error)
	moderation.Mailbox
}

// Store persists sync state per user.
type Store interface {
	Load(userID string) (persist.Snapshot, error)
	Save(userID string, snap persist.Snapshot) error
	Clear(userID string) error
}

// Voice is the local user's voice connection.
type Voice interface {
	moderation.Voice
	InChannel(serverID, channelID string) bool
}

// Options tunes an Engine.
type Options struct {
	// Intervals overrides loop cadences by loop name.
	Intervals map[string]time.Duration
	// PageSize is the message page size for the selected channel or conversation.
	PageSize int
	// Preferences are the initial notification preferences.
	Preferences notify.Preferences
}

var defaultIntervals = map[string]time.Duration{
	LoopServers:         2 * time.Second,
	LoopChannelMessages: 2 * time.Second,
	LoopDMList:          2500 * time.Millisecond,
	LoopDMMessages:      2500 * time.Millisecond,
	LoopPresence:        3 * time.Second,
	LoopCommands:        3 * time.Second,
}

// ///////////////////////////////////////////////
// Engine
// ///////////////////////////////////////////////

// Engine is the synchronization and notification core.
type Engine struct {
	backend  Backend
	store    Store
	voice    Voice
	sounds   *notify.Dispatcher
	sched    *poll.Scheduler
	pageSize int

	// mu guards everything below it and serializes result application with
	// navigation, so a focus reset and an increment for the same entity
	// never interleave.
	mu            sync.Mutex
	userID        string
	consumer      *moderation.Consumer
	focus         focusContext
	prefs         notify.Preferences
	marks         *watermark.Store
	unread        *unread.Ledger
	tracker       *presence.Tracker
	servers       []model.ServerSummary
	conversations []model.ConversationSummary
	// delivered records, per message loop, the newest message published to
	// SubscribeToMessages. It is independent of the watermarks, which other
	// loops may raise first.
	delivered   map[string]pageCursor
	savedMarks  uint64
	savedUnread uint64

	notifications notify.Hub[model.NotificationEvent]
	voiceEvents   notify.Hub[model.VoiceEvent]
	messages      notify.Hub[model.MessagesEvent]
	notices       notify.Hub[model.Notice]
	selections    notify.Hub[Selection]
}

// New returns a logged-out Engine. sounds may be nil to disable playback.
func New(backend Backend, store Store, voice Voice, sounds *notify.Dispatcher, opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	e := &Engine{
		backend:   backend,
		store:     store,
		voice:     voice,
		sounds:    sounds,
		sched:     poll.NewScheduler(),
		pageSize:  opts.PageSize,
		prefs:     opts.Preferences,
		marks:     watermark.New(),
		unread:    unread.New(),
		delivered: make(map[string]pageCursor),
	}
	interval := func(name string) time.Duration {
		if d, ok := opts.Intervals[name]; ok && d > 0 {
			return d
		}
		return defaultIntervals[name]
	}
	e.sched.Add(LoopServers, interval(LoopServers), e.fetchServers)
	e.sched.Add(LoopChannelMessages, interval(LoopChannelMessages), e.fetchPage)
	e.sched.Add(LoopDMList, interval(LoopDMList), e.fetchConversations)
	e.sched.Add(LoopDMMessages, interval(LoopDMMessages), e.fetchPage)
	e.sched.Add(LoopPresence, interval(LoopPresence), e.fetchPresence)
	e.sched.Add(LoopCommands, interval(LoopCommands), e.fetchCommand)
	return e
}

// Run applies poll results until ctx is done, then stops every loop.
func (e *Engine) Run(ctx context.Context) error {
	defer e.sched.StopAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-e.sched.Results():
			e.handle(r)
		}
	}
}

// LoopStatus describes one polling loop.
type LoopStatus struct {
	Name       string
	Interval   time.Duration
	Running    bool
	Scope      string
	Generation uint64
	Skipped    uint64
}

// Loops reports the state of every polling loop.
func (e *Engine) Loops() []LoopStatus {
	loops := e.sched.Loops()
	out := make([]LoopStatus, 0, len(loops))
	for _, l := range loops {
		out = append(out, LoopStatus{
			Name:       l.Name(),
			Interval:   l.Interval(),
			Running:    l.Running(),
			Scope:      l.Scope(),
			Generation: l.Generation(),
			Skipped:    l.Skipped(),
		})
	}
	return out
}

// ///////////////////////////////////////////////
// Session Lifecycle
// ///////////////////////////////////////////////

// Login rehydrates the persisted state of userID and starts the
// user-scoped loops. Logging in as the current user is a no-op; logging in
// as someone else logs the current user out first.
func (e *Engine) Login(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("login: empty user id")
	}
	e.mu.Lock()
	current := e.userID
	e.mu.Unlock()
	if current == userID {
		return nil
	}
	if current != "" {
		if err := e.Logout(ctx); err != nil {
			slog.Warn("logout before user switch failed", "user", current, "error", err)
		}
	}

	var notices []model.Notice
	e.mu.Lock()
	snap, err := e.store.Load(userID)
	switch {
	case errors.Is(err, persist.ErrCorrupted):
		slog.Error("discarding unreadable sync state", "user", userID, "error", err)
		notices = append(notices, model.Notice{Text: "Saved read state was unreadable and has been reset.", At: time.Now()})
	case err != nil:
		e.mu.Unlock()
		return fmt.Errorf("load sync state: %w", err)
	}
	e.marks.Restore(snap.Watermarks)
	if err := e.unread.Restore(snap.Unread); err != nil {
		slog.Error("persisted unread counters rejected", "user", userID, "error", err)
		e.unread.Reset()
	}

	e.userID = userID
	e.consumer = moderation.NewConsumer(e.backend, e.voice, userID)
	e.focus = focusContext{}
	clear(e.delivered)
	e.savedMarks, e.savedUnread = e.marks.Version(), e.unread.Version()

	e.sched.Loop(LoopServers).Start(userID)
	e.sched.Loop(LoopDMList).Start(userID)
	e.sched.Loop(LoopCommands).Start(userID)
	e.syncPresenceLocked()
	e.mu.Unlock()

	slog.Info("logged in", "user", userID, "watermarks", len(snap.Watermarks), "unread", len(snap.Unread))
	for _, n := range notices {
		e.notices.Publish(n)
	}
	return nil
}

// Logout stops every loop, leaves voice, discards all in-memory state and
// clears the user's persisted state.
func (e *Engine) Logout(ctx context.Context) error {
	e.mu.Lock()
	if e.userID == "" {
		e.mu.Unlock()
		return nil
	}
	userID := e.userID
	e.sched.StopAll()
	e.userID = ""
	e.consumer = nil
	e.focus = focusContext{}
	e.tracker = nil
	e.servers = nil
	e.conversations = nil
	clear(e.delivered)
	e.marks.Reset()
	e.unread.Reset()
	err := e.store.Clear(userID)
	e.mu.Unlock()

	if _, _, ok := e.voice.Current(); ok {
		if lerr := e.voice.Leave(ctx); lerr != nil {
			slog.Debug("leave voice on logout failed", "error", lerr)
		}
	}
	slog.Info("logged out", "user", userID)
	e.selections.Publish(Selection{})
	if err != nil {
		return fmt.Errorf("clear sync state: %w", err)
	}
	return nil
}

// UserID returns the signed-in user, or "".
func (e *Engine) UserID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

// ///////////////////////////////////////////////
// Navigation
// ///////////////////////////////////////////////

// SelectServer shows serverID without a channel.
func (e *Engine) SelectServer(serverID string) error {
	return e.setSelection(Selection{ServerID: serverID})
}

// SelectChannel shows channelID of serverID.
func (e *Engine) SelectChannel(serverID, channelID string) error {
	return e.setSelection(Selection{ServerID: serverID, ChannelID: channelID})
}

// SelectConversation shows a direct conversation.
func (e *Engine) SelectConversation(conversationID string) error {
	return e.setSelection(Selection{ConversationID: conversationID})
}

// ClearSelection deselects everything.
func (e *Engine) ClearSelection() error {
	return e.setSelection(Selection{})
}

// setSelection applies focus resets before any later snapshot, restarts
// every loop whose scope changed, and then fires the selection hook.
func (e *Engine) setSelection(sel Selection) error {
	e.mu.Lock()
	if e.userID == "" {
		e.mu.Unlock()
		return ErrNotLoggedIn
	}
	e.focus.sel = sel
	for _, ent := range e.focus.entities() {
		e.unread.OnFocusEntity(ent)
	}

	var channelScope, dmScope string
	if sel.ChannelID != "" {
		channelScope = model.Channel(sel.ServerID, sel.ChannelID).Key()
	}
	if sel.ConversationID != "" {
		dmScope = model.Direct(sel.ConversationID).Key()
	}
	e.scopeLoopLocked(LoopChannelMessages, channelScope)
	e.scopeLoopLocked(LoopDMMessages, dmScope)
	e.syncPresenceLocked()
	e.persistLocked()
	e.mu.Unlock()

	slog.Debug("selection changed", "server", sel.ServerID, "channel", sel.ChannelID, "conversation", sel.ConversationID)
	e.selections.Publish(sel)
	return nil
}

// Selection returns the current selection.
func (e *Engine) Selection() Selection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focus.sel
}

// SetAway marks the user as not looking at the client. While away nothing
// is focused, so the selected channel accrues unread messages and sounds.
// Coming back resets the selection's counters.
func (e *Engine) SetAway(away bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.focus.away = away
	for _, ent := range e.focus.entities() {
		e.unread.OnFocusEntity(ent)
	}
	e.persistLocked()
}

// scopeLoopLocked restarts loop name for scope when the scope changed, or
// stops it when scope is empty.
func (e *Engine) scopeLoopLocked(name, scope string) {
	l := e.sched.Loop(name)
	if scope == "" {
		l.Stop()
		return
	}
	if l.Running() && l.Scope() == scope {
		return
	}
	delete(e.delivered, name)
	l.Start(scope)
}

// syncPresenceLocked points the presence loop at the server the user is in
// voice on, or else the selected server.
func (e *Engine) syncPresenceLocked() {
	scope := e.focus.sel.ServerID
	if serverID, _, ok := e.voice.Current(); ok {
		scope = serverID
	}
	if e.userID == "" {
		scope = ""
	}
	l := e.sched.Loop(LoopPresence)
	if scope != "" && l.Running() && l.Scope() == scope {
		return
	}
	e.tracker = nil
	if scope == "" {
		l.Stop()
		return
	}
	e.tracker = presence.NewTracker(scope)
	l.Start(scope)
}

// ///////////////////////////////////////////////
// Unread and Watermarks
// ///////////////////////////////////////////////

// GetUnreadCount returns the unread counter of ent.
func (e *Engine) GetUnreadCount(ent model.EntityID) int {
	return e.unread.Count(ent)
}

// UnreadTotal returns the sum of the counters of one entity kind.
func (e *Engine) UnreadTotal(kind model.EntityKind) int {
	return e.unread.Total(kind)
}

// UnreadCounts returns every non-zero counter.
func (e *Engine) UnreadCounts() map[model.EntityID]int {
	return e.unread.Snapshot()
}

// OnFocusEntity resets the counter of ent, for example when the user marks
// it as read without navigating to it.
func (e *Engine) OnFocusEntity(ent model.EntityID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unread.OnFocusEntity(ent)
	e.persistLocked()
}

// NoteSent raises the watermark of ent to a message the local user just
// sent, so the next poll does not treat it as new.
func (e *Engine) NoteSent(ent model.EntityID, createdAt time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.userID == "" {
		return ErrNotLoggedIn
	}
	e.marks.Observe(ent, createdAt)
	e.persistLocked()
	return nil
}

// Servers returns the server list from the latest poll.
func (e *Engine) Servers() []model.ServerSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.servers)
}

// Conversations returns the conversation list from the latest poll.
func (e *Engine) Conversations() []model.ConversationSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.conversations)
}

// persistLocked saves state when a watermark or counter changed since the
// last successful save.
func (e *Engine) persistLocked() {
	if e.userID == "" {
		return
	}
	mv, uv := e.marks.Version(), e.unread.Version()
	if mv == e.savedMarks && uv == e.savedUnread {
		return
	}
	snap := persist.Snapshot{Watermarks: e.marks.Snapshot(), Unread: e.unread.Snapshot()}
	if err := e.store.Save(e.userID, snap); err != nil {
		slog.Warn("failed to save sync state", "user", e.userID, "error", err)
		return
	}
	e.savedMarks, e.savedUnread = mv, uv
}

// ///////////////////////////////////////////////
// Voice
// ///////////////////////////////////////////////

// JoinVoice connects to a voice channel, leaving the current one first.
// A failure is also reported as a notice.
func (e *Engine) JoinVoice(ctx context.Context, serverID, channelID string) error {
	if e.UserID() == "" {
		return ErrNotLoggedIn
	}
	err := e.voice.Join(ctx, serverID, channelID)
	e.mu.Lock()
	e.syncPresenceLocked()
	e.mu.Unlock()
	if err != nil {
		e.notices.Publish(model.Notice{Text: "Could not join voice: " + err.Error(), At: time.Now()})
	}
	return err
}

// LeaveVoice disconnects from voice.
func (e *Engine) LeaveVoice(ctx context.Context) error {
	if e.UserID() == "" {
		return ErrNotLoggedIn
	}
	err := e.voice.Leave(ctx)
	e.mu.Lock()
	e.syncPresenceLocked()
	e.mu.Unlock()
	return err
}

// VoiceMembers returns the last observed roster of a voice channel on the
// server whose presence is being polled.
func (e *Engine) VoiceMembers(channelID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tracker == nil {
		return nil
	}
	return e.tracker.Members(channelID)
}

// ///////////////////////////////////////////////
// Preferences and Audio
// ///////////////////////////////////////////////

// SetPreferences replaces the notification preferences.
func (e *Engine) SetPreferences(p notify.Preferences) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prefs = p
}

// Preferences returns the notification preferences.
func (e *Engine) Preferences() notify.Preferences {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.prefs
	p.Muted = slices.Clone(p.Muted)
	return p
}

// UnlockAudio records the user gesture that allows sounds to play.
func (e *Engine) UnlockAudio() {
	if e.sounds != nil {
		e.sounds.Gate().Unlock()
	}
}

// ///////////////////////////////////////////////
// Subscriptions
// ///////////////////////////////////////////////

// SubscribeToNotificationEvents registers fn for messages that passed the
// notification policy. The returned function unsubscribes.
func (e *Engine) SubscribeToNotificationEvents(fn func(model.NotificationEvent)) func() {
	return e.notifications.Subscribe(fn)
}

// SubscribeToVoiceEvents registers fn for voice joins and leaves of other
// users.
func (e *Engine) SubscribeToVoiceEvents(fn func(model.VoiceEvent)) func() {
	return e.voiceEvents.Subscribe(fn)
}

// SubscribeToVoiceJoinEvents registers fn for voice joins only.
func (e *Engine) SubscribeToVoiceJoinEvents(fn func(model.VoiceEvent)) func() {
	return e.voiceEvents.Subscribe(func(ev model.VoiceEvent) {
		if ev.Kind == model.VoiceJoined {
			fn(ev)
		}
	})
}

// SubscribeToMessages registers fn for messages of the selected channel or
// conversation.
func (e *Engine) SubscribeToMessages(fn func(model.MessagesEvent)) func() {
	return e.messages.Subscribe(fn)
}

// SubscribeToNotices registers fn for user-visible notices.
func (e *Engine) SubscribeToNotices(fn func(model.Notice)) func() {
	return e.notices.Subscribe(fn)
}

// OnSelectionChange registers fn to run after every navigation, once the
// loops of the previous selection have been invalidated. Transient view
// state tied to the old selection should be reset there.
func (e *Engine) OnSelectionChange(fn func(Selection)) func() {
	return e.selections.Subscribe(fn)
}
