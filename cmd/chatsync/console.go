package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"tools.zach/dev/chatsync/internal/engine"
	"tools.zach/dev/chatsync/internal/logger"
	"tools.zach/dev/chatsync/internal/model"
)

// ///////////////////////////////////////////////
// Output
// ///////////////////////////////////////////////

// syncWriter serializes writes from the console, the engine callbacks and
// the bell player onto one terminal.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// ///////////////////////////////////////////////
// Console
// ///////////////////////////////////////////////

// controller is the part of the engine the console drives.
type controller interface {
	Login(ctx context.Context, userID string) error
	Logout(ctx context.Context) error
	UserID() string
	SelectServer(serverID string) error
	SelectChannel(serverID, channelID string) error
	SelectConversation(conversationID string) error
	ClearSelection() error
	Selection() engine.Selection
	SetAway(away bool)
	JoinVoice(ctx context.Context, serverID, channelID string) error
	LeaveVoice(ctx context.Context) error
	VoiceMembers(channelID string) []string
	UnreadCounts() map[model.EntityID]int
	UnreadTotal(kind model.EntityKind) int
	Loops() []engine.LoopStatus
	Servers() []model.ServerSummary
	Conversations() []model.ConversationSummary
	UnlockAudio()
}

// console reads line commands and renders engine events.
type console struct {
	ctl     controller
	out     io.Writer
	logPath string
}

func newConsole(ctl controller, out io.Writer, logPath string) *console {
	return &console{ctl: ctl, out: out, logPath: logPath}
}

const helpText = `commands:
  login <user>              sign in and start syncing
  logout                    sign out and forget local read state
  server <id>               view a server
  channel <server> <id>     view a text channel
  dm <id>                   view a direct conversation
  close                     view nothing
  away | back               stop or resume looking at the current view
  servers | dms             list servers or conversations with unread counts
  unread                    list every unread counter
  join <server> <channel>   connect to a voice channel
  leave                     disconnect from voice
  who <channel>             list members of a voice channel
  status                    show user and selection
  log [n]                   show the last n log lines
  loops                     show the polling loops
  unlock                    allow sounds to play
  quit
`

var errUsage = errors.New("usage")

func arity(args []string, n int, usage string) error {
	if len(args) != n {
		return fmt.Errorf("%w: %s", errUsage, usage)
	}
	return nil
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// exec runs one command line and reports whether the console should exit.
// Any command counts as the user gesture that unlocks audio.
func (c *console) exec(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	c.ctl.UnlockAudio()

	cmd, args := strings.ToLower(fields[0]), fields[1:]
	var err error
	switch cmd {
	case "help", "?":
		c.printf("%s", helpText)
	case "quit", "exit":
		return true
	case "login":
		if err = arity(args, 1, "login <user>"); err == nil {
			err = c.ctl.Login(ctx, args[0])
		}
	case "logout":
		err = c.ctl.Logout(ctx)
	case "server":
		if err = arity(args, 1, "server <id>"); err == nil {
			err = c.ctl.SelectServer(args[0])
		}
	case "channel":
		if err = arity(args, 2, "channel <server> <id>"); err == nil {
			err = c.ctl.SelectChannel(args[0], args[1])
		}
	case "dm":
		if err = arity(args, 1, "dm <id>"); err == nil {
			err = c.ctl.SelectConversation(args[0])
		}
	case "close":
		err = c.ctl.ClearSelection()
	case "away":
		c.ctl.SetAway(true)
	case "back":
		c.ctl.SetAway(false)
	case "servers":
		c.listServers()
	case "dms":
		c.listConversations()
	case "unread":
		c.listUnread()
	case "join":
		if err = arity(args, 2, "join <server> <channel>"); err == nil {
			err = c.ctl.JoinVoice(ctx, args[0], args[1])
		}
	case "leave":
		err = c.ctl.LeaveVoice(ctx)
	case "who":
		if err = arity(args, 1, "who <channel>"); err == nil {
			members := c.ctl.VoiceMembers(args[0])
			if len(members) == 0 {
				c.printf("nobody in %s\n", args[0])
			} else {
				c.printf("%s: %s\n", args[0], strings.Join(members, ", "))
			}
		}
	case "status":
		c.status()
	case "log":
		err = c.tail(args)
	case "loops":
		c.listLoops()
	case "unlock":
		c.printf("sounds unlocked\n")
	default:
		err = fmt.Errorf("unknown command %q (try help)", cmd)
	}
	if err != nil {
		c.printf("error: %v\n", err)
	}
	return false
}

func (c *console) status() {
	user := c.ctl.UserID()
	if user == "" {
		c.printf("logged out\n")
		return
	}
	sel := c.ctl.Selection()
	view := "nothing"
	if !sel.IsZero() {
		view = sel.Entity().Key()
	}
	c.printf("user %s, viewing %s\n", user, view)
}

func (c *console) listServers() {
	counts := c.ctl.UnreadCounts()
	for _, s := range c.ctl.Servers() {
		c.printf("%-12s %-24s %d\n", s.ID, s.Name, counts[model.Server(s.ID)])
	}
}

func (c *console) listConversations() {
	counts := c.ctl.UnreadCounts()
	for _, d := range c.ctl.Conversations() {
		c.printf("%-12s %-16s %-3d %s\n", d.ID, d.OtherUserID, counts[model.Direct(d.ID)], d.LastMessagePreview)
	}
}

func (c *console) listUnread() {
	counts := c.ctl.UnreadCounts()
	if len(counts) == 0 {
		c.printf("nothing unread\n")
		return
	}
	keys := make([]string, 0, len(counts))
	byKey := make(map[string]int, len(counts))
	for e, n := range counts {
		keys = append(keys, e.Key())
		byKey[e.Key()] = n
	}
	slices.Sort(keys)
	for _, k := range keys {
		c.printf("%-32s %d\n", k, byKey[k])
	}
	c.printf("total: %d in servers, %d in channels, %d in conversations\n",
		c.ctl.UnreadTotal(model.KindServer), c.ctl.UnreadTotal(model.KindChannel), c.ctl.UnreadTotal(model.KindDirect))
}

func (c *console) listLoops() {
	for _, l := range c.ctl.Loops() {
		state := "stopped"
		if l.Running {
			state = "polling " + l.Scope
		}
		c.printf("%-18s every %-8s gen %-4d skipped %-4d %s\n", l.Name, l.Interval, l.Generation, l.Skipped, state)
	}
}

func (c *console) tail(args []string) error {
	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("%w: log [n]", errUsage)
		}
		n = v
	}
	lines, err := logger.ReadTail(c.logPath, n)
	if err != nil {
		return err
	}
	for _, l := range lines {
		c.printf("%s\n", l)
	}
	return nil
}

// ///////////////////////////////////////////////
// Event Rendering
// ///////////////////////////////////////////////

func (c *console) showMessages(ev model.MessagesEvent) {
	if ev.Initial {
		c.printf("-- %s --\n", ev.Entity.Key())
	}
	for _, m := range ev.Messages {
		c.printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.AuthorID, m.Content)
	}
}

func (c *console) showNotification(ev model.NotificationEvent) {
	c.printf("* %s from %s: %s\n", ev.Entity.Key(), ev.AuthorID, ev.Preview)
}

func (c *console) showVoice(ev model.VoiceEvent) {
	c.printf("~ %s %s voice %s/%s\n", ev.UserID, ev.Kind, ev.ServerID, ev.ChannelID)
}

func (c *console) showNotice(n model.Notice) {
	c.printf("! %s\n", n.Text)
}

func (c *console) showSelection(sel engine.Selection) {
	if sel.IsZero() {
		c.printf("> viewing nothing\n")
		return
	}
	c.printf("> viewing %s\n", sel.Entity().Key())
}
