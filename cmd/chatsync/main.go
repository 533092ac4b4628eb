// Package main implements the chatsync daemon: it keeps a polling chat
// client's unread counters, watermarks and voice presence in sync with the
// backend, plays notification sounds, and offers a line console for
// navigation.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	"tools.zach/dev/chatsync/internal/api"
	"tools.zach/dev/chatsync/internal/config"
	"tools.zach/dev/chatsync/internal/engine"
	"tools.zach/dev/chatsync/internal/logger"
	"tools.zach/dev/chatsync/internal/notify"
	"tools.zach/dev/chatsync/internal/paths"
	"tools.zach/dev/chatsync/internal/persist"
	"tools.zach/dev/chatsync/internal/sound"
	"tools.zach/dev/chatsync/internal/voice"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time with -ldflags "-X main.version=...". Bare
// builds fall back to the VCS revision embedded by the toolchain.
var version = "dev"

// resolveVersion returns [version], or "dev+<hash>[.dirty]" when it was not
// set at build time and VCS info is available.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken returns a random token proving ownership of the PID file.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID locks the PID file and writes "PID:TOKEN" into it. The returned
// file must stay open while the daemon runs to keep the lock.
func writePID(dp DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(dp.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d:%s", os.Getpid(), token); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID unlocks and closes f, then deletes the PID file if it still
// carries token.
func removePID(dp DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(dp.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(dp.PID())
	}
}

// checkStalePID reports whether another instance holds the PID lock. A
// leftover file from a dead instance is removed.
func checkStalePID(dp DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(dp.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}
	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(dp.PID())
		f.Close()
		head, _, _ := strings.Cut(string(data), ":")
		if p, convErr := strconv.Atoi(head); convErr == nil {
			return true, p
		}
		return true, 0
	}
	_ = unlockFile(f)
	f.Close()
	os.Remove(dp.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Default Data Directory
// ///////////////////////////////////////////////

// defaultDataDir returns ~/.chatsync, or ./.chatsync when the home
// directory is unknown.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	os.Exit(start())
}

// start runs the daemon and returns the process exit code.
func start() int {
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for config, sync state, and logs")
	user := flag.String("user", "", "User to log in as (overrides account.user_id)")
	flag.Parse()

	dp := DataPaths{Root: *dataDir}
	if err := os.MkdirAll(dp.Root, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		return 1
	}
	if alive, pid := checkStalePID(dp); alive {
		fmt.Fprintf(os.Stderr, "%s already running (pid %d)\n", paths.BinaryName, pid)
		return 1
	}

	if created, err := config.WriteDefault(dp.Config()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", err)
	} else if created {
		fmt.Fprintf(os.Stderr, "wrote default config to %s\n", dp.Config())
	}
	cfg, err := config.Load(dp.Config())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(logger.ParseLevel(cfg.Log.Level))
	log, logCloser := logger.NewLogger(dp.Log(), level, cfg.Log.MaxSizeMB, nil)
	defer logCloser.Close()
	slog.SetDefault(log)
	slog.Info("chatsync starting", "version", resolveVersion(), "data_dir", dp.Root)

	token := pidToken()
	pidFile, err := writePID(dp, token)
	if err != nil {
		slog.Error("failed to write PID file", "error", err)
		return 1
	}
	defer removePID(dp, token, pidFile)

	userID := *user
	if userID == "" {
		userID = cfg.Account.UserID
	}
	if err := run(dp, cfg, level, userID, os.Stdin, os.Stdout); err != nil {
		slog.Error("daemon stopped", "error", err)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	slog.Info("chatsync stopped")
	return 0
}

// ///////////////////////////////////////////////
// Wiring
// ///////////////////////////////////////////////

// newEngine builds the engine and its collaborators from cfg. Sounds go to
// the commands configured in [notify], or else ring the bell on out.
func newEngine(dp DataPaths, cfg *config.Config, out io.Writer) (*engine.Engine, error) {
	client, err := api.New(api.Options{
		BaseURL:           cfg.Account.ServerURL,
		SessionCookie:     cfg.Account.SessionCookie,
		RequestsPerSecond: float64(cfg.Poll.RequestsPerSecond),
		Timeout:           cfg.Poll.RequestTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("create api client: %w", err)
	}
	store, err := persist.NewFileStore(dp.Sync())
	if err != nil {
		return nil, err
	}
	player := sound.New(cfg.Notify.SoundCommands(), out)
	sounds := notify.NewDispatcher(player, notify.NewGate(cfg.Notify.RequireUnlock))
	return engine.New(client, store, voice.NewSession(client), sounds, engine.Options{
		Intervals:   cfg.Poll.Intervals(),
		PageSize:    cfg.Poll.PageSize,
		Preferences: cfg.Notify.Preferences(),
	}), nil
}

// attach renders engine events on the console.
func attach(e *engine.Engine, c *console) {
	e.SubscribeToMessages(c.showMessages)
	e.SubscribeToNotificationEvents(c.showNotification)
	e.SubscribeToVoiceEvents(c.showVoice)
	e.SubscribeToNotices(c.showNotice)
	e.OnSelectionChange(c.showSelection)
}

// reloadConfig re-reads the config file and applies the settings that can
// change at runtime: notification preferences and the log level. Account
// and poll settings take effect on restart.
func reloadConfig(path string, e *engine.Engine, level *slog.LevelVar) {
	cfg, err := config.Load(path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous settings", "error", err)
		return
	}
	e.SetPreferences(cfg.Notify.Preferences())
	level.Set(logger.ParseLevel(cfg.Log.Level))
	slog.Info("config reloaded", "muted", len(cfg.Notify.Muted), "log_level", cfg.Log.Level)
}

// readLines sends each line of r to the returned channel and closes it at
// EOF.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// ///////////////////////////////////////////////
// Event Loop
// ///////////////////////////////////////////////

// run wires the engine, logs in userID when set, and serves console input,
// config changes and signals until quit, EOF or a shutdown signal.
func run(dp DataPaths, cfg *config.Config, level *slog.LevelVar, userID string, in io.Reader, out io.Writer) error {
	w := &syncWriter{w: out}
	eng, err := newEngine(dp, cfg, w)
	if err != nil {
		return err
	}
	con := newConsole(eng, w, dp.Log())
	attach(eng, con)

	var configEvents <-chan struct{}
	if watcher, werr := config.NewWatcher(dp.Config()); werr != nil {
		slog.Warn("config watching disabled", "error", werr)
	} else {
		defer watcher.Close()
		if watcher.Polling() {
			slog.Info("using polling mode for config watching")
		}
		configEvents = watcher.Events()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	stopped := false
	defer func() {
		cancel()
		if !stopped {
			<-done
		}
	}()

	if userID != "" {
		if err := eng.Login(ctx, userID); err != nil {
			slog.Error("login failed", "user", userID, "error", err)
			con.printf("error: %v\n", err)
		}
	} else {
		con.printf("not logged in; type \"login <user>\" or \"help\"\n")
	}

	lines := readLines(in)
	sigCh := signalChannel()
	for {
		select {
		case <-sigCh:
			slog.Info("received shutdown signal")
			return nil
		case line, ok := <-lines:
			if !ok || con.exec(ctx, line) {
				return nil
			}
		case <-configEvents:
			reloadConfig(dp.Config(), eng, level)
		case err := <-done:
			stopped = true
			return fmt.Errorf("engine stopped: %w", err)
		}
	}
}
