// Package logger provides structured logging with custom levels and formatting
// for the chatsync daemon.
//
// Log output format:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, key2="two words"
//
// Custom levels beyond the standard slog set:
//   - LevelTrace (-8): per-tick scheduling detail (skipped ticks, stale results)
//   - LevelFail  (12): unrecoverable errors
package logger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ///////////////////////////////////////////////
// Custom Levels
// ///////////////////////////////////////////////

const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelFail  slog.Level = 12
)

var levelNames = []struct {
	max  slog.Level
	name string
}{
	{LevelTrace, "TRACE"},
	{LevelDebug, "DEBUG"},
	{LevelInfo, "INFO"},
	{LevelWarn, "WARN"},
	{LevelError, "ERROR"},
}

func levelName(l slog.Level) string {
	for _, n := range levelNames {
		if l <= n.max {
			return n.name
		}
	}
	return "FAIL"
}

// ParseLevel converts a level name (case-insensitive) to a slog.Level.
// Unrecognized names map to LevelInfo.
func ParseLevel(s string) slog.Level {
	for _, n := range levelNames {
		if strings.EqualFold(s, n.name) {
			return n.max
		}
	}
	if strings.EqualFold(s, "fail") {
		return LevelFail
	}
	return LevelInfo
}

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

var lineEnding = func() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}()

// Handler is a slog.Handler producing one line per record. The level is a
// [slog.Leveler] so a [slog.LevelVar] can change it while running.
type Handler struct {
	w      io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	prefix string
	attrs  string
}

// NewHandler creates a Handler that writes to w, filtering records below level.
func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	return &Handler{w: w, level: level, mu: &sync.Mutex{}}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes a log record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteString(" [")
	b.WriteString(levelName(r.Level))
	b.WriteString("] ")
	b.WriteString(r.Message)

	attrs := h.attrs
	if r.NumAttrs() > 0 {
		var rb strings.Builder
		rb.WriteString(attrs)
		r.Attrs(func(a slog.Attr) bool {
			appendAttr(&rb, h.prefix, a)
			return true
		})
		attrs = rb.String()
	}
	if attrs != "" {
		b.WriteString(" | ")
		b.WriteString(attrs)
	}
	b.WriteString(lineEnding)

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// appendAttr writes a as key=value, flattening groups into dotted keys.
func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, p, ga)
		}
		return
	}
	if b.Len() > 0 {
		b.WriteString(", ")
	}
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(formatValue(a.Value))
}

// formatValue quotes strings that would otherwise be ambiguous in the
// key=value list.
func formatValue(v slog.Value) string {
	s := v.String()
	if v.Kind() != slog.KindString && v.Kind() != slog.KindAny {
		return s
	}
	if s == "" || strings.ContainsAny(s, " ,=|\"\n\t") {
		return strconv.Quote(s)
	}
	return s
}

// WithAttrs returns a new Handler with the given attributes pre-rendered.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		appendAttr(&b, h.prefix, a)
	}
	return &Handler{w: h.w, mu: h.mu, level: h.level, prefix: h.prefix, attrs: b.String()}
}

// WithGroup returns a new Handler whose subsequent attribute keys are
// prefixed with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{w: h.w, mu: h.mu, level: h.level, prefix: h.prefix + name + ".", attrs: h.attrs}
}

// ///////////////////////////////////////////////
// Logger Constructor
// ///////////////////////////////////////////////

// NewLogger creates a slog.Logger that writes to a rotating log file and,
// when echo is non-nil, also to echo. The returned io.Closer must be closed
// to release the file.
func NewLogger(logPath string, level slog.Leveler, maxSizeMB int, echo io.Writer) (*slog.Logger, io.Closer) {
	lj := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSizeMB,
		MaxBackups: 3,
		MaxAge:     14,
	}
	var w io.Writer = lj
	if echo != nil {
		w = io.MultiWriter(lj, echo)
	}
	return slog.New(NewHandler(w, level)), lj
}

// ///////////////////////////////////////////////
// Helper Functions
// ///////////////////////////////////////////////

// Trace logs a message at LevelTrace.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Fail logs a message at LevelFail.
func Fail(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelFail, msg, args...)
}

// ///////////////////////////////////////////////
// ReadTail
// ///////////////////////////////////////////////

// ReadTail returns the last n lines of the file at path, oldest first.
func ReadTail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		ring[count%n] = strings.TrimRight(sc.Text(), "\r")
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading log file: %w", err)
	}
	if count <= n {
		return ring[:count], nil
	}
	start := count % n
	return append(ring[start:], ring[:start]...), nil
}
