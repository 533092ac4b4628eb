// Tests for the custom [Handler] output format, level filtering and hot
// level changes, attribute grouping, and [ReadTail].
package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func line(buf *bytes.Buffer) string {
	return strings.TrimRight(buf.String(), "\r\n")
}

// ///////////////////////////////////////////////
// Handler Output Format
// ///////////////////////////////////////////////

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, LevelInfo)).Info("poll failed", "loop", "servers", "attempt", 3)

	got := line(&buf)
	if !strings.Contains(got, " [INFO] poll failed | loop=servers, attempt=3") {
		t.Errorf("unexpected line %q", got)
	}
	if !strings.HasSuffix(strings.Split(got, " [")[0], "Z") {
		t.Errorf("expected UTC timestamp ending with Z, got %q", got)
	}
}

func TestHandlerNoAttrs(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, LevelInfo)).Info("no attrs")
	if strings.Contains(line(&buf), "|") {
		t.Errorf("expected no pipe separator without attrs, got %q", line(&buf))
	}
}

func TestHandlerQuotesAmbiguousValues(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{"plain", "v=plain"},
		{"two words", `v="two words"`},
		{"", `v=""`},
		{"a=b", `v="a=b"`},
		{errors.New("dial tcp: refused"), `v="dial tcp: refused"`},
		{42, "v=42"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		slog.New(NewHandler(&buf, LevelInfo)).Info("m", "v", tt.value)
		if got := line(&buf); !strings.HasSuffix(got, "| "+tt.want) {
			t.Errorf("value %v: got %q, want suffix %q", tt.value, got, tt.want)
		}
	}
}

// ///////////////////////////////////////////////
// Levels
// ///////////////////////////////////////////////

func TestHandlerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, LevelWarn))
	logger.Info("should be filtered")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Error("info message should have been filtered at warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn message should appear at warn level")
	}
}

func TestHandlerLevelVar(t *testing.T) {
	var buf bytes.Buffer
	var lv slog.LevelVar
	lv.Set(LevelWarn)
	logger := slog.New(NewHandler(&buf, &lv))

	logger.Debug("hidden")
	lv.Set(LevelTrace)
	Trace(logger, "visible")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "[TRACE] visible") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCustomLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, LevelTrace))
	Trace(logger, "trace msg")
	Fail(logger, "fail msg")

	out := buf.String()
	for _, want := range []string{"[TRACE] trace msg", "[FAIL] fail msg"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", LevelTrace},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"Warn", LevelWarn},
		{"error", LevelError},
		{"fail", LevelFail},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// ///////////////////////////////////////////////
// Attributes and Groups
// ///////////////////////////////////////////////

func TestHandlerWithAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, LevelInfo).
		WithAttrs([]slog.Attr{slog.String("user", "u1")}).
		WithGroup("loop")
	slog.New(h).Info("tick", "name", "presence", slog.Group("scope", "server", "s1"))

	got := line(&buf)
	want := "| user=u1, loop.name=presence, loop.scope.server=s1"
	if !strings.HasSuffix(got, want) {
		t.Errorf("got %q, want suffix %q", got, want)
	}
}

func TestHandlerWithGroupEmpty(t *testing.T) {
	h := NewHandler(&bytes.Buffer{}, LevelInfo)
	if h.WithGroup("") != slog.Handler(h) {
		t.Error("WithGroup with empty string should return same handler")
	}
}

func TestHandlerConcurrentWritesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, LevelInfo)
	a := slog.New(h)
	b := slog.New(h.WithAttrs([]slog.Attr{slog.String("k", "v")}))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() { defer wg.Done(); a.Info("from a") }()
		go func() { defer wg.Done(); b.Info("from b") }()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(buf.String(), "\r\n"), "\n")
	if len(lines) != 100 {
		t.Fatalf("got %d lines, want 100", len(lines))
	}
	for _, l := range lines {
		if !strings.Contains(l, "from a") && !strings.Contains(l, "from b | k=v") {
			t.Errorf("garbled line %q", l)
		}
	}
}

// ///////////////////////////////////////////////
// NewLogger / ReadTail
// ///////////////////////////////////////////////

func TestNewLoggerWritesFileAndEcho(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.log")
	var echo bytes.Buffer
	logger, closer := NewLogger(path, LevelInfo, 1, &echo)
	logger.Info("started")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "started") || !strings.Contains(echo.String(), "started") {
		t.Errorf("file=%q echo=%q", data, echo.String())
	}
}

func TestReadTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tail.log")
	os.WriteFile(path, []byte("1\n2\n3\n4\n5\n"), 0o600)

	tests := []struct {
		n    int
		want string
	}{
		{2, "4,5"},
		{5, "1,2,3,4,5"},
		{9, "1,2,3,4,5"},
		{0, ""},
	}
	for _, tt := range tests {
		got, err := ReadTail(path, tt.n)
		if err != nil {
			t.Fatalf("ReadTail(%d): %v", tt.n, err)
		}
		if strings.Join(got, ",") != tt.want {
			t.Errorf("ReadTail(%d) = %v, want %s", tt.n, got, tt.want)
		}
	}
}

func TestReadTailMissingFile(t *testing.T) {
	if _, err := ReadTail(filepath.Join(t.TempDir(), "nope.log"), 3); err == nil {
		t.Fatal("expected error for missing file")
	}
}
