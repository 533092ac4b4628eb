// Tests for [FileStore]: round trips, per-user isolation, clearing,
// corruption recovery and tolerance of bad keys.
package persist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tools.zach/dev/chatsync/internal/model"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "sync"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

// ///////////////////////////////////////////////
// Round trip
// ///////////////////////////////////////////////

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)
	snap := Snapshot{
		Watermarks: map[model.EntityID]time.Time{
			model.Channel("s1", "c1"): t0,
			model.Direct("d1"):        t0.Add(time.Minute),
			model.Server("s1"):        t0.Add(2 * time.Minute),
		},
		Unread: map[model.EntityID]int{
			model.Channel("s1", "c1"): 3,
			model.Direct("d1"):        0,
		},
	}
	if err := s.Save("alice", snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Watermarks) != 3 {
		t.Fatalf("watermarks = %v, want 3 entries", got.Watermarks)
	}
	if ts := got.Watermarks[model.Channel("s1", "c1")]; !ts.Equal(t0) {
		t.Errorf("channel watermark = %v, want %v", ts, t0)
	}
	if n := got.Unread[model.Channel("s1", "c1")]; n != 3 {
		t.Errorf("channel unread = %d, want 3", n)
	}
	if _, ok := got.Unread[model.Direct("d1")]; ok {
		t.Error("zero counters should not be stored")
	}
}

func TestLoadMissingIsEmpty(t *testing.T) {
	s := newStore(t)
	got, err := s.Load("nobody")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Empty() {
		t.Fatalf("got %+v, want empty", got)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	s := newStore(t)
	a := Snapshot{Unread: map[model.EntityID]int{model.Direct("d1"): 2}}
	if err := s.Save("alice", a); err != nil {
		t.Fatalf("Save alice: %v", err)
	}

	got, err := s.Load("bob")
	if err != nil {
		t.Fatalf("Load bob: %v", err)
	}
	if !got.Empty() {
		t.Fatalf("bob sees %+v, want empty", got)
	}
}

func TestClear(t *testing.T) {
	s := newStore(t)
	snap := Snapshot{Unread: map[model.EntityID]int{model.Direct("d1"): 1}}
	if err := s.Save("alice", snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Clear("alice"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := s.Clear("alice"); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
	got, _ := s.Load("alice")
	if !got.Empty() {
		t.Fatalf("state survived Clear: %+v", got)
	}
}

func TestInvalidUserID(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"", "../etc", "a/b", "x y"} {
		if _, err := s.Load(id); !errors.Is(err, ErrInvalidUser) {
			t.Errorf("Load(%q) err = %v, want ErrInvalidUser", id, err)
		}
		if err := s.Save(id, Snapshot{}); !errors.Is(err, ErrInvalidUser) {
			t.Errorf("Save(%q) err = %v, want ErrInvalidUser", id, err)
		}
	}
}

// ///////////////////////////////////////////////
// Recovery
// ///////////////////////////////////////////////

func TestLoadCorruptedBacksUp(t *testing.T) {
	s := newStore(t)
	path := filepath.Join(s.Dir, "sync.alice.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load("alice")
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("err = %v, want ErrCorrupted", err)
	}
	if !got.Empty() {
		t.Fatalf("got %+v, want empty", got)
	}
	backup, rerr := os.ReadFile(path + ".corrupted")
	if rerr != nil {
		t.Fatalf("backup missing: %v", rerr)
	}
	if string(backup) != "{not json" {
		t.Fatalf("backup = %q", backup)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("corrupted file should be removed, stat err = %v", err)
	}
}

func TestLoadFutureVersionIsCorrupted(t *testing.T) {
	s := newStore(t)
	path := filepath.Join(s.Dir, "sync.alice.json")
	if err := os.WriteFile(path, []byte(`{"$version": 99, "userId": "alice"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("alice"); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("err = %v, want ErrCorrupted", err)
	}
}

func TestLoadForeignOwnerIsCorrupted(t *testing.T) {
	s := newStore(t)
	path := filepath.Join(s.Dir, "sync.alice.json")
	if err := os.WriteFile(path, []byte(`{"$version": 1, "userId": "mallory"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load("alice"); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("err = %v, want ErrCorrupted", err)
	}
}

func TestLoadSkipsBadKeys(t *testing.T) {
	s := newStore(t)
	path := filepath.Join(s.Dir, "sync.alice.json")
	doc := `{
  "$version": 1,
  "userId": "alice",
  "watermarks": {"dm:d1": "2026-03-01T10:00:00Z", "bogus": "2026-03-01T10:00:00Z"},
  "unread": {"dm:d1": 2, "planet:x": 4, "dm:d2": 0}
}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load("alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Watermarks) != 1 || len(got.Unread) != 1 {
		t.Fatalf("got %+v, want one watermark and one counter", got)
	}
	if got.Unread[model.Direct("d1")] != 2 {
		t.Fatalf("dm:d1 unread = %d, want 2", got.Unread[model.Direct("d1")])
	}
}

func TestLoadNegativeCounterIsCorrupted(t *testing.T) {
	s := newStore(t)
	path := filepath.Join(s.Dir, "sync.alice.json")
	doc := `{"$version": 1, "userId": "alice", "unread": {"dm:d1": 2, "dm:d2": -1}}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load("alice")
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("err = %v, want ErrCorrupted", err)
	}
	if !got.Empty() {
		t.Fatalf("got %+v, want empty", got)
	}
	if _, err := os.Stat(path + ".corrupted"); err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should be removed, stat err = %v", err)
	}
}
