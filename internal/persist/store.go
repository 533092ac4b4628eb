// Package persist keeps per-user sync state (watermarks and unread counters)
// on disk so a restarted client does not re-notify for history it already
// observed. Each user gets an independent file; a user's file is never read
// or written on behalf of another user.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"tools.zach/dev/chatsync/internal/atomicfile"
	"tools.zach/dev/chatsync/internal/migrate"
	"tools.zach/dev/chatsync/internal/model"
	"tools.zach/dev/chatsync/internal/paths"
)

// ErrCorrupted is returned by [FileStore.Load] when a state file could not
// be decoded. The unreadable file has already been moved aside.
var ErrCorrupted = errors.New("corrupted sync state")

// ErrInvalidUser is returned for user ids that cannot safely name a file.
var ErrInvalidUser = errors.New("invalid user id")

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,128}$`)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Snapshot is the durable portion of the engine's state for one user.
type Snapshot struct {
	Watermarks map[model.EntityID]time.Time
	Unread     map[model.EntityID]int
}

// Empty reports whether s carries no state.
func (s Snapshot) Empty() bool { return len(s.Watermarks) == 0 && len(s.Unread) == 0 }

// document is the on-disk JSON shape. Entity ids are flattened to their
// [model.EntityID.Key] form.
type document struct {
	Version    int                  `json:"$version"`
	UserID     string               `json:"userId"`
	SavedAt    time.Time            `json:"savedAt"`
	Watermarks map[string]time.Time `json:"watermarks"`
	Unread     map[string]int       `json:"unread"`
}

// FileStore stores one JSON file per user under Dir.
type FileStore struct {
	Dir string
}

// NewFileStore returns a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sync dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(userID string) (string, error) {
	if !userIDPattern.MatchString(userID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}
	return filepath.Join(s.Dir, paths.SyncFileForUser(userID)), nil
}

// ///////////////////////////////////////////////
// Load / Save / Clear
// ///////////////////////////////////////////////

// Load reads the state saved for userID. A missing file yields an empty
// snapshot and no error. A file that fails to decode or holds a negative
// counter is backed up with a ".corrupted" suffix, removed, and reported as
// [ErrCorrupted] alongside an empty snapshot.
func (s *FileStore) Load(userID string) (Snapshot, error) {
	p, err := s.path(userID)
	if err != nil {
		return Snapshot{}, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read sync state: %w", err)
	}

	doc, err := decode(data)
	if err != nil {
		return Snapshot{}, quarantine(p, data, err)
	}
	if doc.UserID != "" && doc.UserID != userID {
		return Snapshot{}, quarantine(p, data, fmt.Errorf("file belongs to user %q", doc.UserID))
	}
	if err := doc.validate(); err != nil {
		return Snapshot{}, quarantine(p, data, err)
	}
	return doc.snapshot(), nil
}

// Save atomically replaces the state stored for userID.
func (s *FileStore) Save(userID string, snap Snapshot) error {
	p, err := s.path(userID)
	if err != nil {
		return err
	}
	doc := document{
		Version:    migrate.Sync.CurrentVersion,
		UserID:     userID,
		SavedAt:    time.Now().UTC(),
		Watermarks: make(map[string]time.Time, len(snap.Watermarks)),
		Unread:     make(map[string]int, len(snap.Unread)),
	}
	for e, ts := range snap.Watermarks {
		doc.Watermarks[e.Key()] = ts.UTC()
	}
	for e, n := range snap.Unread {
		if n > 0 {
			doc.Unread[e.Key()] = n
		}
	}
	return atomicfile.Encode(p, 0o600, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	})
}

// Clear removes the state stored for userID. Clearing a user with no state
// is not an error.
func (s *FileStore) Clear(userID string) error {
	p, err := s.path(userID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove sync state: %w", err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Decoding
// ///////////////////////////////////////////////

func decode(data []byte) (*document, error) {
	var head struct {
		Version int `json:"$version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	data, version, err := migrate.Sync.Upgrade(data, head.Version)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	doc.Version = version
	return &doc, nil
}

// validate rejects documents holding a negative unread counter.
func (d *document) validate() error {
	for key, n := range d.Unread {
		if n < 0 {
			return fmt.Errorf("negative unread counter %s: %d", key, n)
		}
	}
	return nil
}

func (d *document) snapshot() Snapshot {
	snap := Snapshot{
		Watermarks: make(map[model.EntityID]time.Time, len(d.Watermarks)),
		Unread:     make(map[model.EntityID]int, len(d.Unread)),
	}
	for key, ts := range d.Watermarks {
		e, err := model.ParseKey(key)
		if err != nil {
			slog.Warn("skipping watermark with bad key", "key", key, "error", err)
			continue
		}
		snap.Watermarks[e] = ts
	}
	for key, n := range d.Unread {
		e, err := model.ParseKey(key)
		if err != nil {
			slog.Warn("skipping unread counter with bad key", "key", key, "error", err)
			continue
		}
		if n > 0 {
			snap.Unread[e] = n
		}
	}
	return snap
}

func quarantine(path string, data []byte, cause error) error {
	slog.Warn("corrupted sync state, backing up", "path", path, "error", cause)
	backup, err := atomicfile.Backup(path, ".corrupted", data)
	if err != nil {
		slog.Warn("failed to back up sync state", "path", path, "error", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to remove corrupted sync state", "path", path, "error", err)
	}
	return fmt.Errorf("%w (backed up to %s): %w", ErrCorrupted, backup, cause)
}
