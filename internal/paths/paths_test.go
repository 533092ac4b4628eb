package paths

import (
	"path/filepath"
	"testing"
)

// ///////////////////////////////////////////////
// Constant Value Tests
// ///////////////////////////////////////////////

func TestConstantValues(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DataDirRel", DataDirRel, ".chatsync"},
		{"PIDFile", PIDFile, "chatsync.pid"},
		{"ConfigFile", ConfigFile, "config.toml"},
		{"LogFile", LogFile, "chatsync.log"},
		{"SyncDir", SyncDir, "sync"},
		{"BinaryName", BinaryName, "chatsync"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// DataDir Method Tests
// ///////////////////////////////////////////////

func TestDataDirMethods(t *testing.T) {
	root := filepath.Join("home", "user", ".chatsync")
	d := DataDir{Root: root}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"PID", d.PID(), filepath.Join(root, "chatsync.pid")},
		{"Config", d.Config(), filepath.Join(root, "config.toml")},
		{"Log", d.Log(), filepath.Join(root, "chatsync.log")},
		{"Sync", d.Sync(), filepath.Join(root, "sync")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s() = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestSyncFileForUser(t *testing.T) {
	tests := []struct {
		user string
		want string
	}{
		{"u42", "sync.u42.json"},
		{"alice", "sync.alice.json"},
	}
	for _, tt := range tests {
		if got := SyncFileForUser(tt.user); got != tt.want {
			t.Errorf("SyncFileForUser(%q) = %q, want %q", tt.user, got, tt.want)
		}
	}
}

func TestDataDirEmptyRoot(t *testing.T) {
	d := DataDir{Root: ""}

	if got := d.Config(); got != "config.toml" {
		t.Errorf("Config() with empty root = %q, want %q", got, "config.toml")
	}
	if got := d.Sync(); got != "sync" {
		t.Errorf("Sync() with empty root = %q, want %q", got, "sync")
	}
}
