// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import "path/filepath"

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile    = "chatsync.pid"
	ConfigFile = "config.toml"
	LogFile    = "chatsync.log"
	SyncDir    = "sync"
	BinaryName = "chatsync"
	DataDirRel = ".chatsync" // relative to $HOME
)

// SyncFileForUser returns the per-user sync state file name.
// For example, SyncFileForUser("u42") returns "sync.u42.json".
func SyncFileForUser(userID string) string {
	return "sync." + userID + ".json"
}

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Sync returns the full path to the directory holding per-user sync state.
func (d DataDir) Sync() string { return filepath.Join(d.Root, SyncDir) }
