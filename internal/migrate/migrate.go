// Package migrate upgrades versioned on-disk documents one schema version at
// a time. Each document type (config TOML, per-user sync state JSON) has its
// own [Registry] so version numbers never collide.
package migrate

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// ErrFutureVersion is returned when a document was written by a newer
// build than this one.
var ErrFutureVersion = errors.New("document version is newer than supported")

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Migration upgrades a document from Version-1 to Version.
type Migration struct {
	// Version is the schema version this migration produces.
	Version int
	// Description is a short label for log output.
	Description string
	// Upgrade transforms the raw document.
	Upgrade func(data []byte) ([]byte, error)
}

// Registry holds the current version and the upgrade steps of one
// document type.
type Registry struct {
	// Name identifies the document type in logs and errors.
	Name string
	// CurrentVersion is the version this build writes.
	CurrentVersion int

	migrations []Migration
}

// NewRegistry returns an empty Registry.
func NewRegistry(name string, current int) *Registry {
	return &Registry{Name: name, CurrentVersion: current}
}

// Config is the registry for config.toml.
var Config = NewRegistry("config", 1)

// Sync is the registry for per-user sync state files.
var Sync = NewRegistry("sync", 1)

// ///////////////////////////////////////////////
// Registration
// ///////////////////////////////////////////////

// Register adds m. It panics on a duplicate version or a version beyond
// [Registry.CurrentVersion], both of which are programming errors.
func (r *Registry) Register(m Migration) {
	if m.Version > r.CurrentVersion {
		panic(fmt.Sprintf("migrate: %s migration v%d exceeds current version %d", r.Name, m.Version, r.CurrentVersion))
	}
	for _, existing := range r.migrations {
		if existing.Version == m.Version {
			panic(fmt.Sprintf("migrate: duplicate %s migration v%d (%q)", r.Name, m.Version, m.Description))
		}
	}
	r.migrations = append(r.migrations, m)
	slices.SortFunc(r.migrations, func(a, b Migration) int { return a.Version - b.Version })
}

// ///////////////////////////////////////////////
// Upgrading
// ///////////////////////////////////////////////

// Needs reports whether a document at fileVersion must be upgraded.
func (r *Registry) Needs(fileVersion int) bool {
	return fileVersion < r.CurrentVersion
}

// Upgrade applies every migration newer than from, in order, and returns the
// transformed document and the version reached. A document newer than
// [Registry.CurrentVersion] yields [ErrFutureVersion]. A version of 0 is
// treated as 1.
func (r *Registry) Upgrade(data []byte, from int) ([]byte, int, error) {
	if from == 0 {
		from = 1
	}
	if from > r.CurrentVersion {
		return nil, from, fmt.Errorf("%s v%d (supported v%d): %w", r.Name, from, r.CurrentVersion, ErrFutureVersion)
	}
	version := from
	for _, m := range r.migrations {
		if m.Version <= version {
			continue
		}
		slog.Info("applying migration", "document", r.Name, "version", m.Version, "description", m.Description)
		out, err := m.Upgrade(data)
		if err != nil {
			return nil, version, fmt.Errorf("%s migration to v%d failed: %w", r.Name, m.Version, err)
		}
		data = out
		version = m.Version
	}
	if version < r.CurrentVersion {
		version = r.CurrentVersion
	}
	return data, version, nil
}
