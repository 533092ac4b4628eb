package config

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
type FieldDoc struct {
	// Comment is shown as a header comment above the field.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps dotted TOML field paths to their [FieldDoc]. [Render] uses
// it to annotate the config file written on first run.
var ConfigDocs = map[string]FieldDoc{
	"version": {
		Comment: "Config schema version. Do not edit.",
	},

	// ── Account ──────────────────────────────────────────────────
	"account.server_url": {
		Comment: "Base URL of the chat backend.",
	},
	"account.user_id": {
		Comment: "User to sign in as. Leave empty to start signed out and use the\nconsole \"login <user>\" command.",
	},
	"account.session_cookie": {
		Comment: "Value sent as the \"session\" cookie on every request.",
	},

	// ── Poll ─────────────────────────────────────────────────────
	"poll.servers_ms": {
		Comment: "Poll intervals in milliseconds. Each loop keeps at most one request\nin flight; ticks that fire while a request is outstanding are skipped.",
	},
	"poll.channel_messages_ms": {},
	"poll.dm_list_ms":          {},
	"poll.dm_messages_ms":      {},
	"poll.presence_ms":         {},
	"poll.commands_ms":         {},
	"poll.page_size": {
		Comment: "Messages requested per page for the active channel or conversation.",
	},
	"poll.requests_per_second": {
		Comment: "Upper bound on requests per second across all loops.",
	},
	"poll.request_timeout_seconds": {},

	// ── Notify ───────────────────────────────────────────────────
	"notify.message_sound": {
		Comment: "Play a sound for new messages outside the focused channel or conversation.",
	},
	"notify.voice_join_sound": {
		Comment: "Play a sound when someone joins the voice channel you are in.",
	},
	"notify.require_unlock": {
		Comment: "Stay silent until the first console command, mirroring browsers\nthat block audio before a user gesture.",
	},
	"notify.muted": {
		Comment: "Glob patterns for entities that never notify. Paths look like\n  server/<serverId>/channel/<channelId>\n  server/<serverId>\n  dm/<conversationId>\nMuting a server mutes all of its channels.",
		Alternatives: []string{
			`muted = ["server/s42", "dm/*"]`,
		},
	},
	"notify.message_command": {
		Comment: "Command used to play the message sound. Unset rings the terminal bell.",
		Alternatives: []string{
			`message_command = ["paplay", "/usr/share/sounds/freedesktop/stereo/message.oga"]`,
		},
	},
	"notify.voice_join_command": {
		Alternatives: []string{
			`voice_join_command = ["afplay", "/System/Library/Sounds/Glass.aiff"]`,
		},
	},

	// ── Log ──────────────────────────────────────────────────────
	"log.level": {
		Comment: "Options: \"trace\", \"debug\", \"info\", \"warn\", \"error\"",
	},
	"log.max_size_mb": {
		Comment: "Log file size before rotation.",
	},
}

// ///////////////////////////////////////////////
// Rendering
// ///////////////////////////////////////////////

// Render encodes cfg as TOML annotated with [ConfigDocs]. Documented keys the
// encoder omitted (zero values with omitempty) are emitted as comments so
// every option appears in the file.
func Render(cfg *Config) ([]byte, error) {
	var raw bytes.Buffer
	if err := toml.NewEncoder(&raw).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}

	out := []string{
		"# ///////////////////////////////////////////////",
		"# chatsync Configuration",
		"# ///////////////////////////////////////////////",
	}
	var section string
	emitted := map[string]bool{}

	for _, line := range strings.Split(raw.String(), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "[") {
			out = appendOmitted(out, section, emitted)
			section = strings.Trim(trimmed, "[] ")
			out = append(out, "", "# ///// "+sectionTitle(section)+" /////", "", trimmed)
			continue
		}
		key, _, ok := strings.Cut(trimmed, "=")
		if !ok {
			out = append(out, trimmed)
			continue
		}
		full := strings.TrimSpace(key)
		if section != "" {
			full = section + "." + full
		}
		emitted[full] = true
		doc := ConfigDocs[full]
		out = appendComment(out, doc.Comment)
		out = append(out, trimmed)
		for _, alt := range doc.Alternatives {
			out = append(out, "# "+alt)
		}
	}
	out = appendOmitted(out, section, emitted)

	return []byte(strings.Join(out, "\n") + "\n"), nil
}

func appendComment(out []string, comment string) []string {
	if comment == "" {
		return out
	}
	for _, cl := range strings.Split(comment, "\n") {
		out = append(out, "# "+cl)
	}
	return out
}

func appendOmitted(out []string, section string, emitted map[string]bool) []string {
	if section == "" {
		return out
	}
	prefix := section + "."
	var omitted []string
	for path := range ConfigDocs {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || strings.Contains(rest, ".") || emitted[path] {
			continue
		}
		omitted = append(omitted, path)
	}
	slices.Sort(omitted)
	for _, path := range omitted {
		doc := ConfigDocs[path]
		out = append(out, "")
		out = appendComment(out, doc.Comment)
		for _, alt := range doc.Alternatives {
			out = append(out, "# "+alt)
		}
		emitted[path] = true
	}
	return out
}

// sectionTitle capitalizes the last dotted segment of a section header.
func sectionTitle(section string) string {
	parts := strings.Split(section, ".")
	last := parts[len(parts)-1]
	if last == "" {
		return ""
	}
	return strings.ToUpper(last[:1]) + last[1:]
}
