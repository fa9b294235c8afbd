package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// SyslogIdentifier tags every journal entry, see journalctl -t.
const SyslogIdentifier = "deskstream"

// JournalHandler sends records to the systemd journal with attrs as
// structured fields, e.g. MODULE=capture, REGION_WIDTH=640.
type JournalHandler struct {
	scope attrScope
}

// NewJournalHandler creates a journal handler gated by level.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{scope: attrScope{level: level}}
}

func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.scope.enabled(level)
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := map[string]string{
		"SYSLOG_IDENTIFIER": SyslogIdentifier,
	}
	h.scope.walk(r, func(path []string, a slog.Attr) {
		if name := journalField(path, a.Key); name != "" {
			fields[name] = fmt.Sprint(leafValue(a.Value))
		}
	})

	if err := journal.Send(r.Message, journalPriority(r.Level), fields); err != nil {
		fmt.Fprintf(os.Stderr, "journal send: %v\n", err)
		return err
	}
	return nil
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &JournalHandler{scope: h.scope.withAttrs(attrs)}
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &JournalHandler{scope: h.scope.withGroup(name)}
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalField builds a journal field name: uppercase letters, digits and
// underscores, not starting with an underscore (those are trusted fields).
// Returns "" when nothing usable is left.
func journalField(path []string, key string) string {
	var sb strings.Builder
	for _, part := range slices.Concat(path, []string{key}) {
		for _, c := range part {
			switch {
			case c >= 'a' && c <= 'z':
				sb.WriteRune(c - 'a' + 'A')
			case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
				sb.WriteRune(c)
			default:
				sb.WriteByte('_')
			}
		}
		sb.WriteByte('_')
	}
	name := strings.Trim(sb.String(), "_")
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "F_" + name
	}
	return name
}

// IsJournalAvailable checks if systemd journal is available.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
