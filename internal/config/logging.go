package config

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/samber/oops"
)

// LevelTrace is one step below debug. Only wire payloads log at it:
// whole model requests and replies, raw tool arguments.
const LevelTrace = slog.Level(-8)

var levelNames = []struct {
	name  string
	level slog.Level
}{
	{"trace", LevelTrace},
	{"debug", slog.LevelDebug},
	{"info", slog.LevelInfo},
	{"warn", slog.LevelWarn},
	{"warning", slog.LevelWarn},
	{"error", slog.LevelError},
}

// LogFormats lists the accepted log_format values. The first is the
// default.
var LogFormats = []string{"text", "json", "console"}

// ParseLogLevel maps a level name, in any case, to a slog level. An
// empty name is info.
func ParseLogLevel(s string) (slog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return slog.LevelInfo, nil
	}
	for _, l := range levelNames {
		if l.name == s {
			return l.level, nil
		}
	}
	return slog.LevelInfo, oops.In("config").With("log_level", s).
		Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
}

// ParseLogFormat checks a log format name and returns it lowercased. An
// empty name is text.
func ParseLogFormat(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LogFormats[0], nil
	}
	if !slices.Contains(LogFormats, s) {
		return "", oops.In("config").With("log_format", s).
			Errorf("unknown log format %q (valid: %s)", s, strings.Join(LogFormats, ", "))
	}
	return s, nil
}

// ReplaceLogLevelNames is a ReplaceAttr hook that prints LevelTrace as
// TRACE rather than DEBUG-4.
func ReplaceLogLevelNames(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
		return slog.String(slog.LevelKey, "TRACE")
	}
	return a
}
