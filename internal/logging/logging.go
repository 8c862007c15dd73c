// Package logging configures slog for buildorch and manages the per-collection
// log-verbosity override that is active for the duration of a run.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"git.home.luguber.info/inful/buildorch/internal/foundation/normalization"
)

// EnvLogLevel overrides the default level when -v is not given.
const EnvLogLevel = "BUILDORCH_LOG_LEVEL"

var levelNormalizer = normalization.NewNormalizer(map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}, slog.LevelInfo)

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(raw string) (slog.Level, error) {
	return levelNormalizer.NormalizeWithError(raw)
}

// Setup installs a text handler on w as the default logger and returns the
// Verbosity controlling its level.
func Setup(w io.Writer, verbose bool) *Verbosity {
	lv := new(slog.LevelVar)
	switch {
	case verbose:
		lv.Set(slog.LevelDebug)
	case os.Getenv(EnvLogLevel) != "":
		lv.Set(levelNormalizer.Normalize(os.Getenv(EnvLogLevel)))
	default:
		lv.Set(slog.LevelInfo)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})))
	return &Verbosity{level: lv}
}

// Verbosity wraps the process-wide level so a collection can raise or lower it
// for a run and put it back afterwards.
type Verbosity struct {
	level *slog.LevelVar
}

// NewVerbosity wraps an existing LevelVar.
func NewVerbosity(lv *slog.LevelVar) *Verbosity {
	return &Verbosity{level: lv}
}

// Level returns the current level.
func (v *Verbosity) Level() slog.Level {
	if v == nil || v.level == nil {
		return slog.LevelInfo
	}
	return v.level.Level()
}

// Activate applies the override and returns the previous level name, which the
// caller persists and later hands to Restore. An empty or unknown override is a
// no-op and returns "".
func (v *Verbosity) Activate(override string) string {
	if v == nil || v.level == nil || strings.TrimSpace(override) == "" {
		return ""
	}
	next, err := ParseLevel(override)
	if err != nil {
		slog.Warn("Ignoring invalid collection log level", "value", override)
		return ""
	}
	prev := v.level.Level()
	v.level.Set(next)
	return strings.ToLower(prev.String())
}

// Restore puts back a level previously returned by Activate.
func (v *Verbosity) Restore(previous string) {
	if v == nil || v.level == nil || previous == "" {
		return
	}
	if lvl, err := ParseLevel(previous); err == nil {
		v.level.Set(lvl)
	}
}
