package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyRunID      = "run_id"
	KeyProcess    = "process"
	KeyPlatform   = "platform"
	KeyState      = "state"
	KeyStage      = "stage"
	KeyStep       = "step"
	KeyStepIndex  = "step_index"
	KeyOutputPath = "output_path"
	KeyPath       = "path"
	KeyDurationMS = "duration_ms"
	KeyProgress   = "progress"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func Process(name string) slog.Attr   { return slog.String(KeyProcess, name) }
func Platform(p string) slog.Attr     { return slog.String(KeyPlatform, p) }
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func Step(name string) slog.Attr      { return slog.String(KeyStep, name) }
func StepIndex(i int) slog.Attr       { return slog.Int(KeyStepIndex, i) }
func OutputPath(p string) slog.Attr   { return slog.String(KeyOutputPath, p) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Progress(p float64) slog.Attr    { return slog.Float64(KeyProgress, p) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
