package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// CLIErrorAdapter reports a command's error on stderr and exits with the
// category's code.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
	out     io.Writer
	exit    func(int)
}

// NewCLIErrorAdapter creates an adapter. A nil logger means slog.Default().
func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger, out: os.Stderr, exit: os.Exit}
}

// ExitCodeFor maps err to a process exit status.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	if classified, ok := AsClassified(err); ok {
		return classified.Category().ExitCode()
	}
	return ExitGeneral
}

// FormatError is the one-line message printed for err. Verbose mode keeps the
// category and cause.
func (a *CLIErrorAdapter) FormatError(err error) string {
	classified, ok := AsClassified(err)
	switch {
	case err == nil:
		return ""
	case !ok || a.verbose:
		return "Error: " + err.Error()
	default:
		return "Error: " + classified.Message()
	}
}

// HandleError logs err, prints it and exits with the mapped code.
func (a *CLIErrorAdapter) HandleError(err error) {
	if err == nil {
		return
	}
	if classified, ok := AsClassified(err); ok {
		a.logger.LogAttrs(context.Background(), severityLevel(classified.Severity()), classified.Message(), classified.LogAttrs()...)
	} else {
		a.logger.Error("Command failed", "error", err)
	}
	_, _ = fmt.Fprintln(a.out, a.FormatError(err))
	a.exit(a.ExitCodeFor(err))
}

func severityLevel(s ErrorSeverity) slog.Level {
	if s == SeverityWarning {
		return slog.LevelWarn
	}
	return slog.LevelError
}
