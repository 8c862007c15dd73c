package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/buildorch/internal/logfields"
)

// Environment variables describing the request, set for the build command.
const (
	EnvPlatform         = "BUILDORCH_PLATFORM"
	EnvOutput           = "BUILDORCH_OUTPUT"
	EnvProcess          = "BUILDORCH_PROCESS"
	EnvOptions          = "BUILDORCH_OPTIONS"
	EnvScenes           = "BUILDORCH_SCENES"
	EnvDefines          = "BUILDORCH_SCRIPTING_DEFINES"
	EnvClearDefines     = "BUILDORCH_CLEAR_SCRIPTING_DEFINES"
	EnvScriptingBackend = "BUILDORCH_SCRIPTING_BACKEND"
	EnvProductName      = "BUILDORCH_PRODUCT_NAME"
)

// ExecBuildService runs an external command per build. Arguments may contain
// {output}, {platform} and {name} placeholders.
type ExecBuildService struct {
	Command []string
	Stdout  io.Writer
	Stderr  io.Writer
	Clock   clockwork.Clock
}

// NewExecBuildService returns a service running command with output forwarded to stderr.
func NewExecBuildService(command []string) *ExecBuildService {
	return &ExecBuildService{
		Command: slices.Clone(command),
		Stdout:  os.Stderr,
		Stderr:  os.Stderr,
		Clock:   clockwork.NewRealClock(),
	}
}

func (s *ExecBuildService) Build(ctx context.Context, req BuildRequest) BuildReport {
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	started := clock.Now()
	report := func(r Result, summary string) BuildReport {
		return BuildReport{Result: r, Summary: summary, Duration: clock.Since(started)}
	}

	if len(s.Command) == 0 {
		return report(ResultFailed, "no build command configured")
	}
	args := make([]string, len(s.Command))
	for i, a := range s.Command {
		args[i] = expandPlaceholders(a, req)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = req.ProjectDir
	cmd.Env = append(os.Environ(), requestEnv(req)...)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr

	slog.Info("Running build command", logfields.Process(req.Process), logfields.Platform(string(req.Platform)), slog.String("command", strings.Join(args, " ")))
	err := cmd.Run()
	switch {
	case err == nil:
		return report(ResultSucceeded, "build command succeeded")
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return report(ResultCancelled, fmt.Sprintf("build command interrupted: %v", ctx.Err()))
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return report(ResultFailed, fmt.Sprintf("build command exited with code %d", exitErr.ExitCode()))
		}
		return report(ResultFailed, fmt.Sprintf("build command failed: %v", err))
	}
}

func expandPlaceholders(arg string, req BuildRequest) string {
	return strings.NewReplacer(
		"{output}", req.OutputPath,
		"{platform}", string(req.Platform),
		"{name}", req.Process,
	).Replace(arg)
}

func requestEnv(req BuildRequest) []string {
	opts := make([]string, len(req.Options))
	for i, o := range req.Options {
		opts[i] = string(o)
	}
	env := []string{
		EnvPlatform + "=" + string(req.Platform),
		EnvOutput + "=" + req.OutputPath,
		EnvProcess + "=" + req.Process,
		EnvOptions + "=" + strings.Join(opts, ","),
		EnvScenes + "=" + strings.Join(req.Scenes, ","),
		EnvDefines + "=" + strings.Join(req.ScriptingDefines, ";"),
		fmt.Sprintf("%s=%t", EnvClearDefines, req.ClearScriptingDefines),
		EnvScriptingBackend + "=" + req.ScriptingBackend,
		EnvProductName + "=" + req.ProductName,
	}
	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+req.Env[k])
	}
	return env
}

func isAbs(p string) bool            { return filepath.IsAbs(filepath.FromSlash(p)) }
func joinPath(base, p string) string { return filepath.Join(base, filepath.FromSlash(p)) }
