// Package player defines the collaborators the orchestrator hands the building
// stage to: the player build service that produces the artifact, and the
// optional content bundler that runs before it.
package player

import (
	"context"
	"slices"
	"time"

	"git.home.luguber.info/inful/buildorch/internal/config"
)

// BuildService builds one process's artifact. Build returns once the build has
// finished or failed.
type BuildService interface {
	Build(ctx context.Context, req BuildRequest) BuildReport
}

// BuildFunc adapts a function to BuildService.
type BuildFunc func(ctx context.Context, req BuildRequest) BuildReport

func (f BuildFunc) Build(ctx context.Context, req BuildRequest) BuildReport { return f(ctx, req) }

// BuildRequest is everything the build service needs for one target.
type BuildRequest struct {
	Process               string
	Platform              config.Platform
	OutputPath            string
	ProjectDir            string
	Scenes                []string
	Options               []config.BuildOption
	ScriptingDefines      []string
	ClearScriptingDefines bool
	ScriptingBackend      string
	ProductName           string
	Env                   map[string]string
}

// NewRequest builds a request from the run's configuration and the computed
// option flags. A relative output path is resolved against the project directory.
func NewRequest(cfg *config.BuildConfiguration, options []config.BuildOption) BuildRequest {
	p := cfg.CurrentProcess()
	out := p.OutputPath
	if out != "" && cfg.ProjectDir != "" && !isAbs(out) {
		out = joinPath(cfg.ProjectDir, out)
	}
	return BuildRequest{
		Process:               p.Name,
		Platform:              p.Platform,
		OutputPath:            out,
		ProjectDir:            cfg.ProjectDir,
		Scenes:                slices.Clone(p.Scenes),
		Options:               slices.Clone(options),
		ScriptingDefines:      slices.Clone(p.ScriptingDefines),
		ClearScriptingDefines: p.ClearScriptingDefines,
		ScriptingBackend:      p.ScriptingBackend,
		ProductName:           p.ProductNameOverride,
		Env:                   cfg.Env,
	}
}

// Result classifies a build outcome.
type Result string

const (
	ResultSucceeded Result = "succeeded"
	ResultFailed    Result = "failed"
	ResultCancelled Result = "cancelled"
)

// BuildReport is what the build service returns.
type BuildReport struct {
	Result   Result
	Summary  string
	Duration time.Duration
}

// Succeeded reports whether the build produced its artifact.
func (r BuildReport) Succeeded() bool { return r.Result == ResultSucceeded }
