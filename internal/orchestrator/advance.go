package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/eventstore"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
	"git.home.luguber.info/inful/buildorch/internal/metrics"
	"git.home.luguber.info/inful/buildorch/internal/player"
)

// Advance performs one tick: at most one state transition or one step poll,
// followed by a save. It is a no-op once the run is terminal, and a run
// cancelled by another host since the last save ends here as aborted. The
// returned error reports a failure to read or persist the run record.
func (p *Process) Advance(ctx context.Context) error {
	if p.rs.State.Terminal() {
		return nil
	}
	aborted, err := p.abortedElsewhere(ctx)
	if err != nil {
		return err
	}
	if aborted != nil {
		return p.adoptAbort(ctx, aborted)
	}

	switch p.rs.State {
	case StateInvalid:
		err = p.nextBuild(ctx)
	case StateSetup:
		err = p.doSetup(ctx)
	case StatePreSteps:
		err = p.doPreSteps(ctx)
	case StateBuilding:
		err = p.doBuilding(ctx)
	case StatePostSteps:
		err = p.doPostSteps(ctx)
	default:
		err = p.Cancel(ctx, fmt.Sprintf("Unknown run state %q", p.rs.State))
	}
	if err != nil {
		return err
	}

	if p.rs.State.Terminal() {
		return p.finish(ctx)
	}
	return nil
}

// setState saves the record when the state actually changes.
func (p *Process) setState(ctx context.Context, next State) error {
	if p.rs.State == next {
		return nil
	}
	from := p.rs.State
	now := p.deps.Clock.Now()
	switch from {
	case StatePreSteps, StateBuilding, StatePostSteps:
		p.deps.Recorder.ObserveStageDuration(string(from), now.Sub(p.rs.StageStartedAt))
	}
	p.rs.State = next
	p.rs.StageStartedAt = now
	slog.Debug("State changed",
		logfields.RunID(p.rs.RunID),
		slog.String("from", string(from)),
		logfields.State(string(next)),
		logfields.Process(p.CurrentProcessName()))
	p.record(ctx, func() (eventstore.Event, error) {
		return eventstore.NewStateChanged(p.rs.RunID, eventstore.StateChangedPayload{
			From:    string(from),
			To:      string(next),
			Process: p.CurrentProcessName(),
			Index:   p.rs.CurrentIndex,
		})
	})
	return p.save(ctx)
}

func (p *Process) nextBuild(ctx context.Context) error {
	if p.rs.CurrentIndex >= len(p.rs.Selected) {
		return p.setState(ctx, StateDone)
	}
	return p.setState(ctx, StateSetup)
}

func (p *Process) doSetup(ctx context.Context) error {
	proc := p.rs.Selected[p.rs.CurrentIndex]
	cfg := &config.BuildConfiguration{
		RunID:        p.rs.RunID,
		Collection:   p.rs.Collection,
		Process:      proc.Clone(),
		ProcessIndex: p.rs.CurrentIndex,
		Selected:     p.rs.selectedNames(),
		ProjectDir:   p.rs.ProjectDir,
		BuildTag:     p.rs.BuildTag,
		Env:          p.rs.Env,
	}
	p.rs.Configuration = cfg

	slog.Info("Setting up build process",
		logfields.RunID(p.rs.RunID),
		logfields.Process(proc.Name),
		logfields.Platform(string(proc.Platform)),
		logfields.OutputPath(proc.OutputPath),
		slog.Bool("pretend", proc.Pretend))

	if msg := checkOutputPath(cfg); msg != "" {
		return p.Cancel(ctx, msg)
	}

	p.pre.Init(proc.PreBuildSteps, cfg)
	p.post.Prepare(proc.PostBuildSteps, cfg)
	return p.setState(ctx, StatePreSteps)
}

// checkOutputPath validates and creates the output directory. It returns a
// user-facing message on failure. Pretend runs need no output path.
func checkOutputPath(cfg *config.BuildConfiguration) string {
	proc := cfg.CurrentProcess()
	if proc.Pretend {
		return ""
	}
	if proc.OutputPath == "" {
		return "Please provide an output path."
	}
	dir := cfg.OutputDirectory()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Sprintf("The given output path is invalid: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "The given output path is invalid."
	}
	return ""
}

func (p *Process) doPreSteps(ctx context.Context) error {
	p.pre.Advance()
	if p.pre.IsDone() {
		p.pre.End()
		p.deps.Recorder.IncStageResult(string(StatePreSteps), metrics.ResultSuccess)
		return p.setState(ctx, StateBuilding)
	}
	return p.save(ctx)
}

func (p *Process) doBuilding(ctx context.Context) error {
	cfg := p.rs.Configuration
	if cfg == nil {
		return p.Cancel(ctx, "Build configuration missing from the run record.")
	}
	proc := cfg.CurrentProcess()
	if proc.Pretend {
		slog.Info("Pretend build; skipping player build", logfields.RunID(p.rs.RunID), logfields.Process(proc.Name))
		p.deps.Recorder.IncStageResult(string(StateBuilding), metrics.ResultSkipped)
		return p.setState(ctx, StatePostSteps)
	}
	if p.deps.Builder == nil {
		return p.Cancel(ctx, "No player build service configured.")
	}

	if p.deps.Bundler != nil {
		if err := p.buildContent(ctx, proc); err != nil {
			p.deps.Recorder.IncStageResult(string(StateBuilding), metrics.ResultFailed)
			return p.Cancel(ctx, "Content bundle build failed: "+err.Error())
		}
	}

	report := p.deps.Builder.Build(ctx, player.NewRequest(cfg, p.buildOptions(proc)))
	p.deps.Recorder.ObserveBuildDuration(proc.Name, report.Duration)
	slog.Info("Player build finished",
		logfields.RunID(p.rs.RunID),
		logfields.Process(proc.Name),
		slog.String("result", string(report.Result)),
		slog.String("summary", report.Summary),
		logfields.DurationMS(float64(report.Duration.Milliseconds())))

	if !report.Succeeded() {
		p.deps.Recorder.IncStageResult(string(StateBuilding), metrics.ResultFailed)
		return p.Cancel(ctx, "Build failed with result: "+string(report.Result))
	}
	p.deps.Recorder.IncStageResult(string(StateBuilding), metrics.ResultSuccess)
	return p.setState(ctx, StatePostSteps)
}

// buildOptions adds the run-level flags to the process's own options.
func (p *Process) buildOptions(proc *config.BuildProcess) []config.BuildOption {
	opts := proc.Options
	if p.rs.Collection != nil && p.rs.Collection.CleanBuild {
		opts = config.WithOption(opts, config.OptionCleanBuildCache)
	}
	if p.rs.BuildAndRun {
		opts = config.WithOption(opts, config.OptionAutoRun)
	}
	return opts
}

// buildContent runs the content bundler with the process's groups applied and
// puts the previous inclusion flags back whatever the outcome.
func (p *Process) buildContent(ctx context.Context, proc *config.BuildProcess) (err error) {
	snapshot, err := p.deps.Bundler.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot bundle groups: %w", err)
	}
	defer func() {
		if rerr := p.deps.Bundler.Restore(snapshot); rerr != nil {
			slog.Error("Restoring bundle groups failed", logfields.RunID(p.rs.RunID), logfields.Error(rerr))
			if err == nil {
				err = fmt.Errorf("restore bundle groups: %w", rerr)
			}
		}
	}()

	if err := p.deps.Bundler.Apply(proc.BundleGroups); err != nil {
		return fmt.Errorf("apply bundle groups: %w", err)
	}
	return p.deps.Bundler.Build(ctx)
}

func (p *Process) doPostSteps(ctx context.Context) error {
	p.post.Advance()
	if !p.post.IsDone() {
		return p.save(ctx)
	}

	p.post.End()
	p.deps.Recorder.IncStageResult(string(StatePostSteps), metrics.ResultSuccess)
	slog.Info("Build process done", logfields.RunID(p.rs.RunID), logfields.Process(p.CurrentProcessName()))

	p.pre.Clear()
	p.post.Clear()
	p.rs.Configuration = nil
	p.rs.CurrentIndex++
	return p.setState(ctx, StateInvalid)
}
