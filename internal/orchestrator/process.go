package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/buildorch/internal/foundation/errors"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
	"git.home.luguber.info/inful/buildorch/internal/logging"
	"git.home.luguber.info/inful/buildorch/internal/metrics"
	"git.home.luguber.info/inful/buildorch/internal/player"
	"git.home.luguber.info/inful/buildorch/internal/state"
	"git.home.luguber.info/inful/buildorch/internal/step"
)

var (
	// ErrRunInProgress is returned by Create while a non-terminal run record exists.
	ErrRunInProgress = foundationerrors.NewError(foundationerrors.CategoryInProgress, "a build run is already in progress").Build()

	// ErrNoRun is returned by Load when there is no run record.
	ErrNoRun = foundationerrors.NotFoundError("no build run in progress").Build()

	// ErrNotTerminal is returned by Finish before the run has ended.
	ErrNotTerminal = foundationerrors.NewError(foundationerrors.CategoryValidation, "build run has not finished").Build()
)

// Notifier shows a message to the user of an interactive run.
type Notifier interface {
	Notify(title, message string)
}

// Deps are the collaborators of a Process.
type Deps struct {
	Store     state.Store
	Path      string
	Registry  *step.Registry
	Builder   player.BuildService
	Bundler   player.ContentBundler
	Notifier  Notifier
	Exit      func(code int)
	Verbosity *logging.Verbosity
	Recorder  metrics.Recorder
	Events    eventstore.Store
	Clock     clockwork.Clock
}

func (d Deps) withDefaults() Deps {
	if d.Path == "" {
		d.Path = config.DefaultProcessPath
	}
	if d.Registry == nil {
		d.Registry = step.NewRegistry()
	}
	if d.Exit == nil {
		d.Exit = os.Exit
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	d.Recorder = metrics.OrNoop(d.Recorder)
	return d
}

// CreateOptions are the run-scoped choices made when a run starts.
type CreateOptions struct {
	BuildAndRun bool
	BatchMode   bool
	BuildAll    bool
	Names       []string
	BuildTag    string
	Pretend     bool
	Clean       config.CleanBuildArgument
	ProjectDir  string
	Env         map[string]string
}

// Process is one build run.
type Process struct {
	deps Deps
	rs   RunState
	pre  *step.Walker
	post *step.Walker
}

// Create starts a new run for collection and saves its record. It fails with
// ErrRunInProgress while another run's record is present; a terminal record
// left by an earlier run is discarded.
func Create(ctx context.Context, deps Deps, collection *config.BuildCollection, opts CreateOptions) (*Process, error) {
	deps = deps.withDefaults()
	if deps.Store == nil {
		return nil, foundationerrors.InternalError("process store not configured").Build()
	}
	if collection == nil {
		return nil, foundationerrors.ConfigError("build collection missing").Build()
	}

	if err := discardFinished(ctx, deps); err != nil {
		return nil, err
	}

	coll := collection.Clone()
	coll.CleanBuild = opts.Clean.Apply(coll.CleanBuild)

	selected := config.Select(coll, config.SelectOptions{All: opts.BuildAll, Names: opts.Names})
	for i := range selected {
		if opts.BuildTag != "" && selected[i].OutputPath != "" {
			selected[i].OutputPath = config.AddBuildTag(selected[i].OutputPath, opts.BuildTag)
		}
		selected[i].Pretend = selected[i].Pretend || opts.Pretend
	}

	now := deps.Clock.Now()
	p := newProcess(deps, RunState{
		Version:        RunStateVersion,
		RunID:          uuid.NewString(),
		State:          StateInvalid,
		Collection:     coll,
		Selected:       selected,
		BatchMode:      opts.BatchMode,
		BuildAndRun:    opts.BuildAndRun,
		BuildTag:       opts.BuildTag,
		ProjectDir:     opts.ProjectDir,
		Env:            opts.Env,
		StartedAt:      now,
		StageStartedAt: now,
	})
	p.rs.LogRestore = deps.Verbosity.Activate(coll.LogLevel)

	slog.Info("Build run created",
		logfields.RunID(p.rs.RunID),
		slog.String("collection", coll.Name),
		slog.Any("processes", p.rs.selectedNames()),
		slog.Bool("batch_mode", opts.BatchMode),
		slog.Bool("clean_build", coll.CleanBuild))

	p.record(ctx, func() (eventstore.Event, error) {
		return eventstore.NewRunStarted(p.rs.RunID, eventstore.RunStartedPayload{
			Collection:  coll.Name,
			Processes:   p.rs.selectedNames(),
			BatchMode:   opts.BatchMode,
			BuildAndRun: opts.BuildAndRun,
			BuildTag:    opts.BuildTag,
		})
	})
	if err := p.save(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func discardFinished(ctx context.Context, deps Deps) error {
	exists, err := deps.Store.Exists(ctx, deps.Path)
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryStore, "check for running build").Build()
	}
	if !exists {
		return nil
	}
	prev, err := readRunState(ctx, deps)
	if errors.Is(err, ErrNoRun) {
		return nil
	}
	if err != nil {
		return err
	}
	if !prev.State.Terminal() {
		return ErrRunInProgress.WithContext("run_id", prev.RunID)
	}
	slog.Info("Discarding finished run record", logfields.RunID(prev.RunID), logfields.State(string(prev.State)))
	if err := deps.Store.Delete(ctx, deps.Path); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryStore, "delete run record").Build()
	}
	return nil
}

// readRunState decodes the stored record without rebuilding its walkers.
func readRunState(ctx context.Context, deps Deps) (*RunState, error) {
	data, err := deps.Store.Load(ctx, deps.Path)
	if errors.Is(err, state.ErrNotFound) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryStore, "load run record").
			WithContext("path", deps.Path).
			Build()
	}
	var rs RunState
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryStore, "decode run record").
			WithContext("path", deps.Path).
			Build()
	}
	return &rs, nil
}

// Load resumes the run saved at deps.Path. A run that has not ended puts its
// collection's log level into effect on this host.
func Load(ctx context.Context, deps Deps) (*Process, error) {
	deps = deps.withDefaults()
	if deps.Store == nil {
		return nil, foundationerrors.InternalError("process store not configured").Build()
	}
	stored, err := readRunState(ctx, deps)
	if err != nil {
		return nil, err
	}
	rs := *stored
	if rs.Version != RunStateVersion {
		return nil, foundationerrors.StoreError(fmt.Sprintf("unsupported run record version %d", rs.Version)).
			WithContext("path", deps.Path).
			Build()
	}
	rs.CurrentIndex = min(max(rs.CurrentIndex, 0), len(rs.Selected))

	p := newProcess(deps, rs)
	p.pre.Restore(rs.PreSteps, rs.Configuration)
	p.post.Restore(rs.PostSteps, rs.Configuration)
	if !rs.State.Terminal() && rs.Collection != nil {
		// The level saved at Create is the one to restore, not this host's default.
		prev := deps.Verbosity.Activate(rs.Collection.LogLevel)
		if p.rs.LogRestore == "" {
			p.rs.LogRestore = prev
		}
	}
	slog.Debug("Build run loaded",
		logfields.RunID(rs.RunID),
		logfields.State(string(rs.State)),
		logfields.Process(p.CurrentProcessName()))
	return p, nil
}

func newProcess(deps Deps, rs RunState) *Process {
	walker := func(stage string) *step.Walker {
		return step.NewWalker(deps.Registry,
			step.WithStage(stage),
			step.WithRecorder(deps.Recorder),
			step.WithClock(deps.Clock))
	}
	return &Process{
		deps: deps,
		rs:   rs,
		pre:  walker(string(StatePreSteps)),
		post: walker(string(StatePostSteps)),
	}
}

// RunID identifies the run.
func (p *Process) RunID() string { return p.rs.RunID }

// State returns the current state tag.
func (p *Process) State() State { return p.rs.State }

// CurrentIndex is the position of the current process in the selection.
func (p *Process) CurrentIndex() int { return p.rs.CurrentIndex }

// Selected returns the names of the processes in this run.
func (p *Process) Selected() []string { return p.rs.selectedNames() }

// BatchMode reports whether the run is headless.
func (p *Process) BatchMode() bool { return p.rs.BatchMode }

// Message is the reason the run was aborted, if any.
func (p *Process) Message() string { return p.rs.Message }

// Snapshot returns a copy of the run record as it would be saved.
func (p *Process) Snapshot() RunState {
	rs := p.rs
	rs.PreSteps = p.pre.State()
	rs.PostSteps = p.post.State()
	return rs
}

// CurrentProcessName is the name of the process being built, or "N/A".
func (p *Process) CurrentProcessName() string {
	if p.rs.CurrentIndex < len(p.rs.Selected) {
		return p.rs.Selected[p.rs.CurrentIndex].Name
	}
	return "N/A"
}

// Progress is the run's completion in [0,1]. The active process contributes the
// mean of its two walkers' progress on top of the processes already finished.
func (p *Process) Progress() float64 {
	if p.rs.State == StateDone {
		return 1
	}
	n := len(p.rs.Selected)
	if n == 0 {
		return 0
	}
	v := float64(min(p.rs.CurrentIndex, n))
	if p.rs.State.active() {
		v += (p.pre.Progress() + p.post.Progress()) / 2
	}
	return min(max(v/float64(n), 0), 1)
}

// Finish deletes the record of a terminal run.
func (p *Process) Finish(ctx context.Context) error {
	if !p.rs.State.Terminal() {
		return ErrNotTerminal
	}
	if err := p.deps.Store.Delete(ctx, p.deps.Path); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryStore, "delete run record").Build()
	}
	return nil
}

func (p *Process) save(ctx context.Context) error {
	rs := p.Snapshot()
	rs.UpdatedAt = p.deps.Clock.Now()
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryInternal, "encode run record").Build()
	}
	if err := p.deps.Store.Save(ctx, p.deps.Path, data); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryStore, "save run record").
			WithContext("path", p.deps.Path).
			Build()
	}
	p.deps.Recorder.SetProgress(p.Progress())
	return nil
}

// record appends an event when an event store is configured. Failures are logged.
func (p *Process) record(ctx context.Context, build func() (eventstore.Event, error)) {
	if p.deps.Events == nil {
		return
	}
	e, err := build()
	if err == nil {
		err = p.deps.Events.Append(ctx, e)
	}
	if err != nil {
		slog.Warn("Recording run event failed", logfields.RunID(p.rs.RunID), logfields.Error(err))
	}
}
