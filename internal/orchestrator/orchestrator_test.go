package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/eventstore"
	"git.home.luguber.info/inful/buildorch/internal/logging"
	"git.home.luguber.info/inful/buildorch/internal/player"
	"git.home.luguber.info/inful/buildorch/internal/state"
	"git.home.luguber.info/inful/buildorch/internal/step"
)

type pollStep struct {
	polls   int
	updates int
}

func (s *pollStep) Start(*config.BuildConfiguration) {}
func (s *pollStep) Update()                          { s.updates++ }
func (s *pollStep) IsDone() bool                     { return s.updates >= s.polls }

func (s *pollStep) SnapshotState() ([]byte, error) { return []byte(strconv.Itoa(s.updates)), nil }

func (s *pollStep) RestoreState(_ *config.BuildConfiguration, data []byte) error {
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	s.updates = n
	return nil
}

// restartStep keeps no snapshot, so every reload starts it from scratch.
type restartStep struct {
	starts  *int
	updates int
}

func (s *restartStep) Start(*config.BuildConfiguration) { *s.starts++ }
func (s *restartStep) Update()                          { s.updates++ }
func (s *restartStep) IsDone() bool                     { return s.updates >= 2 }

type fakeBuilder struct {
	requests []player.BuildRequest
	result   player.Result
}

func (b *fakeBuilder) Build(_ context.Context, req player.BuildRequest) player.BuildReport {
	b.requests = append(b.requests, req)
	res := b.result
	if res == "" {
		res = player.ResultSucceeded
	}
	return player.BuildReport{Result: res}
}

type fakeBundler struct {
	applied  []map[string]bool
	restored int
	buildErr error
}

func (b *fakeBundler) Snapshot() (map[string]bool, error) {
	return map[string]bool{"base": true}, nil
}

func (b *fakeBundler) Apply(groups map[string]bool) error {
	b.applied = append(b.applied, groups)
	return nil
}

func (b *fakeBundler) Build(context.Context) error { return b.buildErr }

func (b *fakeBundler) Restore(map[string]bool) error {
	b.restored++
	return nil
}

type fakeNotifier struct {
	messages []string
}

func (n *fakeNotifier) Notify(_, message string) { n.messages = append(n.messages, message) }

type harness struct {
	deps     Deps
	builder  *fakeBuilder
	notifier *fakeNotifier
	exits    []int
	dir      string
	starts   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{builder: &fakeBuilder{}, notifier: &fakeNotifier{}, dir: t.TempDir()}
	reg := step.NewRegistry()
	require.NoError(t, reg.Register("poll", "done after n polls", func(param string) step.Provider {
		n, _ := strconv.Atoi(param)
		return &pollStep{polls: n}
	}))
	require.NoError(t, reg.Register("restart", "done after two polls, no snapshot", func(string) step.Provider {
		return &restartStep{starts: &h.starts}
	}))
	h.deps = Deps{
		Store:    state.NewJSONFileStore(),
		Path:     filepath.Join(h.dir, "process.json"),
		Registry: reg,
		Builder:  h.builder,
		Notifier: h.notifier,
		Exit:     func(code int) { h.exits = append(h.exits, code) },
		Clock:    clockwork.NewFakeClock(),
	}
	return h
}

func (h *harness) collection(names ...string) *config.BuildCollection {
	c := &config.BuildCollection{Name: "test"}
	for _, n := range names {
		c.Processes = append(c.Processes, config.BuildProcess{
			Name:           n,
			Platform:       config.PlatformWebGL,
			OutputPath:     filepath.Join(h.dir, "out", n),
			Selected:       true,
			PreBuildSteps:  []config.StepSpec{{Type: "poll", Param: "2"}},
			PostBuildSteps: []config.StepSpec{{Type: "poll", Param: "1"}},
		})
	}
	return c
}

func runToEnd(t *testing.T, p *Process) int {
	t.Helper()
	ctx := context.Background()
	ticks := 0
	for !p.State().Terminal() {
		require.NoError(t, p.Advance(ctx))
		ticks++
		require.Less(t, ticks, 1000, "run did not terminate")
	}
	return ticks
}

func TestRunCompletesEveryProcess(t *testing.T) {
	h := newHarness(t)
	p, err := Create(context.Background(), h.deps, h.collection("a", "b", "c"), CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateInvalid, p.State())
	assert.InDelta(t, 0.0, p.Progress(), 1e-9)

	runToEnd(t, p)

	assert.Equal(t, StateDone, p.State())
	assert.Equal(t, 3, p.CurrentIndex())
	assert.InDelta(t, 1.0, p.Progress(), 1e-9)
	assert.Equal(t, "N/A", p.CurrentProcessName())
	require.Len(t, h.builder.requests, 3)
	assert.Equal(t, "a", h.builder.requests[0].Process)
	assert.Equal(t, "c", h.builder.requests[2].Process)
	assert.Empty(t, h.exits)
}

func TestTickSequenceForOneProcess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p, err := Create(ctx, h.deps, h.collection("a"), CreateOptions{})
	require.NoError(t, err)

	want := []State{
		StateSetup, StatePreSteps, StatePreSteps, StateBuilding,
		StatePostSteps, StateInvalid, StateDone,
	}
	for i, s := range want {
		require.NoError(t, p.Advance(ctx))
		assert.Equal(t, s, p.State(), "tick %d", i+1)
	}
	assert.Equal(t, 1, p.CurrentIndex())
}

func TestAdvanceOnTerminalRunIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p, err := Create(ctx, h.deps, h.collection("a"), CreateOptions{})
	require.NoError(t, err)
	runToEnd(t, p)

	before := p.Snapshot()
	for range 3 {
		require.NoError(t, p.Advance(ctx))
	}
	after := p.Snapshot()
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.CurrentIndex, after.CurrentIndex)
	assert.Len(t, h.builder.requests, 1)
}

func TestProgressIsMonotonic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.collection("a", "b")
	c.Processes[0].PreBuildSteps = []config.StepSpec{{Type: "poll", Param: "1"}, {Type: "poll", Param: "3"}, {Type: "poll", Param: "1"}}
	c.Processes[1].PostBuildSteps = []config.StepSpec{{Type: "poll", Param: "2"}, {Type: "poll", Param: "2"}}
	p, err := Create(ctx, h.deps, c, CreateOptions{})
	require.NoError(t, err)

	last := p.Progress()
	for !p.State().Terminal() {
		require.NoError(t, p.Advance(ctx))
		cur := p.Progress()
		assert.GreaterOrEqual(t, cur, last, "state %s", p.State())
		assert.GreaterOrEqual(t, cur, 0.0)
		assert.LessOrEqual(t, cur, 1.0)
		last = cur
	}
	assert.InDelta(t, 1.0, last, 1e-9)
}

func TestEmptySelectionFinishesImmediately(t *testing.T) {
	h := newHarness(t)
	c := h.collection("a")
	c.Processes[0].Selected = false
	p, err := Create(context.Background(), h.deps, c, CreateOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, p.Progress(), 1e-9)

	assert.Equal(t, 1, runToEnd(t, p))
	assert.Equal(t, StateDone, p.State())
	assert.Empty(t, h.builder.requests)
}

func TestCancelDuringPreSteps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.collection("a")
	c.Processes[0].PreBuildSteps = []config.StepSpec{{Type: "poll", Param: "10"}}
	p, err := Create(ctx, h.deps, c, CreateOptions{})
	require.NoError(t, err)
	for range 4 {
		require.NoError(t, p.Advance(ctx))
	}
	require.Equal(t, StatePreSteps, p.State())

	require.NoError(t, p.Cancel(ctx, "stopped by user"))
	assert.Equal(t, StateAborted, p.State())
	assert.Equal(t, "stopped by user", p.Message())
	assert.InDelta(t, 0.0, p.Progress(), 1e-9)
	assert.Equal(t, []string{"stopped by user"}, h.notifier.messages)

	snap := p.Snapshot()
	assert.Empty(t, snap.PreSteps.Specs)
	assert.Zero(t, snap.PreSteps.Index)

	require.NoError(t, p.Advance(ctx))
	require.NoError(t, p.Cancel(ctx, "again"))
	assert.Equal(t, StateAborted, p.State())
	assert.Equal(t, "stopped by user", p.Message())
	assert.Len(t, h.notifier.messages, 1)
	assert.Empty(t, h.builder.requests)
}

func TestPretendSkipsPlayerBuild(t *testing.T) {
	h := newHarness(t)
	c := h.collection("a")
	c.Processes[0].Pretend = true
	c.Processes[0].OutputPath = ""
	p, err := Create(context.Background(), h.deps, c, CreateOptions{})
	require.NoError(t, err)

	runToEnd(t, p)
	assert.Equal(t, StateDone, p.State())
	assert.Empty(t, h.builder.requests)
}

func TestBuildFailureAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.builder.result = player.ResultFailed
	p, err := Create(context.Background(), h.deps, h.collection("a", "b"), CreateOptions{})
	require.NoError(t, err)

	runToEnd(t, p)
	assert.Equal(t, StateAborted, p.State())
	assert.Equal(t, "Build failed with result: failed", p.Message())
	assert.Equal(t, 0, p.CurrentIndex())
	assert.Len(t, h.builder.requests, 1)
}

func TestBatchAbortExitsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.builder.result = player.ResultCancelled
	p, err := Create(ctx, h.deps, h.collection("a"), CreateOptions{BatchMode: true})
	require.NoError(t, err)

	runToEnd(t, p)
	require.NoError(t, p.Advance(ctx))
	require.NoError(t, p.Cancel(ctx, "late"))

	assert.Equal(t, []int{1}, h.exits)
	assert.Empty(t, h.notifier.messages)
}

func TestBatchSuccessDoesNotExit(t *testing.T) {
	h := newHarness(t)
	p, err := Create(context.Background(), h.deps, h.collection("a"), CreateOptions{BatchMode: true})
	require.NoError(t, err)
	runToEnd(t, p)
	assert.Empty(t, h.exits)
}

func TestCancelFromAnotherHost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	running, err := Create(ctx, h.deps, h.collection("a"), CreateOptions{BatchMode: true})
	require.NoError(t, err)
	require.NoError(t, running.Advance(ctx))
	require.NoError(t, running.Advance(ctx))
	require.Equal(t, StatePreSteps, running.State())

	other := h.deps
	other.Exit = func(int) {}
	remote, err := Load(ctx, other)
	require.NoError(t, err)
	require.NoError(t, remote.Cancel(ctx, "stopped by operator"))
	assert.Empty(t, h.exits)

	require.NoError(t, running.Advance(ctx))
	assert.Equal(t, StateAborted, running.State())
	assert.Equal(t, "stopped by operator", running.Message())
	assert.Equal(t, []int{1}, h.exits)
	assert.Empty(t, h.builder.requests)

	reloaded, err := Load(ctx, h.deps)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, reloaded.State())
}

func TestSetupRejectsEmptyOutputPath(t *testing.T) {
	h := newHarness(t)
	c := h.collection("a")
	c.Processes[0].OutputPath = ""
	p, err := Create(context.Background(), h.deps, c, CreateOptions{})
	require.NoError(t, err)

	runToEnd(t, p)
	assert.Equal(t, StateAborted, p.State())
	assert.Equal(t, "Please provide an output path.", p.Message())
	assert.Empty(t, h.builder.requests)
}

func TestSetupCreatesOutputDirectory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p, err := Create(ctx, h.deps, h.collection("a"), CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, p.Advance(ctx))
	require.NoError(t, p.Advance(ctx))

	assert.DirExists(t, filepath.Join(h.dir, "out", "a"))
}

func TestBuildOptionsFromRunFlags(t *testing.T) {
	h := newHarness(t)
	c := h.collection("a")
	c.Processes[0].Options = []config.BuildOption{config.OptionDevelopment}
	p, err := Create(context.Background(), h.deps, c, CreateOptions{BuildAndRun: true, Clean: config.CleanForce})
	require.NoError(t, err)

	runToEnd(t, p)
	require.Len(t, h.builder.requests, 1)
	assert.ElementsMatch(t,
		[]config.BuildOption{config.OptionDevelopment, config.OptionCleanBuildCache, config.OptionAutoRun},
		h.builder.requests[0].Options)
}

func TestNoCleanOverridesCollection(t *testing.T) {
	h := newHarness(t)
	c := h.collection("a")
	c.CleanBuild = true
	p, err := Create(context.Background(), h.deps, c, CreateOptions{Clean: config.CleanNoClean})
	require.NoError(t, err)

	runToEnd(t, p)
	require.Len(t, h.builder.requests, 1)
	assert.NotContains(t, h.builder.requests[0].Options, config.OptionCleanBuildCache)
	assert.True(t, c.CleanBuild, "source collection must not change")
}

func TestBundlerRestoredAfterFailure(t *testing.T) {
	h := newHarness(t)
	bundler := &fakeBundler{buildErr: errors.New("missing asset")}
	h.deps.Bundler = bundler
	c := h.collection("a")
	c.Processes[0].BundleGroups = map[string]bool{"dlc": true}
	p, err := Create(context.Background(), h.deps, c, CreateOptions{})
	require.NoError(t, err)

	runToEnd(t, p)
	assert.Equal(t, StateAborted, p.State())
	assert.Equal(t, "Content bundle build failed: missing asset", p.Message())
	assert.Equal(t, 1, bundler.restored)
	assert.Equal(t, []map[string]bool{{"dlc": true}}, bundler.applied)
	assert.Empty(t, h.builder.requests)
}

func TestBundlerRestoredAfterSuccess(t *testing.T) {
	h := newHarness(t)
	bundler := &fakeBundler{}
	h.deps.Bundler = bundler
	p, err := Create(context.Background(), h.deps, h.collection("a", "b"), CreateOptions{})
	require.NoError(t, err)

	runToEnd(t, p)
	assert.Equal(t, StateDone, p.State())
	assert.Equal(t, 2, bundler.restored)
}

func TestMissingBuilderAbortsRun(t *testing.T) {
	h := newHarness(t)
	h.deps.Builder = nil
	p, err := Create(context.Background(), h.deps, h.collection("a"), CreateOptions{})
	require.NoError(t, err)

	runToEnd(t, p)
	assert.Equal(t, StateAborted, p.State())
}

func TestBuildTagAppliedToSelection(t *testing.T) {
	h := newHarness(t)
	c := h.collection("a")
	c.Processes[0].Platform = config.PlatformWindows64
	c.Processes[0].OutputPath = "builds/Game.exe"
	p, err := Create(context.Background(), h.deps, c, CreateOptions{BuildTag: "v1.2", ProjectDir: h.dir})
	require.NoError(t, err)

	assert.Equal(t, "builds/v1.2/Game.exe", p.Snapshot().Selected[0].OutputPath)
	assert.Equal(t, "builds/Game.exe", c.Processes[0].OutputPath)
}

func TestResumeAfterReload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.collection("a", "b")
	c.Processes[0].PreBuildSteps = []config.StepSpec{{Type: "poll", Param: "1"}, {Type: "poll", Param: "4"}}
	p, err := Create(ctx, h.deps, c, CreateOptions{})
	require.NoError(t, err)
	for range 4 {
		require.NoError(t, p.Advance(ctx))
	}
	saved := p.Snapshot()
	require.Equal(t, StatePreSteps, saved.State)
	require.Equal(t, 1, saved.PreSteps.Index)

	resumed, err := Load(ctx, h.deps)
	require.NoError(t, err)
	assert.Equal(t, p.RunID(), resumed.RunID())
	assert.Equal(t, saved.State, resumed.State())
	assert.Equal(t, saved.CurrentIndex, resumed.CurrentIndex())
	assert.Equal(t, saved.PreSteps.Index, resumed.Snapshot().PreSteps.Index)
	assert.Equal(t, "a", resumed.CurrentProcessName())
	assert.InDelta(t, p.Progress(), resumed.Progress(), 1e-9)

	runToEnd(t, resumed)
	assert.Equal(t, StateDone, resumed.State())
	assert.Equal(t, 2, resumed.CurrentIndex())
	assert.Len(t, h.builder.requests, 2)
}

func TestResumeEveryTick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p, err := Create(ctx, h.deps, h.collection("a", "b"), CreateOptions{})
	require.NoError(t, err)

	for ticks := 0; !p.State().Terminal(); ticks++ {
		require.Less(t, ticks, 100)
		require.NoError(t, p.Advance(ctx))
		p, err = Load(ctx, h.deps)
		require.NoError(t, err)
	}
	assert.Equal(t, StateDone, p.State())
	assert.Len(t, h.builder.requests, 2)
}

func TestReloadRestartsStepWithoutSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.collection("a")
	c.Processes[0].PreBuildSteps = []config.StepSpec{{Type: "restart"}}
	p, err := Create(ctx, h.deps, c, CreateOptions{})
	require.NoError(t, err)

	for p.State() != StatePreSteps {
		require.NoError(t, p.Advance(ctx))
	}
	require.Equal(t, 1, h.starts)
	require.NoError(t, p.Advance(ctx))
	require.Equal(t, StatePreSteps, p.State())

	resumed, err := Load(ctx, h.deps)
	require.NoError(t, err)
	assert.Equal(t, 2, h.starts, "step started again after reload")
	assert.Equal(t, StatePreSteps, resumed.State())
	assert.Equal(t, 0, resumed.Snapshot().PreSteps.Index)

	ticks := 0
	for resumed.State() == StatePreSteps {
		require.NoError(t, resumed.Advance(ctx))
		ticks++
	}
	assert.Equal(t, 2, ticks, "a restarted step needs all its polls again")
	runToEnd(t, resumed)
	assert.Equal(t, StateDone, resumed.State())
	assert.Equal(t, 2, h.starts)
}

func TestCreateWhileRunInProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := Create(ctx, h.deps, h.collection("a"), CreateOptions{})
	require.NoError(t, err)

	_, err = Create(ctx, h.deps, h.collection("b"), CreateOptions{})
	require.ErrorIs(t, err, ErrRunInProgress)
}

func TestRefusedCreateLeavesHostUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	hostA := new(slog.LevelVar)
	depsA := h.deps
	depsA.Verbosity = logging.NewVerbosity(hostA)
	c := h.collection("a")
	c.LogLevel = "error"
	c.Processes[0].PreBuildSteps = []config.StepSpec{{Type: "restart"}}
	running, err := Create(ctx, depsA, c, CreateOptions{})
	require.NoError(t, err)
	for running.State() != StatePreSteps {
		require.NoError(t, running.Advance(ctx))
	}
	require.Equal(t, slog.LevelError, hostA.Level())
	require.Equal(t, 1, h.starts)

	hostB := new(slog.LevelVar)
	depsB := h.deps
	depsB.Verbosity = logging.NewVerbosity(hostB)
	_, err = Create(ctx, depsB, h.collection("b"), CreateOptions{})
	require.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, slog.LevelInfo, hostB.Level())
	assert.Equal(t, 1, h.starts, "the running step is not started by a refused create")

	resumed, err := Load(ctx, depsB)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, hostB.Level())
	require.NoError(t, resumed.Cancel(ctx, "stop"))
	assert.Equal(t, slog.LevelInfo, hostB.Level())
}

func TestCreateDiscardsFinishedRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := Create(ctx, h.deps, h.collection("a"), CreateOptions{})
	require.NoError(t, err)
	runToEnd(t, first)

	second, err := Create(ctx, h.deps, h.collection("b"), CreateOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID(), second.RunID())
	assert.Equal(t, []string{"b"}, second.Selected())
}

func TestLoadWithoutRecord(t *testing.T) {
	h := newHarness(t)
	_, err := Load(context.Background(), h.deps)
	require.ErrorIs(t, err, ErrNoRun)
}

func TestFinishRequiresTerminalRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p, err := Create(ctx, h.deps, h.collection("a"), CreateOptions{})
	require.NoError(t, err)
	require.ErrorIs(t, p.Finish(ctx), ErrNotTerminal)

	runToEnd(t, p)
	require.NoError(t, p.Finish(ctx))
	_, err = Load(ctx, h.deps)
	require.ErrorIs(t, err, ErrNoRun)
}

func TestRunEventsRecorded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	events, err := eventstore.NewSQLiteStore(filepath.Join(h.dir, "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })
	h.deps.Events = events
	h.builder.result = player.ResultFailed

	p, err := Create(ctx, h.deps, h.collection("a"), CreateOptions{})
	require.NoError(t, err)
	runToEnd(t, p)

	history := eventstore.NewRunHistoryProjection(events, 10)
	require.NoError(t, history.Rebuild(ctx))
	summary, ok := history.Get(p.RunID())
	require.True(t, ok)
	assert.Equal(t, eventstore.RunStatusAborted, summary.Status)
	assert.Equal(t, "Build failed with result: failed", summary.Message)
}

func TestPretendOptionAppliesToSelection(t *testing.T) {
	h := newHarness(t)
	c := h.collection("a", "b")
	p, err := Create(context.Background(), h.deps, c, CreateOptions{Pretend: true})
	require.NoError(t, err)

	runToEnd(t, p)
	assert.Equal(t, StateDone, p.State())
	assert.Empty(t, h.builder.requests)
	assert.False(t, c.Processes[0].Pretend)
}
