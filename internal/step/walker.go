package step

import (
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
	"git.home.luguber.info/inful/buildorch/internal/metrics"
)

// WalkerState is the persisted form of a Walker.
type WalkerState struct {
	Specs     []config.StepSpec `json:"specs,omitempty"`
	Index     int               `json:"index"`
	Done      bool              `json:"done"`
	Started   bool              `json:"started"`
	StepState []byte            `json:"step_state,omitempty"`
}

// Walker runs an ordered list of providers, one at a time, one poll per Advance.
// Steps before the current index have reported done; the current step has been
// started exactly once before it is updated.
type Walker struct {
	registry *Registry
	recorder metrics.Recorder
	clock    clockwork.Clock
	stage    string

	specs     []config.StepSpec
	providers []Provider
	cfg       *config.BuildConfiguration
	index     int
	done      bool
	started   bool
	stepBegan time.Time
}

// WalkerOption configures a Walker.
type WalkerOption func(*Walker)

// WithRecorder sets the metrics recorder for step durations.
func WithRecorder(r metrics.Recorder) WalkerOption {
	return func(w *Walker) { w.recorder = metrics.OrNoop(r) }
}

// WithClock sets the clock used to time steps.
func WithClock(c clockwork.Clock) WalkerOption {
	return func(w *Walker) { w.clock = c }
}

// WithStage names the stage in logs and metrics.
func WithStage(stage string) WalkerOption {
	return func(w *Walker) { w.stage = stage }
}

// NewWalker creates an empty, not-started walker.
func NewWalker(registry *Registry, opts ...WalkerOption) *Walker {
	w := &Walker{
		registry: registry,
		recorder: metrics.NoopRecorder{},
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.registry == nil {
		w.registry = NewRegistry()
	}
	return w
}

// Init resolves specs into providers, resets the index and starts the first step.
func (w *Walker) Init(specs []config.StepSpec, cfg *config.BuildConfiguration) {
	w.Prepare(specs, cfg)
	if len(w.providers) > 0 {
		w.startCurrent()
	}
}

// Prepare is Init without starting the first step; it starts on the first Advance.
func (w *Walker) Prepare(specs []config.StepSpec, cfg *config.BuildConfiguration) {
	w.specs = slices.Clone(specs)
	w.cfg = cfg
	w.index = 0
	w.done = false
	w.started = false
	w.providers = make([]Provider, len(specs))
	for i, spec := range w.specs {
		w.providers[i] = w.registry.Resolve(spec)
	}
}

// Advance polls the current step once and moves to the next when it is done.
// An empty list is done on the first call.
func (w *Walker) Advance() {
	if w.done {
		return
	}
	if w.index >= len(w.providers) {
		w.done = true
		return
	}

	cur := w.providers[w.index]
	if !w.started {
		w.startCurrent()
	}
	if !cur.IsDone() {
		cur.Update()
	}
	if !cur.IsDone() {
		return
	}

	w.finishCurrent()
	w.index++
	if w.index < len(w.providers) {
		w.startCurrent()
		return
	}
	w.done = true
}

// IsDone reports whether every step has finished.
func (w *Walker) IsDone() bool { return w.done }

// Index is the position of the current step.
func (w *Walker) Index() int { return w.index }

// Len is the number of steps in the list.
func (w *Walker) Len() int { return len(w.specs) }

// Progress is index/len, 1 once done and 0 for an empty or cleared walker that
// has not finished.
func (w *Walker) Progress() float64 {
	if w.done {
		return 1
	}
	if len(w.specs) == 0 {
		return 0
	}
	return float64(w.index) / float64(len(w.specs))
}

// End releases the providers and configuration after the walker is done. The
// index and done flag are kept so Progress and State stay meaningful.
func (w *Walker) End() {
	w.providers = nil
	w.cfg = nil
	w.started = false
}

// Clear resets the walker to an empty, not-started state. A started step that
// has not finished is abandoned.
func (w *Walker) Clear() {
	if w.started && w.index < len(w.providers) {
		cur := w.providers[w.index]
		if a, ok := cur.(Abandoner); ok && !cur.IsDone() {
			slog.Info("Abandoning step", logfields.Stage(w.stage), logfields.Step(w.specs[w.index].Type), logfields.StepIndex(w.index))
			a.Abandon()
		}
	}
	w.specs = nil
	w.providers = nil
	w.cfg = nil
	w.index = 0
	w.done = false
	w.started = false
}

// State captures the walker for persistence. The current step's own state is
// included when it implements Snapshotter.
func (w *Walker) State() WalkerState {
	st := WalkerState{
		Specs:   slices.Clone(w.specs),
		Index:   w.index,
		Done:    w.done,
		Started: w.started,
	}
	if !w.started || w.done || w.index >= len(w.providers) {
		return st
	}
	if snap, ok := w.providers[w.index].(Snapshotter); ok {
		data, err := snap.SnapshotState()
		if err != nil {
			slog.Warn("Step state not captured; it will restart on resume",
				logfields.Stage(w.stage), logfields.Step(w.specs[w.index].Type), logfields.Error(err))
			return st
		}
		st.StepState = data
	}
	return st
}

// Restore rebuilds the walker from a persisted state. The current step is
// restored from its snapshot when possible, otherwise started again.
func (w *Walker) Restore(st WalkerState, cfg *config.BuildConfiguration) {
	w.specs = slices.Clone(st.Specs)
	w.cfg = cfg
	w.index = min(max(st.Index, 0), len(w.specs))
	w.done = st.Done
	w.started = false
	w.providers = nil
	if w.done {
		return
	}

	w.providers = make([]Provider, len(w.specs))
	for i, spec := range w.specs {
		w.providers[i] = w.registry.Resolve(spec)
	}
	if w.index >= len(w.providers) || !st.Started {
		return
	}

	cur := w.providers[w.index]
	if snap, ok := cur.(Snapshotter); ok && len(st.StepState) > 0 {
		err := snap.RestoreState(cfg, st.StepState)
		if err == nil {
			w.started = true
			w.stepBegan = w.clock.Now()
			slog.Info("Resumed step", logfields.Stage(w.stage), logfields.Step(w.specs[w.index].Type), logfields.StepIndex(w.index))
			return
		}
		slog.Warn("Step state could not be restored; restarting step",
			logfields.Stage(w.stage), logfields.Step(w.specs[w.index].Type), logfields.Error(err))
	}
	w.startCurrent()
}

func (w *Walker) startCurrent() {
	spec := w.specs[w.index]
	slog.Info("Starting step",
		logfields.Stage(w.stage),
		logfields.Step(spec.Type),
		logfields.StepIndex(w.index),
		logfields.Process(processName(w.cfg)))
	w.stepBegan = w.clock.Now()
	w.started = true
	w.providers[w.index].Start(w.cfg)
}

func (w *Walker) finishCurrent() {
	spec := w.specs[w.index]
	elapsed := w.clock.Since(w.stepBegan)
	w.recorder.ObserveStepDuration(spec.Type, elapsed)
	slog.Info("Step finished",
		logfields.Stage(w.stage),
		logfields.Step(spec.Type),
		logfields.StepIndex(w.index),
		logfields.DurationMS(float64(elapsed.Milliseconds())))
	w.started = false
}
