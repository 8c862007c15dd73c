package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/buildorch/internal/logfields"
	"git.home.luguber.info/inful/buildorch/internal/orchestrator"
)

// StartFunc creates a new run.
type StartFunc func(ctx context.Context) (Run, error)

// ResumeFunc loads the persisted run, returning orchestrator.ErrNoRun when there is none.
type ResumeFunc func(ctx context.Context) (Run, error)

// Interactive ticks the current run from a gocron job while the host stays up.
// At most one run is active; a new one is started through Trigger.
type Interactive struct {
	opts      Options
	start     StartFunc
	resume    ResumeFunc
	scheduler gocron.Scheduler

	mu      sync.Mutex
	current Run
	last    Run
}

// NewInteractive creates a driver. resume may be nil.
func NewInteractive(opts Options, start StartFunc, resume ResumeFunc) (*Interactive, error) {
	if start == nil {
		return nil, errors.New("driver: start function required")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("driver: tick interval must be positive, got %s", opts.Interval)
	}
	s, err := gocron.NewScheduler(gocron.WithClock(opts.clock()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Interactive{opts: opts, start: start, resume: resume, scheduler: s}, nil
}

// Start resumes a persisted run if there is one and schedules the tick job.
func (d *Interactive) Start(ctx context.Context) error {
	if d.resume != nil {
		r, err := d.resume(ctx)
		switch {
		case errors.Is(err, orchestrator.ErrNoRun):
		case err != nil:
			return fmt.Errorf("resume run: %w", err)
		case !r.State().Terminal():
			slog.Info("Resuming build run", logfields.RunID(r.RunID()), logfields.State(string(r.State())))
			d.mu.Lock()
			d.current = r
			d.mu.Unlock()
		}
	}

	_, err := d.scheduler.NewJob(
		gocron.DurationJob(d.opts.Interval),
		gocron.NewTask(d.Tick, ctx),
		gocron.WithName("buildorch-tick"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create tick job: %w", err)
	}
	slog.Info("Starting tick driver", slog.Duration("interval", d.opts.Interval))
	d.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down. A running run stays persisted for the next host.
func (d *Interactive) Stop() error {
	slog.Info("Stopping tick driver")
	return d.scheduler.Shutdown()
}

// Trigger starts a new run unless one is already active. It reports whether a
// run was started.
func (d *Interactive) Trigger(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		slog.Info("Build run already active; trigger ignored", logfields.RunID(d.current.RunID()))
		return false, nil
	}
	r, err := d.start(ctx)
	if err != nil {
		return false, err
	}
	d.current = r
	return true, nil
}

// Tick advances the active run once. The run is released when it ends.
func (d *Interactive) Tick(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return
	}
	if err := d.current.Advance(ctx); err != nil {
		slog.Error("Advancing build run failed", logfields.RunID(d.current.RunID()), logfields.Error(err))
		return
	}
	if d.current.State().Terminal() {
		slog.Info("Build run ended", logfields.RunID(d.current.RunID()), logfields.State(string(d.current.State())))
		flushMetrics(d.opts)
		d.last = d.current
		d.current = nil
	}
}

// Current returns the active run, or nil.
func (d *Interactive) Current() Run {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Last returns the most recently ended run, or nil.
func (d *Interactive) Last() Run {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
