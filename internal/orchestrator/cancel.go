package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"git.home.luguber.info/inful/buildorch/internal/eventstore"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
	"git.home.luguber.info/inful/buildorch/internal/metrics"
)

// Cancel aborts the run. Interactive runs show message through the notifier.
// Both walkers are cleared without rolling back step side effects, and a batch
// run exits the host with status 1. Cancelling a terminal run does nothing.
func (p *Process) Cancel(ctx context.Context, message string) error {
	if p.rs.State.Terminal() {
		return nil
	}
	if message != "" && !p.rs.BatchMode && p.deps.Notifier != nil {
		p.deps.Notifier.Notify("Build run aborted", message)
	}
	slog.Error("Build process was cancelled",
		logfields.RunID(p.rs.RunID),
		logfields.Process(p.CurrentProcessName()),
		logfields.State(string(p.rs.State)),
		slog.String("message", message))

	p.rs.Message = message
	p.record(ctx, func() (eventstore.Event, error) {
		return eventstore.NewRunCancelled(p.rs.RunID, eventstore.RunCancelledPayload{Message: message, State: string(p.rs.State)})
	})
	p.pre.Clear()
	p.post.Clear()
	if err := p.setState(ctx, StateAborted); err != nil {
		return err
	}
	return p.finish(ctx)
}

// finish runs once per run when it first becomes terminal: it restores the log
// level, records the outcome and, for an aborted batch run, exits the host.
func (p *Process) finish(ctx context.Context) error {
	if p.rs.Finished {
		return nil
	}
	p.rs.Finished = true
	p.deps.Verbosity.Restore(p.rs.LogRestore)

	outcome := metrics.RunOutcomeDone
	if p.rs.State == StateAborted {
		outcome = metrics.RunOutcomeAborted
	}
	duration := p.deps.Clock.Since(p.rs.StartedAt)
	p.deps.Recorder.IncRunOutcome(outcome)
	p.record(ctx, func() (eventstore.Event, error) {
		return eventstore.NewRunFinished(p.rs.RunID, string(outcome), duration)
	})
	slog.Info("Build run is done",
		logfields.RunID(p.rs.RunID),
		logfields.State(string(p.rs.State)),
		logfields.DurationMS(float64(duration.Milliseconds())))

	err := p.save(ctx)
	if p.rs.BatchMode && p.rs.State == StateAborted {
		p.deps.Exit(1)
	}
	return err
}

// abortedElsewhere returns the stored record of this run when another host has
// cancelled it since the last save.
func (p *Process) abortedElsewhere(ctx context.Context) (*RunState, error) {
	stored, err := readRunState(ctx, p.deps)
	if errors.Is(err, ErrNoRun) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if stored.RunID != p.rs.RunID || stored.State != StateAborted {
		return nil, nil
	}
	return stored, nil
}

// adoptAbort brings this host in line with a cancel made elsewhere. The other
// host already recorded the events, so only local cleanup and the exit remain.
func (p *Process) adoptAbort(ctx context.Context, stored *RunState) error {
	slog.Warn("Build run was cancelled by another host",
		logfields.RunID(p.rs.RunID),
		logfields.Process(p.CurrentProcessName()),
		slog.String("message", stored.Message))
	p.pre.Clear()
	p.post.Clear()
	p.rs.State = StateAborted
	p.rs.Message = stored.Message
	p.rs.Finished = true
	p.deps.Verbosity.Restore(p.rs.LogRestore)
	err := p.save(ctx)
	if p.rs.BatchMode {
		p.deps.Exit(1)
	}
	return err
}

// WriterNotifier prints notifications to W.
type WriterNotifier struct {
	W io.Writer
}

func (n WriterNotifier) Notify(title, message string) {
	_, _ = fmt.Fprintf(n.W, "%s: %s\n", title, message)
}
