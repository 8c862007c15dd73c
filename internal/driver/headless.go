// Package driver calls Advance on a build run from the outside: a blocking loop
// for headless runs and a scheduler-backed driver for interactive sessions.
package driver

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/buildorch/internal/logfields"
	"git.home.luguber.info/inful/buildorch/internal/orchestrator"
)

// Run is the part of an orchestrator.Process a driver needs.
type Run interface {
	Advance(ctx context.Context) error
	State() orchestrator.State
	Progress() float64
	RunID() string
}

// MetricsWriter flushes collected metrics, typically to a node-exporter textfile.
type MetricsWriter interface {
	WriteTextfile(path string) error
}

// Options configure both drivers.
type Options struct {
	// Interval between ticks. Zero ticks back to back.
	Interval    time.Duration
	Clock       clockwork.Clock
	Metrics     MetricsWriter
	MetricsFile string
}

func (o Options) clock() clockwork.Clock {
	if o.Clock == nil {
		return clockwork.NewRealClock()
	}
	return o.Clock
}

// RunHeadless advances r until it reaches a terminal state or ctx is cancelled,
// waiting Interval between ticks.
func RunHeadless(ctx context.Context, r Run, opts Options) error {
	clock := opts.clock()
	defer flushMetrics(opts)

	for !r.State().Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Advance(ctx); err != nil {
			return err
		}
		slog.Debug("Tick",
			logfields.RunID(r.RunID()),
			logfields.State(string(r.State())),
			logfields.Progress(r.Progress()))
		if r.State().Terminal() || opts.Interval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(opts.Interval):
		}
	}
	return nil
}

// ExitCode maps a run's final state to a process exit status.
func ExitCode(s orchestrator.State) int {
	switch s {
	case orchestrator.StateDone:
		return 0
	case orchestrator.StateAborted:
		return 1
	default:
		return 2
	}
}

func flushMetrics(opts Options) {
	if opts.Metrics == nil || opts.MetricsFile == "" {
		return
	}
	if err := opts.Metrics.WriteTextfile(opts.MetricsFile); err != nil {
		slog.Warn("Writing metrics textfile failed", logfields.Path(opts.MetricsFile), logfields.Error(err))
	}
}
