package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"git.home.luguber.info/inful/buildorch/internal/eventstore"
	"git.home.luguber.info/inful/buildorch/internal/orchestrator"
)

// StatusCmd implements the 'status' command.
type StatusCmd struct {
	History int `help:"Also list the last N runs from the event history" default:"0"`
}

func (s *StatusCmd) Run(g *Global, root *CLI) error {
	settings, err := root.settings()
	if err != nil {
		return err
	}
	rt, err := openRuntime(settings, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	ctx := context.Background()

	p, err := orchestrator.Load(ctx, rt.deps(g, root))
	switch {
	case errors.Is(err, orchestrator.ErrNoRun):
		_, _ = fmt.Fprintln(g.out(), "No build run recorded.")
	case err != nil:
		return err
	default:
		printRun(g.out(), p)
	}

	if s.History > 0 {
		return printHistory(ctx, g.out(), rt.events, s.History)
	}
	return nil
}

func printRun(w io.Writer, p *orchestrator.Process) {
	_, _ = fmt.Fprintf(w, "Run:      %s\n", p.RunID())
	_, _ = fmt.Fprintf(w, "State:    %s\n", p.State())
	_, _ = fmt.Fprintf(w, "Process:  %s (%d/%d)\n", p.CurrentProcessName(), p.CurrentIndex(), len(p.Selected()))
	_, _ = fmt.Fprintf(w, "Progress: %.0f%%\n", p.Progress()*100)
	if p.Message() != "" {
		_, _ = fmt.Fprintf(w, "Message:  %s\n", p.Message())
	}
}

func printHistory(ctx context.Context, w io.Writer, events eventstore.Store, limit int) error {
	if events == nil {
		_, _ = fmt.Fprintln(w, "Event history is disabled (settings.events_path).")
		return nil
	}
	projection := eventstore.NewRunHistoryProjection(events, limit)
	if err := projection.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild run history: %w", err)
	}
	_, _ = fmt.Fprintln(w, "History:")
	for _, run := range projection.History() {
		_, _ = fmt.Fprintf(w, "  %s  %-8s %-20s %s  [%s]\n",
			run.StartedAt.Format(time.RFC3339),
			run.Status,
			run.Collection,
			run.Duration.Round(time.Millisecond),
			strings.Join(run.Processes, ","))
	}
	return nil
}
