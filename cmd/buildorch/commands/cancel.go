package commands

import (
	"context"
	"fmt"

	"git.home.luguber.info/inful/buildorch/internal/orchestrator"
)

// CancelCmd implements the 'cancel' command.
type CancelCmd struct {
	Message string `short:"m" help:"Reason recorded with the aborted run" default:"Cancelled from the command line"`
}

func (c *CancelCmd) Run(g *Global, root *CLI) error {
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

	deps := rt.deps(g, root)
	// The host that started a batch run exits on abort; this one does not.
	deps.Exit = func(int) {}
	p, err := orchestrator.Load(ctx, deps)
	if err != nil {
		return err
	}
	if p.State().Terminal() {
		_, _ = fmt.Fprintf(g.out(), "Run %s already ended (%s).\n", p.RunID(), p.State())
		return nil
	}
	if err := p.Cancel(ctx, c.Message); err != nil {
		return err
	}
	rt.flushMetrics()
	printRun(g.out(), p)
	return nil
}
