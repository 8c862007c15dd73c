package commands

import (
	"context"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/buildorch/internal/orchestrator"
)

// ResumeCmd implements the 'resume' command.
type ResumeCmd struct{}

func (r *ResumeCmd) Run(g *Global, root *CLI) error {
	settings, err := root.settings()
	if err != nil {
		return err
	}
	rt, err := openRuntime(settings, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := orchestrator.Load(ctx, rt.deps(g, root))
	if err != nil {
		return err
	}
	return rt.runHeadless(ctx, g, p)
}
