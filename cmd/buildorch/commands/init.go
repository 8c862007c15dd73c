package commands

import (
	"fmt"

	"git.home.luguber.info/inful/buildorch/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite an existing collection file"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	if err := config.Init(root.Collection, i.Force); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(g.out(), "Wrote example collection %s\n", root.Collection)
	_, _ = fmt.Fprintf(g.out(), "Edit its processes, then start a run with: buildorch -c %s run\n", root.Collection)
	return nil
}
