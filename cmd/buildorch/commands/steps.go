package commands

import (
	"fmt"
	"text/tabwriter"

	"git.home.luguber.info/inful/buildorch/internal/steps"
)

// StepsCmd implements the 'steps' command.
type StepsCmd struct{}

func (s *StepsCmd) Run(g *Global, _ *CLI) error {
	r := steps.NewRegistry(steps.Deps{})
	tw := tabwriter.NewWriter(g.out(), 0, 4, 2, ' ', 0)
	for _, name := range r.Names() {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", name, r.Description(name))
	}
	return tw.Flush()
}
