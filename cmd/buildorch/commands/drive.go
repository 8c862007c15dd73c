package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/driver"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
	"git.home.luguber.info/inful/buildorch/internal/orchestrator"
)

// DriveCmd implements the 'drive' command.
type DriveCmd struct {
	Start    bool `help:"Start a run immediately instead of waiting for a collection change"`
	NoWatch  bool `name:"no-watch" help:"Do not start runs when the collection file changes"`
	Debounce int  `help:"Milliseconds to wait for collection writes to settle" default:"2000"`

	Selection `embed:""`
}

func (d *DriveCmd) Run(g *Global, root *CLI) error {
	coll, err := config.Load(root.Collection)
	if err != nil {
		return err
	}
	rt, err := openRuntime(coll.Settings, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	deps := rt.deps(g, root)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	start := func(ctx context.Context) (driver.Run, error) {
		// Pick up edits made since the driver started.
		latest, err := config.Load(root.Collection)
		if err != nil {
			return nil, err
		}
		p, err := orchestrator.Create(ctx, deps, latest, d.createOptions(false))
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	resume := func(ctx context.Context) (driver.Run, error) {
		p, err := orchestrator.Load(ctx, deps)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	drv, err := driver.NewInteractive(rt.driverOptions(), start, resume)
	if err != nil {
		return err
	}
	if err := drv.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := drv.Stop(); err != nil {
			slog.Warn("Stopping tick driver failed", logfields.Error(err))
		}
	}()

	trigger := func(ctx context.Context) {
		if _, err := drv.Trigger(ctx); err != nil {
			slog.Error("Starting build run failed", logfields.Error(err))
		}
	}
	if d.Start {
		trigger(ctx)
	}
	if !d.NoWatch {
		watcher, err := driver.NewCollectionWatcher(root.Collection, time.Duration(d.Debounce)*time.Millisecond, nil, trigger)
		if err != nil {
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = watcher.Stop() }()
	}

	_, _ = fmt.Fprintln(g.out(), "Driving build runs; press Ctrl+C to stop.")
	<-ctx.Done()
	slog.Info("Shutdown signal received")
	return nil
}
