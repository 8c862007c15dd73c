package commands

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alecthomas/kong"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/driver"
	"git.home.luguber.info/inful/buildorch/internal/eventstore"
	foundationerrors "git.home.luguber.info/inful/buildorch/internal/foundation/errors"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
	"git.home.luguber.info/inful/buildorch/internal/logging"
	"git.home.luguber.info/inful/buildorch/internal/metrics"
	"git.home.luguber.info/inful/buildorch/internal/orchestrator"
	"git.home.luguber.info/inful/buildorch/internal/player"
	"git.home.luguber.info/inful/buildorch/internal/state"
	"git.home.luguber.info/inful/buildorch/internal/steps"
)

// Global carries the process-level collaborators subcommands write to.
type Global struct {
	Out  io.Writer
	Exit func(code int)
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

func (g *Global) exit(code int) {
	if g == nil || g.Exit == nil {
		os.Exit(code)
		return
	}
	g.Exit(code)
}

// CLI definition & global flags.
type CLI struct {
	Collection string           `short:"c" help:"Build collection file (YAML or TOML)" default:"buildorch.yaml"`
	Verbose    bool             `short:"v" help:"Enable verbose logging"`
	Version    kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run    RunCmd    `cmd:"" help:"Start a build run and tick it until it ends"`
	Resume ResumeCmd `cmd:"" help:"Resume the persisted build run after a restart"`
	Status StatusCmd `cmd:"" help:"Show the persisted build run"`
	Cancel CancelCmd `cmd:"" help:"Cancel the persisted build run"`
	Drive  DriveCmd  `cmd:"" help:"Tick runs from a scheduler and start one when the collection file changes"`
	Init   InitCmd   `cmd:"" help:"Write an example collection file"`
	Steps  StepsCmd  `cmd:"" help:"List the registered step types"`

	verbosity *logging.Verbosity
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	c.verbosity = logging.Setup(os.Stderr, c.Verbose)
	return nil
}

// settings returns the collection's settings, or the defaults when the
// collection file does not exist.
func (c *CLI) settings() (config.Settings, error) {
	if _, err := os.Stat(c.Collection); errors.Is(err, fs.ErrNotExist) {
		return config.DefaultSettings(), nil
	}
	coll, err := config.Load(c.Collection)
	if err != nil {
		return config.Settings{}, err
	}
	return coll.Settings, nil
}

// runtime holds the stores and outbound connections a command opens.
type runtime struct {
	settings config.Settings
	store    state.Store
	events   eventstore.Store
	metrics  *metrics.PrometheusRecorder
	nats     *nats.Conn

	closeOnce sync.Once
}

func openRuntime(settings config.Settings, connect bool) (*runtime, error) {
	store, err := state.Open(settings.Store, state.DefaultSQLitePath)
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryStore, "open process store").
			WithContext("store", settings.Store).
			Build()
	}
	rt := &runtime{
		settings: settings,
		store:    store,
		metrics:  metrics.NewPrometheusRecorder(prometheus.NewRegistry()),
	}

	if settings.EventsPath != "" {
		events, err := eventstore.NewSQLiteStore(settings.EventsPath)
		if err != nil {
			rt.Close()
			return nil, foundationerrors.WrapError(err, foundationerrors.CategoryStore, "open event store").
				WithContext("path", settings.EventsPath).
				Build()
		}
		rt.events = events
		if keep := settings.EventsRetention.Std(); keep > 0 {
			if n, err := events.Prune(context.Background(), time.Now().Add(-keep)); err != nil {
				slog.Warn("Pruning run history failed", logfields.Error(err))
			} else if n > 0 {
				slog.Debug("Pruned run history", slog.Int64("events", n))
			}
		}
	}

	if connect && settings.NATSURL != "" {
		conn, err := steps.ConnectNATS(settings.NATSURL)
		if err != nil {
			// notify_nats steps log and finish without a connection.
			slog.Warn("NATS unavailable; notifications disabled", slog.String("url", settings.NATSURL), logfields.Error(err))
		} else {
			rt.nats = conn
		}
	}
	return rt, nil
}

func (rt *runtime) Close() {
	rt.closeOnce.Do(rt.close)
}

func (rt *runtime) close() {
	if rt.nats != nil {
		rt.nats.Close()
	}
	if rt.events != nil {
		if err := rt.events.Close(); err != nil {
			slog.Warn("Closing event store failed", logfields.Error(err))
		}
	}
	if err := rt.store.Close(); err != nil {
		slog.Warn("Closing process store failed", logfields.Error(err))
	}
}

func (rt *runtime) flushMetrics() {
	if rt.settings.MetricsFile == "" {
		return
	}
	if err := rt.metrics.WriteTextfile(rt.settings.MetricsFile); err != nil {
		slog.Warn("Writing metrics textfile failed", logfields.Path(rt.settings.MetricsFile), logfields.Error(err))
	}
}

// deps wires the orchestrator. An aborted batch run exits through g once the
// metrics are flushed and the stores closed.
func (rt *runtime) deps(g *Global, root *CLI) orchestrator.Deps {
	var publisher steps.Publisher
	if rt.nats != nil {
		publisher = rt.nats
	}
	d := orchestrator.Deps{
		Store: rt.store,
		Path:  rt.settings.ProcessPath,
		Registry: steps.NewRegistry(steps.Deps{
			Recorder:        rt.metrics,
			RelocationDelay: rt.settings.RelocationDelay.Std(),
			Publisher:       publisher,
		}),
		Builder:   player.NewExecBuildService(rt.settings.BuildCommand),
		Notifier:  orchestrator.WriterNotifier{W: os.Stderr},
		Verbosity: root.verbosity,
		Recorder:  rt.metrics,
		Exit: func(code int) {
			rt.flushMetrics()
			rt.Close()
			g.exit(code)
		},
	}
	if rt.events != nil {
		d.Events = rt.events
	}
	if rt.settings.BundleManifest != "" {
		d.Bundler = player.NewManifestBundler(rt.settings.BundleManifest, rt.settings.BundleCommand)
	}
	return d
}

func (rt *runtime) driverOptions() driver.Options {
	return driver.Options{
		Interval:    rt.settings.TickInterval.Std(),
		Metrics:     rt.metrics,
		MetricsFile: rt.settings.MetricsFile,
	}
}

// runHeadless ticks p to the end and turns an aborted run into an error.
func (rt *runtime) runHeadless(ctx context.Context, g *Global, p *orchestrator.Process) error {
	if err := driver.RunHeadless(ctx, p, rt.driverOptions()); err != nil {
		return foundationerrors.WrapError(err, foundationerrors.CategoryRuntime, "build run interrupted").
			WithContext("run_id", p.RunID()).
			Build()
	}
	printRun(g.out(), p)
	if p.State() == orchestrator.StateAborted {
		return foundationerrors.BuildError("build run aborted").
			WithContext("run_id", p.RunID()).
			WithContext("message", p.Message()).
			Build()
	}
	return nil
}

func absDir(dir string) string {
	if dir == "" {
		dir = "."
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}
