package steps

import (
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/buildorch/internal/metrics"
	"git.home.luguber.info/inful/buildorch/internal/step"
	"git.home.luguber.info/inful/buildorch/internal/steps/movedebug"
)

// Deps are the collaborators shared by built-in steps.
type Deps struct {
	Clock           clockwork.Clock
	Recorder        metrics.Recorder
	RelocationDelay time.Duration
	FS              movedebug.FS
	Publisher       Publisher
}

// NewRegistry returns a registry holding every built-in step.
func NewRegistry(deps Deps) *step.Registry {
	r := step.NewRegistry()
	Register(r, deps)
	return r
}

// Register adds the built-in steps to r. It panics if one is already present.
func Register(r *step.Registry, deps Deps) {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	deps.Recorder = metrics.OrNoop(deps.Recorder)

	r.MustRegister(movedebug.Type, "Moves debug folders out of the build folder", func(param string) step.Provider {
		opts := []movedebug.Option{movedebug.WithClock(deps.Clock), movedebug.WithRecorder(deps.Recorder)}
		if deps.RelocationDelay > 0 {
			opts = append(opts, movedebug.WithDelay(deps.RelocationDelay))
		}
		if deps.FS != nil {
			opts = append(opts, movedebug.WithFS(deps.FS))
		}
		return movedebug.New(param, opts...)
	})
	r.MustRegister(SetEnvType, "Sets environment variables (KEY=VALUE,...)", func(param string) step.Provider {
		return NewSetEnv(param)
	})
	r.MustRegister(ArchiveType, "Zips the output folder", func(param string) step.Provider {
		return NewArchive(param)
	})
	r.MustRegister(StampType, "Writes build_info.json with commit and run metadata", func(param string) step.Provider {
		return NewStamp(param, deps.Clock)
	})
	r.MustRegister(ReleaseNotesType, "Renders Markdown release notes to HTML", func(param string) step.Provider {
		return NewReleaseNotes(param)
	})
	r.MustRegister(NotifyType, "Publishes a build notification to NATS", func(param string) step.Provider {
		return NewNotify(param, deps.Publisher)
	})
}
