// Package step defines the contract every pipeline step implements, the registry
// that resolves step specs to providers, and the walker that runs one stage's
// step list a tick at a time.
package step

import (
	"log/slog"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
)

// Provider is a unit of work in a pre- or post-build stage.
//
// Start is called exactly once with the run's configuration. Update is then
// called once per tick until IsDone reports true, and must return without
// blocking. Once IsDone reports true it keeps doing so. A provider that cannot
// finish logs the problem and reports done; the walker has no separate notion
// of step failure.
type Provider interface {
	Start(cfg *config.BuildConfiguration)
	Update()
	IsDone() bool
}

// Snapshotter is implemented by providers that can resume mid-step after the
// host restarts. Providers without it are started again on resume, so their
// Start must be safe to repeat.
type Snapshotter interface {
	SnapshotState() ([]byte, error)
	RestoreState(cfg *config.BuildConfiguration, data []byte) error
}

// Abandoner is implemented by providers that hold resources while running. The
// walker calls Abandon when it drops a started step before it is done.
type Abandoner interface {
	Abandon()
}

// Describer supplies a human-readable description for listings.
type Describer interface {
	Description() string
}

// SkipType is the identifier of the provider used for unknown step types.
const SkipType = "skip"

// Skip is done as soon as it starts.
type Skip struct {
	reason string
	done   bool
}

// NewSkip returns a skip provider; a non-empty reason is logged on Start.
func NewSkip(reason string) *Skip {
	return &Skip{reason: reason}
}

func (s *Skip) Start(cfg *config.BuildConfiguration) {
	if s.reason != "" {
		slog.Warn("Skipping step", slog.String("reason", s.reason), logfields.Process(processName(cfg)))
	}
	s.done = true
}

func (s *Skip) Update()      { s.done = true }
func (s *Skip) IsDone() bool { return s.done }

func (s *Skip) Description() string { return "Does nothing; stands in for unknown step types" }

func processName(cfg *config.BuildConfiguration) string {
	if p := cfg.CurrentProcess(); p != nil {
		return p.Name
	}
	return ""
}
