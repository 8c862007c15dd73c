// Package movedebug implements the move_debug_files step: once the build has
// released its file handles, subdirectories of the output directory whose names
// mark them as not-for-shipping are moved into a sibling "<name>_DebugInfo"
// directory.
package movedebug

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/text/cases"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
	"git.home.luguber.info/inful/buildorch/internal/metrics"
	"git.home.luguber.info/inful/buildorch/internal/retry"
)

const (
	// Type is the step identifier used in collection files.
	Type = "move_debug_files"
	// DefaultFilters applies when the step parameter is empty.
	DefaultFilters = "donotship,dontship"
	// DebugDirSuffix is appended to the output directory name.
	DebugDirSuffix = "_DebugInfo"
)

// Step is the move_debug_files provider.
type Step struct {
	fs       FS
	clock    clockwork.Clock
	policy   retry.Policy
	recorder metrics.Recorder
	filters  []string

	outputDir string
	debugDir  string
	deadline  time.Time
	attempts  int
	done      bool
}

// Option configures a Step.
type Option func(*Step)

func WithFS(fsys FS) Option                  { return func(s *Step) { s.fs = fsys } }
func WithClock(c clockwork.Clock) Option     { return func(s *Step) { s.clock = c } }
func WithPolicy(p retry.Policy) Option       { return func(s *Step) { s.policy = p } }
func WithRecorder(r metrics.Recorder) Option { return func(s *Step) { s.recorder = metrics.OrNoop(r) } }
func WithDelay(d time.Duration) Option       { return func(s *Step) { s.policy = retry.FixedPolicy(d) } }

// New creates the step. param is a comma-separated list of case-insensitive
// name fragments; any match qualifies a directory.
func New(param string, opts ...Option) *Step {
	s := &Step{
		fs:       OSFS{},
		clock:    clockwork.NewRealClock(),
		policy:   retry.FixedPolicy(config.DefaultRelocationDelay),
		recorder: metrics.NoopRecorder{},
		filters:  parseFilters(param),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func parseFilters(param string) []string {
	if strings.TrimSpace(param) == "" {
		param = DefaultFilters
	}
	fold := cases.Fold()
	var out []string
	for _, f := range strings.Split(param, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, fold.String(f))
		}
	}
	return out
}

// Description implements step.Describer.
func (s *Step) Description() string {
	return "Moves debug folders (" + strings.Join(s.filters, ", ") + ") next to the build directory"
}

// Start resolves the output and debug directories, clears old debug output and
// arms the initial delay.
func (s *Step) Start(cfg *config.BuildConfiguration) {
	s.outputDir = cfg.OutputDirectory()
	if s.outputDir == "" {
		slog.Warn("Output folder not configured; nothing to move", logfields.Step(Type))
		s.done = true
		return
	}
	if info, err := s.fs.Stat(s.outputDir); err != nil || !info.IsDir() {
		slog.Warn("Output folder does not exist; nothing to move", logfields.Step(Type), logfields.Path(s.outputDir))
		s.done = true
		return
	}

	s.debugDir = DebugDir(s.outputDir)
	if err := s.fs.MkdirAll(s.debugDir, 0o755); err != nil {
		slog.Error("Cannot create debug info folder; skipping", logfields.Step(Type), logfields.Path(s.debugDir), logfields.Error(err))
		s.done = true
		return
	}
	slog.Info("Target debug info folder", logfields.Step(Type), logfields.Path(s.debugDir))
	s.clearDebugDir()

	s.attempts = 0
	s.deadline = s.clock.Now().Add(s.policy.Initial)
}

// DebugDir returns the sibling debug directory for an output directory.
func DebugDir(outputDir string) string {
	clean := filepath.Clean(outputDir)
	return filepath.Join(filepath.Dir(clean), filepath.Base(clean)+DebugDirSuffix)
}

func (s *Step) clearDebugDir() {
	entries, err := s.fs.ReadDir(s.debugDir)
	if err != nil {
		slog.Warn("Cannot list debug info folder", logfields.Path(s.debugDir), logfields.Error(err))
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		p := filepath.Join(s.debugDir, e.Name())
		if err := s.fs.RemoveAll(p); err != nil {
			slog.Warn("Cannot delete existing debug info folder", logfields.Path(p), logfields.Error(err))
		}
	}
}

// Update makes one relocation pass once the deadline has passed. A failed move
// ends the pass and re-arms the deadline one delay after now.
func (s *Step) Update() {
	now := s.clock.Now()
	if s.done || now.Before(s.deadline) {
		return
	}
	if err := s.relocate(); err != nil {
		s.attempts++
		s.recorder.IncStepRetry(Type)
		if s.policy.Exhausted(s.attempts) {
			slog.Error("Giving up moving debug folders", logfields.Step(Type), logfields.Error(err))
			s.done = true
			return
		}
		s.deadline = now.Add(s.policy.Delay(s.attempts))
		slog.Warn("Moving debug folders failed; will retry",
			logfields.Step(Type),
			slog.Int("attempt", s.attempts),
			slog.Time("retry_at", s.deadline),
			logfields.Error(err))
		return
	}
	s.done = true
}

func (s *Step) relocate() error {
	entries, err := s.fs.ReadDir(s.outputDir)
	if err != nil {
		return fmt.Errorf("list %s: %w", s.outputDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() || !s.matches(e.Name()) {
			continue
		}
		from := filepath.Join(s.outputDir, e.Name())
		to := filepath.Join(s.debugDir, e.Name())
		slog.Info("Moving folder", logfields.Path(from), slog.String("target", to))
		if err := s.fs.Rename(from, to); err != nil {
			return fmt.Errorf("move %s: %w", from, err)
		}
	}
	return nil
}

func (s *Step) matches(name string) bool {
	folded := cases.Fold().String(name)
	for _, f := range s.filters {
		if strings.Contains(folded, f) {
			return true
		}
	}
	return false
}

// IsDone reports whether the step has finished.
func (s *Step) IsDone() bool { return s.done }

type snapshot struct {
	OutputDir string    `json:"output_dir"`
	DebugDir  string    `json:"debug_dir"`
	Deadline  time.Time `json:"deadline"`
	Attempts  int       `json:"attempts"`
	Done      bool      `json:"done"`
}

// SnapshotState implements step.Snapshotter.
func (s *Step) SnapshotState() ([]byte, error) {
	return json.Marshal(snapshot{
		OutputDir: s.outputDir,
		DebugDir:  s.debugDir,
		Deadline:  s.deadline,
		Attempts:  s.attempts,
		Done:      s.done,
	})
}

// RestoreState implements step.Snapshotter. The debug folder is not cleared
// again, so directories moved before the restart stay moved.
func (s *Step) RestoreState(_ *config.BuildConfiguration, data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode %s state: %w", Type, err)
	}
	s.outputDir = snap.OutputDir
	s.debugDir = snap.DebugDir
	s.deadline = snap.Deadline
	s.attempts = snap.Attempts
	s.done = snap.Done
	return nil
}
