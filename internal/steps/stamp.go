package steps

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
	"git.home.luguber.info/inful/buildorch/internal/version"
)

// StampType writes a build_info.json file into the output directory.
const StampType = "stamp_build_info"

const defaultStampFile = "build_info.json"

// BuildInfo is the content of the stamp file.
type BuildInfo struct {
	BuildID   string    `json:"build_id"`
	RunID     string    `json:"run_id,omitempty"`
	Process   string    `json:"process"`
	Platform  string    `json:"platform"`
	BuildTag  string    `json:"build_tag,omitempty"`
	Commit    string    `json:"commit,omitempty"`
	Branch    string    `json:"branch,omitempty"`
	TagName   string    `json:"tag_name,omitempty"`
	Builder   string    `json:"builder"`
	Timestamp time.Time `json:"timestamp"`
}

// Stamp records commit and run metadata next to the build. The commit comes
// from the build environment when given on the command line, otherwise from
// HEAD of the git repository containing the project directory.
type Stamp struct {
	file  string
	clock clockwork.Clock
	cfg   *config.BuildConfiguration
	done  bool
}

func NewStamp(param string, clock clockwork.Clock) *Stamp {
	file := strings.TrimSpace(param)
	if file == "" {
		file = defaultStampFile
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Stamp{file: file, clock: clock}
}

func (s *Stamp) Start(cfg *config.BuildConfiguration) {
	s.cfg = cfg
	if cfg.OutputDirectory() == "" {
		slog.Warn("No output folder to stamp", logfields.Step(StampType))
		s.done = true
	}
}

func (s *Stamp) Update() {
	if s.done {
		return
	}
	s.done = true

	info := s.collect()
	path := filepath.Join(s.cfg.OutputDirectory(), s.file)
	if err := writeJSON(path, info); err != nil {
		slog.Error("Writing build info failed", logfields.Step(StampType), logfields.Path(path), logfields.Error(err))
		return
	}
	slog.Info("Build info written", logfields.Step(StampType), logfields.Path(path), slog.String("commit", info.Commit))
}

func (s *Stamp) IsDone() bool { return s.done }

func (s *Stamp) collect() BuildInfo {
	p := s.cfg.CurrentProcess()
	info := BuildInfo{
		BuildID:   uuid.NewString(),
		RunID:     s.cfg.RunID,
		Process:   p.Name,
		Platform:  string(p.Platform),
		BuildTag:  s.cfg.BuildTag,
		Commit:    s.cfg.Env[config.EnvKeyCommitID],
		TagName:   s.cfg.Env[config.EnvKeyTagName],
		Builder:   "buildorch " + version.String(),
		Timestamp: s.clock.Now().UTC(),
	}
	if info.Commit != "" {
		return info
	}
	commit, branch, err := headOf(s.cfg.ProjectDir)
	if err != nil {
		slog.Debug("No git metadata for build info", logfields.Step(StampType), logfields.Error(err))
		return info
	}
	info.Commit, info.Branch = commit, branch
	return info
}

// headOf returns the HEAD commit and branch of the repository containing dir.
func headOf(dir string) (commit, branch string, err error) {
	if dir == "" {
		dir = "."
	}
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", "", fmt.Errorf("open repository: %w", err)
	}
	ref, err := repo.Head()
	if err != nil {
		return "", "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if ref.Name().IsBranch() {
		branch = ref.Name().Short()
	}
	return ref.Hash().String(), branch, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
