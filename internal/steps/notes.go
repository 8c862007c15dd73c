package steps

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
)

// ReleaseNotesType renders a Markdown file to HTML in the output directory.
const ReleaseNotesType = "render_release_notes"

const defaultReleaseNotes = "RELEASE_NOTES.md"

// ReleaseNotes converts the Markdown file named by param (relative to the
// project directory) into <name>.html inside the output directory.
type ReleaseNotes struct {
	source string
	cfg    *config.BuildConfiguration
	md     goldmark.Markdown
	done   bool
}

func NewReleaseNotes(param string) *ReleaseNotes {
	source := strings.TrimSpace(param)
	if source == "" {
		source = defaultReleaseNotes
	}
	return &ReleaseNotes{
		source: source,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

func (r *ReleaseNotes) Start(cfg *config.BuildConfiguration) {
	r.cfg = cfg
	if cfg.OutputDirectory() == "" {
		slog.Warn("No output folder for release notes", logfields.Step(ReleaseNotesType))
		r.done = true
	}
}

func (r *ReleaseNotes) Update() {
	if r.done {
		return
	}
	r.done = true

	src := r.source
	if !filepath.IsAbs(src) {
		src = filepath.Join(r.cfg.ProjectDir, src)
	}
	target := filepath.Join(r.cfg.OutputDirectory(), strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))+".html")
	if err := r.render(src, target); err != nil {
		slog.Error("Rendering release notes failed", logfields.Step(ReleaseNotesType), logfields.Path(src), logfields.Error(err))
		return
	}
	slog.Info("Release notes rendered", logfields.Step(ReleaseNotesType), logfields.Path(target))
}

func (r *ReleaseNotes) render(src, target string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read notes: %w", err)
	}
	var buf bytes.Buffer
	if err := r.md.Convert(data, &buf); err != nil {
		return fmt.Errorf("convert notes: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create output folder: %w", err)
	}
	if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write notes: %w", err)
	}
	return nil
}

func (r *ReleaseNotes) IsDone() bool { return r.done }
