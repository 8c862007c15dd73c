package steps

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
)

// ArchiveType zips the output directory.
const ArchiveType = "archive_output"

// archiveBatch is the number of files added per Update.
const archiveBatch = 64

// Archive writes the output directory into a zip file a batch of files per
// tick. The archive defaults to "<output dir>.zip"; a relative param is taken
// relative to the output directory's parent. A restart begins the archive again.
type Archive struct {
	param   string
	root    string
	target  string
	pending []string
	file    *os.File
	zw      *zip.Writer
	done    bool
}

func NewArchive(param string) *Archive { return &Archive{param: strings.TrimSpace(param)} }

func (a *Archive) Start(cfg *config.BuildConfiguration) {
	a.root = cfg.OutputDirectory()
	if a.root == "" {
		slog.Warn("No output folder to archive", logfields.Step(ArchiveType))
		a.done = true
		return
	}
	a.target = a.root + ".zip"
	if a.param != "" {
		a.target = a.param
		if !filepath.IsAbs(a.target) {
			a.target = filepath.Join(filepath.Dir(a.root), a.target)
		}
	}

	err := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			a.pending = append(a.pending, path)
		}
		return nil
	})
	if err != nil {
		a.fail(fmt.Errorf("scan output folder: %w", err))
		return
	}

	a.file, err = os.Create(a.target)
	if err != nil {
		a.fail(fmt.Errorf("create archive: %w", err))
		return
	}
	a.zw = zip.NewWriter(a.file)
}

func (a *Archive) Update() {
	if a.done {
		return
	}
	n := min(archiveBatch, len(a.pending))
	for _, path := range a.pending[:n] {
		if err := a.add(path); err != nil {
			a.fail(err)
			return
		}
	}
	a.pending = a.pending[n:]
	if len(a.pending) > 0 {
		return
	}

	if err := a.close(); err != nil {
		a.fail(err)
		return
	}
	slog.Info("Output archived", logfields.Step(ArchiveType), logfields.Path(a.target))
	a.done = true
}

func (a *Archive) add(path string) error {
	rel, err := filepath.Rel(a.root, path)
	if err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	hdr.Name = filepath.ToSlash(rel)
	hdr.Method = zip.Deflate

	w, err := a.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	defer func() { _ = src.Close() }()
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("archive %s: %w", path, err)
	}
	return nil
}

func (a *Archive) close() error {
	if a.zw != nil {
		if err := a.zw.Close(); err != nil {
			_ = a.file.Close()
			return fmt.Errorf("finish archive: %w", err)
		}
		a.zw = nil
	}
	if a.file != nil {
		if err := a.file.Close(); err != nil {
			return fmt.Errorf("close archive: %w", err)
		}
		a.file = nil
	}
	return nil
}

// fail logs err, discards the partial archive and finishes the step.
func (a *Archive) fail(err error) {
	slog.Error("Archiving output failed", logfields.Step(ArchiveType), logfields.Path(a.target), logfields.Error(err))
	a.discard()
}

// Abandon implements step.Abandoner: the partial archive is closed and removed.
func (a *Archive) Abandon() {
	if a.done {
		return
	}
	slog.Warn("Archiving output abandoned", logfields.Step(ArchiveType), logfields.Path(a.target))
	a.discard()
}

func (a *Archive) discard() {
	if a.file != nil {
		_ = a.file.Close()
		_ = os.Remove(a.target)
	}
	a.zw, a.file, a.pending = nil, nil, nil
	a.done = true
}

func (a *Archive) IsDone() bool { return a.done }
