package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// ContentBundler builds bundled content before the player build. The orchestrator
// snapshots the inclusion flags, applies the process's groups, builds, and then
// restores the snapshot whatever the outcome.
type ContentBundler interface {
	Snapshot() (map[string]bool, error)
	Apply(groups map[string]bool) error
	Build(ctx context.Context) error
	Restore(snapshot map[string]bool) error
}

// BundleManifest is the on-disk group inclusion table.
type BundleManifest struct {
	Groups map[string]bool `yaml:"groups"`
}

// ManifestBundler keeps group inclusion flags in a YAML manifest and runs an
// optional command to build the bundles.
type ManifestBundler struct {
	Path    string
	Command []string
	Dir     string
	Output  io.Writer
}

// NewManifestBundler returns a bundler over the manifest at path.
func NewManifestBundler(path string, command []string) *ManifestBundler {
	return &ManifestBundler{Path: path, Command: slices.Clone(command), Output: os.Stderr}
}

func (b *ManifestBundler) Snapshot() (map[string]bool, error) {
	m, err := b.read()
	if err != nil {
		return nil, err
	}
	return maps.Clone(m.Groups), nil
}

// Apply sets the flags for the named groups; groups not mentioned keep their value.
func (b *ManifestBundler) Apply(groups map[string]bool) error {
	if len(groups) == 0 {
		return nil
	}
	m, err := b.read()
	if err != nil {
		return err
	}
	if m.Groups == nil {
		m.Groups = make(map[string]bool, len(groups))
	}
	maps.Copy(m.Groups, groups)
	return b.write(m)
}

func (b *ManifestBundler) Build(ctx context.Context) error {
	if len(b.Command) == 0 {
		slog.Debug("No bundle command configured; manifest only", "path", b.Path)
		return nil
	}
	cmd := exec.CommandContext(ctx, b.Command[0], b.Command[1:]...)
	cmd.Dir = b.Dir
	cmd.Env = append(os.Environ(), "BUILDORCH_BUNDLE_MANIFEST="+b.Path)
	cmd.Stdout = b.Output
	cmd.Stderr = b.Output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("bundle command: %w", err)
	}
	return nil
}

func (b *ManifestBundler) Restore(snapshot map[string]bool) error {
	return b.write(BundleManifest{Groups: maps.Clone(snapshot)})
}

func (b *ManifestBundler) read() (BundleManifest, error) {
	var m BundleManifest
	data, err := os.ReadFile(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("read bundle manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode bundle manifest: %w", err)
	}
	return m, nil
}

func (b *ManifestBundler) write(m BundleManifest) error {
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("encode bundle manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
		return fmt.Errorf("create bundle manifest dir: %w", err)
	}
	if err := os.WriteFile(b.Path, data, 0o644); err != nil {
		return fmt.Errorf("write bundle manifest: %w", err)
	}
	return nil
}
