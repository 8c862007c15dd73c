package config

import (
	"path/filepath"
	"slices"
	"strings"
)

// AddBuildTag inserts tag as a path segment into outputPath. When the last
// segment looks like a file name (contains '.'), the tag goes in front of the
// final two segments, but never in front of the first segment of a multi-segment
// path ("builds/MyGame.exe" -> "builds/v1.2/MyGame.exe"). Otherwise the tag is
// appended. Empty segments are dropped and the result is joined with '/'.
func AddBuildTag(outputPath, tag string) string {
	segments := strings.Split(filepath.ToSlash(outputPath), "/")
	last := segments[len(segments)-1]

	if strings.Contains(last, ".") {
		at := len(segments) - 2
		if at < 1 {
			at = min(1, len(segments)-1)
		}
		segments = slices.Insert(segments, at, tag)
	} else {
		segments = append(segments, tag)
	}

	segments = slices.DeleteFunc(segments, func(s string) bool { return s == "" })
	return strings.Join(segments, "/")
}

// OutputDirectory resolves the directory that receives a process's artifacts.
// Relative output paths are taken relative to projectDir. File-producing
// platforms build into the parent of the output path.
func OutputDirectory(p *BuildProcess, projectDir string) string {
	if p == nil || p.OutputPath == "" {
		return ""
	}
	path := filepath.FromSlash(p.OutputPath)
	if !filepath.IsAbs(path) && projectDir != "" {
		path = filepath.Join(projectDir, path)
	}
	if p.Platform.ProducesFile() {
		return filepath.Dir(path)
	}
	return filepath.Clean(path)
}

// SelectOptions controls which processes of a collection take part in a run.
type SelectOptions struct {
	All   bool
	Names []string
}

// ParseNameList splits a comma-separated process name filter, lower-cased and trimmed.
func ParseNameList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var names []string
	for _, n := range strings.Split(raw, ",") {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Select returns copies of the processes taking part in a run, in collection
// order. An explicit name list wins over All, which wins over each process's
// Selected flag.
func Select(c *BuildCollection, opts SelectOptions) []BuildProcess {
	if c == nil {
		return nil
	}
	var out []BuildProcess
	for _, p := range c.Processes {
		switch {
		case len(opts.Names) > 0:
			if !slices.Contains(opts.Names, strings.ToLower(p.Name)) {
				continue
			}
		case opts.All:
		case !p.Selected:
			continue
		}
		out = append(out, p.Clone())
	}
	return out
}
