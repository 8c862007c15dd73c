// Package config defines build collections, build processes and the step specs
// they reference, and loads them from YAML or TOML files.
package config

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// BuildCollection is an ordered set of build processes plus collection-wide policy.
type BuildCollection struct {
	Name       string         `yaml:"name" toml:"name" json:"name"`
	CleanBuild bool           `yaml:"clean_build" toml:"clean_build" json:"clean_build"`
	LogLevel   string         `yaml:"log_level,omitempty" toml:"log_level" json:"log_level,omitempty"`
	Settings   Settings       `yaml:"settings" toml:"settings" json:"settings"`
	Processes  []BuildProcess `yaml:"processes" toml:"processes" json:"processes"`
}

// BuildProcess is one buildable target.
type BuildProcess struct {
	Name                  string          `yaml:"name" toml:"name" json:"name"`
	Platform              Platform        `yaml:"platform" toml:"platform" json:"platform"`
	OutputPath            string          `yaml:"output_path" toml:"output_path" json:"output_path"`
	Selected              bool            `yaml:"selected" toml:"selected" json:"selected"`
	Pretend               bool            `yaml:"pretend,omitempty" toml:"pretend" json:"pretend,omitempty"`
	Options               []BuildOption   `yaml:"options,omitempty" toml:"options" json:"options,omitempty"`
	Scenes                []string        `yaml:"scenes,omitempty" toml:"scenes" json:"scenes,omitempty"`
	ScriptingDefines      []string        `yaml:"scripting_defines,omitempty" toml:"scripting_defines" json:"scripting_defines,omitempty"`
	ClearScriptingDefines bool            `yaml:"clear_scripting_defines,omitempty" toml:"clear_scripting_defines" json:"clear_scripting_defines,omitempty"`
	ScriptingBackend      string          `yaml:"scripting_backend,omitempty" toml:"scripting_backend" json:"scripting_backend,omitempty"`
	ProductNameOverride   string          `yaml:"product_name_override,omitempty" toml:"product_name_override" json:"product_name_override,omitempty"`
	BundleGroups          map[string]bool `yaml:"bundle_groups,omitempty" toml:"bundle_groups" json:"bundle_groups,omitempty"`
	PreBuildSteps         []StepSpec      `yaml:"pre_build_steps,omitempty" toml:"pre_build_steps" json:"pre_build_steps,omitempty"`
	PostBuildSteps        []StepSpec      `yaml:"post_build_steps,omitempty" toml:"post_build_steps" json:"post_build_steps,omitempty"`
}

// StepSpec names a step provider and carries its free-form parameter.
type StepSpec struct {
	Type  string `yaml:"type" toml:"type" json:"type"`
	Param string `yaml:"param,omitempty" toml:"param" json:"param,omitempty"`
}

// BuildOption is a flag handed to the player build service.
type BuildOption string

const (
	OptionDevelopment     BuildOption = "development"
	OptionAllowDebugging  BuildOption = "allow_debugging"
	OptionCleanBuildCache BuildOption = "clean_build_cache"
	OptionAutoRun         BuildOption = "auto_run"
	OptionStrictMode      BuildOption = "strict_mode"
)

// WithOption returns opts with o appended unless already present.
func WithOption(opts []BuildOption, o BuildOption) []BuildOption {
	if slices.Contains(opts, o) {
		return opts
	}
	return append(slices.Clone(opts), o)
}

// CleanBuildArgument is the command-line clean override.
type CleanBuildArgument int

const (
	CleanNotAssigned CleanBuildArgument = iota
	CleanForce
	CleanNoClean
)

// Apply returns the collection clean flag after the override.
func (c CleanBuildArgument) Apply(current bool) bool {
	switch c {
	case CleanForce:
		return true
	case CleanNoClean:
		return false
	default:
		return current
	}
}

// Settings holds orchestrator wiring that travels with the collection file.
type Settings struct {
	Store           string   `yaml:"store,omitempty" toml:"store" json:"store,omitempty"`
	ProcessPath     string   `yaml:"process_path,omitempty" toml:"process_path" json:"process_path,omitempty"`
	EventsPath      string   `yaml:"events_path,omitempty" toml:"events_path" json:"events_path,omitempty"`
	EventsRetention Duration `yaml:"events_retention,omitempty" toml:"events_retention" json:"events_retention,omitempty"`
	TickInterval    Duration `yaml:"tick_interval,omitempty" toml:"tick_interval" json:"tick_interval,omitempty"`
	RelocationDelay Duration `yaml:"relocation_delay,omitempty" toml:"relocation_delay" json:"relocation_delay,omitempty"`
	MetricsFile     string   `yaml:"metrics_file,omitempty" toml:"metrics_file" json:"metrics_file,omitempty"`
	NATSURL         string   `yaml:"nats_url,omitempty" toml:"nats_url" json:"nats_url,omitempty"`
	BuildCommand    []string `yaml:"build_command,omitempty" toml:"build_command" json:"build_command,omitempty"`
	BundleManifest  string   `yaml:"bundle_manifest,omitempty" toml:"bundle_manifest" json:"bundle_manifest,omitempty"`
	BundleCommand   []string `yaml:"bundle_command,omitempty" toml:"bundle_command" json:"bundle_command,omitempty"`
}

// Store backends.
const (
	StoreJSON   = "json"
	StoreSQLite = "sqlite"
)

// Duration is a time.Duration that reads and writes as "1s", "250ms" etc.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Process returns the process with the given name (case-insensitive).
func (c *BuildCollection) Process(name string) (*BuildProcess, bool) {
	for i := range c.Processes {
		if strings.EqualFold(c.Processes[i].Name, name) {
			return &c.Processes[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so a run can tag output paths without touching the source.
func (c *BuildCollection) Clone() *BuildCollection {
	if c == nil {
		return nil
	}
	out := *c
	out.Settings.BuildCommand = slices.Clone(c.Settings.BuildCommand)
	out.Settings.BundleCommand = slices.Clone(c.Settings.BundleCommand)
	out.Processes = make([]BuildProcess, len(c.Processes))
	for i, p := range c.Processes {
		out.Processes[i] = p.Clone()
	}
	return &out
}

// Clone returns a deep copy of the process.
func (p BuildProcess) Clone() BuildProcess {
	out := p
	out.Options = slices.Clone(p.Options)
	out.Scenes = slices.Clone(p.Scenes)
	out.ScriptingDefines = slices.Clone(p.ScriptingDefines)
	out.PreBuildSteps = slices.Clone(p.PreBuildSteps)
	out.PostBuildSteps = slices.Clone(p.PostBuildSteps)
	out.BundleGroups = maps.Clone(p.BundleGroups)
	return out
}
