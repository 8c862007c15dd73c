package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	foundationerrors "git.home.luguber.info/inful/buildorch/internal/foundation/errors"
)

// Environment overrides applied after the file is decoded.
const (
	EnvProcessPath = "BUILDORCH_PROCESS_PATH"
	EnvStore       = "BUILDORCH_STORE"
	EnvNATSURL     = "BUILDORCH_NATS_URL"
)

// Defaults for settings left empty in the collection file.
const (
	DefaultProcessPath     = ".buildorch/process.json"
	DefaultTickInterval    = 250 * time.Millisecond
	DefaultRelocationDelay = time.Second
)

// envFiles are loaded in order. A variable already set, by the process
// environment or an earlier file, is kept, so .env.local wins over .env.
var envFiles = []string{".env.local", ".env"}

// Load reads a collection from a .yaml/.yml or .toml file. ${VAR} references are
// expanded from the environment after .env files have been loaded.
func Load(path string) (*BuildCollection, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, foundationerrors.ConfigError("build collection not found").
				WithContext("path", path).
				Build()
		}
		return nil, fmt.Errorf("read collection %s: %w", path, err)
	}

	c, err := Parse(filepath.Ext(path), []byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, foundationerrors.WrapError(err, foundationerrors.CategoryConfig, "invalid build collection").
			WithContext("path", path).
			Fatal().
			Build()
	}
	return c, nil
}

// Parse decodes a collection document. ext selects the format (".toml" or YAML otherwise).
func Parse(ext string, data []byte) (*BuildCollection, error) {
	var c BuildCollection
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}
	applyEnvOverrides(&c)
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadEnvFiles() {
	for _, p := range envFiles {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			slog.Warn("Failed to load env file", "path", p, "error", err)
			continue
		}
		slog.Debug("Loaded environment variables", "path", p)
	}
}

// DefaultSettings returns the settings used when no collection file is at hand,
// with environment overrides applied.
func DefaultSettings() Settings {
	loadEnvFiles()
	var c BuildCollection
	applyEnvOverrides(&c)
	applyDefaults(&c)
	return c.Settings
}

func applyEnvOverrides(c *BuildCollection) {
	if v := os.Getenv(EnvProcessPath); v != "" {
		c.Settings.ProcessPath = v
	}
	if v := os.Getenv(EnvStore); v != "" {
		c.Settings.Store = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.Settings.NATSURL = v
	}
}

func applyDefaults(c *BuildCollection) {
	if c.Settings.Store == "" {
		c.Settings.Store = StoreJSON
	}
	if c.Settings.ProcessPath == "" {
		c.Settings.ProcessPath = DefaultProcessPath
	}
	if c.Settings.TickInterval <= 0 {
		c.Settings.TickInterval = Duration(DefaultTickInterval)
	}
	if c.Settings.RelocationDelay <= 0 {
		c.Settings.RelocationDelay = Duration(DefaultRelocationDelay)
	}
}

// Validate checks process names and platforms. Output paths are validated per
// process when its pipeline is set up, so a bad path only aborts that run.
func (c *BuildCollection) Validate() error {
	switch c.Settings.Store {
	case StoreJSON, StoreSQLite:
	default:
		return foundationerrors.ValidationError("unknown store backend").
			WithContext("store", c.Settings.Store).
			Build()
	}

	seen := make(map[string]bool, len(c.Processes))
	for i := range c.Processes {
		p := &c.Processes[i]
		if strings.TrimSpace(p.Name) == "" {
			return foundationerrors.ValidationError("build process without a name").
				WithContext("index", i).
				Build()
		}
		key := strings.ToLower(p.Name)
		if seen[key] {
			return foundationerrors.ValidationError("duplicate build process name").
				WithContext("process", p.Name).
				Build()
		}
		seen[key] = true

		platform, err := NormalizePlatform(string(p.Platform))
		if err != nil {
			return foundationerrors.WrapError(err, foundationerrors.CategoryValidation, "unknown platform").
				WithContext("process", p.Name).
				Fatal().
				Build()
		}
		p.Platform = platform
	}
	return nil
}
