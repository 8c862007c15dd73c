package steps

import (
	"log/slog"
	"os"
	"strings"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/logfields"
)

// SetEnvType sets process environment variables for later steps and the build.
const SetEnvType = "set_env"

// SetEnv applies KEY=VALUE pairs. Values may reference ${VAR}, resolved first
// against the run's build environment and then the process environment.
type SetEnv struct {
	param string
	done  bool
}

func NewSetEnv(param string) *SetEnv { return &SetEnv{param: param} }

func (s *SetEnv) Start(cfg *config.BuildConfiguration) {
	defer func() { s.done = true }()

	var env map[string]string
	if cfg != nil {
		env = cfg.Env
	}
	for _, pair := range strings.Split(s.param, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			slog.Warn("Ignoring malformed environment assignment", logfields.Step(SetEnvType), slog.String("value", pair))
			continue
		}
		value = os.Expand(value, func(name string) string {
			if v, found := env[name]; found {
				return v
			}
			return os.Getenv(name)
		})
		if err := os.Setenv(key, value); err != nil {
			slog.Warn("Cannot set environment variable", logfields.Step(SetEnvType), slog.String("key", key), logfields.Error(err))
			continue
		}
		slog.Debug("Environment variable set", logfields.Step(SetEnvType), slog.String("key", key))
	}
}

func (s *SetEnv) Update()      {}
func (s *SetEnv) IsDone() bool { return s.done }
