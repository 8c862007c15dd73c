package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	foundationerrors "git.home.luguber.info/inful/buildorch/internal/foundation/errors"
)

// Init writes an example collection file.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return foundationerrors.ValidationError("collection file already exists; use --force to overwrite").
			WithContext("path", path).
			Build()
	}

	example := BuildCollection{
		Name:     "release",
		LogLevel: "info",
		Settings: Settings{
			Store:        StoreJSON,
			ProcessPath:  DefaultProcessPath,
			BuildCommand: []string{"make", "PLATFORM={platform}", "OUT={output}"},
		},
		Processes: []BuildProcess{
			{
				Name:       "win64",
				Platform:   PlatformWindows64,
				OutputPath: "builds/win64/Game.exe",
				Selected:   true,
				PreBuildSteps: []StepSpec{
					{Type: "set_env", Param: "GAME_CHANNEL=release"},
				},
				PostBuildSteps: []StepSpec{
					{Type: "move_debug_files", Param: "donotship,dontship"},
					{Type: "stamp_build_info"},
					{Type: "archive_output"},
				},
			},
			{
				Name:       "webgl",
				Platform:   PlatformWebGL,
				OutputPath: "builds/webgl",
				Pretend:    true,
			},
		},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("marshal example collection: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write collection: %w", err)
	}
	return nil
}
