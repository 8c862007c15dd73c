package config

// BuildConfiguration is the per-process snapshot handed to every step provider.
// It is created once in the setup state and not modified for the rest of the
// process's pipeline.
type BuildConfiguration struct {
	RunID        string            `json:"run_id"`
	Collection   *BuildCollection  `json:"collection"`
	Process      BuildProcess      `json:"process"`
	ProcessIndex int               `json:"process_index"`
	Selected     []string          `json:"selected"`
	ProjectDir   string            `json:"project_dir"`
	BuildTag     string            `json:"build_tag,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

// CurrentProcess returns the process this configuration was built for.
func (c *BuildConfiguration) CurrentProcess() *BuildProcess {
	if c == nil {
		return nil
	}
	return &c.Process
}

// CurrentCollection returns the collection the process belongs to.
func (c *BuildConfiguration) CurrentCollection() *BuildCollection {
	if c == nil {
		return nil
	}
	return c.Collection
}

// OutputDirectory resolves the process's output directory.
func (c *BuildConfiguration) OutputDirectory() string {
	if c == nil {
		return ""
	}
	return OutputDirectory(&c.Process, c.ProjectDir)
}

// Build environment keys filled from command-line flags and exported to the
// build command.
const (
	EnvKeyAndroidSDK = "ANDROID_SDK_ROOT"
	EnvKeyAndroidNDK = "ANDROID_NDK_ROOT"
	EnvKeyJDK        = "JAVA_HOME"
	EnvKeyCommitID   = "BUILD_COMMIT_ID"
	EnvKeyTagName    = "BUILD_TAG_NAME"
)
