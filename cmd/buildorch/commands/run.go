package commands

import (
	"context"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/orchestrator"
)

// BuildEnv are the toolchain and source-control values handed to the build
// command and to steps through the build configuration.
type BuildEnv struct {
	AndroidSDK string `name:"android-sdk" help:"Android SDK root"`
	AndroidNDK string `name:"android-ndk" help:"Android NDK root"`
	JDKPath    string `name:"jdk-path" help:"JDK home"`
	CommitID   string `name:"commit-id" help:"Commit the build is made from"`
	TagName    string `name:"tag-name" help:"Release tag of the build"`
}

// Map returns the non-empty values keyed by their environment names.
func (e BuildEnv) Map() map[string]string {
	env := map[string]string{}
	for k, v := range map[string]string{
		config.EnvKeyAndroidSDK: e.AndroidSDK,
		config.EnvKeyAndroidNDK: e.AndroidNDK,
		config.EnvKeyJDK:        e.JDKPath,
		config.EnvKeyCommitID:   e.CommitID,
		config.EnvKeyTagName:    e.TagName,
	} {
		if v != "" {
			env[k] = v
		}
	}
	if len(env) == 0 {
		return nil
	}
	return env
}

// Selection are the flags choosing what a new run builds.
type Selection struct {
	BuildAll    bool   `name:"build-all" help:"Build every process regardless of its selected flag"`
	Names       string `name:"build-process-by-names" help:"Comma-separated process names to build (case-insensitive)"`
	BuildTag    string `name:"build-tag" help:"Insert a tag segment into every output path"`
	Clean       bool   `help:"Force a clean build" xor:"clean"`
	NoClean     bool   `name:"noclean" help:"Disable clean builds" xor:"clean"`
	BuildAndRun bool   `name:"build-and-run" help:"Run the player after it is built"`
	Pretend     bool   `help:"Walk every pipeline without building the player"`
	ProjectDir  string `name:"project-dir" help:"Directory relative output paths resolve against" default:"."`

	BuildEnv `embed:""`
}

func (s Selection) createOptions(batch bool) orchestrator.CreateOptions {
	clean := config.CleanNotAssigned
	switch {
	case s.Clean:
		clean = config.CleanForce
	case s.NoClean:
		clean = config.CleanNoClean
	}
	return orchestrator.CreateOptions{
		BuildAndRun: s.BuildAndRun,
		BatchMode:   batch,
		BuildAll:    s.BuildAll,
		Names:       config.ParseNameList(s.Names),
		BuildTag:    s.BuildTag,
		Pretend:     s.Pretend,
		Clean:       clean,
		ProjectDir:  absDir(s.ProjectDir),
		Env:         s.Map(),
	}
}

// RunCmd implements the 'run' command.
type RunCmd struct {
	BatchMode bool `name:"batchmode" help:"Headless run: no notifications, exit status 1 when aborted"`

	Selection `embed:""`
}

func (r *RunCmd) Run(g *Global, root *CLI) error {
	coll, err := config.Load(root.Collection)
	if err != nil {
		return err
	}
	rt, err := openRuntime(coll.Settings, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := orchestrator.Create(ctx, rt.deps(g, root), coll, r.createOptions(r.BatchMode))
	if err != nil {
		return err
	}
	return rt.runHeadless(ctx, g, p)
}
