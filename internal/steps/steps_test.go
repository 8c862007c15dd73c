package steps

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildorch/internal/config"
	"git.home.luguber.info/inful/buildorch/internal/step"
	"git.home.luguber.info/inful/buildorch/internal/steps/movedebug"
)

func buildConfig(projectDir, outputDir string) *config.BuildConfiguration {
	return &config.BuildConfiguration{
		RunID:      "run-1",
		ProjectDir: projectDir,
		BuildTag:   "nightly",
		Process: config.BuildProcess{
			Name:       "webgl",
			Platform:   config.PlatformWebGL,
			OutputPath: outputDir,
		},
	}
}

// runToDone drives a provider the way the walker does and returns the number of polls.
func runToDone(t *testing.T, p step.Provider, cfg *config.BuildConfiguration) int {
	t.Helper()
	p.Start(cfg)
	polls := 0
	for !p.IsDone() {
		p.Update()
		polls++
		require.Less(t, polls, 1000, "step never finished")
	}
	return polls
}

func TestRegistryHasBuiltins(t *testing.T) {
	r := NewRegistry(Deps{})
	for _, name := range []string{step.SkipType, movedebug.Type, SetEnvType, ArchiveType, StampType, ReleaseNotesType, NotifyType} {
		assert.True(t, r.Has(name), name)
	}
	_, ok := r.Resolve(config.StepSpec{Type: movedebug.Type}).(*movedebug.Step)
	assert.True(t, ok)
}

func TestSetEnv(t *testing.T) {
	t.Setenv("BUILDORCH_TEST_CHANNEL", "")
	t.Setenv("BUILDORCH_TEST_SDK", "")
	t.Setenv("BUILDORCH_TEST_HOME", "/home/builder")

	cfg := buildConfig("", "")
	cfg.Env = map[string]string{config.EnvKeyAndroidSDK: "/opt/sdk"}

	p := NewSetEnv("BUILDORCH_TEST_CHANNEL=release, BUILDORCH_TEST_SDK=${ANDROID_SDK_ROOT}/ndk,broken,=x")
	assert.Equal(t, 0, runToDone(t, p, cfg))

	assert.Equal(t, "release", os.Getenv("BUILDORCH_TEST_CHANNEL"))
	assert.Equal(t, "/opt/sdk/ndk", os.Getenv("BUILDORCH_TEST_SDK"))

	p = NewSetEnv("BUILDORCH_TEST_CHANNEL=$BUILDORCH_TEST_HOME")
	runToDone(t, p, cfg)
	assert.Equal(t, "/home/builder", os.Getenv("BUILDORCH_TEST_CHANNEL"))
}

func TestArchiveOutput(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "webgl")
	require.NoError(t, os.MkdirAll(filepath.Join(out, "Build"), 0o755))
	want := []string{"index.html"}
	require.NoError(t, os.WriteFile(filepath.Join(out, "index.html"), []byte("<html></html>"), 0o600))
	for i := 0; i < archiveBatch+10; i++ {
		name := fmt.Sprintf("Build/chunk_%03d.data", i)
		require.NoError(t, os.WriteFile(filepath.Join(out, filepath.FromSlash(name)), []byte("data"), 0o600))
		want = append(want, name)
	}

	polls := runToDone(t, NewArchive(""), buildConfig(root, out))
	assert.Equal(t, 2, polls, "files are added in batches")

	zr, err := zip.OpenReader(out + ".zip")
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()

	var got []string
	for _, f := range zr.File {
		got = append(got, f.Name)
	}
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestArchiveAbandonRemovesPartialArchive(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "webgl")
	require.NoError(t, os.MkdirAll(out, 0o755))
	for i := 0; i < archiveBatch+1; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(out, fmt.Sprintf("f%03d", i)), []byte("x"), 0o600))
	}

	p := NewArchive("")
	p.Start(buildConfig(root, out))
	p.Update()
	require.False(t, p.IsDone())
	require.FileExists(t, out+".zip")

	p.Abandon()
	assert.True(t, p.IsDone())
	assert.NoFileExists(t, out+".zip")
	assert.Nil(t, p.file)
}

func TestArchiveMissingOutput(t *testing.T) {
	p := NewArchive("out.zip")
	runToDone(t, p, buildConfig("", filepath.Join(t.TempDir(), "missing")))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(p.root), "out.zip"))
}

func TestStampUsesCommitFromEnvironment(t *testing.T) {
	out := filepath.Join(t.TempDir(), "webgl")
	cfg := buildConfig("", out)
	cfg.Env = map[string]string{config.EnvKeyCommitID: "abc123", config.EnvKeyTagName: "v1.0"}

	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	runToDone(t, NewStamp("", clock), cfg)

	var info BuildInfo
	data, err := os.ReadFile(filepath.Join(out, defaultStampFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "abc123", info.Commit)
	assert.Equal(t, "v1.0", info.TagName)
	assert.Equal(t, "webgl", info.Process)
	assert.Equal(t, "nightly", info.BuildTag)
	assert.Equal(t, "run-1", info.RunID)
	assert.NotEmpty(t, info.BuildID)
	assert.True(t, info.Timestamp.Equal(clock.Now()))
}

func TestStampReadsGitHead(t *testing.T) {
	project := t.TempDir()
	repo, err := git.PlainInit(project, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(project, "README.md"), []byte("game"), 0o600))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	out := filepath.Join(project, "builds", "webgl")
	runToDone(t, NewStamp("info.json", nil), buildConfig(project, out))

	var info BuildInfo
	data, err := os.ReadFile(filepath.Join(out, "info.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, hash.String(), info.Commit)
	assert.NotEmpty(t, info.Branch)
}

func TestReleaseNotes(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, "NOTES.md"), []byte("# Release 1.2\n\n- fixed crash\n"), 0o600))
	out := filepath.Join(project, "builds", "webgl")

	runToDone(t, NewReleaseNotes("NOTES.md"), buildConfig(project, out))

	html, err := os.ReadFile(filepath.Join(out, "NOTES.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<h1>Release 1.2</h1>")
	assert.Contains(t, string(html), "<li>fixed crash</li>")
}

func TestReleaseNotesMissingSourceFinishes(t *testing.T) {
	project := t.TempDir()
	out := filepath.Join(project, "out")
	assert.Equal(t, 1, runToDone(t, NewReleaseNotes(""), buildConfig(project, out)))
	assert.NoFileExists(t, filepath.Join(out, "RELEASE_NOTES.html"))
}

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (r *recordingPublisher) Publish(subject string, data []byte) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return r.err
}

func TestNotifyPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	runToDone(t, NewNotify("", pub), buildConfig("", "/tmp/out"))

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, DefaultNotifySubject, pub.subjects[0])
	var msg BuildNotification
	require.NoError(t, json.Unmarshal(pub.payloads[0], &msg))
	assert.Equal(t, "webgl", msg.Process)
	assert.Equal(t, "run-1", msg.RunID)
}

func TestNotifyFailuresDoNotBlock(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats down")}
	assert.Equal(t, 1, runToDone(t, NewNotify("builds.done", pub), buildConfig("", "/tmp/out")))
	assert.Equal(t, []string{"builds.done"}, pub.subjects)

	assert.Equal(t, 0, runToDone(t, NewNotify("", nil), buildConfig("", "/tmp/out")))
}
