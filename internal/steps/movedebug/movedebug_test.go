package movedebug

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/buildorch/internal/config"
)

const delay = time.Second

func configFor(outputDir string) *config.BuildConfiguration {
	return &config.BuildConfiguration{Process: config.BuildProcess{
		Name:       "webgl",
		Platform:   config.PlatformWebGL,
		OutputPath: outputDir,
	}}
}

func mkdirs(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(root, n), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, n, "data.bin"), []byte("x"), 0o600))
	}
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// lockingFS fails renames of a given directory name a fixed number of times.
type lockingFS struct {
	OSFS
	lockedName string
	failures   int
	renames    map[string]int
}

func (l *lockingFS) Rename(oldpath, newpath string) error {
	l.renames[filepath.Base(oldpath)]++
	if filepath.Base(oldpath) == l.lockedName && l.failures > 0 {
		l.failures--
		return errors.New("file in use")
	}
	return l.OSFS.Rename(oldpath, newpath)
}

func TestDebugDir(t *testing.T) {
	assert.Equal(t, filepath.Join("builds", "webgl_DebugInfo"), DebugDir(filepath.Join("builds", "webgl")))
	assert.Equal(t, filepath.Join("builds", "webgl_DebugInfo"), DebugDir(filepath.Join("builds", "webgl")+string(filepath.Separator)))
}

func TestMovesMatchingFoldersCaseInsensitively(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "webgl")
	mkdirs(t, out, "build_donotship", "keep", "DontShip_logs")

	clock := clockwork.NewFakeClock()
	s := New("donotship,dontship", WithClock(clock), WithDelay(delay))
	s.Start(configFor(out))
	require.False(t, s.IsDone())

	s.Update()
	assert.False(t, s.IsDone(), "nothing happens before the delay")
	assert.Equal(t, []string{"DontShip_logs", "build_donotship", "keep"}, dirNames(t, out))

	clock.Advance(delay)
	s.Update()
	require.True(t, s.IsDone())

	assert.Equal(t, []string{"keep"}, dirNames(t, out))
	assert.Equal(t, []string{"DontShip_logs", "build_donotship"}, dirNames(t, filepath.Join(root, "webgl_DebugInfo")))
	assert.FileExists(t, filepath.Join(root, "webgl_DebugInfo", "build_donotship", "data.bin"))
}

func TestDefaultFilters(t *testing.T) {
	s := New("")
	assert.Equal(t, []string{"donotship", "dontship"}, s.filters)
	assert.True(t, s.matches("Game_BurstDebugInformation_DoNotShip"))
	assert.False(t, s.matches("Game_Data"))
}

func TestOnlyDirectChildrenAreConsidered(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "win")
	mkdirs(t, out, filepath.Join("data", "nested_donotship"))
	require.NoError(t, os.WriteFile(filepath.Join(out, "notes_donotship.txt"), []byte("x"), 0o600))

	clock := clockwork.NewFakeClock()
	s := New("", WithClock(clock), WithDelay(delay))
	s.Start(configFor(out))
	clock.Advance(delay)
	s.Update()

	require.True(t, s.IsDone())
	assert.DirExists(t, filepath.Join(out, "data", "nested_donotship"))
	assert.FileExists(t, filepath.Join(out, "notes_donotship.txt"))
	assert.Empty(t, dirNames(t, filepath.Join(root, "win_DebugInfo")))
}

func TestRetriesUntilLockReleased(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "webgl")
	mkdirs(t, out, "a_donotship", "b_dontship", "keep")

	fsys := &lockingFS{lockedName: "b_dontship", failures: 5, renames: map[string]int{}}
	clock := clockwork.NewFakeClock()
	s := New("", WithFS(fsys), WithClock(clock), WithDelay(delay))
	s.Start(configFor(out))

	for i := 0; i < 5; i++ {
		clock.Advance(delay)
		s.Update()
		assert.False(t, s.IsDone(), "post-delay tick %d", i+1)

		s.Update()
		assert.False(t, s.IsDone())
	}
	clock.Advance(delay)
	s.Update()
	assert.True(t, s.IsDone())

	assert.Equal(t, 1, fsys.renames["a_donotship"], "relocated folders are not moved again")
	assert.Equal(t, 6, fsys.renames["b_dontship"])
	assert.Zero(t, fsys.renames["keep"])
	assert.Equal(t, []string{"keep"}, dirNames(t, out))
}

func TestClearsExistingDebugFolders(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "webgl")
	mkdirs(t, out, "keep")
	mkdirs(t, filepath.Join(root, "webgl_DebugInfo"), "stale_donotship")

	s := New("", WithClock(clockwork.NewFakeClock()))
	s.Start(configFor(out))

	assert.Empty(t, dirNames(t, filepath.Join(root, "webgl_DebugInfo")))
}

func TestMissingOutputDirectoryIsDone(t *testing.T) {
	s := New("")
	s.Start(configFor(filepath.Join(t.TempDir(), "absent")))
	assert.True(t, s.IsDone())

	s = New("")
	s.Start(&config.BuildConfiguration{})
	assert.True(t, s.IsDone())
}

func TestSnapshotRoundTrip(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "webgl")
	mkdirs(t, out, "x_donotship")

	clock := clockwork.NewFakeClock()
	s := New("", WithClock(clock), WithDelay(delay))
	s.Start(configFor(out))

	data, err := s.SnapshotState()
	require.NoError(t, err)

	resumed := New("", WithClock(clock), WithDelay(delay))
	require.NoError(t, resumed.RestoreState(configFor(out), data))
	assert.True(t, s.deadline.Equal(resumed.deadline))

	resumed.Update()
	assert.False(t, resumed.IsDone())
	clock.Advance(delay)
	resumed.Update()
	assert.True(t, resumed.IsDone())
	assert.DirExists(t, filepath.Join(root, "webgl_DebugInfo", "x_donotship"))

	assert.Error(t, resumed.RestoreState(nil, []byte("{")))
}

func TestStaleDeadlineRetriesOneDelayAfterNow(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "webgl")
	mkdirs(t, out, "b_dontship")

	fsys := &lockingFS{lockedName: "b_dontship", failures: 3, renames: map[string]int{}}
	clock := clockwork.NewFakeClock()
	s := New("", WithFS(fsys), WithClock(clock), WithDelay(delay))
	s.Start(configFor(out))

	// The host was down for a long time after the last snapshot.
	clock.Advance(time.Hour)

	s.Update()
	require.Equal(t, 1, fsys.renames["b_dontship"])
	for range 5 {
		s.Update()
	}
	assert.Equal(t, 1, fsys.renames["b_dontship"], "no retry before one delay has passed")
	assert.True(t, s.deadline.Equal(clock.Now().Add(delay)))

	clock.Advance(delay)
	s.Update()
	assert.Equal(t, 2, fsys.renames["b_dontship"])
	assert.False(t, s.IsDone())
}
