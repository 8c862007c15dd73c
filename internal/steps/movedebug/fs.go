package movedebug

import (
	"io/fs"
	"os"
)

// FS is the filesystem surface the step touches. Tests substitute it to
// simulate files that are still held open by the build.
type FS interface {
	ReadDir(name string) ([]fs.DirEntry, error)
	Stat(name string) (fs.FileInfo, error)
	MkdirAll(path string, perm fs.FileMode) error
	Rename(oldpath, newpath string) error
	RemoveAll(path string) error
}

// OSFS is FS backed by the os package.
type OSFS struct{}

func (OSFS) ReadDir(name string) ([]fs.DirEntry, error)   { return os.ReadDir(name) }
func (OSFS) Stat(name string) (fs.FileInfo, error)        { return os.Stat(name) }
func (OSFS) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }
func (OSFS) Rename(oldpath, newpath string) error         { return os.Rename(oldpath, newpath) }
func (OSFS) RemoveAll(path string) error                  { return os.RemoveAll(path) }
