package securefs

import (
	"os"
	"time"

	"github.com/absfs/absfs"
)

// OSFS is an absfs.FileSystem backed directly by the host filesystem.
// Paths pass to the operating system as given, so relative paths
// resolve against the process working directory. It exists for the CLI
// and the examples; the library itself never assumes a real disk.
type OSFS struct{}

// NewOSFS returns a host-backed filesystem.
func NewOSFS() *OSFS { return &OSFS{} }

func (fs *OSFS) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	return os.OpenFile(name, flag, perm)
}

func (fs *OSFS) Open(name string) (absfs.File, error)   { return os.Open(name) }
func (fs *OSFS) Create(name string) (absfs.File, error) { return os.Create(name) }

func (fs *OSFS) Mkdir(name string, perm os.FileMode) error    { return os.Mkdir(name, perm) }
func (fs *OSFS) MkdirAll(name string, perm os.FileMode) error { return os.MkdirAll(name, perm) }
func (fs *OSFS) Remove(name string) error                     { return os.Remove(name) }
func (fs *OSFS) RemoveAll(path string) error                  { return os.RemoveAll(path) }
func (fs *OSFS) Rename(oldpath, newpath string) error         { return os.Rename(oldpath, newpath) }
func (fs *OSFS) Stat(name string) (os.FileInfo, error)        { return os.Stat(name) }
func (fs *OSFS) Chmod(name string, mode os.FileMode) error    { return os.Chmod(name, mode) }
func (fs *OSFS) Chown(name string, uid, gid int) error        { return os.Chown(name, uid, gid) }
func (fs *OSFS) Truncate(name string, size int64) error       { return os.Truncate(name, size) }

func (fs *OSFS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(name, atime, mtime)
}

func (fs *OSFS) Chdir(dir string) error { return os.Chdir(dir) }
func (fs *OSFS) Getwd() (string, error) { return os.Getwd() }
func (fs *OSFS) TempDir() string        { return os.TempDir() }
func (fs *OSFS) Separator() uint8       { return os.PathSeparator }
func (fs *OSFS) ListSeparator() uint8   { return os.PathListSeparator }
