// Package bridge names the operation-table shape a real filesystem
// binding (FUSE or otherwise) would drive: one function per handler,
// bound to a mounted microfs.Filesystem, each returning the negative
// POSIX errno convention spec.md's bridge boundary expects. No FUSE
// binding library appears anywhere in this project's dependency
// corpus, so the interactive shell (package shell, started by the root
// main.go) plays the binding's role, calling through this same table.
package bridge

import (
	"github.com/janopa/microfs/internal/microfs"
)

// OperationTable is every handler spec.md §4.6 names, closed over one
// mounted filesystem. A real FUSE binding would register these
// directly as its lowlevel callbacks; the shell front-end calls them
// the same way.
type OperationTable struct {
	fs *microfs.Filesystem
}

// New binds an operation table to a mounted filesystem.
func New(fs *microfs.Filesystem) *OperationTable {
	return &OperationTable{fs: fs}
}

func (t *OperationTable) GetAttr(path string, uid, gid uint32) (microfs.Attr, int) {
	attr, err := t.fs.GetAttr(path, uid, gid)
	return attr, microfs.Code(err)
}

func (t *OperationTable) ReadDir(path string, filler microfs.Filler) int {
	return microfs.Code(t.fs.ReadDir(path, filler))
}

func (t *OperationTable) Mknod(path string, perm uint32) int {
	return microfs.Code(t.fs.Mknod(path, perm))
}

func (t *OperationTable) Mkdir(path string, perm uint32) int {
	return microfs.Code(t.fs.Mkdir(path, perm))
}

func (t *OperationTable) Unlink(path string) int {
	return microfs.Code(t.fs.Unlink(path))
}

func (t *OperationTable) Rmdir(path string) int {
	return microfs.Code(t.fs.Rmdir(path))
}

func (t *OperationTable) Rename(oldPath, newPath string) int {
	return microfs.Code(t.fs.Rename(oldPath, newPath))
}

func (t *OperationTable) Read(path string, buf []byte, offset int64) (int, int) {
	n, err := t.fs.Read(path, buf, offset)
	return n, microfs.Code(err)
}

func (t *OperationTable) Write(path string, buf []byte, offset int64, appendMode bool) (int, int) {
	n, err := t.fs.Write(path, buf, offset, appendMode)
	return n, microfs.Code(err)
}

func (t *OperationTable) Truncate(path string, size int64) int {
	return microfs.Code(t.fs.Truncate(path, size))
}

func (t *OperationTable) Utimens(path string, atime, mtime uint32) int {
	return microfs.Code(t.fs.Utimens(path, atime, mtime))
}

func (t *OperationTable) Statfs() (microfs.StatFS, int) {
	sf, err := t.fs.Statfs()
	return sf, microfs.Code(err)
}

func (t *OperationTable) Open(path string) int      { return microfs.Code(t.fs.Open(path)) }
func (t *OperationTable) Release(path string) int    { return microfs.Code(t.fs.Release(path)) }
func (t *OperationTable) Opendir(path string) int    { return microfs.Code(t.fs.Opendir(path)) }
func (t *OperationTable) Releasedir(path string) int { return microfs.Code(t.fs.Releasedir(path)) }
