// Package shell wires ishell commands to a mounted filesystem's
// operation table, the same way the teacher's commands package wires
// ishell.Context callbacks to vfsapi calls. Since every microfs
// operation takes an absolute path, this package is also where the
// shell's current-working-directory convenience lives — mirroring
// vfsapi's ChangeDirectory/Abs, but kept in the front-end rather than
// the filesystem core (spec.md §9 keeps path resolution stateless).
package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/janopa/microfs/internal/bridge"
	"github.com/janopa/microfs/internal/fsck"
	"github.com/janopa/microfs/internal/microfs"
	"github.com/sirupsen/logrus"
)

const defaultBlockSize = 4096

// State is the shell session's mutable context: the mounted
// filesystem's operation table plus the shell's notion of "here".
type State struct {
	Table *bridge.OperationTable
	FS    *microfs.Filesystem
	Cwd   string
	Log   *logrus.Entry
}

func getState(c *ishell.Context) *State {
	return c.Get("state").(*State)
}

// resolve joins a possibly-relative argument against the shell's cwd,
// the way vfsapi.Abs resolves "." against the filesystem's tracked
// working directory.
func (s *State) resolve(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Clean(path.Join(s.Cwd, p))
}

var sizeUnit = regexp.MustCompile(`(?P<value>\d+)(?P<unit>[a-zA-Z]*)`)

func parseSize(arg string) (uint32, error) {
	m := sizeUnit.FindStringSubmatch(arg)
	if m == nil {
		return 0, fmt.Errorf("shell: cannot parse size %q", arg)
	}
	value, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(m[2]) {
	case "kb":
		return uint32(value * 1000), nil
	case "mb":
		return uint32(value * 1000 * 1000), nil
	case "gb":
		return uint32(value * 1000 * 1000 * 1000), nil
	default:
		return uint32(value), nil
	}
}

// Format creates a new image at the path the shell was launched with
// and mounts it, sized in bytes (or with a kb/mb/gb suffix).
func Format(c *ishell.Context) {
	s := getState(c)
	if len(c.Args) != 1 {
		c.Err(errors.New("usage: format <size>[kb|mb|gb]"))
		return
	}

	sizeBytes, err := parseSize(c.Args[0])
	if err != nil {
		c.Err(err)
		return
	}
	blockCount := sizeBytes / defaultBlockSize
	if blockCount == 0 {
		c.Err(errors.New("shell: size too small for even the filesystem metadata"))
		return
	}

	fs, err := microfs.Format(c.Get("image_path").(string), defaultBlockSize, blockCount, s.Log)
	if err != nil {
		c.Err(err)
		return
	}

	s.FS = fs
	s.Table = bridge.New(fs)
	s.Cwd = "/"
	c.SetPrompt(s.Cwd + " > ")
}

// Load mounts an existing image at the path the shell was launched
// with, without reformatting it.
func Load(c *ishell.Context) {
	s := getState(c)
	fs, err := microfs.Mount(c.Get("image_path").(string), defaultBlockSize, s.Log)
	if err != nil {
		c.Err(err)
		return
	}
	s.FS = fs
	s.Table = bridge.New(fs)
	s.Cwd = "/"
	c.SetPrompt(s.Cwd + " > ")
}

func Mkdir(c *ishell.Context) {
	s := getState(c)
	if len(c.Args) != 1 {
		c.Err(errors.New("usage: mkdir <path>"))
		return
	}
	if code := s.Table.Mkdir(s.resolve(c.Args[0]), 0o755); code != 0 {
		c.Err(fmt.Errorf("mkdir: errno %d", code))
	}
}

func Ls(c *ishell.Context) {
	s := getState(c)
	target := "."
	if len(c.Args) == 1 {
		target = c.Args[0]
	}

	code := s.Table.Opendir(s.resolve(target))
	if code != 0 {
		c.Err(fmt.Errorf("ls: errno %d", code))
		return
	}

	listErr := s.FS.ReadDir(s.resolve(target), func(e microfs.DirEntry) bool {
		if e.Mode&0o170000 == 0o040000 {
			c.Printf("+ %s\n", e.Name)
		} else {
			c.Printf("- %s\n", e.Name)
		}
		return true
	})
	if listErr != nil {
		c.Err(listErr)
	}
}

func Rmdir(c *ishell.Context) {
	s := getState(c)
	if len(c.Args) != 1 {
		c.Err(errors.New("usage: rmdir <path>"))
		return
	}
	if code := s.Table.Rmdir(s.resolve(c.Args[0])); code != 0 {
		c.Err(fmt.Errorf("rmdir: errno %d", code))
	}
}

func Rm(c *ishell.Context) {
	s := getState(c)
	if len(c.Args) != 1 {
		c.Err(errors.New("usage: rm <path>"))
		return
	}
	if code := s.Table.Unlink(s.resolve(c.Args[0])); code != 0 {
		c.Err(fmt.Errorf("rm: errno %d", code))
	}
}

func Mv(c *ishell.Context) {
	s := getState(c)
	if len(c.Args) != 2 {
		c.Err(errors.New("usage: mv <src> <dst>"))
		return
	}
	if code := s.Table.Rename(s.resolve(c.Args[0]), s.resolve(c.Args[1])); code != 0 {
		c.Err(fmt.Errorf("mv: errno %d", code))
	}
}

func Cd(c *ishell.Context) {
	s := getState(c)
	if len(c.Args) != 1 {
		c.Err(errors.New("usage: cd <path>"))
		return
	}
	target := s.resolve(c.Args[0])
	if code := s.Table.Opendir(target); code != 0 {
		c.Err(fmt.Errorf("cd: errno %d", code))
		return
	}
	s.Cwd = target
	c.SetPrompt(s.Cwd + " > ")
}

func Pwd(c *ishell.Context) {
	s := getState(c)
	c.Println(s.Cwd)
}

func Cat(c *ishell.Context) {
	s := getState(c)
	if len(c.Args) != 1 {
		c.Err(errors.New("usage: cat <path>"))
		return
	}
	copyVFSToWriter(c, s, s.resolve(c.Args[0]), contextWriter{c})
}

// contextWriter adapts an ishell.Context's Print method to io.Writer so
// it can be passed to copyVFSToWriter.
type contextWriter struct {
	c *ishell.Context
}

func (w contextWriter) Write(p []byte) (int, error) {
	w.c.Print(string(p))
	return len(p), nil
}

// Cp copies a file within the virtual filesystem.
func Cp(c *ishell.Context) {
	s := getState(c)
	if len(c.Args) != 2 {
		c.Err(errors.New("usage: cp <src> <dst>"))
		return
	}
	srcPath := s.resolve(c.Args[0])
	dstPath := s.resolve(c.Args[1])

	if code := s.Table.Mknod(dstPath, 0o644); code != 0 {
		c.Err(fmt.Errorf("cp: errno %d", code))
		return
	}

	var offset int64
	buf := make([]byte, 4096)
	for {
		n, code := s.Table.Read(srcPath, buf, offset)
		if code != 0 {
			c.Err(fmt.Errorf("cp: read errno %d", code))
			return
		}
		if n == 0 {
			return
		}
		if _, code := s.Table.Write(dstPath, buf[:n], offset, false); code != 0 {
			c.Err(fmt.Errorf("cp: write errno %d", code))
			return
		}
		offset += int64(n)
	}
}

// Incp imports a host file into the virtual filesystem.
func Incp(c *ishell.Context) {
	s := getState(c)
	if len(c.Args) != 2 {
		c.Err(errors.New("usage: incp <host-src> <vfs-dst>"))
		return
	}

	hostSrc := c.Args[0]
	vfsDst := s.resolve(c.Args[1])

	src, err := os.Open(hostSrc)
	if err != nil {
		c.Err(err)
		return
	}
	defer func() { _ = src.Close() }()

	if code := s.Table.Mknod(vfsDst, 0o644); code != 0 {
		c.Err(fmt.Errorf("incp: errno %d", code))
		return
	}

	var offset int64
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, code := s.Table.Write(vfsDst, buf[:n], offset, false); code != 0 {
				c.Err(fmt.Errorf("incp: write errno %d", code))
				return
			}
			offset += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			c.Err(err)
			return
		}
	}
}

// Outcp exports a virtual file to the host filesystem.
func Outcp(c *ishell.Context) {
	s := getState(c)
	if len(c.Args) != 2 {
		c.Err(errors.New("usage: outcp <vfs-src> <host-dst>"))
		return
	}

	vfsSrc := s.resolve(c.Args[0])
	dst, err := os.Create(c.Args[1])
	if err != nil {
		c.Err(err)
		return
	}
	defer func() { _ = dst.Close() }()

	copyVFSToWriter(c, s, vfsSrc, dst)
}

func copyVFSToWriter(c *ishell.Context, s *State, vfsPath string, w io.Writer) {
	var offset int64
	buf := make([]byte, 4096)
	for {
		n, code := s.Table.Read(vfsPath, buf, offset)
		if code != 0 {
			c.Err(fmt.Errorf("errno %d", code))
			return
		}
		if n == 0 {
			return
		}
		if _, err := w.Write(buf[:n]); err != nil {
			c.Err(err)
			return
		}
		offset += int64(n)
	}
}

// Check runs the consistency checker against the mounted filesystem
// and prints every problem found.
func Check(c *ishell.Context) {
	s := getState(c)
	report, err := fsck.Check(fsck.Deps{
		Device:         s.FS.Device,
		InodeBitmap:    s.FS.InodeBitmap,
		DataBitmap:     s.FS.DataBitmap,
		Inodes:         s.FS.Inodes,
		Dirs:           s.FS.Dirs,
		FirstDataBlock: s.FS.Superblock.FirstDataBlock,
		InodeCount:     s.FS.Superblock.InodeCount,
	})
	if err != nil {
		c.Err(err)
		return
	}
	if report.OK() {
		c.Println("filesystem is consistent")
		return
	}
	for _, p := range report.Problems {
		c.Println(p)
	}
}
