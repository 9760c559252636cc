// Package microfs assembles the block device, bitmaps, inode table,
// block-pointer resolver, directory store, and path resolver into a
// Filesystem, and implements every operation handler spec.md §4.6
// names.
package microfs

import (
	"fmt"
	"time"

	"github.com/janopa/microfs/internal/bitmap"
	"github.com/janopa/microfs/internal/blockdev"
	"github.com/janopa/microfs/internal/blockptr"
	"github.com/janopa/microfs/internal/dirent"
	"github.com/janopa/microfs/internal/inode"
	"github.com/janopa/microfs/internal/layout"
	"github.com/janopa/microfs/internal/pathresolve"
	"github.com/sirupsen/logrus"
)

// Filesystem is the mounted, in-process state a set of operation
// handlers close over. It is passed explicitly rather than kept as
// package-global state, per spec.md §9's note that test harnesses
// need to mount multiple images side by side.
type Filesystem struct {
	Device      blockdev.Device
	Superblock  layout.Superblock
	InodeBitmap *bitmap.Bitmap
	DataBitmap  *bitmap.Bitmap
	Inodes      *inode.Table
	Blocks      *blockptr.Resolver
	Dirs        *dirent.Store
	Paths       *pathresolve.Resolver
	Log         *logrus.Entry

	// Clock is the read-only, monotonic real-time source spec.md §5
	// names as a shared resource; overridable in tests.
	Clock func() uint32
}

func defaultClock() uint32 { return uint32(time.Now().Unix()) }

func build(dev blockdev.Device, sb layout.Superblock, log *logrus.Entry) *Filesystem {
	inodeBitmap := bitmap.New(dev, layout.InodeBitmapBlock, 1, sb.InodeCount, log)
	dataBitmap := bitmap.New(dev, layout.DataBitmapStart, sb.DataBitmapBlocks, sb.DataBlockCount, log)
	inodes := inode.NewTable(dev, layout.InodeTableStart, sb.InodeCount, log)
	resolver := blockptr.New(dev, dataBitmap, sb.FirstDataBlock, log)
	dirs := dirent.New(dev, resolver, log)
	paths := pathresolve.New(dirs, inodes)

	return &Filesystem{
		Device:      dev,
		Superblock:  sb,
		InodeBitmap: inodeBitmap,
		DataBitmap:  dataBitmap,
		Inodes:      inodes,
		Blocks:      resolver,
		Dirs:        dirs,
		Paths:       paths,
		Log:         log,
		Clock:       defaultClock,
	}
}

// Format writes a freshly computed superblock, zeroes both bitmaps
// and the inode table, and initializes inode 0 as an empty root
// directory — spec.md §4.7's "init mode".
func Format(path string, blockSize int, blockCount uint32, log *logrus.Entry) (*Filesystem, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	dev, err := blockdev.Create(path, blockSize, blockCount, log)
	if err != nil {
		return nil, err
	}

	sb, err := layout.Compute(blockSize, blockCount)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	buf, err := sb.Marshal(blockSize)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	if err := dev.WriteBlock(layout.SuperblockBlock, buf); err != nil {
		_ = dev.Close()
		return nil, err
	}

	fs := build(dev, sb, log)

	if err := fs.InodeBitmap.Clear(); err != nil {
		return nil, err
	}
	if err := fs.DataBitmap.Clear(); err != nil {
		return nil, err
	}
	if err := fs.Inodes.Clear(sb.InodeTableBlocks); err != nil {
		return nil, err
	}

	rootNum, err := fs.InodeBitmap.Allocate()
	if err != nil {
		return nil, err
	}
	if rootNum != pathresolve.RootInode {
		return nil, fmt.Errorf("microfs: expected root to allocate as inode 0, got %d", rootNum)
	}

	now := fs.Clock()
	root := inode.Inode{
		Mode:  inode.ModeDir | inode.DefaultDirPerm,
		Atime: now, Mtime: now, Ctime: now,
	}
	if err := fs.Inodes.Write(rootNum, root); err != nil {
		return nil, err
	}

	fs.Log.WithFields(logrus.Fields{
		"path": path, "blocks": blockCount, "block_size": blockSize,
	}).Info("formatted new filesystem")

	return fs, nil
}

// Mount opens an existing image and reads its superblock — spec.md
// §4.7's "no-init mode".
func Mount(path string, blockSize int, log *logrus.Entry) (*Filesystem, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	dev, err := blockdev.Open(path, blockSize, log)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, blockSize)
	if err := dev.ReadBlock(layout.SuperblockBlock, buf); err != nil {
		_ = dev.Close()
		return nil, err
	}
	sb, err := layout.Unmarshal(buf)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	fs := build(dev, sb, log)
	fs.Log.WithField("path", path).Info("mounted filesystem")
	return fs, nil
}

// Unmount closes the underlying device. Every mutation is already
// persisted synchronously, so there is nothing else to flush —
// spec.md §4.7.
func (fs *Filesystem) Unmount() error {
	closer, ok := fs.Device.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
