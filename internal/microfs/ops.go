package microfs

import (
	"errors"
	"fmt"

	"github.com/janopa/microfs/internal/bitmap"
	"github.com/janopa/microfs/internal/blockptr"
	"github.com/janopa/microfs/internal/dirent"
	"github.com/janopa/microfs/internal/inode"
	"github.com/janopa/microfs/internal/layout"
)

func noSpace(err error) error {
	if errors.Is(err, bitmap.ErrNoSpace) {
		return wrap(KindNoSpace, err)
	}
	return err
}

// GetAttr resolves path and fills a stat-shaped Attr, per spec.md §4.6.
func (fs *Filesystem) GetAttr(path string, uid, gid uint32) (Attr, error) {
	n, err := fs.Paths.Resolve(path)
	if err != nil {
		return Attr{}, err
	}

	in, err := fs.Inodes.Read(n)
	if err != nil {
		return Attr{}, err
	}

	blocks, err := fs.blockCountFor(in)
	if err != nil {
		return Attr{}, err
	}

	return Attr{
		Mode:    in.Mode,
		Nlink:   1,
		Uid:     uid,
		Gid:     gid,
		Size:    int64(in.Size),
		Atime:   in.Atime,
		Mtime:   in.Mtime,
		Ctime:   in.Ctime,
		BlkSize: int64(fs.Device.BlockSize()),
		Blocks:  blocks,
	}, nil
}

// blockCountFor returns how many 512-byte units the inode's allocated
// blocks (direct + indirect data blocks + indirect blocks themselves)
// occupy, for getattr's block-count field.
func (fs *Filesystem) blockCountFor(in inode.Inode) (int64, error) {
	data, indirect, err := blockptr.UsedBlocks(fs.Device, fs.Superblock.FirstDataBlock, in)
	if err != nil {
		return 0, err
	}
	total := len(data) + len(indirect)
	return int64(total) * int64(fs.Device.BlockSize()) / 512, nil
}

// ReadDir resolves to a directory inode, emits "." and "..", then
// every in-use entry via filler, per spec.md §4.6. Updates the
// directory's access time.
func (fs *Filesystem) ReadDir(path string, filler Filler) error {
	n, err := fs.Paths.Resolve(path)
	if err != nil {
		return err
	}

	in, err := fs.Inodes.Read(n)
	if err != nil {
		return err
	}
	if !in.IsDir() {
		return wrap(KindNotFound, fmt.Errorf("microfs: %s is not a directory", path))
	}

	if !filler(DirEntry{Name: ".", Mode: in.Mode}) {
		return fs.touchAndSave(n, in, true, false, false)
	}
	if !filler(DirEntry{Name: "..", Mode: in.Mode}) {
		return fs.touchAndSave(n, in, true, false, false)
	}

	scanErr := fs.Dirs.Scan(in, func(e dirent.Entry) bool {
		child, err := fs.Inodes.Read(e.InodeNum)
		if err != nil {
			return true // skip a dangling entry rather than aborting the whole listing
		}
		return filler(DirEntry{Name: e.NameString(), Mode: child.Mode})
	})
	if scanErr != nil {
		return scanErr
	}

	return fs.touchAndSave(n, in, true, false, false)
}

func (fs *Filesystem) touchAndSave(n uint32, in inode.Inode, access, modify, change bool) error {
	in.Touch(fs.Clock(), access, modify, change)
	return fs.Inodes.Write(n, in)
}

func (fs *Filesystem) createChild(path string, mode uint32) error {
	parentNum, base, err := fs.Paths.ResolveParent(path)
	if err != nil {
		return err
	}

	parent, err := fs.Inodes.Read(parentNum)
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return wrap(KindNotFound, fmt.Errorf("microfs: parent of %s is not a directory", path))
	}

	if _, err := fs.Dirs.Lookup(parent, base); err == nil {
		return wrap(KindAlreadyExists, dirent.ErrAlreadyExists)
	} else if !errors.Is(err, dirent.ErrNotFound) {
		return err
	}

	childNum, err := fs.InodeBitmap.Allocate()
	if err != nil {
		return noSpace(err)
	}

	now := fs.Clock()
	child := inode.Inode{Mode: mode, Atime: now, Mtime: now, Ctime: now}
	if err := fs.Inodes.Write(childNum, child); err != nil {
		_ = fs.InodeBitmap.Free(childNum)
		return err
	}

	if err := fs.Dirs.Insert(&parent, base, childNum); err != nil {
		// roll back the inode allocation, per spec.md §4.6.
		_ = fs.InodeBitmap.Free(childNum)
		if errors.Is(err, dirent.ErrNameTooLong) {
			return wrap(KindNameTooLong, err)
		}
		return noSpace(err)
	}

	parent.Touch(now, false, true, true)
	if err := fs.Inodes.Write(parentNum, parent); err != nil {
		return err
	}

	return nil
}

// Mknod creates a new regular file, per spec.md §4.6.
func (fs *Filesystem) Mknod(path string, perm uint32) error {
	return fs.createChild(path, inode.ModeRegular|(perm&0o7777))
}

// Mkdir creates a new empty directory, per spec.md §4.6.
func (fs *Filesystem) Mkdir(path string, perm uint32) error {
	return fs.createChild(path, inode.ModeDir|(perm&0o7777))
}

func (fs *Filesystem) removeChild(path string, expectDir bool) error {
	parentNum, base, err := fs.Paths.ResolveParent(path)
	if err != nil {
		return err
	}

	parent, err := fs.Inodes.Read(parentNum)
	if err != nil {
		return err
	}

	childNum, err := fs.Dirs.Lookup(parent, base)
	if err != nil {
		return err
	}

	child, err := fs.Inodes.Read(childNum)
	if err != nil {
		return err
	}
	if child.IsDir() != expectDir {
		return wrap(KindNotFound, fmt.Errorf("microfs: %s is not the expected type", path))
	}
	if expectDir {
		nonEmpty, err := fs.hasEntriesBesidesDots(child)
		if err != nil {
			return err
		}
		if nonEmpty {
			return wrap(KindNotEmpty, ErrNotEmpty)
		}
	}

	// Unlink from the parent before freeing content, per spec.md §5's
	// crash-safety ordering: a crash after this step but before the
	// frees below leaks blocks/an inode, but leaves nothing dangling
	// reachable from the root.
	if err := fs.Dirs.Remove(parent, base); err != nil {
		return err
	}
	if err := blockptr.FreeAll(fs.Device, fs.DataBitmap, fs.Superblock.FirstDataBlock, child); err != nil {
		return err
	}
	if err := fs.InodeBitmap.Free(childNum); err != nil {
		return err
	}

	parent.Touch(fs.Clock(), false, true, true)
	return fs.Inodes.Write(parentNum, parent)
}

// Unlink removes a regular file; the bridge guarantees the target is
// a regular file, per spec.md §4.6.
func (fs *Filesystem) Unlink(path string) error {
	return fs.removeChild(path, false)
}

// Rmdir removes an empty directory; a directory that still holds
// entries is rejected with KindNotEmpty. The root inode is never unlinked (nothing ever resolves "/" to a
// removable child path).
func (fs *Filesystem) Rmdir(path string) error {
	return fs.removeChild(path, true)
}

// Rename moves/renames an entry, per spec.md §4.6.
func (fs *Filesystem) Rename(oldPath, newPath string) error {
	oldParentNum, oldName, err := fs.Paths.ResolveParent(oldPath)
	if err != nil {
		return err
	}
	newParentNum, newName, err := fs.Paths.ResolveParent(newPath)
	if err != nil {
		return err
	}

	oldParent, err := fs.Inodes.Read(oldParentNum)
	if err != nil {
		return err
	}
	childNum, err := fs.Dirs.Lookup(oldParent, oldName)
	if err != nil {
		return err
	}

	if oldParentNum == newParentNum && oldName == newName {
		return nil // no-op per spec.md §4.6
	}

	newParent, err := fs.Inodes.Read(newParentNum)
	if err != nil {
		return err
	}

	if existingNum, err := fs.Dirs.Lookup(newParent, newName); err == nil {
		existing, err := fs.Inodes.Read(existingNum)
		if err != nil {
			return err
		}
		if existing.IsDir() {
			nonEmpty, err := fs.hasEntriesBesidesDots(existing)
			if err != nil {
				return err
			}
			if nonEmpty {
				return wrap(KindNotEmpty, ErrNotEmpty)
			}
		}
		if err := fs.Dirs.Remove(newParent, newName); err != nil {
			return err
		}
		if err := blockptr.FreeAll(fs.Device, fs.DataBitmap, fs.Superblock.FirstDataBlock, existing); err != nil {
			return err
		}
		if err := fs.InodeBitmap.Free(existingNum); err != nil {
			return err
		}
	} else if !errors.Is(err, dirent.ErrNotFound) {
		return err
	}

	if err := fs.Dirs.Remove(oldParent, oldName); err != nil {
		return err
	}

	if err := fs.Dirs.Insert(&newParent, newName, childNum); err != nil {
		return noSpace(err)
	}

	now := fs.Clock()
	oldParent.Touch(now, false, true, true)
	newParent.Touch(now, false, true, true)
	if err := fs.Inodes.Write(oldParentNum, oldParent); err != nil {
		return err
	}
	return fs.Inodes.Write(newParentNum, newParent)
}

func (fs *Filesystem) hasEntriesBesidesDots(dir inode.Inode) (bool, error) {
	found := false
	err := fs.Dirs.Scan(dir, func(e dirent.Entry) bool {
		found = true
		return false
	})
	return found, err
}

// Read resolves to an inode and copies the requested window, per
// spec.md §4.6. Returns 0 bytes past EOF, holes read as zero bytes.
func (fs *Filesystem) Read(path string, buf []byte, offset int64) (int, error) {
	n, err := fs.Paths.Resolve(path)
	if err != nil {
		return 0, err
	}

	in, err := fs.Inodes.Read(n)
	if err != nil {
		return 0, err
	}

	size := int64(in.Size)
	if offset >= size {
		return 0, nil
	}

	end := offset + int64(len(buf))
	if end > size {
		end = size
	}

	blockSize := int64(fs.Device.BlockSize())
	firstBlock := offset / blockSize
	lastBlock := (end - 1) / blockSize
	blockBuf := make([]byte, blockSize)
	total := 0

	for j := firstBlock; j <= lastBlock; j++ {
		abs, err := fs.Blocks.Resolve(&in, uint32(j), false)
		if err != nil {
			return total, err
		}

		blockStart := j * blockSize
		winStart := int64(0)
		if blockStart < offset {
			winStart = offset - blockStart
		}
		winEnd := blockSize
		if blockStart+blockSize > end {
			winEnd = end - blockStart
		}

		if abs == 0 {
			for k := winStart; k < winEnd; k++ {
				buf[blockStart+k-offset] = 0
			}
		} else {
			if err := fs.Device.ReadBlock(abs, blockBuf); err != nil {
				return total, err
			}
			copy(buf[blockStart+winStart-offset:blockStart+winEnd-offset], blockBuf[winStart:winEnd])
		}
		total += int(winEnd - winStart)
	}

	if err := fs.touchAndSave(n, in, true, false, false); err != nil {
		return total, err
	}
	return total, nil
}

// Write resolves to an inode and writes buf at offset (or at current
// size, for append-mode opens), growing the file and allocating
// blocks as needed, per spec.md §4.6.
func (fs *Filesystem) Write(path string, buf []byte, offset int64, appendMode bool) (int, error) {
	n, err := fs.Paths.Resolve(path)
	if err != nil {
		return 0, err
	}

	in, err := fs.Inodes.Read(n)
	if err != nil {
		return 0, err
	}

	if appendMode {
		offset = int64(in.Size)
	}

	end := offset + int64(len(buf))
	if end > layout.MaxFileSize(fs.Device.BlockSize()) {
		return 0, wrap(KindFileTooLarge, blockptr.ErrFileTooLarge)
	}
	if len(buf) == 0 {
		return 0, nil
	}

	blockSize := int64(fs.Device.BlockSize())
	firstBlock := offset / blockSize
	lastBlock := (end - 1) / blockSize

	var allocated []uint32

	for j := firstBlock; j <= lastBlock; j++ {
		before, err := fs.Blocks.Resolve(&in, uint32(j), false)
		if err != nil {
			fs.rollbackWrite(allocated)
			return 0, err
		}

		indirectBefore := in.Indirect
		abs, err := fs.Blocks.Resolve(&in, uint32(j), true)
		if err != nil {
			fs.rollbackWrite(allocated)
			return 0, noSpace(err)
		}
		for g, ind := range in.Indirect {
			if indirectBefore[g] == 0 && ind != 0 {
				allocated = append(allocated, ind)
			}
		}
		if before == 0 && abs != 0 {
			allocated = append(allocated, abs-fs.Superblock.FirstDataBlock)
		}

		blockBuf := make([]byte, blockSize)
		blockStart := j * blockSize
		winStart := int64(0)
		if blockStart < offset {
			winStart = offset - blockStart
		}
		winEnd := blockSize
		if blockStart+blockSize > end {
			winEnd = end - blockStart
		}

		if winStart != 0 || winEnd != blockSize {
			if err := fs.Device.ReadBlock(abs, blockBuf); err != nil {
				fs.rollbackWrite(allocated)
				return 0, err
			}
		}
		copy(blockBuf[winStart:winEnd], buf[blockStart+winStart-offset:blockStart+winEnd-offset])

		if err := fs.Device.WriteBlock(abs, blockBuf); err != nil {
			fs.rollbackWrite(allocated)
			return 0, err
		}
	}

	if uint32(end) > in.Size {
		in.Size = uint32(end)
	}
	now := fs.Clock()
	in.Touch(now, false, true, true)
	if err := fs.Inodes.Write(n, in); err != nil {
		return 0, err
	}

	return len(buf), nil
}

func (fs *Filesystem) rollbackWrite(allocated []uint32) {
	for _, rel := range allocated {
		_ = fs.DataBitmap.Free(rel)
	}
}

// Truncate grows or shrinks a file's size, per spec.md §4.6.
func (fs *Filesystem) Truncate(path string, size int64) error {
	n, err := fs.Paths.Resolve(path)
	if err != nil {
		return err
	}

	in, err := fs.Inodes.Read(n)
	if err != nil {
		return err
	}

	if size > int64(in.Size) {
		if size > layout.MaxFileSize(fs.Device.BlockSize()) {
			return wrap(KindFileTooLarge, blockptr.ErrFileTooLarge)
		}

		blockSize := int64(fs.Device.BlockSize())
		firstNew := int64(in.Size) / blockSize
		lastNew := (size - 1) / blockSize

		var allocated []uint32
		for j := firstNew; j <= lastNew; j++ {
			before, err := fs.Blocks.Resolve(&in, uint32(j), false)
			if err != nil {
				fs.rollbackWrite(allocated)
				return err
			}

			indirectBefore := in.Indirect
			abs, err := fs.Blocks.Resolve(&in, uint32(j), true)
			if err != nil {
				fs.rollbackWrite(allocated)
				return noSpace(err)
			}
			for g, ind := range in.Indirect {
				if indirectBefore[g] == 0 && ind != 0 {
					allocated = append(allocated, ind)
				}
			}
			if before == 0 && abs != 0 {
				allocated = append(allocated, abs-fs.Superblock.FirstDataBlock)
			}
		}
	} else if size < int64(in.Size) {
		if err := blockptr.ShrinkTo(fs.Device, fs.DataBitmap, fs.Superblock.FirstDataBlock, &in, uint32(size)); err != nil {
			return err
		}
	}

	in.Size = uint32(size)
	in.Touch(fs.Clock(), false, false, true)
	return fs.Inodes.Write(n, in)
}

// Utimens sets atime/mtime from the caller, per spec.md §4.6.
func (fs *Filesystem) Utimens(path string, atime, mtime uint32) error {
	n, err := fs.Paths.Resolve(path)
	if err != nil {
		return err
	}

	in, err := fs.Inodes.Read(n)
	if err != nil {
		return err
	}

	in.Atime = atime
	in.Mtime = mtime
	in.Touch(fs.Clock(), false, false, true)
	return fs.Inodes.Write(n, in)
}

// Statfs fills bytes-per-block, total/free block and inode counts,
// and the filename limit, per spec.md §4.6.
func (fs *Filesystem) Statfs() (StatFS, error) {
	freeData, err := fs.DataBitmap.FreeCount()
	if err != nil {
		return StatFS{}, err
	}
	freeInodes, err := fs.InodeBitmap.FreeCount()
	if err != nil {
		return StatFS{}, err
	}

	return StatFS{
		BlockSize:      int64(fs.Device.BlockSize()),
		TotalBlocks:    fs.Superblock.DataBlockCount,
		FreeBlocks:     freeData,
		TotalInodes:    fs.Superblock.InodeCount,
		FreeInodes:     freeInodes,
		MaxFilenameLen: layout.MaxFilenameLen,
	}, nil
}

// Open, Release, Opendir, Releasedir keep no persistent state — every
// operation re-resolves the path, per spec.md §4.6. Open and Opendir
// only confirm that the path currently resolves (Opendir also that it
// is a directory); Release and Releasedir do nothing.
func (fs *Filesystem) Open(path string) error {
	_, err := fs.Paths.Resolve(path)
	if err != nil {
		return err
	}
	return nil
}

func (fs *Filesystem) Release(path string) error { return nil }

func (fs *Filesystem) Opendir(path string) error {
	n, err := fs.Paths.Resolve(path)
	if err != nil {
		return err
	}
	in, err := fs.Inodes.Read(n)
	if err != nil {
		return err
	}
	if !in.IsDir() {
		return wrap(KindNotFound, fmt.Errorf("microfs: %s is not a directory", path))
	}
	return nil
}

func (fs *Filesystem) Releasedir(path string) error { return nil }
