// Package fsck walks a mounted filesystem's inode graph and checks it
// against the inode and data bitmaps, following the recursive-walk
// shape of vfsapi's FsCheck: collect every inode/data block reachable
// from the root, then verify the bitmaps agree with what was found.
package fsck

import (
	"fmt"

	"github.com/janopa/microfs/internal/bitmap"
	"github.com/janopa/microfs/internal/blockdev"
	"github.com/janopa/microfs/internal/blockptr"
	"github.com/janopa/microfs/internal/dirent"
	"github.com/janopa/microfs/internal/inode"
	"github.com/janopa/microfs/internal/pathresolve"
)

// Report collects every inconsistency Check finds, rather than
// stopping at the first one, so a single run gives a full picture.
type Report struct {
	Problems []string
}

func (r *Report) OK() bool { return len(r.Problems) == 0 }

func (r *Report) add(format string, args ...interface{}) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Deps is the minimal set of collaborators Check needs, mirroring the
// same components microfs.Filesystem wires together.
type Deps struct {
	Device         blockdev.Device
	InodeBitmap    *bitmap.Bitmap
	DataBitmap     *bitmap.Bitmap
	Inodes         *inode.Table
	Dirs           *dirent.Store
	FirstDataBlock uint32
	InodeCount     uint32
}

// Check verifies:
//   - every inode reachable from the root is marked used in the inode
//     bitmap, and no inode marked used is unreachable ("zombie" inode)
//   - every data block (direct, indirect-block, or pointed to by an
//     indirect block) an inode owns is marked used in the data bitmap
//   - no data block is claimed by more than one inode
func Check(d Deps) (*Report, error) {
	report := &Report{}

	reachable := make(map[uint32]bool)
	dataOwner := make(map[uint32]uint32)

	if err := walk(d, pathresolve.RootInode, reachable, dataOwner, report); err != nil {
		return nil, err
	}

	for i := uint32(0); i < d.InodeCount; i++ {
		set, err := d.InodeBitmap.IsSet(i)
		if err != nil {
			return nil, err
		}
		used := reachable[i]
		if set && !used {
			report.add("inode %d is marked used but is unreachable from root", i)
		}
		if !set && used {
			report.add("inode %d is reachable from root but is marked free", i)
		}
	}

	return report, nil
}

func walk(d Deps, n uint32, reachable map[uint32]bool, dataOwner map[uint32]uint32, report *Report) error {
	if reachable[n] {
		return nil
	}
	reachable[n] = true

	in, err := d.Inodes.Read(n)
	if err != nil {
		return err
	}

	data, indirectBlocks, err := blockptr.UsedBlocks(d.Device, d.FirstDataBlock, in)
	if err != nil {
		return err
	}
	for _, rel := range append(data, indirectBlocks...) {
		set, err := d.DataBitmap.IsSet(rel)
		if err != nil {
			return err
		}
		if !set {
			report.add("inode %d owns data block %d but the data bitmap marks it free", n, rel)
		}
		if owner, ok := dataOwner[rel]; ok && owner != n {
			report.add("data block %d is claimed by both inode %d and inode %d", rel, owner, n)
		} else {
			dataOwner[rel] = n
		}
	}

	if !in.IsDir() {
		return nil
	}

	var childErr error
	scanErr := d.Dirs.Scan(in, func(e dirent.Entry) bool {
		name := e.NameString()
		if name == "." || name == ".." {
			return true
		}
		if err := walk(d, e.InodeNum, reachable, dataOwner, report); err != nil {
			childErr = err
			return false
		}
		return true
	})
	if scanErr != nil {
		return scanErr
	}
	return childErr
}
