// Package inode implements the fixed-size inode record and the
// inode-table access spec.md §4.2 describes.
package inode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/janopa/microfs/internal/blockdev"
	"github.com/janopa/microfs/internal/layout"
	"github.com/sirupsen/logrus"
)

// Mode bits. Low 12 bits are permission bits (reported, never
// enforced, per spec.md's Non-goals); the type bits match the
// conventional POSIX S_IFDIR/S_IFREG values so a real bridge's
// getattr sees what it expects, matching original_source/fs.c's
// DIRMODE/REGMODE macros.
const (
	ModeTypeMask = 0o170000
	ModeDir      = 0o040000
	ModeRegular  = 0o100000

	DefaultDirPerm  = 0o755
	DefaultFilePerm = 0o644
)

// Inode is the on-disk record spec.md §6 specifies:
// size(4) atime(4) mtime(4) ctime(4) mode(4) direct[12]*4 indirect[2]*4,
// 76 bytes of fields stored at the start of a layout.InodeRecordSize
// (80-byte) slot in the inode table.
type Inode struct {
	Size     uint32
	Atime    uint32
	Mtime    uint32
	Ctime    uint32
	Mode     uint32
	Direct   [layout.DirectPointers]uint32
	Indirect [layout.IndirectPointers]uint32
}

// IsDir reports whether the inode's mode marks it as a directory.
func (in Inode) IsDir() bool {
	return in.Mode&ModeTypeMask == ModeDir
}

// IsRegular reports whether the inode's mode marks it as a regular file.
func (in Inode) IsRegular() bool {
	return in.Mode&ModeTypeMask == ModeRegular
}

// Touch updates the inode's timestamps per spec.md §4.6's rule: read
// bumps access, write bumps content-modify, and any metadata change
// bumps metadata-change. now is a whole-second Unix timestamp,
// supplied by the caller so the clock stays an explicit collaborator
// rather than a hidden global (spec.md §9).
func (in *Inode) Touch(now uint32, access, modify, change bool) {
	if access {
		in.Atime = now
	}
	if modify {
		in.Mtime = now
	}
	if change {
		in.Ctime = now
	}
}

// Marshal packs the inode's fields into their 76-byte wire form.
func (in Inode) Marshal() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(layout.InodeRecordSize)
	_ = binary.Write(buf, binary.LittleEndian, in.Size)
	_ = binary.Write(buf, binary.LittleEndian, in.Atime)
	_ = binary.Write(buf, binary.LittleEndian, in.Mtime)
	_ = binary.Write(buf, binary.LittleEndian, in.Ctime)
	_ = binary.Write(buf, binary.LittleEndian, in.Mode)
	_ = binary.Write(buf, binary.LittleEndian, in.Direct)
	_ = binary.Write(buf, binary.LittleEndian, in.Indirect)
	return buf.Bytes()
}

// Unmarshal reads an inode out of its 76-byte wire form (extra
// trailing bytes, such as the rest of a record slot, are ignored).
func Unmarshal(data []byte) (Inode, error) {
	var in Inode
	r := bytes.NewReader(data)
	fields := []interface{}{&in.Size, &in.Atime, &in.Mtime, &in.Ctime, &in.Mode, &in.Direct, &in.Indirect}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return Inode{}, fmt.Errorf("inode: unmarshal: %w", err)
		}
	}
	return in, nil
}

// Table is the array of inode records persisted in the contiguous
// block range [startBlock, startBlock+blockCount).
type Table struct {
	dev        blockdev.Device
	startBlock uint32
	count      uint32
	log        *logrus.Entry
}

// NewTable wraps a block range as an inode table holding `count` inodes.
func NewTable(dev blockdev.Device, startBlock, count uint32, log *logrus.Entry) *Table {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Table{dev: dev, startBlock: startBlock, count: count, log: log}
}

func (t *Table) locate(n uint32) (block uint32, offset int, err error) {
	if n >= t.count {
		return 0, 0, fmt.Errorf("inode: number %d out of range (have %d inodes)", n, t.count)
	}
	perBlock := layout.InodesPerBlock(t.dev.BlockSize())
	block = t.startBlock + n/perBlock
	offset = int(n%perBlock) * layout.InodeRecordSize
	return block, offset, nil
}

// Read loads inode n.
func (t *Table) Read(n uint32) (Inode, error) {
	block, offset, err := t.locate(n)
	if err != nil {
		return Inode{}, err
	}

	buf := make([]byte, t.dev.BlockSize())
	if err := t.dev.ReadBlock(block, buf); err != nil {
		t.log.WithError(err).WithField("inode", n).Error("read inode block")
		return Inode{}, err
	}

	return Unmarshal(buf[offset : offset+layout.InodeRecordSize])
}

// Write read-modify-writes the hosting block with the given record.
func (t *Table) Write(n uint32, in Inode) error {
	block, offset, err := t.locate(n)
	if err != nil {
		return err
	}

	buf := make([]byte, t.dev.BlockSize())
	if err := t.dev.ReadBlock(block, buf); err != nil {
		t.log.WithError(err).WithField("inode", n).Error("read inode block for write")
		return err
	}

	copy(buf[offset:offset+layout.InodeRecordSize], in.Marshal())

	if err := t.dev.WriteBlock(block, buf); err != nil {
		t.log.WithError(err).WithField("inode", n).Error("write inode block")
		return err
	}
	return nil
}

// Clear zero-fills every block the table owns, used by format.
func (t *Table) Clear(blockCount uint32) error {
	buf := make([]byte, t.dev.BlockSize())
	for i := uint32(0); i < blockCount; i++ {
		if err := t.dev.WriteBlock(t.startBlock+i, buf); err != nil {
			return err
		}
	}
	return nil
}

// Mutable pairs an inode number with its loaded record and a Save
// method, mirroring vfsapi's MutableInode{Inode, InodePtr} pattern so
// handlers can load-mutate-save without re-deriving the block/offset.
type Mutable struct {
	Number uint32
	Inode  Inode
}

// Load reads inode n into a Mutable.
func Load(t *Table, n uint32) (Mutable, error) {
	in, err := t.Read(n)
	if err != nil {
		return Mutable{}, err
	}
	return Mutable{Number: n, Inode: in}, nil
}

// Save persists the Mutable's current Inode value back to the table.
func (m *Mutable) Save(t *Table) error {
	return t.Write(m.Number, m.Inode)
}
