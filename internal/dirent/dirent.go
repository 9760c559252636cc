// Package dirent implements the packed directory-entry store spec.md
// §4.4 describes: scan, lookup-by-name, insert, remove within a
// directory inode's data blocks. This fills in add_dir_entry, which
// original_source/fs.c declares but never implements (spec.md §9).
package dirent

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/janopa/microfs/internal/blockdev"
	"github.com/janopa/microfs/internal/blockptr"
	"github.com/janopa/microfs/internal/inode"
	"github.com/janopa/microfs/internal/layout"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when no entry with the requested name exists.
var ErrNotFound = errors.New("dirent: entry not found")

// ErrAlreadyExists is returned by Insert when the name is already used.
var ErrAlreadyExists = errors.New("dirent: name already exists")

// ErrNameTooLong is returned when a name is longer than
// layout.MaxFilenameLen bytes (the name field keeps room for the NUL
// terminator and one reserved byte beyond that).
var ErrNameTooLong = errors.New("dirent: name too long")

// Entry is one packed 30-byte directory record: a null-padded name and
// an inode number (0 marks a free slot).
type Entry struct {
	Name     [layout.DirEntryNameLen]byte
	InodeNum uint32
}

// NameString returns the entry's name as a Go string, stopping at the
// first NUL.
func (e Entry) NameString() string {
	n := bytes.IndexByte(e.Name[:], 0)
	if n < 0 {
		n = len(e.Name)
	}
	return string(e.Name[:n])
}

func nameBytes(name string) ([layout.DirEntryNameLen]byte, error) {
	var out [layout.DirEntryNameLen]byte
	if len(name) > layout.MaxFilenameLen {
		return out, ErrNameTooLong
	}
	copy(out[:], name)
	return out, nil
}

func (e Entry) marshal() []byte {
	buf := make([]byte, layout.DirEntrySize)
	copy(buf, e.Name[:])
	binary.LittleEndian.PutUint32(buf[layout.DirEntryNameLen:], e.InodeNum)
	return buf
}

func unmarshalEntry(buf []byte) Entry {
	var e Entry
	copy(e.Name[:], buf[:layout.DirEntryNameLen])
	e.InodeNum = binary.LittleEndian.Uint32(buf[layout.DirEntryNameLen:])
	return e
}

// Store scans/mutates directory entries for one directory inode.
type Store struct {
	dev      blockdev.Device
	resolver *blockptr.Resolver
	log      *logrus.Entry
}

// New builds a Store over the given device and block-pointer resolver.
func New(dev blockdev.Device, resolver *blockptr.Resolver, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{dev: dev, resolver: resolver, log: log}
}

func (s *Store) readBlock(in inode.Inode, relBlock uint32) ([]byte, uint32, error) {
	abs, err := s.resolver.Resolve(&in, relBlock, false)
	if err != nil {
		return nil, 0, err
	}

	buf := make([]byte, s.dev.BlockSize())
	if abs == 0 {
		return buf, 0, nil // sparse block reads as all-free, spec.md §4.4
	}
	if err := s.dev.ReadBlock(abs, buf); err != nil {
		return nil, 0, err
	}
	return buf, abs, nil
}

// entriesPerBlock returns how many packed entries fit in one block.
func (s *Store) entriesPerBlock() uint32 {
	return layout.EntriesPerBlock(s.dev.BlockSize())
}

// Scan visits every in-use entry (nonzero inode number) across the
// directory's data blocks, in block then slot order.
func (s *Store) Scan(in inode.Inode, visit func(Entry) (keepGoing bool)) error {
	blockCount := blockptr.BlockCount(s.dev.BlockSize(), in.Size)
	perBlock := s.entriesPerBlock()

	for relBlock := uint32(0); relBlock < blockCount; relBlock++ {
		buf, _, err := s.readBlock(in, relBlock)
		if err != nil {
			return err
		}

		for slot := uint32(0); slot < perBlock; slot++ {
			off := slot * layout.DirEntrySize
			if off+layout.DirEntrySize > uint32(len(buf)) {
				break
			}
			e := unmarshalEntry(buf[off : off+layout.DirEntrySize])
			if e.InodeNum == 0 {
				continue
			}
			if !visit(e) {
				return nil
			}
		}
	}
	return nil
}

// Lookup returns the inode number bound to name, or ErrNotFound.
func (s *Store) Lookup(in inode.Inode, name string) (uint32, error) {
	var found uint32
	err := s.Scan(in, func(e Entry) bool {
		if e.NameString() == name {
			found = e.InodeNum
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, ErrNotFound
	}
	return found, nil
}

// Insert adds (name, childInode) to the directory, reusing a free
// slot in an existing block if one exists, otherwise growing the
// directory by one block (spec.md §4.4's monotonic-size policy: size
// only ever counts slots that have ever been used, so scans always
// cover every possibly-used slot).
func (s *Store) Insert(in *inode.Inode, name string, childInode uint32) error {
	nb, err := nameBytes(name)
	if err != nil {
		return err
	}

	if _, err := s.Lookup(*in, name); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	blockCount := blockptr.BlockCount(s.dev.BlockSize(), in.Size)
	perBlock := s.entriesPerBlock()
	entry := Entry{Name: nb, InodeNum: childInode}

	for relBlock := uint32(0); relBlock < blockCount; relBlock++ {
		abs, err := s.resolver.Resolve(in, relBlock, false)
		if err != nil {
			return err
		}
		if abs == 0 {
			continue // sparse block: no free slot recorded here yet
		}

		buf := make([]byte, s.dev.BlockSize())
		if err := s.dev.ReadBlock(abs, buf); err != nil {
			return err
		}

		for slot := uint32(0); slot < perBlock; slot++ {
			off := slot * layout.DirEntrySize
			if off+layout.DirEntrySize > uint32(len(buf)) {
				break
			}
			if binary.LittleEndian.Uint32(buf[off+layout.DirEntryNameLen:]) == 0 {
				copy(buf[off:off+layout.DirEntrySize], entry.marshal())
				if err := s.dev.WriteBlock(abs, buf); err != nil {
					return err
				}
				if hw := (relBlock*perBlock + slot + 1) * layout.DirEntrySize; hw > in.Size {
					in.Size = hw
				}
				return nil
			}
		}
	}

	// No free slot: every existing block is full, so allocate the next
	// block after them and write at slot 0.
	relBlock := blockCount
	abs, err := s.resolver.Resolve(in, relBlock, true)
	if err != nil {
		return err
	}

	buf := make([]byte, s.dev.BlockSize())
	copy(buf[:layout.DirEntrySize], entry.marshal())
	if err := s.dev.WriteBlock(abs, buf); err != nil {
		return err
	}

	in.Size += layout.DirEntrySize
	return nil
}

// Remove zeroes the entry for name, freeing its slot for reuse.
// Directory size is never shrunk (spec.md §4.4: "compaction is not required").
func (s *Store) Remove(in inode.Inode, name string) error {
	blockCount := blockptr.BlockCount(s.dev.BlockSize(), in.Size)
	perBlock := s.entriesPerBlock()

	for relBlock := uint32(0); relBlock < blockCount; relBlock++ {
		abs, err := s.resolver.Resolve(&in, relBlock, false)
		if err != nil {
			return err
		}
		if abs == 0 {
			continue
		}

		buf := make([]byte, s.dev.BlockSize())
		if err := s.dev.ReadBlock(abs, buf); err != nil {
			return err
		}

		for slot := uint32(0); slot < perBlock; slot++ {
			off := slot * layout.DirEntrySize
			if off+layout.DirEntrySize > uint32(len(buf)) {
				break
			}
			e := unmarshalEntry(buf[off : off+layout.DirEntrySize])
			if e.InodeNum != 0 && e.NameString() == name {
				binary.LittleEndian.PutUint32(buf[off+layout.DirEntryNameLen:], 0)
				return s.dev.WriteBlock(abs, buf)
			}
		}
	}

	return fmt.Errorf("%w: %s", ErrNotFound, name)
}
