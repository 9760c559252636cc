// Package blockdev adapts a host file into the flat, fixed-size-block
// device primitive spec.md §6 expects: read(index, buf) and
// write(index, buf), both whole-block, addressed by integer index.
package blockdev

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Device is the block-device contract spec.md §6 names.
type Device interface {
	ReadBlock(index uint32, buf []byte) error
	WriteBlock(index uint32, buf []byte) error
	BlockSize() int
	BlockCount() uint32
}

// FileDevice is a Device backed by a regular host file, one fixed-size
// block per index, grounded on vfs/drive.go's PrepareDriveFile/NewDrive
// and vfs/volume.go's PrepareVolumeFile/NewVolume — merged into a
// single adapter since spec.md's contract has no struct-marshaling
// concern of its own.
type FileDevice struct {
	file       *os.File
	blockSize  int
	blockCount uint32
	log        *logrus.Entry
}

// Create truncates (or creates) the file at path to exactly
// blockCount*blockSize bytes and opens it for read-write, the
// teacher's PrepareVolumeFile+NewVolume sequence collapsed into one
// call since nothing in this design needs the intermediate state.
func Create(path string, blockSize int, blockCount uint32, log *logrus.Entry) (*FileDevice, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	size := int64(blockSize) * int64(blockCount)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		log.WithError(err).WithField("path", path).Error("create block device file")
		return nil, fmt.Errorf("blockdev: create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		log.WithError(err).WithField("path", path).Error("truncate block device file")
		return nil, fmt.Errorf("blockdev: truncate %s to %d bytes: %w", path, size, err)
	}

	return &FileDevice{file: f, blockSize: blockSize, blockCount: blockCount, log: log}, nil
}

// Open opens an existing image file and derives its block count from
// the file's size, the way the teacher's main.go re-derives a
// Filesystem from an on-disk superblock at mount time.
func Open(path string, blockSize int, log *logrus.Entry) (*FileDevice, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		log.WithError(err).WithField("path", path).Error("open block device file")
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("blockdev: stat %s: %w", path, err)
	}

	blockCount := uint32(stat.Size() / int64(blockSize))
	return &FileDevice{file: f, blockSize: blockSize, blockCount: blockCount, log: log}, nil
}

func (d *FileDevice) BlockSize() int     { return d.blockSize }
func (d *FileDevice) BlockCount() uint32 { return d.blockCount }

// Close releases the underlying file handle.
func (d *FileDevice) Close() error {
	return d.file.Close()
}

func (d *FileDevice) checkBounds(index uint32, buf []byte) error {
	if len(buf) != d.blockSize {
		return fmt.Errorf("blockdev: buffer length %d does not match block size %d", len(buf), d.blockSize)
	}
	if index >= d.blockCount {
		return fmt.Errorf("blockdev: block index %d out of range (have %d blocks)", index, d.blockCount)
	}
	return nil
}

// ReadBlock reads exactly one block into buf.
func (d *FileDevice) ReadBlock(index uint32, buf []byte) error {
	if err := d.checkBounds(index, buf); err != nil {
		return err
	}

	off := int64(index) * int64(d.blockSize)
	if _, err := d.file.Seek(off, io.SeekStart); err != nil {
		d.log.WithError(err).WithField("block", index).Error("seek for read")
		return fmt.Errorf("blockdev: io error seeking block %d: %w", index, err)
	}
	if _, err := io.ReadFull(d.file, buf); err != nil {
		d.log.WithError(err).WithField("block", index).Error("read block")
		return fmt.Errorf("blockdev: io error reading block %d: %w", index, err)
	}
	return nil
}

// WriteBlock writes exactly one block from buf.
func (d *FileDevice) WriteBlock(index uint32, buf []byte) error {
	if err := d.checkBounds(index, buf); err != nil {
		return err
	}

	off := int64(index) * int64(d.blockSize)
	if _, err := d.file.Seek(off, io.SeekStart); err != nil {
		d.log.WithError(err).WithField("block", index).Error("seek for write")
		return fmt.Errorf("blockdev: io error seeking block %d: %w", index, err)
	}
	if _, err := d.file.Write(buf); err != nil {
		d.log.WithError(err).WithField("block", index).Error("write block")
		return fmt.Errorf("blockdev: io error writing block %d: %w", index, err)
	}
	return nil
}
