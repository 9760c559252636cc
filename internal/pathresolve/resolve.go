// Package pathresolve walks an absolute path from the root inode
// through directory lookups, per spec.md §4.5.
package pathresolve

import (
	"errors"
	"strings"

	"github.com/janopa/microfs/internal/dirent"
	"github.com/janopa/microfs/internal/inode"
)

// RootInode is inode 0, the filesystem root, per spec.md §3's invariants.
const RootInode uint32 = 0

// ErrNotFound is returned when a path component is missing or a
// non-directory is traversed as an intermediate component.
var ErrNotFound = errors.New("pathresolve: not found")

// ErrInvalidArgument is returned for a path that isn't absolute.
var ErrInvalidArgument = errors.New("pathresolve: path must be absolute")

// InodeReader loads an inode by number; satisfied by *inode.Table.
type InodeReader interface {
	Read(n uint32) (inode.Inode, error)
}

// Resolver resolves absolute paths against a directory store built
// over the same device/inode-table pair.
type Resolver struct {
	inodes *dirent.Store
	table  InodeReader
}

// New builds a Resolver from a directory store and inode reader.
func New(dirStore *dirent.Store, table InodeReader) *Resolver {
	return &Resolver{inodes: dirStore, table: table}
}

func splitComponents(path string) ([]string, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, ErrInvalidArgument
	}
	var out []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// Resolve walks components from the root, returning the final inode
// number. "/" alone resolves to RootInode.
func (r *Resolver) Resolve(path string) (uint32, error) {
	components, err := splitComponents(path)
	if err != nil {
		return 0, err
	}

	current := RootInode
	for _, c := range components {
		currentInode, err := r.table.Read(current)
		if err != nil {
			return 0, err
		}
		if !currentInode.IsDir() {
			return 0, ErrNotFound
		}

		child, err := r.inodes.Lookup(currentInode, c)
		if err != nil {
			return 0, ErrNotFound
		}
		current = child
	}

	return current, nil
}

// ResolveParent resolves everything up to the last "/", returning the
// parent inode number and the basename, for create/delete/rename's
// parent-plus-basename need (spec.md §4.5).
func (r *Resolver) ResolveParent(path string) (parent uint32, base string, err error) {
	components, err := splitComponents(path)
	if err != nil {
		return 0, "", err
	}
	if len(components) == 0 {
		return 0, "", ErrInvalidArgument
	}

	base = components[len(components)-1]
	parentPath := "/" + strings.Join(components[:len(components)-1], "/")

	parent, err = r.Resolve(parentPath)
	if err != nil {
		return 0, "", err
	}
	return parent, base, nil
}
