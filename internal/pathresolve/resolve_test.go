package pathresolve

import (
	"errors"
	"testing"

	"github.com/janopa/microfs/internal/bitmap"
	"github.com/janopa/microfs/internal/blockdev"
	"github.com/janopa/microfs/internal/blockptr"
	"github.com/janopa/microfs/internal/dirent"
	"github.com/janopa/microfs/internal/inode"
)

type harness struct {
	dev    *blockdev.FileDevice
	table  *inode.Table
	store  *dirent.Store
	resolv *Resolver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	const blockSize = 4096
	const inodeTableStart = 4
	const inodeCount = 32
	const firstDataBlock = 20

	dev, err := blockdev.Create(t.TempDir()+"/pr.img", blockSize, firstDataBlock+64, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = dev.Close() })

	table := inode.NewTable(dev, inodeTableStart, inodeCount, nil)
	bm := bitmap.New(dev, 0, 1, 64, nil)
	if err := bm.Clear(); err != nil {
		t.Fatal(err)
	}
	resolver := blockptr.New(dev, bm, firstDataBlock, nil)
	store := dirent.New(dev, resolver, nil)

	root := inode.Inode{Mode: inode.ModeDir | inode.DefaultDirPerm}
	if err := table.Write(RootInode, root); err != nil {
		t.Fatal(err)
	}

	return &harness{dev: dev, table: table, store: store, resolv: New(store, table)}
}

func (h *harness) mkdir(t *testing.T, parent uint32, name string, num uint32) {
	t.Helper()
	child := inode.Inode{Mode: inode.ModeDir | inode.DefaultDirPerm}
	if err := h.table.Write(num, child); err != nil {
		t.Fatal(err)
	}
	parentIn, err := h.table.Read(parent)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.store.Insert(&parentIn, name, num); err != nil {
		t.Fatal(err)
	}
	if err := h.table.Write(parent, parentIn); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) mkfile(t *testing.T, parent uint32, name string, num uint32) {
	t.Helper()
	child := inode.Inode{Mode: inode.ModeRegular | inode.DefaultFilePerm}
	if err := h.table.Write(num, child); err != nil {
		t.Fatal(err)
	}
	parentIn, err := h.table.Read(parent)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.store.Insert(&parentIn, name, num); err != nil {
		t.Fatal(err)
	}
	if err := h.table.Write(parent, parentIn); err != nil {
		t.Fatal(err)
	}
}

func TestResolveRoot(t *testing.T) {
	h := newHarness(t)
	n, err := h.resolv.Resolve("/")
	if err != nil {
		t.Fatal(err)
	}
	if n != RootInode {
		t.Fatalf("Resolve(\"/\") = %d, want %d", n, RootInode)
	}
}

func TestResolveNestedPath(t *testing.T) {
	h := newHarness(t)
	h.mkdir(t, RootInode, "a", 1)
	h.mkdir(t, 1, "b", 2)
	h.mkfile(t, 2, "c", 3)

	n, err := h.resolv.Resolve("/a/b/c")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("Resolve(/a/b/c) = %d, want 3", n)
	}
}

func TestResolveMissingComponent(t *testing.T) {
	h := newHarness(t)
	h.mkdir(t, RootInode, "a", 1)

	if _, err := h.resolv.Resolve("/a/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveThroughNonDirectoryFails(t *testing.T) {
	h := newHarness(t)
	h.mkfile(t, RootInode, "f", 1)

	if _, err := h.resolv.Resolve("/f/x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound walking through a file, got %v", err)
	}
}

func TestResolveRejectsRelativePath(t *testing.T) {
	h := newHarness(t)
	if _, err := h.resolv.Resolve("a/b"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestResolveParent(t *testing.T) {
	h := newHarness(t)
	h.mkdir(t, RootInode, "a", 1)

	parent, base, err := h.resolv.ResolveParent("/a/newfile")
	if err != nil {
		t.Fatal(err)
	}
	if parent != 1 || base != "newfile" {
		t.Fatalf("ResolveParent = (%d, %q), want (1, \"newfile\")", parent, base)
	}
}

func TestResolveParentAtRoot(t *testing.T) {
	h := newHarness(t)
	parent, base, err := h.resolv.ResolveParent("/top")
	if err != nil {
		t.Fatal(err)
	}
	if parent != RootInode || base != "top" {
		t.Fatalf("ResolveParent = (%d, %q), want (%d, \"top\")", parent, base, RootInode)
	}
}
