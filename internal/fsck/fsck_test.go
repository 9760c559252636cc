package fsck

import (
	"testing"

	"github.com/janopa/microfs/internal/microfs"
)

func newTestFS(t *testing.T) *microfs.Filesystem {
	t.Helper()
	fs, err := microfs.Format(t.TempDir()+"/img", 512, 727, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = fs.Unmount() })
	return fs
}

func deps(fs *microfs.Filesystem) Deps {
	return Deps{
		Device:         fs.Device,
		InodeBitmap:    fs.InodeBitmap,
		DataBitmap:     fs.DataBitmap,
		Inodes:         fs.Inodes,
		Dirs:           fs.Dirs,
		FirstDataBlock: fs.Superblock.FirstDataBlock,
		InodeCount:     fs.Superblock.InodeCount,
	}
}

func TestCheckFreshFilesystemIsClean(t *testing.T) {
	fs := newTestFS(t)

	report, err := Check(deps(fs))
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Fatalf("expected a clean report, got %v", report.Problems)
	}
}

func TestCheckAfterFilesAndDirsIsClean(t *testing.T) {
	fs := newTestFS(t)

	if err := fs.Mkdir("/a", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := fs.Mknod("/a/f", 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Write("/a/f", []byte("data"), 0, false); err != nil {
		t.Fatal(err)
	}

	report, err := Check(deps(fs))
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Fatalf("expected a clean report, got %v", report.Problems)
	}
}

func TestCheckAfterUnlinkIsClean(t *testing.T) {
	fs := newTestFS(t)

	if err := fs.Mknod("/f", 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Write("/f", []byte("data"), 0, false); err != nil {
		t.Fatal(err)
	}
	if err := fs.Unlink("/f"); err != nil {
		t.Fatal(err)
	}

	report, err := Check(deps(fs))
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Fatalf("expected a clean report after unlink, got %v", report.Problems)
	}
}

func TestCheckDetectsZombieInode(t *testing.T) {
	fs := newTestFS(t)

	if _, err := fs.InodeBitmap.Allocate(); err != nil {
		t.Fatal(err)
	}

	report, err := Check(deps(fs))
	if err != nil {
		t.Fatal(err)
	}
	if report.OK() {
		t.Fatal("expected the manually-allocated, unreferenced inode to be flagged")
	}
}
