package dirent

import (
	"errors"
	"testing"

	"github.com/janopa/microfs/internal/bitmap"
	"github.com/janopa/microfs/internal/blockdev"
	"github.com/janopa/microfs/internal/blockptr"
	"github.com/janopa/microfs/internal/inode"
)

func newTestStore(t *testing.T) (*Store, *inode.Inode) {
	t.Helper()
	const blockSize = 4096
	const firstDataBlock = 10

	dev, err := blockdev.Create(t.TempDir()+"/de.img", blockSize, firstDataBlock+64, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = dev.Close() })

	bm := bitmap.New(dev, 0, 1, 64, nil)
	if err := bm.Clear(); err != nil {
		t.Fatal(err)
	}

	resolver := blockptr.New(dev, bm, firstDataBlock, nil)
	store := New(dev, resolver, nil)
	in := &inode.Inode{}
	return store, in
}

func TestInsertAndLookup(t *testing.T) {
	store, in := newTestStore(t)

	if err := store.Insert(in, "hello.txt", 5); err != nil {
		t.Fatal(err)
	}

	got, err := store.Lookup(*in, "hello.txt")
	if err != nil {
		t.Fatal(err)
	}
	if got != 5 {
		t.Fatalf("Lookup returned inode %d, want 5", got)
	}
}

func TestLookupNotFound(t *testing.T) {
	store, in := newTestStore(t)
	if _, err := store.Lookup(*in, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	store, in := newTestStore(t)
	if err := store.Insert(in, "a", 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Insert(in, "a", 2); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestInsertNameTooLong(t *testing.T) {
	store, in := newTestStore(t)
	longName := make([]byte, 25) // MaxFilenameLen is 24
	for i := range longName {
		longName[i] = 'a'
	}
	if err := store.Insert(in, string(longName), 1); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

func TestInsertNameAtLimitAccepted(t *testing.T) {
	store, in := newTestStore(t)
	name := make([]byte, 24)
	for i := range name {
		name[i] = 'b'
	}
	if err := store.Insert(in, string(name), 1); err != nil {
		t.Fatalf("24-byte name should be accepted, got %v", err)
	}
}

func TestRemoveFreesSlotForReuse(t *testing.T) {
	store, in := newTestStore(t)
	if err := store.Insert(in, "a", 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Remove(*in, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Lookup(*in, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatal("removed entry should no longer be found")
	}

	sizeBefore := in.Size
	if err := store.Insert(in, "b", 2); err != nil {
		t.Fatal(err)
	}
	if in.Size != sizeBefore {
		t.Fatalf("reusing a freed slot should not grow directory size: before=%d after=%d", sizeBefore, in.Size)
	}
}

func TestInsertGrowsDirectoryWhenFull(t *testing.T) {
	store, in := newTestStore(t)
	// entries-per-block = floor(4096/30) = 136; fill them, then one more.
	for i := 0; i < 136; i++ {
		name := "f" + string(rune('A'+i/26)) + string(rune('a'+i%26))
		if err := store.Insert(in, name, uint32(i+1)); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	sizeBefore := in.Size

	if err := store.Insert(in, "overflow", 9999); err != nil {
		t.Fatal(err)
	}
	if in.Size <= sizeBefore {
		t.Fatal("expected directory size to grow once existing blocks are full")
	}
}

func TestScanVisitsAllInUseEntries(t *testing.T) {
	store, in := newTestStore(t)
	names := []string{"one", "two", "three"}
	for i, n := range names {
		if err := store.Insert(in, n, uint32(i+1)); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]bool{}
	err := store.Scan(*in, func(e Entry) bool {
		seen[e.NameString()] = true
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range names {
		if !seen[n] {
			t.Fatalf("Scan did not visit %q", n)
		}
	}
}
