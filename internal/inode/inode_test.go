package inode

import (
	"testing"

	"github.com/janopa/microfs/internal/blockdev"
)

func newTestTable(t *testing.T, count uint32) *Table {
	t.Helper()
	dev, err := blockdev.Create(t.TempDir()+"/itbl.img", 4096, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = dev.Close() })
	return NewTable(dev, 0, count, nil)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := Inode{
		Size:  1234,
		Atime: 10,
		Mtime: 20,
		Ctime: 30,
		Mode:  ModeRegular | DefaultFilePerm,
	}
	in.Direct[0] = 5
	in.Indirect[1] = 9

	got, err := Unmarshal(in.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if got != in {
		t.Fatalf("round-tripped inode = %+v, want %+v", got, in)
	}
}

func TestTableWriteRead(t *testing.T) {
	table := newTestTable(t, 100)

	in := Inode{Size: 42, Mode: ModeDir | DefaultDirPerm}
	if err := table.Write(7, in); err != nil {
		t.Fatal(err)
	}

	got, err := table.Read(7)
	if err != nil {
		t.Fatal(err)
	}
	if got != in {
		t.Fatalf("read inode = %+v, want %+v", got, in)
	}
}

func TestTableReadOutOfRange(t *testing.T) {
	table := newTestTable(t, 10)
	if _, err := table.Read(10); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestIsDirIsRegular(t *testing.T) {
	dir := Inode{Mode: ModeDir | DefaultDirPerm}
	reg := Inode{Mode: ModeRegular | DefaultFilePerm}

	if !dir.IsDir() || dir.IsRegular() {
		t.Fatal("directory inode misclassified")
	}
	if !reg.IsRegular() || reg.IsDir() {
		t.Fatal("regular inode misclassified")
	}
}

func TestTouch(t *testing.T) {
	var in Inode
	in.Touch(100, true, false, false)
	in.Touch(200, false, true, true)

	if in.Atime != 100 || in.Mtime != 200 || in.Ctime != 200 {
		t.Fatalf("timestamps = %+v", in)
	}
}

func TestMutableSave(t *testing.T) {
	table := newTestTable(t, 10)
	if err := table.Write(3, Inode{Size: 1}); err != nil {
		t.Fatal(err)
	}

	m, err := Load(table, 3)
	if err != nil {
		t.Fatal(err)
	}
	m.Inode.Size = 99
	if err := m.Save(table); err != nil {
		t.Fatal(err)
	}

	got, err := table.Read(3)
	if err != nil {
		t.Fatal(err)
	}
	if got.Size != 99 {
		t.Fatalf("Size = %d, want 99", got.Size)
	}
}
