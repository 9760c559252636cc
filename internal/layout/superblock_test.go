package layout

import "testing"

func TestComputeFixesInodeCountToOneBitmapBlock(t *testing.T) {
	sb, err := Compute(4096, 100000)
	if err != nil {
		t.Fatal(err)
	}

	if sb.InodeCount != 32768 {
		t.Errorf("InodeCount = %d, want 32768", sb.InodeCount)
	}
	if sb.DataBitmapBlocks != 2 {
		t.Errorf("DataBitmapBlocks = %d, want 2", sb.DataBitmapBlocks)
	}
	if sb.FirstDataBlock != InodeTableStart+sb.InodeTableBlocks {
		t.Errorf("FirstDataBlock = %d, want %d", sb.FirstDataBlock, InodeTableStart+sb.InodeTableBlocks)
	}
}

func TestComputeClampsDataBlockCountToDevice(t *testing.T) {
	sb, err := Compute(4096, 4+643+10)
	if err != nil {
		t.Fatal(err)
	}

	if sb.DataBlockCount != 10 {
		t.Errorf("DataBlockCount = %d, want 10", sb.DataBlockCount)
	}
}

func TestComputeRejectsTooSmallDevice(t *testing.T) {
	_, err := Compute(4096, 2)
	if err == nil {
		t.Fatal("expected error for a device too small to hold the metadata region")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	sb, err := Compute(4096, 100000)
	if err != nil {
		t.Fatal(err)
	}

	buf, err := sb.Marshal(4096)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != 4096 {
		t.Fatalf("marshaled buffer length = %d, want 4096", len(buf))
	}

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != sb {
		t.Errorf("round-tripped superblock = %+v, want %+v", got, sb)
	}
}

func TestMaxFileSize(t *testing.T) {
	got := MaxFileSize(4096)
	want := int64(12+2*1024) * 4096
	if got != want {
		t.Errorf("MaxFileSize(4096) = %d, want %d", got, want)
	}
}
