package bitmap

import (
	"testing"

	"github.com/janopa/microfs/internal/blockdev"
	"github.com/stretchr/testify/assert"
)

func newTestBitmap(t *testing.T, length uint32) *Bitmap {
	t.Helper()
	dev, err := blockdev.Create(t.TempDir()+"/bm.img", 64, 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = dev.Close() })
	return New(dev, 0, 4, length, nil)
}

func TestAllocateReturnsFirstFreeBit(t *testing.T) {
	b := newTestBitmap(t, 32)

	n, err := b.Allocate()
	assert.NoError(t, err)
	assert.NotEqual(t, ^uint32(0), n, "should allocate a real index")
	assert.Equal(t, uint32(0), n, "first allocation should return bit 0")

	n2, err := b.Allocate()
	assert.NoError(t, err)
	assert.NotEqual(t, n, n2, "should not allocate the same bit twice")
	assert.Equal(t, uint32(1), n2)
}

func TestFreeMakesBitAvailableAgain(t *testing.T) {
	b := newTestBitmap(t, 32)

	n, err := b.Allocate()
	assert.NoError(t, err)

	assert.NoError(t, b.Free(n))

	set, err := b.IsSet(n)
	assert.NoError(t, err)
	assert.False(t, set)

	n2, err := b.Allocate()
	assert.NoError(t, err)
	assert.Equal(t, n, n2, "freed bit should be reused by the next allocation")
}

func TestAllocateExhaustion(t *testing.T) {
	b := newTestBitmap(t, 4)

	for i := 0; i < 4; i++ {
		_, err := b.Allocate()
		assert.NoError(t, err)
	}

	_, err := b.Allocate()
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestFreeCount(t *testing.T) {
	b := newTestBitmap(t, 8)

	free, err := b.FreeCount()
	assert.NoError(t, err)
	assert.Equal(t, uint32(8), free)

	_, err = b.Allocate()
	assert.NoError(t, err)

	free, err = b.FreeCount()
	assert.NoError(t, err)
	assert.Equal(t, uint32(7), free)
}

func TestFreeDoesNotCorruptNeighboringBits(t *testing.T) {
	b := newTestBitmap(t, 16)

	for i := 0; i < 5; i++ {
		_, err := b.Allocate()
		assert.NoError(t, err)
	}

	assert.NoError(t, b.Free(2))

	for i := uint32(0); i < 5; i++ {
		set, err := b.IsSet(i)
		assert.NoError(t, err)
		if i == 2 {
			assert.False(t, set)
		} else {
			assert.True(t, set, "bit %d should remain set", i)
		}
	}
}
