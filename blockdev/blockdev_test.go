package blockdev_test

import (
	"bytes"
	"testing"

	"github.com/jcbjcbjc/fs-jcb/blockdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDevice_RoundTrip(t *testing.T) {
	dev := blockdev.NewMemoryDevice(4)
	src := bytes.Repeat([]byte{0xAB}, blockdev.BlockSize)

	require.NoError(t, dev.WriteAt(2, src))

	dst := make([]byte, blockdev.BlockSize)
	require.NoError(t, dev.ReadAt(2, dst))
	assert.Equal(t, src, dst)
}

func TestMemoryDevice_OutOfRange(t *testing.T) {
	dev := blockdev.NewMemoryDevice(2)
	buf := make([]byte, blockdev.BlockSize)
	assert.Error(t, dev.ReadAt(5, buf))
	assert.Error(t, dev.WriteAt(5, buf))
}

func TestByteAddressable_FullBlockReadWrite(t *testing.T) {
	dev := blockdev.NewMemoryDevice(2)
	adapter := blockdev.NewByteAddressable(dev)

	src := bytes.Repeat([]byte{0x42}, blockdev.BlockSize)
	n := adapter.WriteAt(0, src)
	require.EqualValues(t, blockdev.BlockSize, n)

	dst := make([]byte, blockdev.BlockSize)
	n = adapter.ReadAt(0, dst)
	require.EqualValues(t, blockdev.BlockSize, n)
	assert.Equal(t, src, dst)
}

func TestByteAddressable_PartialBlockPreservesNeighboringBytes(t *testing.T) {
	dev := blockdev.NewMemoryDevice(1)
	adapter := blockdev.NewByteAddressable(dev)

	full := bytes.Repeat([]byte{0xFF}, blockdev.BlockSize)
	adapter.WriteAt(0, full)

	patch := []byte("hello")
	n := adapter.WriteAt(10, patch)
	require.EqualValues(t, len(patch), n)

	dst := make([]byte, blockdev.BlockSize)
	adapter.ReadAt(0, dst)

	assert.Equal(t, byte(0xFF), dst[9])
	assert.Equal(t, []byte("hello"), dst[10:15])
	assert.Equal(t, byte(0xFF), dst[15])
}

func TestByteAddressable_StraddlesBlockBoundary(t *testing.T) {
	dev := blockdev.NewMemoryDevice(2)
	adapter := blockdev.NewByteAddressable(dev)

	data := bytes.Repeat([]byte{0x11}, 200)
	offset := uint64(blockdev.BlockSize - 100)
	n := adapter.WriteAt(offset, data)
	require.EqualValues(t, 200, n)

	dst := make([]byte, 200)
	n = adapter.ReadAt(offset, dst)
	require.EqualValues(t, 200, n)
	assert.Equal(t, data, dst)
}

func TestByteAddressable_ShortReadOnDeviceError(t *testing.T) {
	dev := blockdev.NewMemoryDevice(2)
	adapter := blockdev.NewByteAddressable(dev)

	// Attempting to read past the end of the device should stop cleanly at
	// the boundary rather than propagate an error up to the caller.
	buf := make([]byte, blockdev.BlockSize*3)
	n := adapter.ReadAt(0, buf)
	assert.EqualValues(t, blockdev.BlockSize*2, n)
}
