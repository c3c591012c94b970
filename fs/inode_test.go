package fs_test

import (
	"bytes"
	"testing"

	"github.com/jcbjcbjc/fs-jcb/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWrite_RoundTripWithinOneBlock(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	root, err := sfs.RootInode()
	require.NoError(t, err)
	f, err := root.Create("f", fs.FileTypeFile, 0)
	require.NoError(t, err)

	payload := []byte("hello, world")
	n, err := f.WriteAt(10, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = f.ReadAt(10, buf)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)
	assert.EqualValues(t, 10+len(payload), f.Metadata().Size)
}

func TestRead_SparseHoleReadsAsZero(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	root, err := sfs.RootInode()
	require.NoError(t, err)
	f, err := root.Create("f", fs.FileTypeFile, 0)
	require.NoError(t, err)

	require.NoError(t, f.Resize(4096))

	buf := make([]byte, 4096)
	n, err := f.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 4096, n)
	assert.True(t, bytes.Equal(buf, make([]byte, 4096)))
}

func TestReadWrite_CrossesDirectBoundaryIntoIndirect(t *testing.T) {
	sfs, _ := formatTestVolume(t, 4096)
	root, err := sfs.RootInode()
	require.NoError(t, err)
	f, err := root.Create("big", fs.FileTypeFile, 0)
	require.NoError(t, err)

	// Block index 12 is the first single-indirect block (NDirect == 12).
	offset := uint64(12) * 4096
	payload := bytes.Repeat([]byte{0xCD}, 4096)
	n, err := f.WriteAt(offset, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = f.ReadAt(offset, buf)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)
}

func TestReadWrite_CrossesIntoDoubleIndirect(t *testing.T) {
	sfs, _ := formatTestVolume(t, 4096)
	root, err := sfs.RootInode()
	require.NoError(t, err)
	f, err := root.Create("huge", fs.FileTypeFile, 0)
	require.NoError(t, err)

	// Block index 12 + 1024 = 1036 is the first double-indirect block.
	offset := uint64(1036) * 4096
	payload := []byte("double-indirect")
	n, err := f.WriteAt(offset, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = f.ReadAt(offset, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf)
}

func TestResize_ShrinkFreesBlocks(t *testing.T) {
	sfs, _ := formatTestVolume(t, 128)
	root, err := sfs.RootInode()
	require.NoError(t, err)
	f, err := root.Create("shrinking", fs.FileTypeFile, 0)
	require.NoError(t, err)

	// Write into all three blocks so each one is actually allocated, not
	// left as a sparse hole — shrinking past a hole frees nothing.
	_, err = f.WriteAt(0, []byte("a"))
	require.NoError(t, err)
	_, err = f.WriteAt(4096, []byte("b"))
	require.NoError(t, err)
	_, err = f.WriteAt(2*4096, []byte("c"))
	require.NoError(t, err)
	require.NoError(t, sfs.Sync())
	require.EqualValues(t, 3, f.Metadata().Blocks)

	require.NoError(t, f.Resize(4096))
	require.NoError(t, sfs.Sync())

	assert.EqualValues(t, 4096, f.Metadata().Size)
	assert.EqualValues(t, 1, f.Metadata().Blocks)
}

func TestResize_ShrinkCollapsesIndirectBlocks(t *testing.T) {
	sfs, _ := formatTestVolume(t, 128)
	root, err := sfs.RootInode()
	require.NoError(t, err)
	f, err := root.Create("indirect-shrink", fs.FileTypeFile, 0)
	require.NoError(t, err)

	// Block index 12 is the first one addressed through the single-indirect
	// pointer block, so writing here allocates both the data block and the
	// indirect block itself.
	_, err = f.WriteAt(12*4096, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, sfs.Sync())
	// One data block plus the indirect pointer block.
	require.EqualValues(t, 2, f.Metadata().Blocks)

	require.NoError(t, f.Resize(0))
	require.NoError(t, sfs.Sync())

	assert.EqualValues(t, 0, f.Metadata().Size)
	assert.EqualValues(t, 0, f.Metadata().Blocks)
}

func TestWriteAt_GrowsFileAndUpdatesTimestamps(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	root, err := sfs.RootInode()
	require.NoError(t, err)
	f, err := root.Create("timestamped", fs.FileTypeFile, 0)
	require.NoError(t, err)

	before := f.Metadata().Mtime

	_, err = f.WriteAt(0, []byte("data"))
	require.NoError(t, err)

	after := f.Metadata()
	assert.EqualValues(t, 4, after.Size)
	assert.GreaterOrEqual(t, after.Mtime.Sec, before.Sec)
}

func TestReadAt_PastEOFReturnsNoData(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	root, err := sfs.RootInode()
	require.NoError(t, err)
	f, err := root.Create("empty", fs.FileTypeFile, 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := f.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDeviceNode_DispatchesToRegisteredDriver(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)

	driver := &recordingDriver{}
	fs.RegisterDevice(42, driver)
	defer fs.UnregisterDevice(42)

	dev, err := sfs.NewInodeCharDevice(42)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := dev.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.True(t, driver.readCalled)
}

type recordingDriver struct {
	readCalled bool
}

func (d *recordingDriver) ReadAt(deviceInodeID uint64, offset uint64, buf []byte) (int, error) {
	d.readCalled = true
	return len(buf), nil
}

func (d *recordingDriver) WriteAt(deviceInodeID uint64, offset uint64, buf []byte) (int, error) {
	return len(buf), nil
}
