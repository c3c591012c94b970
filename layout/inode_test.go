package layout_test

import (
	"testing"

	"github.com/jcbjcbjc/fs-jcb/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskInode_RoundTrip(t *testing.T) {
	di := layout.NewDiskInode(layout.FileTypeFile)
	di.Size = 12345
	di.Nlinks = 2
	di.Blocks = 7
	di.Direct[0] = 10
	di.Direct[11] = 99
	di.Indirect = 200
	di.DbIndirect = 201
	di.Atime = layout.Timespec{Sec: 1000, Nsec: 1}
	di.Mtime = layout.Timespec{Sec: 2000, Nsec: 2}
	di.Ctime = layout.Timespec{Sec: 3000, Nsec: 3}

	block := di.MarshalBlock()
	got, err := layout.UnmarshalDiskInode(block[:])
	require.NoError(t, err)

	assert.Equal(t, di.Size, got.Size)
	assert.Equal(t, di.Type, got.Type)
	assert.Equal(t, di.Nlinks, got.Nlinks)
	assert.Equal(t, di.Blocks, got.Blocks)
	assert.Equal(t, di.Direct, got.Direct)
	assert.Equal(t, di.Indirect, got.Indirect)
	assert.Equal(t, di.DbIndirect, got.DbIndirect)
	assert.Equal(t, di.Atime, got.Atime)
	assert.Equal(t, di.Mtime, got.Mtime)
	assert.Equal(t, di.Ctime, got.Ctime)
}

func TestDiskInode_NewHasNoDevice(t *testing.T) {
	di := layout.NewDiskInode(layout.FileTypeCharDevice)
	assert.EqualValues(t, layout.NoDevice, di.DeviceInodeID)
}

func TestDiskInode_EntryCount(t *testing.T) {
	di := layout.NewDiskInode(layout.FileTypeDir)
	di.Size = layout.DirentSize * 3
	assert.EqualValues(t, 3, di.EntryCount())
}

func TestDiskInode_RejectsWrongSizedBuffer(t *testing.T) {
	_, err := layout.UnmarshalDiskInode(make([]byte, 100))
	assert.Error(t, err)
}

func TestBlockPointers_RoundTrip(t *testing.T) {
	var ptrs [layout.BlockNEntry]uint32
	ptrs[0] = 1
	ptrs[1] = 2
	ptrs[layout.BlockNEntry-1] = 999

	block := layout.BlockPointersToBlock(ptrs)
	got := layout.BlockPointersFromBlock(block[:])
	assert.Equal(t, ptrs, got)
}
