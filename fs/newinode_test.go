package fs_test

import (
	"testing"

	"github.com/jcbjcbjc/fs-jcb/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInodeFile_StartsEmptyWithOneLink(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	f, err := sfs.NewInodeFile()
	require.NoError(t, err)

	meta := f.Metadata()
	assert.True(t, meta.IsFile())
	assert.EqualValues(t, 0, meta.Size)
	assert.EqualValues(t, 1, meta.Nlinks)
}

func TestNewInodeDir_HasDotAndDotDot(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	root, err := sfs.RootInode()
	require.NoError(t, err)

	d, err := sfs.NewInodeDir(root.ID())
	require.NoError(t, err)

	assert.EqualValues(t, 2, d.Metadata().Nlinks)
	names, err := d.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	dotdot, err := d.Find("..")
	require.NoError(t, err)
	assert.Equal(t, root.ID(), dotdot.ID())
}

func TestNewInodeSymlink_StoresTargetAsContent(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	link, err := sfs.NewInodeSymlink()
	require.NoError(t, err)

	target := "/some/path"
	_, err = link.WriteAt(0, []byte(target))
	require.NoError(t, err)

	buf := make([]byte, len(target))
	n, err := link.ReadAt(0, buf)
	require.NoError(t, err)
	assert.Equal(t, target, string(buf[:n]))
	assert.True(t, link.Metadata().IsSymlink())
}

func TestNewInodeCharAndBlockDevice_CarryDeviceID(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)

	c, err := sfs.NewInodeCharDevice(7)
	require.NoError(t, err)
	assert.True(t, c.Metadata().IsDevice())
	assert.EqualValues(t, 7, c.Metadata().DeviceInodeID)

	b, err := sfs.NewInodeBlockDevice(9)
	require.NoError(t, err)
	assert.True(t, b.Metadata().IsDevice())
	assert.EqualValues(t, 9, b.Metadata().DeviceInodeID)
}
