package fs_test

import (
	"testing"

	"github.com/jcbjcbjc/fs-jcb/fs"
	"github.com/jcbjcbjc/fs-jcb/sfserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLink_AddsEntryAndIncrementsNlinks(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	root, err := sfs.RootInode()
	require.NoError(t, err)

	target, err := root.Create("original", fs.FileTypeFile, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, target.Metadata().Nlinks)

	require.NoError(t, root.Link("alias", target))
	assert.EqualValues(t, 2, target.Metadata().Nlinks)

	viaAlias, err := root.Find("alias")
	require.NoError(t, err)
	assert.Equal(t, target.ID(), viaAlias.ID())
}

func TestLink_RejectsDirectoryTargets(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	root, err := sfs.RootInode()
	require.NoError(t, err)

	sub, err := root.Create("sub", fs.FileTypeDir, 0)
	require.NoError(t, err)

	err = root.Link("sub2", sub)
	assert.ErrorIs(t, err, sfserr.IsDir)
}

func TestRename_WithinSameDirectory(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	root, err := sfs.RootInode()
	require.NoError(t, err)

	target, err := root.Create("old", fs.FileTypeFile, 0)
	require.NoError(t, err)

	require.NoError(t, root.Rename("old", root, "new"))

	_, err = root.Find("old")
	assert.ErrorIs(t, err, sfserr.EntryNotFound)

	found, err := root.Find("new")
	require.NoError(t, err)
	assert.Equal(t, target.ID(), found.ID())
}

func TestRename_AcrossDirectoriesFixesUpDotDotAndNlinks(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	root, err := sfs.RootInode()
	require.NoError(t, err)

	srcDir, err := root.Create("src", fs.FileTypeDir, 0)
	require.NoError(t, err)
	dstDir, err := root.Create("dst", fs.FileTypeDir, 0)
	require.NoError(t, err)
	moved, err := srcDir.Create("moveme", fs.FileTypeDir, 0)
	require.NoError(t, err)

	srcNlinksBefore := srcDir.Metadata().Nlinks
	dstNlinksBefore := dstDir.Metadata().Nlinks

	require.NoError(t, srcDir.Rename("moveme", dstDir, "moved"))

	assert.EqualValues(t, srcNlinksBefore-1, srcDir.Metadata().Nlinks)
	assert.EqualValues(t, dstNlinksBefore+1, dstDir.Metadata().Nlinks)

	_, err = srcDir.Find("moveme")
	assert.ErrorIs(t, err, sfserr.EntryNotFound)

	inDst, err := dstDir.Find("moved")
	require.NoError(t, err)
	assert.Equal(t, moved.ID(), inDst.ID())

	dotdot, err := moved.Find("..")
	require.NoError(t, err)
	assert.Equal(t, dstDir.ID(), dotdot.ID())
}

func TestRename_OverwritesExistingDestination(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	root, err := sfs.RootInode()
	require.NoError(t, err)

	_, err = root.Create("victim", fs.FileTypeFile, 0)
	require.NoError(t, err)
	mover, err := root.Create("mover", fs.FileTypeFile, 0)
	require.NoError(t, err)

	require.NoError(t, root.Rename("mover", root, "victim"))

	found, err := root.Find("victim")
	require.NoError(t, err)
	assert.Equal(t, mover.ID(), found.ID())

	names, err := root.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"victim"}, names)
}

func TestCreate_UnsupportedTypeRejected(t *testing.T) {
	sfs, _ := formatTestVolume(t, 64)
	root, err := sfs.RootInode()
	require.NoError(t, err)

	_, err = root.Create("dev", fs.FileTypeCharDevice, 0)
	assert.ErrorIs(t, err, sfserr.NotSupported)
}
