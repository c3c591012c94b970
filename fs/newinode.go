package fs

import (
	"github.com/jcbjcbjc/fs-jcb/layout"
)

func (fsys *FileSystem) newInode(fileType FileType, deviceInodeID uint64, nlinks uint16) (*InodeHandle, error) {
	id, err := fsys.allocBlock()
	if err != nil {
		return nil, err
	}

	di := layout.NewDiskInode(fileType)
	di.Nlinks = nlinks
	if deviceInodeID != 0 {
		di.DeviceInodeID = deviceInodeID
	}
	now := nowTimespec()
	di.Atime, di.Mtime, di.Ctime = now, now, now

	if err := fsys.writeDiskInode(id, &di); err != nil {
		return nil, err
	}

	fsys.inodesMu.Lock()
	defer fsys.inodesMu.Unlock()
	return fsys.newInodeHandle(id, &di), nil
}

// NewInodeFile allocates a fresh, empty regular-file inode.
func (fsys *FileSystem) NewInodeFile() (*InodeHandle, error) {
	return fsys.newInode(layout.FileTypeFile, layout.NoDevice, 1)
}

// NewInodeDir allocates a fresh directory inode and populates it with "."
// and ".." entries pointing at itself and parentID respectively.
func (fsys *FileSystem) NewInodeDir(parentID InodeID) (*InodeHandle, error) {
	handle, err := fsys.newInode(layout.FileTypeDir, layout.NoDevice, 1)
	if err != nil {
		return nil, err
	}
	if err := handle.initDirEntry(parentID); err != nil {
		return nil, err
	}
	return handle, nil
}

// NewInodeSymlink allocates a fresh symbolic-link inode. Its target path is
// stored as the file's byte content via WriteAt, mirroring a regular file.
func (fsys *FileSystem) NewInodeSymlink() (*InodeHandle, error) {
	return fsys.newInode(layout.FileTypeSymLink, layout.NoDevice, 1)
}

// NewInodeCharDevice allocates an inode representing a character device
// node, dispatching I/O to whatever DeviceDriver is registered for
// deviceInodeID (see RegisterDevice).
func (fsys *FileSystem) NewInodeCharDevice(deviceInodeID uint64) (*InodeHandle, error) {
	return fsys.newInode(layout.FileTypeCharDevice, deviceInodeID, 1)
}

// NewInodeBlockDevice is NewInodeCharDevice's counterpart for block device
// nodes. spec.md names only new_inode_chardevice explicitly; this is the
// same construction with FileTypeBlockDevice, per SPEC_FULL.md's "Device
// nodes" supplement.
func (fsys *FileSystem) NewInodeBlockDevice(deviceInodeID uint64) (*InodeHandle, error) {
	return fsys.newInode(layout.FileTypeBlockDevice, deviceInodeID, 1)
}
