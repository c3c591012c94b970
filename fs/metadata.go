// Package fs is the filesystem and inode engine: mounting/formatting a
// volume, the inode table, block allocation, the file block map, and
// directory entry management. See spec.md sections 4.5 and 4.6.
package fs

import (
	"github.com/jcbjcbjc/fs-jcb/layout"
)

// InodeID identifies an inode; for this file system it equals the BlockId
// holding the on-disk inode.
type InodeID = uint32

// FileType re-exports layout.FileType, the tagged type callers see on
// Metadata.
type FileType = layout.FileType

const (
	FileTypeFile        = layout.FileTypeFile
	FileTypeDir         = layout.FileTypeDir
	FileTypeSymLink     = layout.FileTypeSymLink
	FileTypeCharDevice  = layout.FileTypeCharDevice
	FileTypeBlockDevice = layout.FileTypeBlockDevice
	FileTypeNamedPipe   = layout.FileTypeNamedPipe
	FileTypeSocket      = layout.FileTypeSocket
)

// Timespec re-exports layout.Timespec.
type Timespec = layout.Timespec

// Metadata is the platform-independent view of an inode's attributes
// exposed to callers, paralleling the teacher's disko.FileStat. Per
// SPEC_FULL.md's "Metadata struct completeness" supplement, every field the
// on-disk inode carries is surfaced here, not just size/type.
type Metadata struct {
	InodeID       InodeID
	Type          FileType
	Nlinks        uint16
	Size          uint32
	Blocks        uint32
	DeviceInodeID uint64
	Atime         Timespec
	Mtime         Timespec
	Ctime         Timespec
}

// IsDir reports whether this inode is a directory.
func (m Metadata) IsDir() bool { return m.Type == FileTypeDir }

// IsFile reports whether this inode is a regular file.
func (m Metadata) IsFile() bool { return m.Type == FileTypeFile }

// IsSymlink reports whether this inode is a symbolic link.
func (m Metadata) IsSymlink() bool { return m.Type == FileTypeSymLink }

// IsDevice reports whether this inode is a char or block device node.
func (m Metadata) IsDevice() bool {
	return m.Type == FileTypeCharDevice || m.Type == FileTypeBlockDevice
}
