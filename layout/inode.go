package layout

import (
	"bytes"
	"encoding/binary"

	"github.com/jcbjcbjc/fs-jcb/sfserr"
	"github.com/noxer/bytewriter"
)

// DiskInode is the on-disk form of a single inode. Exactly one is stored per
// block, and the block's number is the inode's InodeId. See spec.md
// section 3 and section 6's bit-exact layout table.
type DiskInode struct {
	Size          uint32
	Type          FileType
	Nlinks        uint16
	_             uint16 // pad, matches the on-disk layout's explicit padding
	Blocks        uint32
	Direct        [NDirect]uint32
	Indirect      uint32
	DbIndirect    uint32
	DeviceInodeID uint64
	Atime         Timespec
	Mtime         Timespec
	Ctime         Timespec
}

// NewDiskInode returns a zeroed DiskInode of the given type with no device
// association (DeviceInodeID set to NoDevice).
func NewDiskInode(t FileType) DiskInode {
	return DiskInode{
		Type:          t,
		DeviceInodeID: NoDevice,
	}
}

// EntryCount returns the number of directory entries this inode's Size
// implies. Only meaningful for directories.
func (di *DiskInode) EntryCount() uint32 {
	return di.Size / DirentSize
}

func writeTimespec(w *bytewriter.Writer, ts Timespec) {
	binary.Write(w, binary.LittleEndian, ts.Sec)
	binary.Write(w, binary.LittleEndian, ts.Nsec)
}

func readTimespec(r *bytes.Reader) Timespec {
	var ts Timespec
	binary.Read(r, binary.LittleEndian, &ts.Sec)
	binary.Read(r, binary.LittleEndian, &ts.Nsec)
	return ts
}

// MarshalBlock renders the inode into a full BlockSize-byte block, following
// the same bytewriter.New + binary.Write idiom as SuperBlock.MarshalBlock.
func (di *DiskInode) MarshalBlock() [BlockSize]byte {
	var block [BlockSize]byte
	w := bytewriter.New(block[:])

	binary.Write(w, binary.LittleEndian, di.Size)
	binary.Write(w, binary.LittleEndian, uint32(di.Type))
	binary.Write(w, binary.LittleEndian, di.Nlinks)
	binary.Write(w, binary.LittleEndian, uint16(0)) // pad
	binary.Write(w, binary.LittleEndian, di.Blocks)
	binary.Write(w, binary.LittleEndian, di.Direct)
	binary.Write(w, binary.LittleEndian, di.Indirect)
	binary.Write(w, binary.LittleEndian, di.DbIndirect)
	binary.Write(w, binary.LittleEndian, di.DeviceInodeID)
	writeTimespec(w, di.Atime)
	writeTimespec(w, di.Mtime)
	writeTimespec(w, di.Ctime)

	return block
}

// UnmarshalDiskInode parses a BlockSize-byte block into a DiskInode.
func UnmarshalDiskInode(block []byte) (*DiskInode, error) {
	if len(block) != BlockSize {
		return nil, sfserr.InvalidParam.WithMessage("inode buffer is not exactly one block")
	}

	r := bytes.NewReader(block)
	di := &DiskInode{}
	var typ uint32
	var pad uint16

	binary.Read(r, binary.LittleEndian, &di.Size)
	binary.Read(r, binary.LittleEndian, &typ)
	binary.Read(r, binary.LittleEndian, &di.Nlinks)
	binary.Read(r, binary.LittleEndian, &pad)
	binary.Read(r, binary.LittleEndian, &di.Blocks)
	binary.Read(r, binary.LittleEndian, &di.Direct)
	binary.Read(r, binary.LittleEndian, &di.Indirect)
	binary.Read(r, binary.LittleEndian, &di.DbIndirect)
	binary.Read(r, binary.LittleEndian, &di.DeviceInodeID)
	di.Atime = readTimespec(r)
	di.Mtime = readTimespec(r)
	di.Ctime = readTimespec(r)

	di.Type = FileType(typ)
	return di, nil
}

// BlockPointersFromBlock reinterprets a raw block buffer as BlockNEntry
// little-endian uint32 block pointers, used for indirect and
// double-indirect blocks.
func BlockPointersFromBlock(block []byte) [BlockNEntry]uint32 {
	var ptrs [BlockNEntry]uint32
	for i := 0; i < BlockNEntry; i++ {
		ptrs[i] = binary.LittleEndian.Uint32(block[i*EntrySize : (i+1)*EntrySize])
	}
	return ptrs
}

// BlockPointersToBlock serializes BlockNEntry block pointers into a
// BlockSize-byte block.
func BlockPointersToBlock(ptrs [BlockNEntry]uint32) [BlockSize]byte {
	var block [BlockSize]byte
	for i, p := range ptrs {
		binary.LittleEndian.PutUint32(block[i*EntrySize:(i+1)*EntrySize], p)
	}
	return block
}
