package layout

import (
	"github.com/boljen/go-bitmap"
	"github.com/jcbjcbjc/fs-jcb/sfserr"
)

// FreeMap is the free-space bitmap: one bit per block on the device, bit
// value 1 meaning the block is free. Allocation scans from bit 0 for the
// first free bit, per spec.md section 4.4.
type FreeMap struct {
	bits  bitmap.Bitmap
	total int
}

// NewFreeMap builds a FreeMap covering totalBlocks bits, all marked free.
func NewFreeMap(totalBlocks int) *FreeMap {
	fm := &FreeMap{
		bits:  bitmap.New(totalBlocks),
		total: totalBlocks,
	}
	for i := 0; i < totalBlocks; i++ {
		fm.bits.Set(i, true)
	}
	return fm
}

// NewFreeMapFromBytes reconstructs a FreeMap from its on-disk bitmap bytes.
func NewFreeMapFromBytes(raw []byte, totalBlocks int) *FreeMap {
	fm := &FreeMap{
		bits:  bitmap.NewSlice(raw),
		total: totalBlocks,
	}
	for i := totalBlocks; i < fm.bits.Len(); i++ {
		fm.bits.Set(i, false)
	}
	return fm
}

// Reserve marks block id as permanently in use (used at format time for the
// superblock, root inode, and free-map blocks themselves).
func (fm *FreeMap) Reserve(id uint32) {
	fm.bits.Set(int(id), false)
}

// IsFree reports whether block id is currently unallocated.
func (fm *FreeMap) IsFree(id uint32) bool {
	if int(id) >= fm.total {
		return false
	}
	return fm.bits.Get(int(id))
}

// Alloc finds the first free block, marks it used, and returns its number.
// Returns sfserr.NoDeviceSpace if none remain.
func (fm *FreeMap) Alloc() (uint32, error) {
	for i := 0; i < fm.total; i++ {
		if fm.bits.Get(i) {
			fm.bits.Set(i, false)
			return uint32(i), nil
		}
	}
	return 0, sfserr.NoDeviceSpace.WithMessage("free map exhausted")
}

// Dealloc marks block id as free again.
func (fm *FreeMap) Dealloc(id uint32) error {
	if int(id) >= fm.total {
		return sfserr.InvalidParam.WithMessage("block number out of range")
	}
	fm.bits.Set(int(id), true)
	return nil
}

// CountFree returns the number of currently-free blocks.
func (fm *FreeMap) CountFree() uint32 {
	var n uint32
	for i := 0; i < fm.total; i++ {
		if fm.bits.Get(i) {
			n++
		}
	}
	return n
}

// Bytes returns the raw bitmap bytes, suitable for writing to the free-map
// region of the device.
func (fm *FreeMap) Bytes() []byte {
	return fm.bits.Data(false)
}

// SizeInBlocks returns how many BlockSize blocks are needed to store a
// bitmap covering totalBlocks bits.
func SizeInBlocks(totalBlocks int) uint32 {
	bytesNeeded := (totalBlocks + 7) / 8
	return uint32((bytesNeeded + BlockSize - 1) / BlockSize)
}
