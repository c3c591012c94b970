package blockdev

import (
	"github.com/jcbjcbjc/fs-jcb/blockrange"
)

// ByteAddressable derives byte-level read/write over any block Device, using
// blockrange to split a [begin, end) byte span into per-block sub-ranges.
// Full-block sub-ranges are passed straight through to the device; partial
// ones are staged through a one-block scratch buffer (read-modify-write on
// writes, masked copy on reads), per spec.md section 4.2.
type ByteAddressable struct {
	device Device
}

// NewByteAddressable wraps device for byte-level access.
func NewByteAddressable(device Device) *ByteAddressable {
	return &ByteAddressable{device: device}
}

// ReadAt fills dst starting at byte offset, reading as many bytes as
// possible. On a device error partway through, it returns the number of
// bytes fully read before the failing range rather than propagating the
// error — a short read, matching spec.md's "tailored short-read semantics".
func (a *ByteAddressable) ReadAt(offset uint64, dst []byte) uint64 {
	if len(dst) == 0 {
		return 0
	}

	it := blockrange.New(offset, offset+uint64(len(dst)), BlockSizeLog2)
	var completed uint64
	var scratch [BlockSize]byte

	for {
		r, ok := it.Next()
		if !ok {
			break
		}

		destSlice := dst[r.OriginBegin()-offset : r.OriginEnd()-offset]

		if r.IsFull() {
			if err := a.device.ReadAt(blockdevID(r.Block), destSlice); err != nil {
				return completed
			}
		} else {
			if err := a.device.ReadAt(blockdevID(r.Block), scratch[:]); err != nil {
				return completed
			}
			copy(destSlice, scratch[r.BeginInBlock:r.EndInBlock])
		}

		completed += uint64(r.Len())
	}

	return completed
}

// WriteAt writes src starting at byte offset, writing as many bytes as
// possible. On a device error partway through, it returns the number of
// bytes fully written before the failing range — a short write.
func (a *ByteAddressable) WriteAt(offset uint64, src []byte) uint64 {
	if len(src) == 0 {
		return 0
	}

	it := blockrange.New(offset, offset+uint64(len(src)), BlockSizeLog2)
	var completed uint64
	var scratch [BlockSize]byte

	for {
		r, ok := it.Next()
		if !ok {
			break
		}

		srcSlice := src[r.OriginBegin()-offset : r.OriginEnd()-offset]

		if r.IsFull() {
			if err := a.device.WriteAt(blockdevID(r.Block), srcSlice); err != nil {
				return completed
			}
		} else {
			// Partial block: read-modify-write so bytes outside the written
			// span are preserved.
			if err := a.device.ReadAt(blockdevID(r.Block), scratch[:]); err != nil {
				return completed
			}
			copy(scratch[r.BeginInBlock:r.EndInBlock], srcSlice)
			if err := a.device.WriteAt(blockdevID(r.Block), scratch[:]); err != nil {
				return completed
			}
		}

		completed += uint64(r.Len())
	}

	return completed
}

func blockdevID(b blockrange.BlockID) BlockID {
	return BlockID(b)
}
