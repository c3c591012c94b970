// Package blockdev defines the raw fixed-size block device contract this
// file system is built on, a byte-addressable adapter derived from it, and an
// in-memory reference implementation used for testing and for building
// volumes entirely in memory before flushing them out.
package blockdev

import (
	"github.com/jcbjcbjc/fs-jcb/sfserr"
)

// BlockSizeLog2 is fixed at 4096-byte blocks (spec.md's BLKSIZE), expressed
// as a power of two so block-to-byte-offset math is a shift, not a multiply.
const BlockSizeLog2 = 12

// BlockSize is 1<<BlockSizeLog2 bytes.
const BlockSize = 1 << BlockSizeLog2

// BlockID identifies a physical block on a device.
type BlockID uint64

// Device is the contract a physical or virtual block device must satisfy.
// All reads and writes are exactly one block (BlockSize bytes); anything that
// needs sub-block or multi-block addressing is built on top of this via the
// byte-addressable adapter.
type Device interface {
	// TotalBlocks returns the number of addressable blocks on the device.
	TotalBlocks() uint64

	// ReadAt fills buf (which must be exactly BlockSize bytes) with the
	// contents of the given block.
	ReadAt(block BlockID, buf []byte) error

	// WriteAt writes buf (which must be exactly BlockSize bytes) to the given
	// block.
	WriteAt(block BlockID, buf []byte) error

	// Sync flushes any buffering the device itself performs. Implementations
	// with no internal buffering may make this a no-op.
	Sync() error
}

// checkBlock validates that block is addressable on a device with the given
// total block count, and that buf is exactly one block in size.
func checkBlock(block BlockID, totalBlocks uint64, buf []byte) error {
	if uint64(block) >= totalBlocks {
		return sfserr.DeviceError.WithMessage("block index out of range")
	}
	if len(buf) != BlockSize {
		return sfserr.DeviceError.WithMessage("buffer is not exactly one block")
	}
	return nil
}
