package blockdev

import (
	"io"

	"github.com/jcbjcbjc/fs-jcb/sfserr"
	"github.com/xaionaro-go/bytesextra"
)

// MemoryDevice is a Device backed entirely by an in-process byte slice, built
// on bytesextra.NewReadWriteSeeker the same way the teacher's test fixtures
// wrap a raw disk image. It's both the reference device used in every test in
// this module and a usable volume backend for callers who want a disk image
// that never touches the filesystem.
type MemoryDevice struct {
	stream      io.ReadWriteSeeker
	totalBlocks uint64
}

// NewMemoryDevice creates a MemoryDevice with totalBlocks blocks, all zeroed.
func NewMemoryDevice(totalBlocks uint64) *MemoryDevice {
	data := make([]byte, totalBlocks*BlockSize)
	return &MemoryDevice{
		stream:      bytesextra.NewReadWriteSeeker(data),
		totalBlocks: totalBlocks,
	}
}

// NewMemoryDeviceFromBytes wraps an existing byte slice as a MemoryDevice.
// len(data) must be an exact multiple of BlockSize.
func NewMemoryDeviceFromBytes(data []byte) (*MemoryDevice, error) {
	if len(data)%BlockSize != 0 {
		return nil, sfserr.InvalidParam.WithMessage("image size is not a multiple of the block size")
	}
	return &MemoryDevice{
		stream:      bytesextra.NewReadWriteSeeker(data),
		totalBlocks: uint64(len(data)) / BlockSize,
	}, nil
}

func (d *MemoryDevice) TotalBlocks() uint64 {
	return d.totalBlocks
}

func (d *MemoryDevice) ReadAt(block BlockID, buf []byte) error {
	if err := checkBlock(block, d.totalBlocks, buf); err != nil {
		return err
	}
	if _, err := d.stream.Seek(int64(block)*BlockSize, io.SeekStart); err != nil {
		return sfserr.DeviceError.WrapError(err)
	}
	if _, err := io.ReadFull(d.stream, buf); err != nil {
		return sfserr.DeviceError.WrapError(err)
	}
	return nil
}

func (d *MemoryDevice) WriteAt(block BlockID, buf []byte) error {
	if err := checkBlock(block, d.totalBlocks, buf); err != nil {
		return err
	}
	if _, err := d.stream.Seek(int64(block)*BlockSize, io.SeekStart); err != nil {
		return sfserr.DeviceError.WrapError(err)
	}
	if _, err := d.stream.Write(buf); err != nil {
		return sfserr.DeviceError.WrapError(err)
	}
	return nil
}

func (d *MemoryDevice) Sync() error {
	return nil
}
