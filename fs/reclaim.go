package fs

import (
	"github.com/jcbjcbjc/fs-jcb/blockdev"
	"github.com/jcbjcbjc/fs-jcb/layout"
	"github.com/jcbjcbjc/fs-jcb/sfserr"
)

// freeAllBlocks releases every data and pointer block referenced by di,
// including the indirect and double-indirect blocks themselves. It does not
// free di's own inode block — the caller does that once this returns.
func freeAllBlocks(fsys *FileSystem, di *layout.DiskInode) error {
	for _, b := range di.Direct {
		if b == 0 {
			continue
		}
		if err := fsys.deallocBlock(b); err != nil {
			return err
		}
	}

	if di.Indirect != 0 {
		if err := freeIndirectBlock(fsys, di.Indirect); err != nil {
			return err
		}
		if err := fsys.deallocBlock(di.Indirect); err != nil {
			return err
		}
	}

	if di.DbIndirect != 0 {
		raw := make([]byte, layout.BlockSize)
		if err := fsys.cache.ReadAt(blockdev.BlockID(di.DbIndirect), raw); err != nil {
			return sfserr.DeviceError.WrapError(err)
		}
		for _, outer := range layout.BlockPointersFromBlock(raw) {
			if outer == 0 {
				continue
			}
			if err := freeIndirectBlock(fsys, outer); err != nil {
				return err
			}
			if err := fsys.deallocBlock(outer); err != nil {
				return err
			}
		}
		if err := fsys.deallocBlock(di.DbIndirect); err != nil {
			return err
		}
	}

	return nil
}

// freeIndirectBlock releases every data block a single-indirect pointer
// block refers to, but not the pointer block itself.
func freeIndirectBlock(fsys *FileSystem, block uint32) error {
	raw := make([]byte, layout.BlockSize)
	if err := fsys.cache.ReadAt(blockdev.BlockID(block), raw); err != nil {
		return sfserr.DeviceError.WrapError(err)
	}
	for _, p := range layout.BlockPointersFromBlock(raw) {
		if p == 0 {
			continue
		}
		if err := fsys.deallocBlock(p); err != nil {
			return err
		}
	}
	return nil
}
