package fs

import (
	"runtime"
	"sync"
	"time"

	"github.com/jcbjcbjc/fs-jcb/blockdev"
	"github.com/jcbjcbjc/fs-jcb/blockrange"
	"github.com/jcbjcbjc/fs-jcb/dirty"
	"github.com/jcbjcbjc/fs-jcb/layout"
	"github.com/jcbjcbjc/fs-jcb/sfserr"
)

func nowTimespec() layout.Timespec {
	now := time.Now()
	return layout.Timespec{Sec: now.Unix(), Nsec: int32(now.Nanosecond())}
}

// InodeHandle is a live, shared in-memory reference to one on-disk inode.
// The filesystem table (FileSystem.inodes) holds only a weak pointer to it;
// as long as any caller holds a strong *InodeHandle, repeated GetInode calls
// for the same id return the very same object. See spec.md section 4.6.
type InodeHandle struct {
	id   InodeID
	fsys *FileSystem

	diskMu sync.RWMutex
	disk   dirty.Dirty[layout.DiskInode]

	entryCacheMu sync.RWMutex
	entryCache   map[int]layout.DiskEntry
}

type cleanupArgs struct {
	fsys *FileSystem
	id   InodeID
	disk dirty.Dirty[layout.DiskInode]
}

// registerCleanup arranges for handle's fate to be settled when it becomes
// unreachable: if its link count has dropped to zero, this is the first
// point at which "no live handle exists" (spec.md section 4.6's unlink
// rule) is actually true, so its data blocks and its own inode block are
// freed here; otherwise its dirty disk inode is flushed normally. Either
// way its entry is removed from the live table. The cleanup closure
// captures only cleanupArgs, never handle itself, so it does not keep the
// handle alive (per runtime.AddCleanup's contract).
func registerCleanup(handle *InodeHandle, fsys *FileSystem, id InodeID) {
	args := cleanupArgs{fsys: fsys, id: id, disk: handle.disk}
	runtime.AddCleanup(handle, func(a cleanupArgs) {
		di := a.disk.Get()
		if di.Nlinks == 0 {
			// The inode block itself is being freed, not flushed, so the
			// cell must be marked clean before it drops out of scope —
			// otherwise its finalizer sees a dirty cell that was never
			// written back and panics.
			a.disk.MarkClean()
			if err := freeAllBlocks(a.fsys, &di); err != nil {
				a.fsys.log.WithError(err).WithField("inode", a.id).
					Error("failed to free blocks for unlinked inode")
			} else if err := a.fsys.deallocBlock(a.id); err != nil {
				a.fsys.log.WithError(err).WithField("inode", a.id).
					Error("failed to free inode block")
			}
		} else if a.disk.IsDirty() {
			block := di.MarshalBlock()
			if err := a.fsys.cache.WriteAt(blockdev.BlockID(a.id), block[:]); err != nil {
				a.fsys.log.WithError(err).WithField("inode", a.id).
					Error("failed to flush inode during collection")
			}
			a.disk.MarkClean()
		}
		a.fsys.forgetInode(a.id)
	}, args)
}

// ID returns the inode number.
func (h *InodeHandle) ID() InodeID { return h.id }

// Fs returns the owning filesystem.
func (h *InodeHandle) Fs() *FileSystem { return h.fsys }

// flush writes the disk inode back to its block if dirty.
func (h *InodeHandle) flush(fsys *FileSystem) error {
	h.diskMu.Lock()
	defer h.diskMu.Unlock()
	if !h.disk.IsDirty() {
		return nil
	}
	return h.disk.Flush(func(di layout.DiskInode) error {
		return fsys.writeDiskInode(h.id, &di)
	})
}

// mutateLocked is the lock-guarded counterpart of disk.Mutate, used by
// callers (directory operations, link-count bookkeeping) that don't already
// hold diskMu.
func (h *InodeHandle) mutateLocked(fn func(*layout.DiskInode)) {
	h.diskMu.Lock()
	defer h.diskMu.Unlock()
	h.disk.Mutate(fn)
}

// Metadata returns a snapshot of the inode's attributes.
func (h *InodeHandle) Metadata() Metadata {
	h.diskMu.RLock()
	defer h.diskMu.RUnlock()
	di := h.disk.Get()
	return Metadata{
		InodeID:       h.id,
		Type:          di.Type,
		Nlinks:        di.Nlinks,
		Size:          di.Size,
		Blocks:        di.Blocks,
		DeviceInodeID: di.DeviceInodeID,
		Atime:         di.Atime,
		Mtime:         di.Mtime,
		Ctime:         di.Ctime,
	}
}

// SetMetadata overwrites the mutable subset of the inode's attributes.
func (h *InodeHandle) SetMetadata(m Metadata) {
	h.diskMu.Lock()
	defer h.diskMu.Unlock()
	h.disk.Mutate(func(di *layout.DiskInode) {
		di.Nlinks = m.Nlinks
		di.Atime = m.Atime
		di.Mtime = m.Mtime
		di.Ctime = m.Ctime
	})
}

// blockAt translates file-relative block index n to a physical block
// number. If the slot is unallocated ("hole"), it returns (0, nil) unless
// alloc is true, in which case it allocates the slot (and any missing
// indirection blocks) and returns the new physical block. See spec.md
// section 4.6.
func (h *InodeHandle) blockAt(n uint32, alloc bool) (uint32, error) {
	const (
		ndirect  = layout.NDirect
		nentry   = layout.BlockNEntry
		indirectCap = ndirect + nentry
		dbCap       = indirectCap + nentry*nentry
	)

	if n >= dbCap {
		return 0, sfserr.InvalidParam.WithMessage("file offset exceeds maximum file size")
	}

	if n < ndirect {
		di := h.disk.Get()
		phys := di.Direct[n]
		if phys != 0 || !alloc {
			return phys, nil
		}
		id, err := h.fsys.allocBlock()
		if err != nil {
			return 0, err
		}
		if err := h.zeroBlock(id); err != nil {
			return 0, err
		}
		h.disk.Mutate(func(d *layout.DiskInode) {
			d.Direct[n] = id
			d.Blocks++
		})
		return id, nil
	}

	if n < indirectCap {
		indirectBlock, err := h.ensureIndirect(alloc)
		if err != nil || indirectBlock == 0 {
			return 0, err
		}
		return h.ptrSlot(indirectBlock, n-ndirect, alloc)
	}

	m := n - indirectCap
	outer := m / nentry
	inner := m % nentry

	dbBlock, err := h.ensureDbIndirect(alloc)
	if err != nil || dbBlock == 0 {
		return 0, err
	}
	indirectBlock, err := h.ptrSlot(dbBlock, outer, alloc)
	if err != nil || indirectBlock == 0 {
		return 0, err
	}
	return h.ptrSlot(indirectBlock, inner, alloc)
}

// zeroBlock overwrites block id with BlockSize zero bytes, matching
// spec.md section 9's preference for zero-initialized buffers over
// uninitialized memory.
func (h *InodeHandle) zeroBlock(id uint32) error {
	var zero [layout.BlockSize]byte
	if err := h.fsys.cache.WriteAt(blockdev.BlockID(id), zero[:]); err != nil {
		return sfserr.DeviceError.WrapError(err)
	}
	return nil
}

// ensureIndirect returns the inode's single-indirect block number,
// allocating and zeroing a fresh one if it's unset and alloc is requested.
func (h *InodeHandle) ensureIndirect(alloc bool) (uint32, error) {
	di := h.disk.Get()
	if di.Indirect != 0 || !alloc {
		return di.Indirect, nil
	}
	id, err := h.fsys.allocBlock()
	if err != nil {
		return 0, err
	}
	if err := h.zeroBlock(id); err != nil {
		return 0, err
	}
	h.disk.Mutate(func(d *layout.DiskInode) {
		d.Indirect = id
		d.Blocks++
	})
	return id, nil
}

// ensureDbIndirect is ensureIndirect's counterpart for the double-indirect
// block number.
func (h *InodeHandle) ensureDbIndirect(alloc bool) (uint32, error) {
	di := h.disk.Get()
	if di.DbIndirect != 0 || !alloc {
		return di.DbIndirect, nil
	}
	id, err := h.fsys.allocBlock()
	if err != nil {
		return 0, err
	}
	if err := h.zeroBlock(id); err != nil {
		return 0, err
	}
	h.disk.Mutate(func(d *layout.DiskInode) {
		d.DbIndirect = id
		d.Blocks++
	})
	return id, nil
}

// ptrSlot reads entry `index` out of the pointer block at physical block
// `block`, allocating and zeroing a fresh block into that slot on demand.
// The allocated block may itself be a data block or another pointer block
// (the double-indirect's outer level uses this too) — both start zeroed.
func (h *InodeHandle) ptrSlot(block uint32, index uint32, alloc bool) (uint32, error) {
	if block == 0 {
		return 0, nil
	}
	raw := make([]byte, layout.BlockSize)
	if err := h.fsys.cache.ReadAt(blockdev.BlockID(block), raw); err != nil {
		return 0, sfserr.DeviceError.WrapError(err)
	}
	ptrs := layout.BlockPointersFromBlock(raw)
	if ptrs[index] != 0 || !alloc {
		return ptrs[index], nil
	}

	id, err := h.fsys.allocBlock()
	if err != nil {
		return 0, err
	}
	if err := h.zeroBlock(id); err != nil {
		return 0, err
	}
	ptrs[index] = id
	updated := layout.BlockPointersToBlock(ptrs)
	if err := h.fsys.cache.WriteAt(blockdev.BlockID(block), updated[:]); err != nil {
		return 0, sfserr.DeviceError.WrapError(err)
	}
	h.disk.Mutate(func(d *layout.DiskInode) { d.Blocks++ })
	return id, nil
}

// ReadAt fills buf starting at offset, clamped to the file's current size,
// returning the number of bytes actually transferred. Reads past EOF or
// reads of sparse holes return zero bytes without error.
func (h *InodeHandle) ReadAt(offset uint64, buf []byte) (int, error) {
	h.diskMu.Lock()
	defer h.diskMu.Unlock()

	di := h.disk.Get()
	if di.Type != layout.FileTypeFile && di.Type != layout.FileTypeDir && di.Type != layout.FileTypeSymLink {
		if driver, ok := lookupDevice(di.DeviceInodeID); ok {
			return driver.ReadAt(di.DeviceInodeID, offset, buf)
		}
	}

	size := uint64(di.Size)
	if offset >= size {
		return 0, nil
	}
	end := offset + uint64(len(buf))
	if end > size {
		end = size
	}
	if end <= offset {
		return 0, nil
	}

	total := 0
	for _, r := range blockrange.Collect(offset, end, layout.BlockSizeLog2) {
		phys, err := h.blockAt(uint32(r.Block), false)
		if err != nil {
			return total, err
		}
		dst := buf[total : total+int(r.Len())]
		if phys == 0 {
			for i := range dst {
				dst[i] = 0
			}
		} else {
			raw := make([]byte, layout.BlockSize)
			if err := h.fsys.cache.ReadAt(blockdev.BlockID(phys), raw); err != nil {
				return total, sfserr.DeviceError.WrapError(err)
			}
			copy(dst, raw[r.BeginInBlock:r.EndInBlock])
		}
		total += int(r.Len())
	}

	h.disk.Mutate(func(d *layout.DiskInode) {
		d.Atime = nowTimespec()
	})
	return total, nil
}

// WriteAt writes buf at offset, growing the file if the write extends past
// its current size, and returns the number of bytes actually transferred.
func (h *InodeHandle) WriteAt(offset uint64, buf []byte) (int, error) {
	h.diskMu.Lock()
	defer h.diskMu.Unlock()

	di := h.disk.Get()
	if di.Type != layout.FileTypeFile && di.Type != layout.FileTypeDir && di.Type != layout.FileTypeSymLink {
		if driver, ok := lookupDevice(di.DeviceInodeID); ok {
			return driver.WriteAt(di.DeviceInodeID, offset, buf)
		}
	}

	end := offset + uint64(len(buf))
	if end > uint64(di.Size) {
		if err := h.resize(end); err != nil {
			return 0, err
		}
	}

	total := 0
	for _, r := range blockrange.Collect(offset, end, layout.BlockSizeLog2) {
		phys, err := h.blockAt(uint32(r.Block), true)
		if err != nil {
			return total, err
		}
		src := buf[total : total+int(r.Len())]
		if r.IsFull() {
			if err := h.fsys.cache.WriteAt(blockdev.BlockID(phys), src); err != nil {
				return total, sfserr.DeviceError.WrapError(err)
			}
		} else {
			raw := make([]byte, layout.BlockSize)
			if err := h.fsys.cache.ReadAt(blockdev.BlockID(phys), raw); err != nil {
				return total, sfserr.DeviceError.WrapError(err)
			}
			copy(raw[r.BeginInBlock:r.EndInBlock], src)
			if err := h.fsys.cache.WriteAt(blockdev.BlockID(phys), raw); err != nil {
				return total, sfserr.DeviceError.WrapError(err)
			}
		}
		total += int(r.Len())
	}

	h.disk.Mutate(func(d *layout.DiskInode) {
		now := nowTimespec()
		d.Mtime = now
		d.Ctime = now
	})
	return total, nil
}

// Resize changes the file's size. Growing never pre-allocates beyond one
// past the new last byte; subsequent writes populate on demand. Shrinking
// deallocates every block whose file-block-index is now past the new size.
func (h *InodeHandle) Resize(newLen uint64) error {
	h.diskMu.Lock()
	defer h.diskMu.Unlock()
	return h.resize(newLen)
}

func (h *InodeHandle) resize(newLen uint64) error {
	di := h.disk.Get()
	oldLen := uint64(di.Size)

	if newLen < oldLen {
		const (
			ndirect     = layout.NDirect
			nentry      = layout.BlockNEntry
			indirectCap = ndirect + nentry
		)

		oldBlocks := blocksFor(oldLen)
		newBlocks := blocksFor(newLen)
		touchedOuters := make(map[uint32]bool)
		for n := newBlocks; n < oldBlocks; n++ {
			phys, err := h.blockAt(n, false)
			if err != nil {
				return err
			}
			if phys != 0 {
				if err := h.fsys.deallocBlock(phys); err != nil {
					return err
				}
				h.clearBlockSlot(n)
				h.disk.Mutate(func(d *layout.DiskInode) { d.Blocks-- })
			}
			if n >= indirectCap {
				touchedOuters[(n-indirectCap)/nentry] = true
			}
		}

		if newBlocks <= ndirect {
			if err := h.collapseIndirect(); err != nil {
				return err
			}
		}

		if h.disk.Get().DbIndirect != 0 {
			for outer := range touchedOuters {
				if err := h.collapseDbOuter(outer); err != nil {
					return err
				}
			}
			if newBlocks <= indirectCap {
				if err := h.collapseDbIndirect(); err != nil {
					return err
				}
			}
		}
	}

	h.disk.Mutate(func(d *layout.DiskInode) {
		d.Size = uint32(newLen)
	})
	return nil
}

// isPtrBlockEmpty reports whether every entry in the pointer block at
// physical block `block` is zero.
func (h *InodeHandle) isPtrBlockEmpty(block uint32) (bool, error) {
	raw := make([]byte, layout.BlockSize)
	if err := h.fsys.cache.ReadAt(blockdev.BlockID(block), raw); err != nil {
		return false, sfserr.DeviceError.WrapError(err)
	}
	for _, p := range layout.BlockPointersFromBlock(raw) {
		if p != 0 {
			return false, nil
		}
	}
	return true, nil
}

// collapseIndirect frees the inode's single-indirect block if its slot is
// set and every entry in it is now empty, per spec.md section 4.6's
// "collapse empty indirect blocks and deallocate them."
func (h *InodeHandle) collapseIndirect() error {
	block := h.disk.Get().Indirect
	if block == 0 {
		return nil
	}
	empty, err := h.isPtrBlockEmpty(block)
	if err != nil || !empty {
		return err
	}
	if err := h.fsys.deallocBlock(block); err != nil {
		return err
	}
	h.disk.Mutate(func(d *layout.DiskInode) {
		d.Indirect = 0
		d.Blocks--
	})
	return nil
}

// collapseDbOuter frees the double-indirect's outer-level pointer block at
// index `outer`, and clears its slot in the double-indirect block, if every
// entry in it is now empty.
func (h *InodeHandle) collapseDbOuter(outer uint32) error {
	dbBlock := h.disk.Get().DbIndirect
	if dbBlock == 0 {
		return nil
	}
	outerBlock, err := h.ptrSlot(dbBlock, outer, false)
	if err != nil || outerBlock == 0 {
		return err
	}
	empty, err := h.isPtrBlockEmpty(outerBlock)
	if err != nil || !empty {
		return err
	}
	if err := h.fsys.deallocBlock(outerBlock); err != nil {
		return err
	}
	h.clearPtrSlot(dbBlock, outer)
	h.disk.Mutate(func(d *layout.DiskInode) { d.Blocks-- })
	return nil
}

// collapseDbIndirect frees the inode's double-indirect block itself once
// every outer-level pointer it held has been collapsed away.
func (h *InodeHandle) collapseDbIndirect() error {
	block := h.disk.Get().DbIndirect
	if block == 0 {
		return nil
	}
	empty, err := h.isPtrBlockEmpty(block)
	if err != nil || !empty {
		return err
	}
	if err := h.fsys.deallocBlock(block); err != nil {
		return err
	}
	h.disk.Mutate(func(d *layout.DiskInode) {
		d.DbIndirect = 0
		d.Blocks--
	})
	return nil
}

func blocksFor(size uint64) uint32 {
	if size == 0 {
		return 0
	}
	return uint32((size + layout.BlockSize - 1) / layout.BlockSize)
}

// clearBlockSlot zeros out the pointer for file-block-index n after its
// backing block has already been deallocated.
func (h *InodeHandle) clearBlockSlot(n uint32) {
	const (
		ndirect     = layout.NDirect
		nentry      = layout.BlockNEntry
		indirectCap = ndirect + nentry
	)

	if n < ndirect {
		h.disk.Mutate(func(d *layout.DiskInode) { d.Direct[n] = 0 })
		return
	}

	di := h.disk.Get()
	if n < indirectCap {
		h.clearPtrSlot(di.Indirect, n-ndirect)
		return
	}

	m := n - indirectCap
	outer := m / nentry
	inner := m % nentry
	outerBlock, _ := h.ptrSlot(di.DbIndirect, outer, false)
	if outerBlock != 0 {
		h.clearPtrSlot(outerBlock, inner)
	}
}

func (h *InodeHandle) clearPtrSlot(block uint32, index uint32) {
	if block == 0 {
		return
	}
	raw := make([]byte, layout.BlockSize)
	if err := h.fsys.cache.ReadAt(blockdev.BlockID(block), raw); err != nil {
		return
	}
	ptrs := layout.BlockPointersFromBlock(raw)
	ptrs[index] = 0
	updated := layout.BlockPointersToBlock(ptrs)
	_ = h.fsys.cache.WriteAt(blockdev.BlockID(block), updated[:])
}
