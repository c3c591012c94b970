package fs

import (
	"fmt"
	"sync"
	"weak"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jcbjcbjc/fs-jcb/blockcache"
	"github.com/jcbjcbjc/fs-jcb/blockdev"
	"github.com/jcbjcbjc/fs-jcb/dirty"
	"github.com/jcbjcbjc/fs-jcb/layout"
	"github.com/jcbjcbjc/fs-jcb/sfserr"
	"github.com/sirupsen/logrus"
)

// CacheOptions configures the block cache a FileSystem sits on top of.
type CacheOptions struct {
	// Capacity is the number of blocks the cache may hold at once.
	Capacity int
}

// FormatOptions configures FileSystem.Format.
type FormatOptions struct {
	// TotalBlocks is the size of the volume, in BlockSize blocks.
	TotalBlocks uint32
	// Info is the volume label stored in the superblock. If empty, a
	// fresh UUID string is used, following the teacher's convention of never
	// leaving an identifying field blank. Like any label it is truncated to
	// InfoFieldSize-1 bytes, so only the UUID's first 31 characters are
	// stored.
	Info string
}

// FileSystem is a single mounted volume: the block cache, the free map and
// superblock (each dirty-tracked and lock-guarded), and the live inode
// table. See spec.md section 4.5.
type FileSystem struct {
	cache *blockcache.Cache
	bytes *blockdev.ByteAddressable

	freeMapMu sync.RWMutex
	freeMap   dirty.Dirty[*layout.FreeMap]

	superMu sync.RWMutex
	super   dirty.Dirty[*layout.SuperBlock]

	inodesMu sync.RWMutex
	inodes   map[InodeID]weak.Pointer[InodeHandle]

	log *logrus.Entry
}

// Format initializes a fresh volume on device: a superblock, a free map with
// the superblock/root/free-map blocks reserved, and a root directory inode
// at BLKN_ROOT whose "." and ".." both point to itself.
func Format(device blockdev.Device, cacheOpts CacheOptions, opts FormatOptions) (*FileSystem, error) {
	if opts.TotalBlocks == 0 {
		return nil, sfserr.InvalidParam.WithMessage("total blocks must be positive")
	}

	info := opts.Info
	if info == "" {
		info = uuid.NewString()
	}

	freeMapBlocks := layout.SizeInBlocks(int(opts.TotalBlocks))
	fm := layout.NewFreeMap(int(opts.TotalBlocks))
	fm.Reserve(layout.BlockNumSuper)
	fm.Reserve(layout.BlockNumRoot)
	for b := uint32(0); b < freeMapBlocks; b++ {
		fm.Reserve(layout.BlockNumFreeMap + b)
	}

	sb := &layout.SuperBlock{
		Magic:         layout.Magic,
		TotalBlocks:   opts.TotalBlocks,
		UnusedBlocks:  fm.CountFree(),
		FreeMapBlocks: freeMapBlocks,
	}
	sb.SetInfoString(info)

	capacity := cacheOpts.Capacity
	if capacity <= 0 {
		capacity = 64
	}
	cache := blockcache.New(device, capacity)

	sfs := &FileSystem{
		cache:   cache,
		bytes:   blockdev.NewByteAddressable(cache),
		freeMap: dirty.NewDirty(fm),
		super:   dirty.NewDirty(sb),
		inodes:  make(map[InodeID]weak.Pointer[InodeHandle]),
		log:     logrus.WithField("component", "fs"),
	}

	rootInode := layout.NewDiskInode(layout.FileTypeDir)
	rootInode.Nlinks = 2
	if err := sfs.writeDiskInode(layout.BlockNumRoot, &rootInode); err != nil {
		return nil, err
	}

	handle := sfs.newInodeHandle(layout.BlockNumRoot, &rootInode)
	if err := handle.initDirEntry(layout.BlockNumRoot); err != nil {
		return nil, err
	}

	if err := sfs.writeFreeMap(); err != nil {
		return nil, err
	}
	if err := sfs.writeSuperBlock(); err != nil {
		return nil, err
	}

	sfs.log.WithFields(logrus.Fields{
		"total_blocks": opts.TotalBlocks,
		"info":         info,
	}).Info("formatted volume")

	if err := sfs.Sync(); err != nil {
		return nil, err
	}
	return sfs, nil
}

// Mount opens an existing volume: reads the superblock (validating the
// magic number) and the free map.
func Mount(device blockdev.Device, cacheOpts CacheOptions) (*FileSystem, error) {
	capacity := cacheOpts.Capacity
	if capacity <= 0 {
		capacity = 64
	}
	cache := blockcache.New(device, capacity)

	superBlock := make([]byte, layout.BlockSize)
	if err := cache.ReadAt(layout.BlockNumSuper, superBlock); err != nil {
		return nil, sfserr.DeviceError.WrapError(err)
	}
	sb, err := layout.UnmarshalSuperBlock(superBlock)
	if err != nil {
		return nil, err
	}

	freeMapRaw := make([]byte, sb.FreeMapBlocks*layout.BlockSize)
	for b := uint32(0); b < sb.FreeMapBlocks; b++ {
		block := make([]byte, layout.BlockSize)
		if err := cache.ReadAt(blockdev.BlockID(layout.BlockNumFreeMap+b), block); err != nil {
			return nil, sfserr.DeviceError.WrapError(err)
		}
		copy(freeMapRaw[b*layout.BlockSize:], block)
	}
	fm := layout.NewFreeMapFromBytes(freeMapRaw, int(sb.TotalBlocks))

	sfs := &FileSystem{
		cache:   cache,
		bytes:   blockdev.NewByteAddressable(cache),
		freeMap: dirty.New(fm),
		super:   dirty.New(sb),
		inodes:  make(map[InodeID]weak.Pointer[InodeHandle]),
		log:     logrus.WithField("component", "fs"),
	}
	sfs.log.WithField("info", sb.InfoString()).Info("mounted volume")
	return sfs, nil
}

// RootInode returns the handle for the root directory, caching it like any
// other inode.
func (fsys *FileSystem) RootInode() (*InodeHandle, error) {
	return fsys.GetInode(layout.BlockNumRoot)
}

// GetInode returns the live handle for id if one exists, otherwise loads its
// disk inode and constructs a fresh handle.
func (fsys *FileSystem) GetInode(id InodeID) (*InodeHandle, error) {
	fsys.inodesMu.RLock()
	if weakHandle, ok := fsys.inodes[id]; ok {
		if handle := weakHandle.Value(); handle != nil {
			fsys.inodesMu.RUnlock()
			return handle, nil
		}
	}
	fsys.inodesMu.RUnlock()

	di, err := fsys.readDiskInode(id)
	if err != nil {
		return nil, err
	}

	fsys.inodesMu.Lock()
	defer fsys.inodesMu.Unlock()
	// Another goroutine may have raced us and already installed a handle.
	if weakHandle, ok := fsys.inodes[id]; ok {
		if handle := weakHandle.Value(); handle != nil {
			return handle, nil
		}
	}
	handle := fsys.newInodeHandle(id, di)
	return handle, nil
}

func (fsys *FileSystem) newInodeHandle(id InodeID, di *layout.DiskInode) *InodeHandle {
	handle := &InodeHandle{
		id:         id,
		fsys:       fsys,
		disk:       dirty.New(*di),
		entryCache: make(map[int]layout.DiskEntry),
	}
	fsys.inodes[id] = weak.Make(handle)
	registerCleanup(handle, fsys, id)
	return handle
}

// allocBlock reserves one block from the free map and reflects the
// allocation in the superblock's unused-block count. Fails with
// NoDeviceSpace if either the bitmap is exhausted or the superblock's
// counter has already reached zero — an open question (spec.md section 9)
// this implementation resolves by treating both as the same error.
func (fsys *FileSystem) allocBlock() (uint32, error) {
	fsys.freeMapMu.Lock()
	defer fsys.freeMapMu.Unlock()

	fsys.superMu.Lock()
	defer fsys.superMu.Unlock()

	sb := fsys.super.Get()
	if sb.UnusedBlocks == 0 {
		return 0, sfserr.NoDeviceSpace.WithMessage("superblock reports no unused blocks")
	}

	var id uint32
	var allocErr error
	fsys.freeMap.Mutate(func(fm **layout.FreeMap) {
		id, allocErr = (*fm).Alloc()
	})
	if allocErr != nil {
		return 0, allocErr
	}

	fsys.super.Mutate(func(s **layout.SuperBlock) {
		(*s).UnusedBlocks--
	})
	return id, nil
}

// deallocBlock returns a block to the free map and increments the
// superblock's unused-block count.
func (fsys *FileSystem) deallocBlock(id uint32) error {
	fsys.freeMapMu.Lock()
	defer fsys.freeMapMu.Unlock()
	fsys.superMu.Lock()
	defer fsys.superMu.Unlock()

	var deallocErr error
	fsys.freeMap.Mutate(func(fm **layout.FreeMap) {
		deallocErr = (*fm).Dealloc(id)
	})
	if deallocErr != nil {
		return deallocErr
	}

	fsys.super.Mutate(func(s **layout.SuperBlock) {
		(*s).UnusedBlocks++
	})
	return nil
}

func (fsys *FileSystem) readDiskInode(id InodeID) (*layout.DiskInode, error) {
	block := make([]byte, layout.BlockSize)
	if err := fsys.cache.ReadAt(blockdev.BlockID(id), block); err != nil {
		return nil, sfserr.DeviceError.WrapError(err)
	}
	return layout.UnmarshalDiskInode(block)
}

func (fsys *FileSystem) writeDiskInode(id InodeID, di *layout.DiskInode) error {
	block := di.MarshalBlock()
	if err := fsys.cache.WriteAt(blockdev.BlockID(id), block[:]); err != nil {
		return sfserr.DeviceError.WrapError(err)
	}
	return nil
}

func (fsys *FileSystem) writeFreeMap() error {
	fsys.freeMapMu.Lock()
	defer fsys.freeMapMu.Unlock()

	raw := fsys.freeMap.Get().Bytes()
	sb := fsys.super.Get()
	for b := uint32(0); b < sb.FreeMapBlocks; b++ {
		block := make([]byte, layout.BlockSize)
		start := int(b) * layout.BlockSize
		end := start + layout.BlockSize
		if end > len(raw) {
			end = len(raw)
		}
		if start < len(raw) {
			copy(block, raw[start:end])
		}
		if err := fsys.cache.WriteAt(blockdev.BlockID(layout.BlockNumFreeMap+b), block); err != nil {
			return sfserr.DeviceError.WrapError(err)
		}
	}
	fsys.freeMap.MarkClean()
	return nil
}

func (fsys *FileSystem) writeSuperBlock() error {
	fsys.superMu.Lock()
	defer fsys.superMu.Unlock()

	block := fsys.super.Get().MarshalBlock()
	if err := fsys.cache.WriteAt(layout.BlockNumSuper, block[:]); err != nil {
		return sfserr.DeviceError.WrapError(err)
	}
	fsys.super.MarkClean()
	return nil
}

// Sync flushes every live inode handle's dirty disk inode, the free map, the
// superblock, and finally the block cache. Failures are aggregated rather
// than stopping at the first, since each flush is independent.
func (fsys *FileSystem) Sync() error {
	var result *multierror.Error

	fsys.inodesMu.RLock()
	handles := make([]*InodeHandle, 0, len(fsys.inodes))
	for _, weakHandle := range fsys.inodes {
		if handle := weakHandle.Value(); handle != nil {
			handles = append(handles, handle)
		}
	}
	fsys.inodesMu.RUnlock()

	for _, handle := range handles {
		if err := handle.flush(fsys); err != nil {
			result = multierror.Append(result, fmt.Errorf("inode %d: %w", handle.id, err))
		}
	}

	if fsys.freeMap.IsDirty() {
		if err := fsys.writeFreeMap(); err != nil {
			result = multierror.Append(result, fmt.Errorf("free map: %w", err))
		}
	}
	if fsys.super.IsDirty() {
		if err := fsys.writeSuperBlock(); err != nil {
			result = multierror.Append(result, fmt.Errorf("superblock: %w", err))
		}
	}
	if err := fsys.cache.Sync(); err != nil {
		result = multierror.Append(result, fmt.Errorf("cache: %w", err))
	}

	if result != nil {
		fsys.log.WithError(result).Error("sync completed with errors")
		return result
	}
	fsys.log.Debug("sync complete")
	return nil
}

// forgetInode removes id from the live inode table. Called when an
// InodeHandle's last strong reference is collected.
func (fsys *FileSystem) forgetInode(id InodeID) {
	fsys.inodesMu.Lock()
	defer fsys.inodesMu.Unlock()
	if weakHandle, ok := fsys.inodes[id]; ok && weakHandle.Value() == nil {
		delete(fsys.inodes, id)
	}
}
