package fs

import (
	"github.com/jcbjcbjc/fs-jcb/layout"
	"github.com/jcbjcbjc/fs-jcb/sfserr"
)

// Create allocates a new inode of the given type, links it into this
// directory under name, and returns its handle. mode is accepted for
// interface parity with the VFS contract but otherwise unused — permission
// enforcement is outside this system's scope.
func (h *InodeHandle) Create(name string, fileType FileType, mode uint32) (*InodeHandle, error) {
	if err := h.requireDir(); err != nil {
		return nil, err
	}
	if _, _, err := h.find(name); err == nil {
		return nil, sfserr.EntryExist
	}

	var target *InodeHandle
	var err error
	switch fileType {
	case FileTypeDir:
		target, err = h.fsys.NewInodeDir(h.id)
	case FileTypeFile:
		target, err = h.fsys.NewInodeFile()
	case FileTypeSymLink:
		target, err = h.fsys.NewInodeSymlink()
	default:
		return nil, sfserr.NotSupported.WithMessage("use Create only for File, Dir, and SymLink types")
	}
	if err != nil {
		return nil, err
	}

	if _, err := h.appendDirEntry(layout.DiskEntry{InodeID: target.id, Name: name}); err != nil {
		return nil, err
	}

	if fileType == FileTypeDir {
		h.mutateLocked(func(d *layout.DiskInode) { d.Nlinks++ })
	}
	return target, nil
}

// Link appends a new directory entry named name pointing at target,
// incrementing target's link count. target must live on the same
// filesystem instance and must not be a directory (use Create for those).
func (h *InodeHandle) Link(name string, target *InodeHandle) error {
	if err := h.requireDir(); err != nil {
		return err
	}
	if target.fsys != h.fsys {
		return sfserr.NotSameFs
	}
	meta := target.Metadata()
	if meta.IsDir() {
		return sfserr.IsDir
	}
	if _, _, err := h.find(name); err == nil {
		return sfserr.EntryExist
	}

	if _, err := h.appendDirEntry(layout.DiskEntry{InodeID: target.id, Name: name}); err != nil {
		return err
	}
	target.mutateLocked(func(d *layout.DiskInode) { d.Nlinks++ })
	return nil
}

// Unlink removes name from this directory, decrementing the target's link
// count and freeing its blocks and inode once the count reaches zero and
// no live handle to it remains. "." and ".." may not be unlinked.
func (h *InodeHandle) Unlink(name string) error {
	if err := h.requireDir(); err != nil {
		return err
	}
	if name == "." || name == ".." {
		return sfserr.InvalidParam.WithMessage(`"." and ".." cannot be unlinked`)
	}

	index, entry, err := h.find(name)
	if err != nil {
		return err
	}

	target, err := h.fsys.GetInode(entry.InodeID)
	if err != nil {
		return err
	}
	meta := target.Metadata()
	if meta.IsDir() && target.entryCount() != 2 {
		return sfserr.DirNotEmpty
	}

	if err := h.removeDirEntry(index); err != nil {
		return err
	}

	target.mutateLocked(func(d *layout.DiskInode) { d.Nlinks-- })
	if meta.IsDir() {
		h.mutateLocked(func(d *layout.DiskInode) { d.Nlinks-- })
	}

	// Once nlinks reaches zero, target's data blocks and its own inode
	// block are reclaimed lazily: see registerCleanup, which runs when the
	// last strong reference to this handle (including the one above) is
	// collected and can finally tell "no live handle exists" is true.
	return nil
}

// Rename moves the entry named oldName from h into newParent under
// newName. If newParent already has an entry named newName, it is unlinked
// first (directories only if empty, matching Unlink's DirNotEmpty rule).
// Moving a directory across parents fixes up its ".." entry and adjusts
// both parents' link counts. See SPEC_FULL.md's "rename" supplement.
func (h *InodeHandle) Rename(oldName string, newParent *InodeHandle, newName string) error {
	if err := h.requireDir(); err != nil {
		return err
	}
	if newParent.fsys != h.fsys {
		return sfserr.NotSameFs
	}
	if err := newParent.requireDir(); err != nil {
		return err
	}
	if oldName == "." || oldName == ".." {
		return sfserr.InvalidParam.WithMessage(`"." and ".." cannot be renamed`)
	}

	oldIndex, oldEntry, err := h.find(oldName)
	if err != nil {
		return err
	}
	moved, err := h.fsys.GetInode(oldEntry.InodeID)
	if err != nil {
		return err
	}
	movedMeta := moved.Metadata()

	if _, _, err := newParent.find(newName); err == nil {
		if err := newParent.Unlink(newName); err != nil {
			return err
		}
		// Unlink compacts by moving the last entry into the freed slot,
		// which may have moved oldName's entry; look its index up again.
		if oldIndex, _, err = h.find(oldName); err != nil {
			return err
		}
	}

	if _, err := newParent.appendDirEntry(layout.DiskEntry{InodeID: moved.id, Name: newName}); err != nil {
		return err
	}
	if err := h.removeDirEntry(oldIndex); err != nil {
		return err
	}

	if h.id != newParent.id && movedMeta.IsDir() {
		movedIndex, _, err := moved.find("..")
		if err != nil {
			return err
		}
		if err := moved.writeDirEntry(movedIndex, layout.DiskEntry{InodeID: newParent.id, Name: ".."}); err != nil {
			return err
		}
		h.mutateLocked(func(d *layout.DiskInode) { d.Nlinks-- })
		newParent.mutateLocked(func(d *layout.DiskInode) { d.Nlinks++ })
	}
	return nil
}
