package fs

import (
	"github.com/jcbjcbjc/fs-jcb/layout"
	"github.com/jcbjcbjc/fs-jcb/sfserr"
)

// entryCount returns size / DirentSize for the inode's current disk size.
func (h *InodeHandle) entryCount() int {
	di := h.disk.Get()
	return int(di.Size) / layout.DirentSize
}

func (h *InodeHandle) requireDir() error {
	di := h.disk.Get()
	if di.Type != layout.FileTypeDir {
		return sfserr.NotDir
	}
	return nil
}

// initDirEntry turns a freshly allocated inode into a directory: resizes it
// to hold "." and "..", writes both, and sets nlinks = 2. See spec.md
// section 4.6.
func (h *InodeHandle) initDirEntry(parentID InodeID) error {
	if err := h.Resize(2 * layout.DirentSize); err != nil {
		return err
	}
	if err := h.writeDirEntry(0, layout.DiskEntry{InodeID: h.id, Name: "."}); err != nil {
		return err
	}
	if err := h.writeDirEntry(1, layout.DiskEntry{InodeID: parentID, Name: ".."}); err != nil {
		return err
	}
	h.mutateLocked(func(d *layout.DiskInode) { d.Nlinks = 2 })
	return nil
}

// readDirEntry returns entry i, consulting the per-inode entry cache first.
func (h *InodeHandle) readDirEntry(i int) (layout.DiskEntry, error) {
	h.entryCacheMu.RLock()
	if e, ok := h.entryCache[i]; ok {
		h.entryCacheMu.RUnlock()
		return e, nil
	}
	h.entryCacheMu.RUnlock()

	raw := make([]byte, layout.DirentSize)
	n, err := h.ReadAt(uint64(i*layout.DirentSize), raw)
	if err != nil {
		return layout.DiskEntry{}, err
	}
	if n != layout.DirentSize {
		return layout.DiskEntry{}, sfserr.EntryNotFound
	}
	entry, err := layout.UnmarshalEntry(raw)
	if err != nil {
		return layout.DiskEntry{}, err
	}

	h.entryCacheMu.Lock()
	h.entryCache[i] = *entry
	h.entryCacheMu.Unlock()
	return *entry, nil
}

// writeDirEntry overwrites entry i both on disk and in the entry cache.
func (h *InodeHandle) writeDirEntry(i int, entry layout.DiskEntry) error {
	raw, err := entry.MarshalEntry()
	if err != nil {
		return err
	}
	if _, err := h.WriteAt(uint64(i*layout.DirentSize), raw[:]); err != nil {
		return err
	}
	h.entryCacheMu.Lock()
	h.entryCache[i] = entry
	h.entryCacheMu.Unlock()
	return nil
}

// appendDirEntry grows the directory by one DiskEntry slot and writes entry
// into it, returning its index.
func (h *InodeHandle) appendDirEntry(entry layout.DiskEntry) (int, error) {
	di := h.disk.Get()
	newSize := uint64(di.Size) + layout.DirentSize
	if err := h.Resize(newSize); err != nil {
		return 0, err
	}
	index := int(newSize)/layout.DirentSize - 1
	if err := h.writeDirEntry(index, entry); err != nil {
		return 0, err
	}
	return index, nil
}

// removeDirEntry removes entry i by swapping the last entry into its slot
// (unless i is already last) and shrinking the directory by one slot. "."
// and ".." (indices 0 and 1) may never be removed.
func (h *InodeHandle) removeDirEntry(i int) error {
	if i == 0 || i == 1 {
		return sfserr.InvalidParam.WithMessage(`"." and ".." cannot be removed`)
	}

	lastIndex := h.entryCount() - 1
	if lastIndex < 0 {
		return sfserr.EntryNotFound
	}

	if i != lastIndex {
		lastEntry, err := h.readDirEntry(lastIndex)
		if err != nil {
			return err
		}
		if err := h.writeDirEntry(i, lastEntry); err != nil {
			return err
		}
	}

	di := h.disk.Get()
	if err := h.Resize(uint64(di.Size) - layout.DirentSize); err != nil {
		return err
	}

	h.entryCacheMu.Lock()
	delete(h.entryCache, lastIndex)
	h.entryCacheMu.Unlock()
	return nil
}

// find scans the directory's entries linearly for name.
func (h *InodeHandle) find(name string) (int, layout.DiskEntry, error) {
	if err := h.requireDir(); err != nil {
		return 0, layout.DiskEntry{}, err
	}
	count := h.entryCount()
	for i := 0; i < count; i++ {
		entry, err := h.readDirEntry(i)
		if err != nil {
			return 0, layout.DiskEntry{}, err
		}
		if entry.IsTombstone() {
			continue
		}
		if entry.Name == name {
			return i, entry, nil
		}
	}
	return 0, layout.DiskEntry{}, sfserr.EntryNotFound
}

// Find looks up name in this directory and returns the matching inode
// handle.
func (h *InodeHandle) Find(name string) (*InodeHandle, error) {
	_, entry, err := h.find(name)
	if err != nil {
		return nil, err
	}
	return h.fsys.GetInode(entry.InodeID)
}

// GetEntry returns the name stored at directory index i.
func (h *InodeHandle) GetEntry(index int) (string, error) {
	if err := h.requireDir(); err != nil {
		return "", err
	}
	entry, err := h.readDirEntry(index)
	if err != nil {
		return "", err
	}
	if entry.IsTombstone() {
		return "", sfserr.EntryNotFound
	}
	return entry.Name, nil
}

// GetEntryWithMetadata returns both the metadata and the name stored at
// directory index i.
func (h *InodeHandle) GetEntryWithMetadata(index int) (Metadata, string, error) {
	if err := h.requireDir(); err != nil {
		return Metadata{}, "", err
	}
	entry, err := h.readDirEntry(index)
	if err != nil {
		return Metadata{}, "", err
	}
	if entry.IsTombstone() {
		return Metadata{}, "", sfserr.EntryNotFound
	}
	target, err := h.fsys.GetInode(entry.InodeID)
	if err != nil {
		return Metadata{}, "", err
	}
	return target.Metadata(), entry.Name, nil
}

// List returns every entry name in this directory other than "." and ".."
// and tombstones, in index order.
func (h *InodeHandle) List() ([]string, error) {
	if err := h.requireDir(); err != nil {
		return nil, err
	}
	count := h.entryCount()
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		entry, err := h.readDirEntry(i)
		if err != nil {
			return nil, err
		}
		if entry.IsTombstone() || entry.Name == "." || entry.Name == ".." {
			continue
		}
		names = append(names, entry.Name)
	}
	return names, nil
}
