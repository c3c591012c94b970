package fs

import (
	"strings"

	"github.com/jcbjcbjc/fs-jcb/sfserr"
)

// DefaultSymlinkLimit bounds how many symbolic links FindByPath will follow
// before giving up with SymLoop. Use FindByPathWithLimit to override it. See
// spec.md section 6's find_by_path convenience operation.
const DefaultSymlinkLimit = 8

// FindByPath traverses the "/"-separated components of path, starting from
// the root if path is absolute or from this inode otherwise, and returns the
// inode found at the end. Symbolic links encountered along the way,
// including the final component, are followed.
func (h *InodeHandle) FindByPath(path string) (*InodeHandle, error) {
	return h.FindByPathWithLimit(path, DefaultSymlinkLimit)
}

// FindByPathWithLimit is FindByPath with a caller-supplied symlink budget
// instead of DefaultSymlinkLimit.
func (h *InodeHandle) FindByPathWithLimit(path string, symlinkLimit int) (*InodeHandle, error) {
	budget := symlinkLimit
	return h.findByPath(path, &budget)
}

func (h *InodeHandle) findByPath(path string, budget *int) (*InodeHandle, error) {
	current := h
	if strings.HasPrefix(path, "/") {
		root, err := h.fsys.RootInode()
		if err != nil {
			return nil, err
		}
		current = root
	}

	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		if err := current.requireDir(); err != nil {
			return nil, err
		}
		next, err := current.Find(part)
		if err != nil {
			return nil, err
		}
		current, err = current.followSymlinks(next, budget)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// followSymlinks dereferences target, relative to base for any relative
// link text, decrementing budget once per level. It returns SymLoop once
// budget is exhausted, which is how a cyclic chain of links is detected
// without needing to remember every path already visited.
func (base *InodeHandle) followSymlinks(target *InodeHandle, budget *int) (*InodeHandle, error) {
	for target.Metadata().IsSymlink() {
		if *budget <= 0 {
			return nil, sfserr.SymLoop
		}
		*budget--

		meta := target.Metadata()
		raw := make([]byte, meta.Size)
		if _, err := target.ReadAt(0, raw); err != nil {
			return nil, err
		}

		next, err := base.findByPath(string(raw), budget)
		if err != nil {
			return nil, err
		}
		target = next
	}
	return target, nil
}
