// Package mount implements the mount layer: a tree of FileSystem volumes
// grafted onto each other's directories, and MNode, a handle that knows
// which volume it belongs to so "find .." can cross back out of a mounted
// volume into its parent. See spec.md section 4.7.
package mount

import (
	"strings"
	"sync"

	"github.com/jcbjcbjc/fs-jcb/fs"
	"github.com/jcbjcbjc/fs-jcb/layout"
	"github.com/jcbjcbjc/fs-jcb/sfserr"
	"golang.org/x/exp/slices"
)

// MountFs wraps one mounted FileSystem volume, tracking where other volumes
// have been grafted onto its directories and, if it is itself a grafted
// volume, the node it hangs from in its parent.
type MountFs struct {
	fsys *fs.FileSystem

	mu          sync.RWMutex
	mountPoints map[fs.InodeID]*MountFs

	// selfMountpoint is nil for a volume that was never mounted under
	// another one (the topmost filesystem in a mount tree).
	selfMountpoint *MNode
}

// NewMountFs wraps an already-formatted-or-mounted FileSystem as the root of
// a (possibly one-node) mount tree.
func NewMountFs(fsys *fs.FileSystem) *MountFs {
	return &MountFs{
		fsys:        fsys,
		mountPoints: make(map[fs.InodeID]*MountFs),
	}
}

// Root returns the MNode for this volume's root directory.
func (m *MountFs) Root() (*MNode, error) {
	root, err := m.fsys.RootInode()
	if err != nil {
		return nil, err
	}
	return &MNode{inner: root, owner: m}, nil
}

// MNode pairs a live inode handle with the MountFs it belongs to, per
// spec.md section 4.7.
type MNode struct {
	inner *fs.InodeHandle
	owner *MountFs
}

// Inner returns the underlying inode handle, for callers that need to read
// or write through to it directly.
func (n *MNode) Inner() *fs.InodeHandle { return n.inner }

// Owner returns the MountFs this node's inode belongs to.
func (n *MNode) Owner() *MountFs { return n.owner }

// Mount grafts child onto n, which must be a directory: lookups that reach
// n transparently continue into child's root instead.
func (n *MNode) Mount(child *MountFs) error {
	if !n.inner.Metadata().IsDir() {
		return sfserr.NotDir
	}

	n.owner.mu.Lock()
	n.owner.mountPoints[n.inner.ID()] = child
	n.owner.mu.Unlock()

	child.selfMountpoint = n
	return nil
}

// Unmount removes whatever MountFs is grafted onto n, if any. It is a no-op
// if nothing is mounted there.
func (n *MNode) Unmount() {
	n.owner.mu.Lock()
	defer n.owner.mu.Unlock()
	delete(n.owner.mountPoints, n.inner.ID())
}

// Find resolves one path component against n, crossing mount boundaries
// transparently: looking a name up inside a directory that has another
// volume mounted on it continues into that volume's root, and ".." from a
// mounted volume's own root steps back out to its mountpoint's parent
// instead of the volume's own inode.
func (n *MNode) Find(name string) (*MNode, error) {
	switch name {
	case "", ".":
		return n, nil
	case "..":
		if n.inner.ID() == layout.BlockNumRoot && n.owner.selfMountpoint != nil {
			return n.owner.selfMountpoint.Find("..")
		}
		parent, err := n.inner.Find("..")
		if err != nil {
			return nil, err
		}
		return &MNode{inner: parent, owner: n.owner}, nil
	default:
		owner, inner := n.resolveMount()
		next, err := inner.Find(name)
		if err != nil {
			return nil, err
		}
		return &MNode{inner: next, owner: owner}, nil
	}
}

// resolveMount returns the (owner, inner) pair lookups against n should
// actually use: if another volume is mounted on n's inode, that volume's
// root and MountFs, otherwise n's own.
func (n *MNode) resolveMount() (*MountFs, *fs.InodeHandle) {
	n.owner.mu.RLock()
	child, mounted := n.owner.mountPoints[n.inner.ID()]
	n.owner.mu.RUnlock()
	if !mounted {
		return n.owner, n.inner
	}

	root, err := child.fsys.RootInode()
	if err != nil {
		// The mounted volume's own root inode failing to load indicates a
		// corrupt or unmounted volume; fall back to the mountpoint itself
		// rather than panicking on a lookup.
		return n.owner, n.inner
	}
	return child, root
}

// FindByPath traverses the "/"-separated components of path, starting from
// the mount tree's top if path is absolute (walking back out through every
// selfMountpoint first) or from n otherwise, crossing mounts along the way.
// Symbolic links are not followed: a component naming a link resolves to the
// link's own inode.
func (n *MNode) FindByPath(path string) (*MNode, error) {
	current := n
	if strings.HasPrefix(path, "/") {
		current = topMost(n)
	}

	for _, part := range cleanComponents(path) {
		next, err := current.Find(part)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// topMost walks selfMountpoint back-pointers until it reaches the root of
// the whole mount tree, then returns that root's own MNode.
func topMost(n *MNode) *MNode {
	owner := n.owner
	for owner.selfMountpoint != nil {
		owner = owner.selfMountpoint.owner
	}
	root, err := owner.Root()
	if err != nil {
		return n
	}
	return root
}

// cleanComponents splits path on "/" and drops empty and "." components,
// leaving ".." in place since Find gives it mount-crossing meaning.
// Grounded on the teacher's removeDotsFromSlice, minus the part that also
// strips "..": that would erase the one component this layer treats
// specially.
func cleanComponents(path string) []string {
	parts := strings.Split(path, "/")
	for {
		index := slices.Index(parts, "")
		if index < 0 {
			break
		}
		parts = slices.Delete(parts, index, index+1)
	}
	for {
		index := slices.Index(parts, ".")
		if index < 0 {
			break
		}
		parts = slices.Delete(parts, index, index+1)
	}
	return slices.Clip(parts)
}

// HasMountAt reports whether another volume is currently grafted onto n.
func (n *MNode) HasMountAt() bool {
	n.owner.mu.RLock()
	defer n.owner.mu.RUnlock()
	_, ok := n.owner.mountPoints[n.inner.ID()]
	return ok
}

// MountedChildren reports whether m has any volumes mounted under it at all.
func (m *MountFs) MountedChildren() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mountPoints) != 0
}
