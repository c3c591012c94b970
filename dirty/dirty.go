// Package dirty provides a wrapper that tracks whether a value has been
// mutated since it was last flushed. It backs every piece of writeback state
// in this module: the free map, the superblock, and each inode's on-disk
// record.
//
// The wrapper enforces a guard-rail: a dirty value that is garbage collected
// without ever being flushed is a bug, not a recoverable condition, so its
// finalizer panics. Tests that want to exercise this (spec.md's "dirty-drop
// guard" property) must force a GC after dropping the last reference.
package dirty

import "runtime"

// cell is the object the finalizer attaches to. It's kept separate from
// Dirty[T] itself so that copying a Dirty[T] (which Go programs do constantly
// via value semantics) doesn't duplicate or lose the finalizer.
type cell[T any] struct {
	value T
	dirty bool
}

// Dirty wraps a value of type T, tracking whether it has unflushed mutations.
type Dirty[T any] struct {
	c *cell[T]
}

// New wraps value in a clean Dirty cell.
func New[T any](value T) Dirty[T] {
	c := &cell[T]{value: value}
	runtime.SetFinalizer(c, finalize[T])
	return Dirty[T]{c: c}
}

// NewDirty wraps value in a Dirty cell that is already marked dirty. Used for
// freshly allocated on-disk records that must be written out at least once
// before they can be dropped, e.g. a brand new inode.
func NewDirty[T any](value T) Dirty[T] {
	d := New(value)
	d.c.dirty = true
	return d
}

func finalize[T any](c *cell[T]) {
	if c.dirty {
		panic("dirty: dropped a dirty cell without flushing it")
	}
}

// Get returns the current value without marking it dirty.
func (d Dirty[T]) Get() T {
	return d.c.value
}

// IsDirty reports whether the value has unflushed mutations.
func (d Dirty[T]) IsDirty() bool {
	return d.c.dirty
}

// Mutate calls fn with a pointer to the wrapped value so it can be modified
// in place, then marks the cell dirty. fn must not retain the pointer past
// its own call.
func (d Dirty[T]) Mutate(fn func(*T)) {
	fn(&d.c.value)
	d.c.dirty = true
}

// Set replaces the wrapped value outright and marks the cell dirty.
func (d Dirty[T]) Set(value T) {
	d.c.value = value
	d.c.dirty = true
}

// Flush calls fn with the current value to persist it, and on success clears
// the dirty flag. If fn returns an error, the cell remains dirty.
func (d Dirty[T]) Flush(fn func(T) error) error {
	if !d.c.dirty {
		return nil
	}
	if err := fn(d.c.value); err != nil {
		return err
	}
	d.c.dirty = false
	return nil
}

// MarkClean clears the dirty flag without performing any I/O. Only use this
// when the caller has some other way of knowing the value was just persisted,
// e.g. immediately after constructing it from a fresh on-disk read.
func (d Dirty[T]) MarkClean() {
	d.c.dirty = false
}
