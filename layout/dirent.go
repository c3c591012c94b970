package layout

import (
	"bytes"
	"encoding/binary"

	"github.com/jcbjcbjc/fs-jcb/sfserr"
	"github.com/noxer/bytewriter"
)

// DiskEntry is one fixed-width directory entry: a 4-byte inode number
// followed by a 256-byte NUL-terminated name field. An entry with InodeID
// zero is a tombstone; lookups and listings skip it. Directory removal in
// this module compacts the table instead of writing tombstones, and appends
// always add a new slot at the end rather than reusing one. See spec.md
// section 4.5.
type DiskEntry struct {
	InodeID uint32
	Name    string
}

// IsTombstone reports whether this slot is a freed, reusable entry.
func (e *DiskEntry) IsTombstone() bool {
	return e.InodeID == 0
}

// MarshalEntry renders the entry into its fixed DirentSize-byte form.
func (e *DiskEntry) MarshalEntry() ([DirentSize]byte, error) {
	var raw [DirentSize]byte
	if len(e.Name) > MaxFNameLen {
		return raw, sfserr.InvalidParam.WithMessage("entry name exceeds MaxFNameLen")
	}

	w := bytewriter.New(raw[:])
	binary.Write(w, binary.LittleEndian, e.InodeID)
	var nameField [DirentSize - EntrySize]byte
	copy(nameField[:], e.Name)
	binary.Write(w, binary.LittleEndian, nameField)

	return raw, nil
}

// UnmarshalEntry parses a DirentSize-byte slice into a DiskEntry.
func UnmarshalEntry(raw []byte) (*DiskEntry, error) {
	if len(raw) != DirentSize {
		return nil, sfserr.InvalidParam.WithMessage("directory entry buffer is not DirentSize bytes")
	}

	r := bytes.NewReader(raw)
	e := &DiskEntry{}
	binary.Read(r, binary.LittleEndian, &e.InodeID)

	var nameField [DirentSize - EntrySize]byte
	binary.Read(r, binary.LittleEndian, &nameField)
	n := bytes.IndexByte(nameField[:], 0)
	if n < 0 {
		n = len(nameField)
	}
	e.Name = string(nameField[:n])

	return e, nil
}
