package layout

import (
	"bytes"
	"encoding/binary"

	"github.com/jcbjcbjc/fs-jcb/sfserr"
	"github.com/noxer/bytewriter"
)

// SuperBlock is the in-memory form of block 0. See spec.md section 3.
type SuperBlock struct {
	Magic         uint32
	TotalBlocks   uint32
	UnusedBlocks  uint32
	Info          [InfoFieldSize]byte
	FreeMapBlocks uint32
}

// InfoString returns the NUL-terminated info string stored in Info.
func (sb *SuperBlock) InfoString() string {
	n := bytes.IndexByte(sb.Info[:], 0)
	if n < 0 {
		n = len(sb.Info)
	}
	return string(sb.Info[:n])
}

// SetInfoString stores s as the volume info string, truncating to
// InfoFieldSize-1 bytes and NUL-padding the rest.
func (sb *SuperBlock) SetInfoString(s string) {
	var buf [InfoFieldSize]byte
	n := copy(buf[:InfoFieldSize-1], s)
	_ = n
	sb.Info = buf
}

// MarshalBlock renders the superblock into a full BlockSize-byte block,
// zero-padded after the fixed fields, following the teacher's
// bytewriter.New + binary.Write marshaling idiom (file_systems/unixv1/format.go).
func (sb *SuperBlock) MarshalBlock() [BlockSize]byte {
	var block [BlockSize]byte
	w := bytewriter.New(block[:])

	binary.Write(w, binary.LittleEndian, sb.Magic)
	binary.Write(w, binary.LittleEndian, sb.TotalBlocks)
	binary.Write(w, binary.LittleEndian, sb.UnusedBlocks)
	binary.Write(w, binary.LittleEndian, sb.Info)
	binary.Write(w, binary.LittleEndian, sb.FreeMapBlocks)

	return block
}

// UnmarshalSuperBlock parses a BlockSize-byte block into a SuperBlock and
// validates the magic number.
func UnmarshalSuperBlock(block []byte) (*SuperBlock, error) {
	if len(block) != BlockSize {
		return nil, sfserr.InvalidParam.WithMessage("superblock buffer is not exactly one block")
	}

	r := bytes.NewReader(block)
	sb := &SuperBlock{}
	binary.Read(r, binary.LittleEndian, &sb.Magic)
	binary.Read(r, binary.LittleEndian, &sb.TotalBlocks)
	binary.Read(r, binary.LittleEndian, &sb.UnusedBlocks)
	binary.Read(r, binary.LittleEndian, &sb.Info)
	binary.Read(r, binary.LittleEndian, &sb.FreeMapBlocks)

	if sb.Magic != Magic {
		return nil, sfserr.WrongFs.WithMessage("superblock magic number mismatch")
	}
	return sb, nil
}
