// Package blockrange splits a byte range into the per-block sub-ranges an
// adapter needs to visit in order to satisfy a read or write against a block
// device.
package blockrange

// BlockID identifies a single fixed-size block.
type BlockID uint64

// Range describes the portion of a single block touched by a larger byte
// range: block is the block index, and [BeginInBlock, EndInBlock) is the span
// of bytes within that block that the I/O operation covers.
type Range struct {
	Block        BlockID
	BeginInBlock uint
	EndInBlock   uint
	log2         uint
}

// Len returns the number of bytes this range covers.
func (r Range) Len() uint {
	return r.EndInBlock - r.BeginInBlock
}

// IsFull reports whether this range covers an entire block, i.e. the I/O
// operation can address the block's buffer directly instead of going through
// a partial-block scratch copy.
func (r Range) IsFull() bool {
	return r.Len() == (uint(1) << r.log2)
}

// OriginBegin returns the global byte offset this range's BeginInBlock
// corresponds to.
func (r Range) OriginBegin() uint64 {
	return (uint64(r.Block) << r.log2) + uint64(r.BeginInBlock)
}

// OriginEnd returns the global byte offset this range's EndInBlock
// corresponds to.
func (r Range) OriginEnd() uint64 {
	return (uint64(r.Block) << r.log2) + uint64(r.EndInBlock)
}

// Iterator lazily yields the sequence of per-block Ranges needed to cover
// [begin, end) given a block size of 1<<log2 bytes.
type Iterator struct {
	cursor uint64
	end    uint64
	log2   uint
}

// New creates an Iterator over [begin, end) for a device with block size
// 1<<blockSizeLog2. Panics if begin > end, mirroring a programmer error
// rather than a recoverable I/O condition.
func New(begin, end uint64, blockSizeLog2 uint) *Iterator {
	if begin > end {
		panic("blockrange: begin > end")
	}
	return &Iterator{cursor: begin, end: end, log2: blockSizeLog2}
}

// Next returns the next sub-range, or ok=false once the iterator has covered
// [begin, end).
func (it *Iterator) Next() (r Range, ok bool) {
	if it.cursor >= it.end {
		return Range{}, false
	}

	blockSize := uint64(1) << it.log2
	block := it.cursor >> it.log2
	beginInBlock := it.cursor & (blockSize - 1)

	blockEnd := (block + 1) << it.log2
	var endInBlock uint64
	if it.end < blockEnd {
		endInBlock = it.end - (block << it.log2)
	} else {
		endInBlock = blockSize
	}

	r = Range{
		Block:        BlockID(block),
		BeginInBlock: uint(beginInBlock),
		EndInBlock:   uint(endInBlock),
		log2:         it.log2,
	}
	it.cursor += endInBlock - beginInBlock
	return r, true
}

// Collect drains the iterator into a slice. Useful in tests and for callers
// that want to range over the sub-ranges more than once.
func Collect(begin, end uint64, blockSizeLog2 uint) []Range {
	it := New(begin, end, blockSizeLog2)
	var out []Range
	for {
		r, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out
}
